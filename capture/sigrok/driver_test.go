package sigrok

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
)

func TestDriverSpec(t *testing.T) {
	d := New(Config{DriverName: "fx2lafw", Conn: "4.2"})
	assert.Equal(t, "fx2lafw:conn=4.2", d.driverSpec())

	d2 := New(Config{DriverName: "fx2lafw"})
	assert.Equal(t, "fx2lafw", d2.driverSpec())
}

func TestDemux_SplitsPackedBitsPerChannel(t *testing.T) {
	session := &capture.CaptureSession{
		Channels: []capture.CaptureChannel{{Number: 0}, {Number: 1}, {Number: 2}},
	}
	// byte 0b101 = ch0:1 ch1:0 ch2:1; byte 0b010 = ch0:0 ch1:1 ch2:0
	demux([]byte{0b101, 0b010}, session)

	assert.Equal(t, []byte{1, 0}, session.Channels[0].Samples)
	assert.Equal(t, []byte{0, 1}, session.Channels[1].Samples)
	assert.Equal(t, []byte{1, 0}, session.Channels[2].Samples)
}

func TestStartCapture_RefusesWhenBusy(t *testing.T) {
	d := New(Config{DriverName: "fx2lafw"})
	d.connected = true
	d.capturing = true

	err := d.StartCapture(context.Background(), &capture.CaptureSession{}, func(bool, *capture.CaptureSession) {})
	assert.ErrorIs(t, err, capture.ErrBusy)
}

func TestStartCapture_RefusesWhenDisconnected(t *testing.T) {
	d := New(Config{DriverName: "fx2lafw"})

	err := d.StartCapture(context.Background(), &capture.CaptureSession{}, func(bool, *capture.CaptureSession) {})
	assert.ErrorIs(t, err, capture.ErrDisconnected)
}

func TestEnterBootloader_Unsupported(t *testing.T) {
	d := New(Config{DriverName: "fx2lafw"})
	ok, err := d.EnterBootloader(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}
