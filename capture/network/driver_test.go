package network

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
)

// fakeServer reads newline-delimited JSON commands off conn and lets the
// test script canned responses per command, mirroring the teacher's
// testutils.go style of hand-built fake collaborators instead of a mock
// framework.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, r: bufio.NewReader(conn)}
}

func (s *fakeServer) recvCommand(t *testing.T) string {
	t.Helper()
	line, err := s.r.ReadBytes('\n')
	require.NoError(t, err)
	var req struct {
		Command string `json:"command"`
	}
	require.NoError(t, json.Unmarshal(line, &req))
	return req.Command
}

func (s *fakeServer) respond(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = s.conn.Write(data)
	require.NoError(t, err)
}

func connectedDriver(t *testing.T, fmtName DataFormat) (*Driver, net.Conn) {
	t.Helper()
	// Connect always dials Config.Addr, so the fake server listens on a
	// loopback port and hands back the accepted side of that connection.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	d := New(Config{Addr: ln.Addr().String(), DataFormat: fmtName, Clock: clock.System})

	accepted := make(chan net.Conn, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		serverConn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- serverConn
		srv := newFakeServer(serverConn)
		require.Equal(t, "HANDSHAKE", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true})
		require.Equal(t, "GET_DEVICE_INFO", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{
			"success": true, "version": "remote-1.0", "channel_count": 8,
			"max_frequency": 100_000_000, "blast_frequency": 200_000_000, "buffer_size": 131072,
		})
	}()

	res, err := d.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server handshake goroutine never finished")
	}

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	default:
		t.Fatal("fake server never accepted a connection")
	}
	return d, serverConn
}

func TestConnect_HandshakeAndDeviceInfo(t *testing.T) {
	d, serverConn := connectedDriver(t, FormatBinary)
	defer serverConn.Close()

	assert.Equal(t, "remote-1.0", d.device.Version)
	assert.EqualValues(t, 8, d.device.ChannelCount)
}

func TestStartCapture_BinaryFormat_Demuxes(t *testing.T) {
	d, serverConn := connectedDriver(t, FormatBinary)
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		require.Equal(t, "START_CAPTURE", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true})

		require.Equal(t, "GET_CAPTURE_STATUS", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true, "status": "COMPLETED"})

		require.Equal(t, "GET_CAPTURE_DATA", srv.recvCommand(t))
		// 2 channels, 3 samples: channel-major interleaved per sample.
		raw := []byte{1, 0, 0, 1, 1, 1}
		srv.respond(t, map[string]interface{}{
			"success": true,
			"data":    base64.StdEncoding.EncodeToString(raw),
		})
	}()

	// 20 samples is the smallest total for which pre_samples=2 stays within
	// Validate's [2, total/10] bound.
	session := &capture.CaptureSession{
		Frequency:          1000,
		PreTriggerSamples:  2,
		PostTriggerSamples: 18,
		Channels: []capture.CaptureChannel{
			{Number: 0},
			{Number: 1},
		},
	}

	done := make(chan bool, 1)
	require.NoError(t, d.StartCapture(context.Background(), session, func(success bool, s *capture.CaptureSession) {
		done <- success
	}))

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for capture completion")
	}

	assert.Equal(t, []byte{1, 0, 1}, session.Channels[0].Samples)
	assert.Equal(t, []byte{0, 1, 1}, session.Channels[1].Samples)
}

func TestStartCapture_JSONFormat(t *testing.T) {
	d, serverConn := connectedDriver(t, FormatJSON)
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		require.Equal(t, "START_CAPTURE", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true})
		require.Equal(t, "GET_CAPTURE_STATUS", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true, "status": "COMPLETED"})
		require.Equal(t, "GET_CAPTURE_DATA", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"number": 0, "samples": []int{1, 1, 0}},
				{"number": 1, "samples": []int{0, 0, 1}},
			},
		})
	}()

	session := &capture.CaptureSession{
		PreTriggerSamples:  2,
		PostTriggerSamples: 18,
		Channels: []capture.CaptureChannel{
			{Number: 0},
			{Number: 1},
		},
	}

	done := make(chan bool, 1)
	require.NoError(t, d.StartCapture(context.Background(), session, func(success bool, s *capture.CaptureSession) {
		done <- success
	}))

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	assert.Equal(t, []byte{1, 1, 0}, session.Channels[0].Samples)
	assert.Equal(t, []byte{0, 0, 1}, session.Channels[1].Samples)
}

func TestStartCapture_CSVFormat(t *testing.T) {
	d, serverConn := connectedDriver(t, FormatCSV)
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		require.Equal(t, "START_CAPTURE", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true})
		require.Equal(t, "GET_CAPTURE_STATUS", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true, "status": "COMPLETED"})
		require.Equal(t, "GET_CAPTURE_DATA", srv.recvCommand(t))
		csvText := "Time,CH0,CH1\n0,1,0\n1,0,1\n2,1,1\n"
		srv.respond(t, map[string]interface{}{"success": true, "data": csvText})
	}()

	session := &capture.CaptureSession{
		PreTriggerSamples:  2,
		PostTriggerSamples: 18,
		Channels: []capture.CaptureChannel{
			{Number: 0},
			{Number: 1},
		},
	}

	done := make(chan bool, 1)
	require.NoError(t, d.StartCapture(context.Background(), session, func(success bool, s *capture.CaptureSession) {
		done <- success
	}))

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	assert.Equal(t, []byte{1, 0, 1}, session.Channels[0].Samples)
	assert.Equal(t, []byte{0, 1, 1}, session.Channels[1].Samples)
}

func TestStartCapture_RefusesWhenBusy(t *testing.T) {
	d, serverConn := connectedDriver(t, FormatBinary)
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		require.Equal(t, "START_CAPTURE", srv.recvCommand(t))
		srv.respond(t, map[string]interface{}{"success": true})
		// Never answer GET_CAPTURE_STATUS; capture stays in flight.
	}()

	session := &capture.CaptureSession{
		PreTriggerSamples:  2,
		PostTriggerSamples: 18,
		Channels:           []capture.CaptureChannel{{Number: 0}},
	}

	require.NoError(t, d.StartCapture(context.Background(), session, func(bool, *capture.CaptureSession) {}))

	err := d.StartCapture(context.Background(), session, func(bool, *capture.CaptureSession) {})
	assert.ErrorIs(t, err, capture.ErrBusy)
}
