package native

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/capture/wire"
)

// StartCapture serializes session into a CaptureRequest, frames it, writes
// it to the device, and begins the binary receive loop on a background
// goroutine. It returns once the request has been sent; onComplete fires
// later from that goroutine.
func (d *Driver) StartCapture(ctx context.Context, session *capture.CaptureSession, onComplete capture.CaptureCompletedFunc) error {
	d.mu.Lock()

	if d.capturing {
		d.mu.Unlock()
		return capture.ErrBusy
	}
	if !d.connected || d.transport == nil {
		d.mu.Unlock()
		return capture.ErrHardwareError
	}
	if err := session.Validate(d.device.BufferSize); err != nil {
		d.mu.Unlock()
		return err
	}

	req := buildCaptureRequest(*session)
	frame := wire.EncodeFrame(req.Marshal())

	if _, err := d.transport.Write(frame); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	d.capturing = true
	d.state = stateArmed
	reader := d.reader
	d.mu.Unlock()

	go d.receiveLoop(reader, session, onComplete)

	return nil
}

func buildCaptureRequest(s capture.CaptureSession) wire.CaptureRequest {
	var req wire.CaptureRequest
	req.TriggerType = uint8(s.TriggerType)
	req.Trigger = uint8(s.TriggerChannel)
	if s.TriggerInverted {
		req.InvertedOrCount = 1
	}
	req.TriggerValue = s.TriggerPattern
	for _, ch := range s.Channels {
		if ch.Number >= 0 && ch.Number < wire.MaxChannels {
			req.Channels[ch.Number] = 1
		}
	}
	req.ChannelCount = uint8(len(s.Channels))
	req.Frequency = s.Frequency
	req.PreSamples = s.PreTriggerSamples
	req.PostSamples = s.PostTriggerSamples
	req.LoopCount = s.LoopCount
	if s.MeasureBursts {
		req.Measure = 1
	}
	req.CaptureMode = uint8(s.CaptureMode)
	return req
}

// receiveLoop implements the Streaming state from spec.md §4.2: it reads
// total_samples * divisor(mode) bytes, demultiplexes the bit-packed sample
// groups into per-channel arrays, and fires onComplete exactly once.
func (d *Driver) receiveLoop(r *bufio.Reader, session *capture.CaptureSession, onComplete capture.CaptureCompletedFunc) {
	total := int(session.TotalSamples())
	width := session.CaptureMode.Divisor()

	samples := make([][]byte, len(session.Channels))
	for i := range samples {
		samples[i] = make([]byte, total)
	}

	groupBuf := make([]byte, width)
	success := true

	for i := 0; i < total; i++ {
		if _, err := readFull(r, groupBuf); err != nil {
			success = false
			break
		}

		var bits uint32
		for b := 0; b < width; b++ {
			bits |= uint32(groupBuf[b]) << (8 * b)
		}

		for ci, ch := range session.Channels {
			samples[ci][i] = byte((bits >> uint(ch.Number)) & 1)
		}
	}

	d.mu.Lock()
	d.capturing = false
	if success {
		d.state = stateDone
	} else {
		d.state = stateError
	}
	d.mu.Unlock()

	if success {
		for ci := range session.Channels {
			session.Channels[ci].Samples = samples[ci]
		}
	}

	onComplete(success, session)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// StopCapture requests a stop and forces a transport re-handshake, since
// the device does not resume cleanly mid-capture (spec.md §4.2).
func (d *Driver) StopCapture(ctx context.Context) (bool, error) {
	d.mu.Lock()
	h := d.transport
	d.mu.Unlock()

	if h == nil {
		return false, capture.ErrDisconnected
	}

	if _, err := h.Write([]byte("STOP\n")); err != nil {
		return false, fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	result, err := d.Connect(ctx)
	if err != nil || !result.Success {
		return false, err
	}
	return true, nil
}

// EnterBootloader writes the bootloader-entry command and expects the
// literal response "RESTARTING_BOOTLOADER", or, when a reset GPIO line is
// configured, pulses that instead and returns without waiting on a reply
// (the board goes through a hard reset and never gets to write one).
func (d *Driver) EnterBootloader(ctx context.Context) (bool, error) {
	d.mu.Lock()
	h := d.transport
	r := d.reader
	resetChip := d.cfg.BootloaderResetChip
	resetLine := d.cfg.BootloaderResetLine
	d.mu.Unlock()

	if resetChip != "" {
		if err := pulseResetLine(resetChip, resetLine); err != nil {
			return false, fmt.Errorf("%w: %v", capture.ErrBootloaderFailed, err)
		}
		return true, nil
	}

	if h == nil {
		return false, capture.ErrDisconnected
	}

	if _, err := h.Write([]byte("BOOTLOADER\n")); err != nil {
		return false, fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	_ = h.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := readLine(r)
	_ = h.SetReadDeadline(time.Time{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", capture.ErrBootloaderFailed, err)
	}
	if line != "RESTARTING_BOOTLOADER" {
		return false, fmt.Errorf("%w: unexpected response %q", capture.ErrBootloaderFailed, line)
	}
	return true, nil
}

// GetVoltageStatus returns the fixed "3.3V" for serial devices, or queries
// and waits up to 5s for network-attached ones.
func (d *Driver) GetVoltageStatus(ctx context.Context) (string, error) {
	d.mu.Lock()
	h := d.transport
	r := d.reader
	connected := d.connected
	isNet := d.isNetwork()
	d.mu.Unlock()

	if !connected || h == nil {
		return "DISCONNECTED", nil
	}
	if !isNet {
		return "3.3V", nil
	}

	if _, err := h.Write([]byte("VOLTAGE\n")); err != nil {
		return "ERROR", nil
	}

	_ = h.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := readLine(r)
	_ = h.SetReadDeadline(time.Time{})
	if err != nil {
		if netTimeoutErr(err) {
			return "TIMEOUT", nil
		}
		return "ERROR", nil
	}
	return line, nil
}

func netTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// SendNetworkConfig configures Wi-Fi on behalf of USB-tethered firmware.
// Only valid for serial-attached drivers.
func (d *Driver) SendNetworkConfig(ctx context.Context, ssid, password, ipv4 string, port uint16) (bool, error) {
	d.mu.Lock()
	h := d.transport
	r := d.reader
	isNet := d.isNetwork()
	d.mu.Unlock()

	if isNet {
		return false, fmt.Errorf("%w: SendNetworkConfig is only valid for serial-attached devices", capture.ErrBadParams)
	}
	if h == nil {
		return false, capture.ErrDisconnected
	}

	blob := encodeNetworkConfig(ssid, password, ipv4, port)
	if _, err := h.Write(blob); err != nil {
		return false, fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	_ = h.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := readLine(r)
	_ = h.SetReadDeadline(time.Time{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}
	return line == "SETTINGS_SAVED", nil
}

// encodeNetworkConfig builds the 115-byte LE Wi-Fi provisioning blob from
// spec.md §6: ssid[33] + password[64] + ipv4_ascii[16] + port:u16, all
// null-padded, overflow truncated.
func encodeNetworkConfig(ssid, password, ipv4 string, port uint16) []byte {
	buf := make([]byte, 33+64+16+2)
	copyPadded(buf[0:33], ssid)
	copyPadded(buf[33:97], password)
	copyPadded(buf[97:113], ipv4)
	buf[113] = byte(port)
	buf[114] = byte(port >> 8)
	return buf
}

func copyPadded(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
