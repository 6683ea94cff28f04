// Package native implements the primary device driver: a serial- or
// TCP-attached capture device speaking the line-oriented identification
// protocol and binary sample stream described in spec.md §4.2 and §6.
//
// Grounded on the teacher's kissserial.go (line handshake plus binary
// receive loop sharing one transport handle) and serial_port.go (the
// github.com/pkg/term-backed serial open).
package native

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/capture/transport"
	"github.com/flyingcys/pico-logicanalyzer-sub009/capture/wire"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/logging"

	"github.com/charmbracelet/log"
)

var versionPattern = regexp.MustCompile(`^[A-Za-z _./]+v\d+\.\d+$`)

// captureState is the Streaming state machine from spec.md §4.2.
type captureState int

const (
	stateIdle captureState = iota
	stateArmed
	stateStreaming
	stateDone
	stateError
)

// Config selects how Driver reaches the device.
type Config struct {
	// SerialDevice, if non-empty, opens a serial transport at Baud (0
	// leaves the port speed alone; otherwise must be a supported rate,
	// default 115200 8-N-1 per spec.md §4.2).
	SerialDevice string
	Baud         int

	// NetworkAddr, if SerialDevice is empty, dials a TCP transport
	// instead — the "or TCP socket" half of spec.md §4.2.
	NetworkAddr string

	// BootloaderResetChip, if set, names a Linux GPIO character device
	// (e.g. "gpiochip0") wired to the device's hardware reset/boot-select
	// pin; EnterBootloader then pulses BootloaderResetLine instead of
	// sending the soft "BOOTLOADER\n" command, for boards whose firmware
	// can only reach the bootloader via a hard reset.
	BootloaderResetChip string
	BootloaderResetLine int

	DialTimeout time.Duration
	Logger      *log.Logger
}

// Driver is the native capture driver. It owns exactly one transport handle
// at a time; Connect/Disconnect swap it, and StartCapture/StopCapture never
// touch the handle outside the single capture goroutine they manage.
type Driver struct {
	cfg Config
	log *log.Logger

	mu        sync.Mutex
	transport transport.Handle
	reader    *bufio.Reader
	connected bool
	capturing bool
	device    capture.DeviceInfo
	state     captureState
}

// New returns a Driver for cfg. It does not open any transport yet.
func New(cfg Config) *Driver {
	l := cfg.Logger
	if l == nil {
		l = logging.For("native-driver")
	}
	return &Driver{cfg: cfg, log: l, state: stateIdle}
}

func (d *Driver) isNetwork() bool { return d.cfg.SerialDevice == "" }

// Connect opens the transport and performs the identification handshake
// described in spec.md §4.2.
func (d *Driver) Connect(ctx context.Context) (capture.ConnectResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport != nil {
		_ = d.transport.Close()
		d.transport = nil
		d.connected = false
	}

	h, err := d.open(ctx)
	if err != nil {
		return capture.ConnectResult{}, fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	reader := bufio.NewReader(h)

	info, err := identify(h, reader)
	if err != nil {
		_ = h.Close()
		return capture.ConnectResult{}, err
	}

	d.transport = h
	d.reader = reader
	d.device = info
	d.connected = true
	d.state = stateIdle

	d.log.Info("connected", "version", info.Version, "channels", info.ChannelCount, "buffer", info.BufferSize)

	return capture.ConnectResult{Success: true, Device: info}, nil
}

func (d *Driver) open(ctx context.Context) (transport.Handle, error) {
	if d.cfg.SerialDevice != "" {
		baud := d.cfg.Baud
		if baud == 0 {
			baud = transport.DefaultBaud
		}
		return transport.OpenSerial(d.cfg.SerialDevice, baud)
	}

	timeout := d.cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return transport.DialTCP(ctx, d.cfg.NetworkAddr, timeout)
}

// identify sends the identification commands and parses the five response
// lines in order: version, FREQ, BLASTFREQ, BUFFER, CHANNELS.
func identify(w interface{ Write([]byte) (int, error) }, r *bufio.Reader) (capture.DeviceInfo, error) {
	if _, err := w.Write([]byte("ID\n")); err != nil {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	version, err := readLine(r)
	if err != nil {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %v", capture.ErrInvalidVersion, err)
	}
	if !versionPattern.MatchString(version) {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %q does not match version pattern", capture.ErrInvalidVersion, version)
	}

	freq, err := readPrefixedUint(r, "FREQ:")
	if err != nil || freq == 0 {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %v", capture.ErrInvalidFrequency, err)
	}

	blastFreq, err := readPrefixedUint(r, "BLASTFREQ:")
	if err != nil || blastFreq == 0 {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %v", capture.ErrInvalidFrequency, err)
	}

	bufSize, err := readPrefixedUint(r, "BUFFER:")
	if err != nil || bufSize == 0 {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %v", capture.ErrInvalidBufferSize, err)
	}

	channels, err := readPrefixedUint(r, "CHANNELS:")
	if err != nil || channels == 0 || channels > 24 {
		return capture.DeviceInfo{}, fmt.Errorf("%w: %v", capture.ErrInvalidChannelCount, err)
	}

	return capture.DeviceInfo{
		Version:        version,
		MaxFrequency:   uint32(freq),
		BlastFrequency: uint32(blastFreq),
		BufferSize:     uint32(bufSize),
		ChannelCount:   uint8(channels),
	}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readPrefixedUint(r *bufio.Reader, prefix string) (uint64, error) {
	line, err := readLine(r)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(line, prefix) {
		return 0, fmt.Errorf("expected prefix %q, got %q", prefix, line)
	}
	return strconv.ParseUint(strings.TrimPrefix(line, prefix), 10, 32)
}

// Disconnect releases the transport. Safe to call when already
// disconnected.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil {
		return nil
	}
	err := d.transport.Close()
	d.transport = nil
	d.connected = false
	d.state = stateIdle
	return err
}

var _ capture.Driver = (*Driver)(nil)
var _ capture.NetworkConfigurable = (*Driver)(nil)
