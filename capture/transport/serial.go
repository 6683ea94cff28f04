package transport

import (
	"fmt"
	"time"

	"github.com/pkg/term"
)

// DefaultBaud is the native driver's default port speed per spec.md §4.2.
const DefaultBaud = 115200

// serialHandle adapts *term.Term to Handle. Grounded on the teacher's
// serial_port_open in serial_port.go: open in raw mode, then set speed,
// falling back to a safe default on an unsupported rate instead of failing
// the open outright.
type serialHandle struct {
	t *term.Term
}

// OpenSerial opens devicename (e.g. "/dev/ttyUSB0") in raw mode at baud. A
// baud of 0 leaves the port's current speed alone, matching the teacher's
// "leave it alone" case in serial_port_open.
func OpenSerial(devicename string, baud int) (Handle, error) {
	t, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial port %q: %w", devicename, err)
	}

	switch baud {
	case 0:
		// Leave it alone.
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600:
		if err := t.SetSpeed(baud); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("transport: set speed %d on %q: %w", baud, devicename, err)
		}
	default:
		if err := t.SetSpeed(DefaultBaud); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("transport: set default speed on %q: %w", devicename, err)
		}
	}

	return &serialHandle{t: t}, nil
}

func (s *serialHandle) Read(p []byte) (int, error)  { return s.t.Read(p) }
func (s *serialHandle) Write(p []byte) (int, error) { return s.t.Write(p) }
func (s *serialHandle) Close() error                { return s.t.Close() }

func (s *serialHandle) SetReadDeadline(t time.Time) error {
	return s.t.SetReadDeadline(t)
}
