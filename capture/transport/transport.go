// Package transport wraps the two byte-stream handles the capture drivers
// run over — a serial port and a TCP socket — behind one interface, the way
// the teacher's serial_port.go hides OS differences behind serial_port_open
// while kissnet.go handles the TCP side separately. Unifying both behind
// one Go interface lets the native driver treat "serial or TCP" as a single
// concern instead of branching throughout its capture state machine.
package transport

import (
	"io"
	"time"
)

// Handle is a bidirectional byte stream with deadline support, satisfied by
// both a serial port and a net.Conn.
type Handle interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}
