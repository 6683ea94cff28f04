package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// tcpHandle adapts net.Conn to Handle.
type tcpHandle struct {
	conn net.Conn
}

// DialTCP connects to addr ("host:port") with the given timeout, grounded
// on the teacher's kissnet.go dial path for the network-attached TNC.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (Handle, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", addr, err)
	}
	return &tcpHandle{conn: conn}, nil
}

func (h *tcpHandle) Read(p []byte) (int, error)  { return h.conn.Read(p) }
func (h *tcpHandle) Write(p []byte) (int, error) { return h.conn.Write(p) }
func (h *tcpHandle) Close() error                { return h.conn.Close() }

func (h *tcpHandle) SetReadDeadline(t time.Time) error {
	return h.conn.SetReadDeadline(t)
}

// DialUDP opens a connected UDP socket to addr, for the network driver's
// UDP transport option (spec.md §4.3).
func DialUDP(ctx context.Context, addr string, timeout time.Duration) (Handle, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial udp %q: %w", addr, err)
	}
	return &tcpHandle{conn: conn}, nil
}
