package network

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture/transport"
)

// jsonConn frames the network protocol's JSON command/response envelopes
// as newline-delimited JSON over a transport.Handle.
type jsonConn struct {
	h transport.Handle
	r *bufio.Reader
}

func newJSONConn(h transport.Handle) *jsonConn {
	return &jsonConn{h: h, r: bufio.NewReader(h)}
}

func (c *jsonConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.h.Write(data)
	return err
}

// ReadJSONWithContext reads one newline-delimited JSON message, honoring
// ctx's deadline via the transport's read deadline.
func (c *jsonConn) ReadJSONWithContext(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.h.SetReadDeadline(deadline)
	} else {
		_ = c.h.SetReadDeadline(time.Time{})
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return line, nil
}

func (c *jsonConn) Close() error {
	return c.h.Close()
}
