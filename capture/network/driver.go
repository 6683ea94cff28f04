// Package network implements the remote-analyzer driver from spec.md §4.3:
// a JSON command/response protocol over TCP (or UDP) reaching analyzers
// that are not the native firmware, with a pluggable sample data format.
//
// Grounded on the teacher's kissnet.go (accept/dial loop and per-connection
// framing) and agwpe.go (a second, alternate wire protocol dispatched from
// the same driver family), generalized here into one driver that speaks a
// single JSON envelope with a selectable payload format.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
	"github.com/flyingcys/pico-logicanalyzer-sub009/capture/transport"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/logging"
)

// DataFormat selects how GET_CAPTURE_DATA's payload is encoded, per
// spec.md §4.3.
type DataFormat string

const (
	FormatBinary DataFormat = "binary"
	FormatJSON   DataFormat = "json"
	FormatCSV    DataFormat = "csv"
	FormatRaw    DataFormat = "raw"
)

const (
	commandTimeout = 10 * time.Second
	pollInterval   = 200 * time.Millisecond
	pollHardLimit  = 5 * time.Minute
)

// Config configures a Driver's connection to a remote analyzer.
type Config struct {
	Addr       string
	AuthToken  string
	ClientType string
	DataFormat DataFormat
	Clock      clock.Clock
	Logger     *log.Logger
}

// Driver is the network-attached capture driver.
type Driver struct {
	cfg  Config
	log  *log.Logger
	clk  clock.Clock
	conn *jsonConn

	mu        sync.Mutex
	connected bool
	device    capture.DeviceInfo
	capturing bool
}

// New returns a Driver for cfg.
func New(cfg Config) *Driver {
	if cfg.DataFormat == "" {
		cfg.DataFormat = FormatBinary
	}
	if cfg.ClientType == "" {
		cfg.ClientType = "logicanalyzer-workbench"
	}
	l := cfg.Logger
	if l == nil {
		l = logging.For("network-driver")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System
	}
	return &Driver{cfg: cfg, log: l, clk: clk}
}

// Connect performs the JSON HANDSHAKE then GET_DEVICE_INFO round trips from
// spec.md §4.3.
func (d *Driver) Connect(ctx context.Context) (capture.ConnectResult, error) {
	conn, err := dial(ctx, d.cfg.Addr)
	if err != nil {
		return capture.ConnectResult{}, fmt.Errorf("%w: %v", capture.ErrConnectionRefused, err)
	}
	d.conn = conn

	handshakeReq := map[string]interface{}{
		"command":     "HANDSHAKE",
		"timestamp":   d.clk.Now().Unix(),
		"version":     "1.0",
		"client_type": d.cfg.ClientType,
		"auth_token":  d.cfg.AuthToken,
	}

	var handshakeResp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := d.roundTrip(ctx, handshakeReq, &handshakeResp); err != nil {
		return capture.ConnectResult{}, err
	}
	if !handshakeResp.Success {
		return capture.ConnectResult{}, fmt.Errorf("%w: handshake rejected: %s", capture.ErrConnectionRefused, handshakeResp.Error)
	}

	var infoResp struct {
		Success        bool   `json:"success"`
		Version        string `json:"version"`
		ChannelCount   uint8  `json:"channel_count"`
		MaxFrequency   uint32 `json:"max_frequency"`
		BlastFrequency uint32 `json:"blast_frequency"`
		BufferSize     uint32 `json:"buffer_size"`
	}
	if err := d.roundTrip(ctx, map[string]interface{}{"command": "GET_DEVICE_INFO", "timestamp": d.clk.Now().Unix()}, &infoResp); err != nil {
		return capture.ConnectResult{}, err
	}

	d.device = capture.DeviceInfo{
		Version:        infoResp.Version,
		ChannelCount:   infoResp.ChannelCount,
		MaxFrequency:   infoResp.MaxFrequency,
		BlastFrequency: infoResp.BlastFrequency,
		BufferSize:     infoResp.BufferSize,
	}
	d.connected = true

	d.log.Info("connected", "addr", d.cfg.Addr, "version", d.device.Version)

	return capture.ConnectResult{Success: true, Device: d.device}, nil
}

// roundTrip sends req as JSON and unmarshals the response into resp,
// bounded by commandTimeout per spec.md §4.3.
func (d *Driver) roundTrip(ctx context.Context, req interface{}, resp interface{}) error {
	if d.conn == nil {
		return capture.ErrDisconnected
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := d.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	raw, err := d.conn.ReadJSONWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return capture.ErrNetworkTimeout
		}
		return fmt.Errorf("%w: %v", capture.ErrHardwareError, err)
	}

	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrInvalidFrame, err)
	}
	return nil
}

// Disconnect closes the connection.
func (d *Driver) Disconnect(ctx context.Context) error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.connected = false
	return err
}

// EnterBootloader requests the remote analyzer restart into bootloader
// mode.
func (d *Driver) EnterBootloader(ctx context.Context) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := d.roundTrip(ctx, map[string]interface{}{"command": "ENTER_BOOTLOADER", "timestamp": d.clk.Now().Unix()}, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// GetVoltageStatus queries the remote analyzer, waiting up to 5s for a
// response, per spec.md §4.2 (shared semantics across driver variants).
func (d *Driver) GetVoltageStatus(ctx context.Context) (string, error) {
	if d.conn == nil {
		return "DISCONNECTED", nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp struct {
		Success bool   `json:"success"`
		Voltage string `json:"voltage"`
	}
	if err := d.conn.WriteJSON(map[string]interface{}{"command": "GET_VOLTAGE", "timestamp": d.clk.Now().Unix()}); err != nil {
		return "ERROR", nil
	}
	raw, err := d.conn.ReadJSONWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "TIMEOUT", nil
		}
		return "ERROR", nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "ERROR", nil
	}
	return resp.Voltage, nil
}

func dial(ctx context.Context, addr string) (*jsonConn, error) {
	h, err := transport.DialTCP(ctx, addr, commandTimeout)
	if err != nil {
		return nil, err
	}
	return newJSONConn(h), nil
}

var _ capture.Driver = (*Driver)(nil)
