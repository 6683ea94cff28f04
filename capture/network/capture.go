package network

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flyingcys/pico-logicanalyzer-sub009/capture"
)

type triggerBlock struct {
	Type      int    `json:"type"`
	Channel   int    `json:"channel"`
	Inverted  bool   `json:"inverted"`
	Pattern   uint16 `json:"pattern"`
	BitCount  int    `json:"bit_count"`
}

type startCaptureRequest struct {
	Command       string       `json:"command"`
	Timestamp     int64        `json:"timestamp"`
	Channels      []int        `json:"channels"`
	Frequency     uint32       `json:"frequency"`
	PreSamples    uint32       `json:"pre_samples"`
	PostSamples   uint32       `json:"post_samples"`
	Trigger       triggerBlock `json:"trigger"`
	LoopCount     uint8        `json:"loop_count"`
	MeasureBursts bool         `json:"measure_bursts"`
	DataFormat    string       `json:"data_format"`
}

// StartCapture sends START_CAPTURE then polls GET_CAPTURE_STATUS at 200ms
// intervals (5 minute hard timeout) until COMPLETED or ERROR, then fetches
// and parses GET_CAPTURE_DATA, per spec.md §4.3.
func (d *Driver) StartCapture(ctx context.Context, session *capture.CaptureSession, onComplete capture.CaptureCompletedFunc) error {
	d.mu.Lock()
	if d.capturing {
		d.mu.Unlock()
		return capture.ErrBusy
	}
	if !d.connected || d.conn == nil {
		d.mu.Unlock()
		return capture.ErrHardwareError
	}
	d.mu.Unlock()

	if err := session.Validate(d.device.BufferSize); err != nil {
		return err
	}

	channels := make([]int, len(session.Channels))
	for i, ch := range session.Channels {
		channels[i] = ch.Number
	}

	req := startCaptureRequest{
		Command:     "START_CAPTURE",
		Timestamp:   d.clk.Now().Unix(),
		Channels:    channels,
		Frequency:   session.Frequency,
		PreSamples:  session.PreTriggerSamples,
		PostSamples: session.PostTriggerSamples,
		Trigger: triggerBlock{
			Type:     int(session.TriggerType),
			Channel:  session.TriggerChannel,
			Inverted: session.TriggerInverted,
			Pattern:  session.TriggerPattern,
			BitCount: session.TriggerBitCount,
		},
		LoopCount:     session.LoopCount,
		MeasureBursts: session.MeasureBursts,
		DataFormat:    string(d.cfg.DataFormat),
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := d.roundTrip(ctx, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", capture.ErrBadParams, resp.Error)
	}

	d.mu.Lock()
	d.capturing = true
	d.mu.Unlock()
	go d.pollAndComplete(ctx, session, onComplete)

	return nil
}

func (d *Driver) pollAndComplete(ctx context.Context, session *capture.CaptureSession, onComplete capture.CaptureCompletedFunc) {
	success := d.poll(ctx, session)
	d.mu.Lock()
	d.capturing = false
	d.mu.Unlock()
	onComplete(success, session)
}

func (d *Driver) poll(ctx context.Context, session *capture.CaptureSession) bool {
	deadline := d.clk.Now().Add(pollHardLimit)

	for {
		if d.clk.Now().After(deadline) {
			d.log.Warn("capture status poll exceeded hard timeout")
			return false
		}

		var status struct {
			Success bool   `json:"success"`
			Status  string `json:"status"`
		}
		if err := d.roundTrip(ctx, map[string]interface{}{"command": "GET_CAPTURE_STATUS", "timestamp": d.clk.Now().Unix()}, &status); err != nil {
			return false
		}

		switch status.Status {
		case "COMPLETED":
			return d.fetchAndParse(ctx, session)
		case "ERROR":
			return false
		}

		select {
		case <-d.clk.After(pollInterval):
		case <-ctx.Done():
			return false
		}
	}
}

func (d *Driver) fetchAndParse(ctx context.Context, session *capture.CaptureSession) bool {
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := d.roundTrip(ctx, map[string]interface{}{"command": "GET_CAPTURE_DATA", "timestamp": d.clk.Now().Unix()}, &resp); err != nil {
		return false
	}
	if !resp.Success {
		return false
	}

	switch d.cfg.DataFormat {
	case FormatBinary:
		return parseBinary(resp.Data, session)
	case FormatJSON:
		return parseJSONChannels(resp.Data, session)
	case FormatCSV:
		return parseCSV(resp.Data, session)
	case FormatRaw:
		return parseRaw(resp.Data, session)
	default:
		return parseBinary(resp.Data, session)
	}
}

// parseBinary decodes a base64 string of channel-major interleaved sample
// bytes (one byte per channel per sample) and demultiplexes it into
// per-channel arrays.
func parseBinary(raw json.RawMessage, session *capture.CaptureSession) bool {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}

	n := len(session.Channels)
	if n == 0 {
		return true
	}
	total := len(decoded) / n
	for ci := range session.Channels {
		samples := make([]byte, total)
		for s := 0; s < total; s++ {
			samples[s] = decoded[s*n+ci]
		}
		session.Channels[ci].Samples = samples
	}
	return true
}

type jsonChannelData struct {
	Number int   `json:"number"`
	// Samples is []int, not []byte: encoding/json special-cases []byte as
	// base64, but the wire format is a plain JSON array of 0/1 integers.
	Samples []int `json:"samples"`
}

// parseJSONChannels decodes a per-channel {number, samples:[...]} array.
func parseJSONChannels(raw json.RawMessage, session *capture.CaptureSession) bool {
	var channels []jsonChannelData
	if err := json.Unmarshal(raw, &channels); err != nil {
		return false
	}

	byNumber := make(map[int][]byte, len(channels))
	for _, c := range channels {
		samples := make([]byte, len(c.Samples))
		for i, v := range c.Samples {
			samples[i] = byte(v)
		}
		byNumber[c.Number] = samples
	}
	for ci, ch := range session.Channels {
		session.Channels[ci].Samples = byNumber[ch.Number]
	}
	return true
}

// parseCSV decodes a "Time,CH0,CH1,..." header followed by one sample per
// row. Per the resolved Open Question in spec.md §9, rows are split on
// real newlines, not a literal backslash-n sequence.
func parseCSV(raw json.RawMessage, session *capture.CaptureSession) bool {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return false
	}

	reader := csv.NewReader(strings.NewReader(text))
	rows, err := reader.ReadAll()
	if err != nil || len(rows) == 0 {
		return false
	}

	header := rows[0]
	columnForChannel := make(map[int]int)
	for col, name := range header {
		if !strings.HasPrefix(name, "CH") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "CH"))
		if err != nil {
			continue
		}
		columnForChannel[n] = col
	}

	dataRows := rows[1:]
	for ci, ch := range session.Channels {
		col, ok := columnForChannel[ch.Number]
		if !ok {
			continue
		}
		samples := make([]byte, len(dataRows))
		for r, row := range dataRows {
			if col >= len(row) {
				continue
			}
			v, _ := strconv.Atoi(row[col])
			samples[r] = byte(v)
		}
		session.Channels[ci].Samples = samples
	}
	return true
}

// parseRaw decodes an outer array of per-channel sample arrays, in the
// same order as session.Channels.
func parseRaw(raw json.RawMessage, session *capture.CaptureSession) bool {
	// [][]int, not [][]byte: encoding/json special-cases []byte as base64,
	// but the wire format is a plain nested JSON array of 0/1 integers.
	var channels [][]int
	if err := json.Unmarshal(raw, &channels); err != nil {
		return false
	}
	for ci := range session.Channels {
		if ci >= len(channels) {
			continue
		}
		samples := make([]byte, len(channels[ci]))
		for i, v := range channels[ci] {
			samples[i] = byte(v)
		}
		session.Channels[ci].Samples = samples
	}
	return true
}

// StopCapture requests STOP_CAPTURE.
func (d *Driver) StopCapture(ctx context.Context) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := d.roundTrip(ctx, map[string]interface{}{"command": "STOP_CAPTURE", "timestamp": d.clk.Now().Unix()}, &resp); err != nil {
		return false, err
	}
	d.mu.Lock()
	d.capturing = false
	d.mu.Unlock()
	return resp.Success, nil
}
