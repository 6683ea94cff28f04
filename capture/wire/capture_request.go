package wire

import (
	"encoding/binary"
	"fmt"
)

// CaptureRequestSize is the fixed, compatibility-critical wire size of a
// CaptureRequest: 45 bytes, little-endian, no padding between fields.
const CaptureRequestSize = 45

// TriggerType mirrors spec.md §3's CaptureSession.trigger_type enum.
type TriggerType uint8

const (
	TriggerEdge TriggerType = iota
	TriggerComplex
	TriggerFast
	TriggerBlast
)

// MaxChannels is the number of wire channel slots; channel_number ranges
// over [0, MaxChannels).
const MaxChannels = 24

// CaptureRequest is the 45-byte wire struct filled by a driver from a
// CaptureSession before framing and transmission. Field order and widths
// here are the interoperability contract with existing capture firmware —
// see spec.md §3 and §6 — and must never change.
type CaptureRequest struct {
	TriggerType     uint8
	Trigger         uint8
	InvertedOrCount uint8
	TriggerValue    uint16
	Channels        [MaxChannels]uint8
	ChannelCount    uint8
	Frequency       uint32
	PreSamples      uint32
	PostSamples     uint32
	LoopCount       uint8
	Measure         uint8
	CaptureMode     uint8
}

// Marshal serializes r into its 45-byte little-endian wire form.
func (r CaptureRequest) Marshal() []byte {
	buf := make([]byte, CaptureRequestSize)
	i := 0

	buf[i] = r.TriggerType
	i++
	buf[i] = r.Trigger
	i++
	buf[i] = r.InvertedOrCount
	i++

	binary.LittleEndian.PutUint16(buf[i:], r.TriggerValue)
	i += 2

	copy(buf[i:i+MaxChannels], r.Channels[:])
	i += MaxChannels

	buf[i] = r.ChannelCount
	i++

	binary.LittleEndian.PutUint32(buf[i:], r.Frequency)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], r.PreSamples)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], r.PostSamples)
	i += 4

	buf[i] = r.LoopCount
	i++
	buf[i] = r.Measure
	i++
	buf[i] = r.CaptureMode
	i++

	return buf
}

// UnmarshalCaptureRequest parses a 45-byte wire form into a CaptureRequest.
func UnmarshalCaptureRequest(buf []byte) (CaptureRequest, error) {
	if len(buf) != CaptureRequestSize {
		return CaptureRequest{}, fmt.Errorf("wire: capture request must be %d bytes, got %d", CaptureRequestSize, len(buf))
	}

	var r CaptureRequest
	i := 0

	r.TriggerType = buf[i]
	i++
	r.Trigger = buf[i]
	i++
	r.InvertedOrCount = buf[i]
	i++

	r.TriggerValue = binary.LittleEndian.Uint16(buf[i:])
	i += 2

	copy(r.Channels[:], buf[i:i+MaxChannels])
	i += MaxChannels

	r.ChannelCount = buf[i]
	i++

	r.Frequency = binary.LittleEndian.Uint32(buf[i:])
	i += 4
	r.PreSamples = binary.LittleEndian.Uint32(buf[i:])
	i += 4
	r.PostSamples = binary.LittleEndian.Uint32(buf[i:])
	i += 4

	r.LoopCount = buf[i]
	i++
	r.Measure = buf[i]
	i++
	r.CaptureMode = buf[i]
	i++

	return r, nil
}
