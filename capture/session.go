// Package capture holds the data model shared by every driver variant: the
// CaptureSession/CaptureChannel value types, the driver capability
// contract, and the typed errors drivers return. Concrete transports and
// protocols live in the sibling wire, native, network, multidriver, and
// manager packages.
package capture

import "fmt"

// TriggerType selects how the device recognizes the trigger condition.
type TriggerType int

const (
	TriggerEdge TriggerType = iota
	TriggerComplex
	TriggerFast
	TriggerBlast
)

// CaptureMode selects the device's channel packing, which in turn bounds
// how many total samples fit in a fixed-size device buffer.
type CaptureMode int

const (
	Mode8Channels CaptureMode = iota
	Mode16Channels
	Mode24Channels
)

// Divisor returns the byte divisor a device buffer is split by under this
// packing mode: 1 for 8 channels, 2 for 16, 4 for 24, per spec.md's
// glossary entry for "Capture mode".
func (m CaptureMode) Divisor() int {
	switch m {
	case Mode8Channels:
		return 1
	case Mode16Channels:
		return 2
	case Mode24Channels:
		return 4
	default:
		return 1
	}
}

// MaxChannels is the exclusive upper bound on CaptureChannel.Number.
const MaxChannels = 24

// CaptureChannel is a single logical channel within a session. Number is
// owned by the caller at creation time; Samples is populated by the driver
// during capture and is read-only to everyone else once the capture
// completes (see spec.md §5 ordering guarantees).
type CaptureChannel struct {
	Number  int
	Name    string
	Samples []byte // one byte per sample: 0 or 1.
}

// CaptureSession is the mutable value type a caller builds, hands to
// start_capture, and owns for its entire lifetime; only the driver mutates
// Channels[i].Samples, and only while a capture is in flight.
type CaptureSession struct {
	Frequency         uint32
	PreTriggerSamples  uint32
	PostTriggerSamples uint32
	TriggerType        TriggerType
	TriggerChannel     int
	TriggerInverted    bool
	TriggerPattern     uint16
	TriggerBitCount    int
	LoopCount          uint8
	MeasureBursts      bool
	CaptureMode        CaptureMode
	Channels           []CaptureChannel
}

// TotalSamples returns pre + post trigger samples.
func (s CaptureSession) TotalSamples() uint32 {
	return s.PreTriggerSamples + s.PostTriggerSamples
}

// Validate checks the invariants from spec.md §3 against a device's buffer
// size. It does not mutate s.
func (s CaptureSession) Validate(deviceBufferSize uint32) error {
	if len(s.Channels) == 0 {
		return fmt.Errorf("%w: session has no channels", ErrBadParams)
	}
	for _, ch := range s.Channels {
		if ch.Number < 0 || ch.Number >= MaxChannels {
			return fmt.Errorf("%w: channel number %d out of range [0,%d)", ErrBadParams, ch.Number, MaxChannels)
		}
	}

	total := s.TotalSamples()
	maxTotal := deviceBufferSize / uint32(s.CaptureMode.Divisor())
	if total > maxTotal {
		return fmt.Errorf("%w: total samples %d exceeds device limit %d", ErrBadParams, total, maxTotal)
	}

	if s.PreTriggerSamples < 2 || s.PreTriggerSamples > total/10 {
		return fmt.Errorf("%w: pre_samples %d outside [2, %d]", ErrBadParams, s.PreTriggerSamples, total/10)
	}
	if s.PostTriggerSamples < 2 || s.PostTriggerSamples > total-2 {
		return fmt.Errorf("%w: post_samples %d outside [2, %d]", ErrBadParams, s.PostTriggerSamples, total-2)
	}

	return nil
}
