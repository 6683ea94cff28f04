// Package runtime implements the protocol-decoder scanner from spec.md
// §4.6: an explicit mutable (sample_index, last_pins, current_pins)
// state machine driving wait/put, with no coroutines or generators.
//
// Grounded on the teacher's hdlc_rec.go, which extracts HDLC frames from a
// raw bitstream the same way: one big explicit state struct, advanced one
// bit/sample at a time, with pattern detectors instead of goroutine-based
// generators. DESIGN NOTES §9 calls for exactly this shape.
package runtime

import (
	"errors"
	"fmt"
)

// ErrEndOfSamples is returned by Wait when the sample stream runs out
// before any condition matches, per spec.md §7. Decoders catch it inside
// their main loop to terminate normally.
var ErrEndOfSamples = errors.New("decode: end of samples")

// Edge names a level or transition predicate a Wait condition can test for
// one channel, per spec.md §4.6.
type Edge int

const (
	EdgeSkip Edge = iota
	EdgeRising
	EdgeFalling
	EdgeStable
	EdgeEdge
	EdgeHigh
	EdgeLow
)

// Condition maps a decoder channel index to the edge/level it must satisfy
// for a wait mapping to match.
type Condition map[int]Edge

// WaitResult is what Wait returns on a match.
type WaitResult struct {
	SampleIndex  int
	Pins         []byte // current_pins, one byte per decoder channel
	LastPins     []byte // pins immediately before this match, for decoders that must tell edge direction apart beyond what MatchedIndex encodes
	MatchedIndex int     // index into the conditions slice passed to Wait
}

// Annotation is one decoder output record, per spec.md §3.
type Annotation struct {
	Start          int
	End            int
	AnnotationType int
	Values         []string
	RawData        []byte
}

// Scanner is the explicit mutable state `wait`/`put` operate over: one
// dense byte slice per decoder-facing channel, a cursor, and the
// previous/current pin levels used for edge detection.
type Scanner struct {
	channels    [][]byte // channels[decoderIndex] = dense byte slice, 0/1 per sample
	sampleIndex int       // index of the last-consumed sample; -1 before the first Wait
	last        []byte
	current     []byte
	results     []Annotation
}

// NewScanner builds a Scanner over channels, a dense array indexed by
// decoderIndex as built by the channel-mapping step in spec.md §4.6.
// Missing optional channels must be represented as an empty slice.
func NewScanner(channels [][]byte) *Scanner {
	n := len(channels)
	return &Scanner{
		channels:    channels,
		sampleIndex: -1,
		last:        make([]byte, n),
		current:     make([]byte, n),
	}
}

// SampleIndex returns the cursor's current position (the last sample
// Wait consumed, or -1 before the first call).
func (s *Scanner) SampleIndex() int { return s.sampleIndex }

// Pins returns a copy of the current pin levels, one per decoder channel.
func (s *Scanner) Pins() []byte {
	out := make([]byte, len(s.current))
	copy(out, s.current)
	return out
}

// totalSamples is the length of the longest channel (required channels all
// share one length; optional absent channels are length 0 and never drive
// the loop bound on their own).
func (s *Scanner) totalSamples() int {
	max := 0
	for _, ch := range s.channels {
		if len(ch) > max {
			max = len(ch)
		}
	}
	return max
}

func (s *Scanner) sampleAt(channel, index int) byte {
	if channel >= len(s.channels) || index >= len(s.channels[channel]) {
		return 0
	}
	return s.channels[channel][index]
}

// Wait advances sample_index one sample at a time (refreshing
// last/current), evaluating conditions in order at each sample, until a
// mapping whose every clause matches is found; the first such mapping
// wins. It returns ErrEndOfSamples (wrapped) if the samples run out
// first. A lone {0: EdgeSkip} condition set is the fast path from
// spec.md §4.6: it returns the current state without advancing.
func (s *Scanner) Wait(conditions []Condition) (WaitResult, error) {
	if len(conditions) == 1 {
		if edge, ok := conditions[0][0]; ok && edge == EdgeSkip && len(conditions[0]) == 1 {
			return WaitResult{SampleIndex: s.sampleIndex, Pins: s.Pins(), LastPins: s.lastPins(), MatchedIndex: 0}, nil
		}
	}

	total := s.totalSamples()
	for {
		next := s.sampleIndex + 1
		if next >= total {
			return WaitResult{}, fmt.Errorf("wait at sample %d: %w", next, ErrEndOfSamples)
		}
		if next == 0 {
			// The very first sample has no predecessor to compare against;
			// seed last==current so it can never itself look like an edge.
			for ch := range s.current {
				s.current[ch] = s.sampleAt(ch, next)
			}
			copy(s.last, s.current)
		} else {
			copy(s.last, s.current)
			for ch := range s.current {
				s.current[ch] = s.sampleAt(ch, next)
			}
		}
		s.sampleIndex = next

		if idx, ok := s.matches(conditions); ok {
			return WaitResult{SampleIndex: s.sampleIndex, Pins: s.Pins(), LastPins: s.lastPins(), MatchedIndex: idx}, nil
		}
	}
}

// lastPins returns a copy of the pin levels immediately before the current
// sample.
func (s *Scanner) lastPins() []byte {
	out := make([]byte, len(s.last))
	copy(out, s.last)
	return out
}

func (s *Scanner) matches(conditions []Condition) (int, bool) {
	for i, cond := range conditions {
		if s.conditionMatches(cond) {
			return i, true
		}
	}
	return 0, false
}

func (s *Scanner) conditionMatches(cond Condition) bool {
	for ch, edge := range cond {
		if !s.clauseMatches(ch, edge) {
			return false
		}
	}
	return true
}

func (s *Scanner) clauseMatches(channel int, edge Edge) bool {
	var last, current byte
	if channel < len(s.last) {
		last, current = s.last[channel], s.current[channel]
	}
	switch edge {
	case EdgeSkip:
		return true
	case EdgeRising:
		return last == 0 && current == 1
	case EdgeFalling:
		return last == 1 && current == 0
	case EdgeStable:
		return last == current
	case EdgeEdge:
		return last != current
	case EdgeHigh:
		return current == 1
	case EdgeLow:
		return current == 0
	default:
		return false
	}
}

// Put appends a result to the scanner's output in creation order. start
// must be >= the start of the previously appended result, per spec.md
// §4.6/§5's monotonic non-decreasing ordering guarantee; Put panics if a
// decoder implementation violates it; a decoder bug, not a runtime input
// error, should fail loudly during development.
func (s *Scanner) Put(start, end int, annotationType int, values []string, rawData []byte) {
	if len(s.results) > 0 && start < s.results[len(s.results)-1].Start {
		panic(fmt.Sprintf("decode: put() start %d precedes previous start %d", start, s.results[len(s.results)-1].Start))
	}
	s.results = append(s.results, Annotation{
		Start: start, End: end, AnnotationType: annotationType, Values: values, RawData: rawData,
	})
}

// Results returns every annotation appended so far, in creation order.
func (s *Scanner) Results() []Annotation {
	out := make([]Annotation, len(s.results))
	copy(out, s.results)
	return out
}

// BuildChannelMap implements spec.md §4.6's channel-mapping step: given the
// full captured sample set keyed by capture channel number and a selection
// captureIndex -> decoderIndex, returns a dense array indexed by
// decoderIndex, with unmapped (optional, absent) decoder indices as empty
// slices.
func BuildChannelMap(captured map[int][]byte, selection map[int]int, decoderChannelCount int) [][]byte {
	out := make([][]byte, decoderChannelCount)
	for captureIndex, decoderIndex := range selection {
		if decoderIndex < 0 || decoderIndex >= decoderChannelCount {
			continue
		}
		out[decoderIndex] = captured[captureIndex]
	}
	return out
}

// Options is the runtime's positional option-binding store from spec.md
// §4.6: values are recorded by the index matching a decoder's options[]
// declaration and read back by small local helpers during decode.
type Options struct {
	values []interface{}
}

// NewOptions wraps positional option values already resolved by the
// caller (e.g. merged from internal/config.DecoderDefaults and a
// per-invocation override).
func NewOptions(values []interface{}) Options { return Options{values: values} }

func (o Options) String(index int, def string) string {
	if index < 0 || index >= len(o.values) || o.values[index] == nil {
		return def
	}
	if v, ok := o.values[index].(string); ok {
		return v
	}
	return def
}

func (o Options) Int(index int, def int) int {
	if index < 0 || index >= len(o.values) || o.values[index] == nil {
		return def
	}
	switch v := o.values[index].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func (o Options) Bool(index int, def bool) bool {
	if index < 0 || index >= len(o.values) || o.values[index] == nil {
		return def
	}
	if v, ok := o.values[index].(bool); ok {
		return v
	}
	return def
}
