// Package decode holds the data model shared by every protocol decoder:
// the metadata contract each decoder exposes via Info, the Decoder
// interface the manager dispatches through, and the decode-plane typed
// errors. Concrete decoders live in the sibling i2c, spi, and uart
// packages; the scanner they're built on lives in decode/runtime.
package decode

import (
	"errors"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
)

// The decode-plane sentinel errors from spec.md §7.
var (
	ErrMissingRequiredChannel = errors.New("decode: missing required channel")
	ErrInvalidOption          = errors.New("decode: invalid option")
	ErrDecoderNotFound        = errors.New("decode: decoder not found")
)

// ChannelSpec describes one channel slot a decoder declares, per spec.md
// §4.6's "channels[]" metadata.
type ChannelSpec struct {
	Name     string
	Index    int
	Required bool
}

// OptionKind names the value type an OptionSpec accepts.
type OptionKind int

const (
	OptionString OptionKind = iota
	OptionInt
	OptionBool
)

// OptionSpec describes one positionally-addressed option, per spec.md
// §4.6's "options[]" metadata.
type OptionSpec struct {
	Name    string
	Kind    OptionKind
	Default interface{}
	Choices []string // valid string values, when Kind == OptionString
}

// AnnotationSpec names one positionally-indexed annotation type a decoder
// can emit, per spec.md §4.6's "annotations[]" metadata.
type AnnotationSpec struct {
	Index int
	Name  string
}

// AnnotationRow groups related annotation indices for display, per
// spec.md §4.6's optional "annotationRows[]".
type AnnotationRow struct {
	Name              string
	AnnotationIndices []int
}

// Info is the decoder metadata a decode() entry point is built from
// (spec.md §4.6): id, display names, input/output kinds, channels,
// options, annotations, and optional annotation rows.
type Info struct {
	ID             string
	Name           string
	LongName       string
	Description    string
	Tags           []string
	Channels       []ChannelSpec
	Options        []OptionSpec
	Annotations    []AnnotationSpec
	AnnotationRows []AnnotationRow
}

// Decoder is the capability every protocol decoder implements: static
// metadata via Info, and a decode(sample_rate, channels, options) entry
// point. channels is keyed by capture channel number; selection maps
// captureIndex -> decoderIndex per spec.md §4.6's channel-mapping step.
type Decoder interface {
	Info() Info
	Decode(sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options) ([]runtime.Annotation, error)
}

// Factory constructs a fresh Decoder instance (decoders are stateful
// per-invocation objects, never reused across decode() calls).
type Factory func() Decoder

// RequireChannels validates that every ChannelSpec marked Required has an
// entry in selection mapping to it, returning ErrMissingRequiredChannel
// (wrapped with the channel's name) otherwise.
func RequireChannels(info Info, selection map[int]int) error {
	present := make(map[int]bool, len(selection))
	for _, decoderIndex := range selection {
		present[decoderIndex] = true
	}
	for _, ch := range info.Channels {
		if ch.Required && !present[ch.Index] {
			return &MissingChannelError{Channel: ch.Name}
		}
	}
	return nil
}

// MissingChannelError names the specific channel RequireChannels found
// absent, while still unwrapping to ErrMissingRequiredChannel.
type MissingChannelError struct {
	Channel string
}

func (e *MissingChannelError) Error() string {
	return "decode: missing required channel " + e.Channel
}

func (e *MissingChannelError) Unwrap() error {
	return ErrMissingRequiredChannel
}
