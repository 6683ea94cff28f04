// Package uart implements the UART protocol decoder from spec.md §4.9:
// start-bit-relative sampling of one or two independent lines (RX
// required, TX optional), each walked directly over its dense sample
// slice rather than through decode/runtime's wait/put scanner, since a
// UART frame's bit positions are computed offsets from a start edge
// rather than edge-by-edge waits. The scanner's Annotation type and its
// monotonic-ordering guarantee are still honored by merging the two
// independently-produced, already-ordered annotation streams.
//
// Grounded on the teacher's demod_afsk.go, which likewise derives sample
// positions from a detected edge plus a fixed offset table instead of
// stepping bit-by-bit.
package uart

import (
	"fmt"
	"math"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
)

const (
	chanRX = 0
	chanTX = 1
)

// Annotation type indices. RX and TX get independent indices so a
// consumer can group them into separate display rows (see Info's
// AnnotationRows).
const (
	AnnRXData = iota
	AnnTXData
	AnnRXFrameError
	AnnTXFrameError
	AnnRXParityError
	AnnTXParityError
)

// Decoder is a fresh UART decode() invocation; it is never reused.
type Decoder struct{}

// New returns a fresh Decoder, suitable as a decode.Factory.
func New() decode.Decoder { return &Decoder{} }

func (d *Decoder) Info() decode.Info {
	return decode.Info{
		ID:       "uart",
		Name:     "UART",
		LongName: "Universal Asynchronous Receiver/Transmitter",
		Tags:     []string{"Embedded/industrial"},
		Channels: []decode.ChannelSpec{
			{Name: "RX", Index: chanRX, Required: true},
			{Name: "TX", Index: chanTX, Required: false},
		},
		Options: []decode.OptionSpec{
			{Name: "baudrate", Kind: decode.OptionInt, Default: 115200},
			{Name: "data_bits", Kind: decode.OptionInt, Default: 8},
			{Name: "parity", Kind: decode.OptionString, Default: "none", Choices: []string{"none", "odd", "even", "mark", "space"}},
			{Name: "stop_bits", Kind: decode.OptionString, Default: "1", Choices: []string{"1", "1.5", "2"}},
			{Name: "bit_order", Kind: decode.OptionString, Default: "lsb-first", Choices: []string{"lsb-first", "msb-first"}},
			{Name: "format", Kind: decode.OptionString, Default: "hex", Choices: []string{"hex", "dec", "oct", "bin", "ascii"}},
			{Name: "invert_rx", Kind: decode.OptionBool, Default: false},
			{Name: "invert_tx", Kind: decode.OptionBool, Default: false},
			{Name: "sample_point", Kind: decode.OptionInt, Default: 50},
		},
		Annotations: []decode.AnnotationSpec{
			{Index: AnnRXData, Name: "RX data"},
			{Index: AnnTXData, Name: "TX data"},
			{Index: AnnRXFrameError, Name: "RX frame error"},
			{Index: AnnTXFrameError, Name: "TX frame error"},
			{Index: AnnRXParityError, Name: "RX parity error"},
			{Index: AnnTXParityError, Name: "TX parity error"},
		},
		AnnotationRows: []decode.AnnotationRow{
			{Name: "RX", AnnotationIndices: []int{AnnRXData, AnnRXFrameError, AnnRXParityError}},
			{Name: "TX", AnnotationIndices: []int{AnnTXData, AnnTXFrameError, AnnTXParityError}},
		},
	}
}

type config struct {
	samplesPerBit int
	dataBits      int
	parity        string
	numStopBits   int
	lsbFirst      bool
	format        string
	samplePointFrac float64
}

func (d *Decoder) Decode(sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options) ([]runtime.Annotation, error) {
	if err := decode.RequireChannels(d.Info(), selection); err != nil {
		return nil, err
	}

	baudrate := options.Int(0, 115200)
	if baudrate <= 0 {
		return nil, fmt.Errorf("%w: baudrate %d", decode.ErrInvalidOption, baudrate)
	}
	dataBits := options.Int(1, 8)
	if dataBits < 5 || dataBits > 9 {
		return nil, fmt.Errorf("%w: data_bits %d", decode.ErrInvalidOption, dataBits)
	}
	parity := options.String(2, "none")
	switch parity {
	case "none", "odd", "even", "mark", "space":
	default:
		return nil, fmt.Errorf("%w: parity %q", decode.ErrInvalidOption, parity)
	}
	stopBits := options.String(3, "1")
	var numStopBits int
	switch stopBits {
	case "1", "1.5":
		numStopBits = 1
	case "2":
		numStopBits = 2
	default:
		return nil, fmt.Errorf("%w: stop_bits %q", decode.ErrInvalidOption, stopBits)
	}
	bitOrder := options.String(4, "lsb-first")
	if bitOrder != "lsb-first" && bitOrder != "msb-first" {
		return nil, fmt.Errorf("%w: bit_order %q", decode.ErrInvalidOption, bitOrder)
	}
	format := options.String(5, "hex")
	switch format {
	case "hex", "dec", "oct", "bin", "ascii":
	default:
		return nil, fmt.Errorf("%w: format %q", decode.ErrInvalidOption, format)
	}
	invertRX := options.Bool(6, false)
	invertTX := options.Bool(7, false)
	samplePoint := options.Int(8, 50)
	if samplePoint < 1 || samplePoint > 99 {
		return nil, fmt.Errorf("%w: sample_point %d", decode.ErrInvalidOption, samplePoint)
	}
	if sampleRate == 0 {
		return nil, fmt.Errorf("%w: sample_rate must be positive", decode.ErrInvalidOption)
	}

	cfg := config{
		samplesPerBit:   int(math.Round(float64(sampleRate) / float64(baudrate))),
		dataBits:        dataBits,
		parity:          parity,
		numStopBits:     numStopBits,
		lsbFirst:        bitOrder == "lsb-first",
		format:          format,
		samplePointFrac: float64(samplePoint) / 100.0,
	}

	mapped := runtime.BuildChannelMap(channels, selection, 2)

	rx := decodeLine(mapped[chanRX], invertRX, cfg, AnnRXData, AnnRXFrameError, AnnRXParityError)
	var tx []runtime.Annotation
	if len(mapped[chanTX]) > 0 {
		tx = decodeLine(mapped[chanTX], invertTX, cfg, AnnTXData, AnnTXFrameError, AnnTXParityError)
	}

	return mergeByStart(rx, tx), nil
}

// decodeLine walks one line's dense sample slice directly: it is not
// edge-wait-driven like decode/runtime.Scanner, because UART bit
// positions are fixed offsets from a detected start edge rather than
// edge-by-edge transitions.
func decodeLine(samples []byte, invert bool, cfg config, dataAnn, frameErrAnn, parityErrAnn int) []runtime.Annotation {
	if len(samples) == 0 {
		return nil
	}
	level := func(idx int) byte {
		if idx < 0 || idx >= len(samples) {
			return 1 // idle-high past the end of the capture.
		}
		b := samples[idx]
		if invert {
			return 1 - b
		}
		return b
	}

	bitOffset := func(bit int) int {
		return int(math.Round(float64(cfg.samplesPerBit) * (float64(bit) + cfg.samplePointFrac)))
	}

	var out []runtime.Annotation
	i := 0
	n := len(samples)
	for i < n {
		for i < n && level(i) != 0 {
			i++
		}
		if i >= n {
			break
		}
		startIdx := i

		var value uint32
		for b := 0; b < cfg.dataBits; b++ {
			bit := level(startIdx + bitOffset(b))
			weight := uint(b)
			if !cfg.lsbFirst {
				weight = uint(cfg.dataBits - 1 - b)
			}
			value |= uint32(bit) << weight
		}

		nextFieldBit := cfg.dataBits
		parityOK := true
		if cfg.parity != "none" {
			parityBit := level(startIdx + bitOffset(nextFieldBit))
			parityOK = checkParity(value, cfg.dataBits, cfg.parity, parityBit)
			nextFieldBit++
		}

		frameOK := true
		lastStopOffset := nextFieldBit
		for s := 0; s < cfg.numStopBits; s++ {
			if level(startIdx+bitOffset(nextFieldBit+s)) == 0 {
				frameOK = false
			}
			lastStopOffset = nextFieldBit + s
		}

		endIdx := startIdx + bitOffset(lastStopOffset)
		out = append(out, runtime.Annotation{
			Start: startIdx, End: endIdx, AnnotationType: dataAnn,
			Values: []string{formatValue(value, cfg.dataBits, cfg.format)},
		})
		if !frameOK {
			out = append(out, runtime.Annotation{Start: startIdx, End: endIdx, AnnotationType: frameErrAnn, Values: []string{"frame error: stop bit low"}})
		}
		if !parityOK {
			out = append(out, runtime.Annotation{Start: startIdx, End: endIdx, AnnotationType: parityErrAnn, Values: []string{"parity error"}})
		}

		i = endIdx + 1
	}
	return out
}

func checkParity(value uint32, dataBits int, parity string, parityBit byte) bool {
	ones := 0
	for b := 0; b < dataBits; b++ {
		if value&(1<<uint(b)) != 0 {
			ones++
		}
	}
	switch parity {
	case "odd":
		return int(parityBit) == (1 - ones%2)
	case "even":
		return int(parityBit) == ones%2
	case "mark":
		return parityBit == 1
	case "space":
		return parityBit == 0
	default:
		return true
	}
}

func formatValue(value uint32, dataBits int, format string) string {
	switch format {
	case "dec":
		return fmt.Sprintf("%d", value)
	case "oct":
		return fmt.Sprintf("0%o", value)
	case "bin":
		return fmt.Sprintf("0b%0*b", dataBits, value)
	case "ascii":
		if value >= 0x20 && value < 0x7f {
			return string(rune(value))
		}
		return fmt.Sprintf("\\x%02X", value)
	default: // hex
		digits := (dataBits + 3) / 4
		return fmt.Sprintf("0x%0*X", digits, value)
	}
}

// mergeByStart interleaves two already-start-ordered annotation slices
// (one per line) into a single start-ordered stream, the way the
// scanner's single-cursor Put sequence would if both lines shared one.
func mergeByStart(a, b []runtime.Annotation) []runtime.Annotation {
	out := make([]runtime.Annotation, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Start <= b[j].Start {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

var _ decode.Decoder = (*Decoder)(nil)
