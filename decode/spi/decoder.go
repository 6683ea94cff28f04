// Package spi implements the SPI protocol decoder from spec.md §4.8: a
// CPOL/CPHA-driven sampling edge layered on decode/runtime's wait/put
// scanner, framing data words per CS assertion.
//
// Grounded on the teacher's demod_9600.go sibling-state-machine shape,
// the same wait/put contract as decode/i2c but with the protocol-specific
// cycle replaced by SPI's clock-edge sampling and CS-bounded transfers.
package spi

import (
	"fmt"
	"strings"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
)

const (
	chanCLK = 0
	chanMISO = 1
	chanMOSI = 2
	chanCS   = 3
)

// Annotation type indices.
const (
	AnnMisoBit = iota
	AnnMosiBit
	AnnMisoData
	AnnMosiData
	AnnMisoTransfer
	AnnMosiTransfer
	AnnCSChange
	AnnWarning
)

// Decoder is a fresh SPI decode() invocation; it is never reused.
type Decoder struct{}

// New returns a fresh Decoder, suitable as a decode.Factory.
func New() decode.Decoder { return &Decoder{} }

func (d *Decoder) Info() decode.Info {
	return decode.Info{
		ID:       "spi",
		Name:     "SPI",
		LongName: "Serial Peripheral Interface",
		Tags:     []string{"Embedded/industrial"},
		Channels: []decode.ChannelSpec{
			{Name: "CLK", Index: chanCLK, Required: true},
			{Name: "MISO", Index: chanMISO, Required: false},
			{Name: "MOSI", Index: chanMOSI, Required: false},
			{Name: "CS#", Index: chanCS, Required: false},
		},
		Options: []decode.OptionSpec{
			{Name: "cs_polarity", Kind: decode.OptionString, Default: "active-low", Choices: []string{"active-low", "active-high"}},
			{Name: "cpol", Kind: decode.OptionInt, Default: 0},
			{Name: "cpha", Kind: decode.OptionInt, Default: 0},
			{Name: "bitorder", Kind: decode.OptionString, Default: "msb-first", Choices: []string{"msb-first", "lsb-first"}},
			{Name: "wordsize", Kind: decode.OptionInt, Default: 8},
		},
		Annotations: []decode.AnnotationSpec{
			{Index: AnnMisoBit, Name: "MISO bit"},
			{Index: AnnMosiBit, Name: "MOSI bit"},
			{Index: AnnMisoData, Name: "miso-data"},
			{Index: AnnMosiData, Name: "mosi-data"},
			{Index: AnnMisoTransfer, Name: "miso-transfer"},
			{Index: AnnMosiTransfer, Name: "mosi-transfer"},
			{Index: AnnCSChange, Name: "CS# change"},
			{Index: AnnWarning, Name: "Warning"},
		},
	}
}

func samplingEdge(cpol, cpha int) runtime.Edge {
	if cpol == cpha {
		return runtime.EdgeRising
	}
	return runtime.EdgeFalling
}

func shiftIn(acc byte, bit byte, lsbFirst bool, bitsSoFar int) byte {
	if lsbFirst {
		return acc | (bit << uint(bitsSoFar))
	}
	return (acc << 1) | bit
}

func hexJoin(bytes []byte) string {
	parts := make([]string, len(bytes))
	for i, b := range bytes {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// bitAnn is a single sampled bit held until its enclosing word's data
// annotation has been appended (see pendingAnn below).
type bitAnn struct {
	sampleIndex int
	annType     int
	value       byte
}

// pendingAnn is a fully-formed annotation held until the transfer-span
// annotation that covers it (miso-transfer/mosi-transfer, Start=
// transferStart) has been appended. runtime.Put requires non-decreasing
// Start; a transfer's word/bit annotations all have a later Start than
// the transfer's own assert sample, so the span must reach the scanner
// first, not last.
type pendingAnn struct {
	start, end int
	annType    int
	values     []string
}

func (d *Decoder) Decode(sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options) ([]runtime.Annotation, error) {
	if err := decode.RequireChannels(d.Info(), selection); err != nil {
		return nil, err
	}

	csPolarity := options.String(0, "active-low")
	if csPolarity != "active-low" && csPolarity != "active-high" {
		return nil, fmt.Errorf("%w: cs_polarity %q", decode.ErrInvalidOption, csPolarity)
	}
	cpol := options.Int(1, 0)
	cpha := options.Int(2, 0)
	if cpol != 0 && cpol != 1 {
		return nil, fmt.Errorf("%w: cpol %d", decode.ErrInvalidOption, cpol)
	}
	if cpha != 0 && cpha != 1 {
		return nil, fmt.Errorf("%w: cpha %d", decode.ErrInvalidOption, cpha)
	}
	bitorder := options.String(3, "msb-first")
	if bitorder != "msb-first" && bitorder != "lsb-first" {
		return nil, fmt.Errorf("%w: bitorder %q", decode.ErrInvalidOption, bitorder)
	}
	lsbFirst := bitorder == "lsb-first"
	wordsize := options.Int(4, 8)
	if wordsize <= 0 {
		return nil, fmt.Errorf("%w: wordsize %d", decode.ErrInvalidOption, wordsize)
	}

	mapped := runtime.BuildChannelMap(channels, selection, 4)
	hasMISO := len(mapped[chanMISO]) > 0
	hasMOSI := len(mapped[chanMOSI]) > 0
	if !hasMISO && !hasMOSI {
		return nil, fmt.Errorf("%w: MISO or MOSI required", decode.ErrMissingRequiredChannel)
	}
	hasCS := len(mapped[chanCS]) > 0

	edge := samplingEdge(cpol, cpha)
	asserted := func(pin byte) bool {
		if csPolarity == "active-low" {
			return pin == 0
		}
		return pin == 1
	}

	scanner := runtime.NewScanner(mapped)

	clkCond := runtime.Condition{chanCLK: runtime.EdgeEdge}
	var conditions []runtime.Condition
	if hasCS {
		conditions = []runtime.Condition{clkCond, {chanCS: runtime.EdgeEdge}}
	} else {
		conditions = []runtime.Condition{clkCond}
	}

	var (
		transferActive    bool
		transferStart     int
		wordStart         int
		bitsInWord        int
		misoAcc, mosiAcc  byte
		misoTransferBytes []byte
		mosiTransferBytes []byte

		// wordBitsMiso/wordBitsMosi hold the current word's per-bit
		// annotations until its data annotation has been appended (see
		// bitAnn); pending holds every completed word's annotations,
		// already in chronological order, until the transfer closes and
		// its span annotation can be appended ahead of them.
		wordBitsMiso, wordBitsMosi []bitAnn
		pending                    []pendingAnn
	)

	// flushWordBitPair appends this word's buffered MISO/MOSI bit
	// annotations to pending, interleaved by sample index rather than by
	// line: both lines sample on the same CLK edges, so index i of each
	// buffer shares one sample index, and appending index-by-index keeps
	// every pending entry's Start non-decreasing (a straight MISO-then-
	// MOSI append would put all of MISO's later bit Starts ahead of
	// MOSI's earlier ones).
	flushWordBitPair := func(miso, mosi []bitAnn) ([]bitAnn, []bitAnn) {
		n := len(miso)
		if len(mosi) > n {
			n = len(mosi)
		}
		for i := 0; i < n; i++ {
			if i < len(miso) {
				b := miso[i]
				pending = append(pending, pendingAnn{start: b.sampleIndex, end: b.sampleIndex, annType: b.annType, values: []string{fmt.Sprintf("%d", b.value)}})
			}
			if i < len(mosi) {
				b := mosi[i]
				pending = append(pending, pendingAnn{start: b.sampleIndex, end: b.sampleIndex, annType: b.annType, values: []string{fmt.Sprintf("%d", b.value)}})
			}
		}
		return miso[:0], mosi[:0]
	}

	closeTransfer := func(at int) {
		if transferActive {
			if hasMISO {
				scanner.Put(transferStart, at, AnnMisoTransfer, []string{hexJoin(misoTransferBytes)}, nil)
			}
			if hasMOSI {
				scanner.Put(transferStart, at, AnnMosiTransfer, []string{hexJoin(mosiTransferBytes)}, nil)
			}
		}
		for _, p := range pending {
			scanner.Put(p.start, p.end, p.annType, p.values, nil)
		}
		pending = pending[:0]
		if bitsInWord > 0 {
			scanner.Put(wordStart, at, AnnWarning, []string{"CS# was deasserted during this data word!"}, nil)
			wordBitsMiso, wordBitsMosi = flushWordBitPair(wordBitsMiso, wordBitsMosi)
			for _, p := range pending {
				scanner.Put(p.start, p.end, p.annType, p.values, nil)
			}
			pending = pending[:0]
		}
		transferActive = false
		bitsInWord = 0
	}

	switch {
	case !hasCS:
		scanner.Put(0, 0, AnnCSChange, []string{"assert"}, nil)
		transferActive = true
		transferStart = 0
	case len(mapped[chanCS]) > 0 && asserted(mapped[chanCS][0]):
		// CS is already in its asserted polarity at the very first sample;
		// no assert edge will ever occur inside the capture window, so open
		// the transfer up front instead of waiting for one.
		scanner.Put(0, 0, AnnCSChange, []string{"assert"}, nil)
		transferActive = true
		transferStart = 0
	}

	for {
		res, err := scanner.Wait(conditions)
		if err != nil {
			break
		}

		if hasCS && res.MatchedIndex == 1 {
			csPin := res.Pins[chanCS]
			if asserted(csPin) {
				closeTransfer(res.SampleIndex) // stray re-assert without a prior deassert; defensive.
				scanner.Put(res.SampleIndex, res.SampleIndex, AnnCSChange, []string{"assert"}, nil)
				transferActive = true
				transferStart = res.SampleIndex
				misoAcc, mosiAcc = 0, 0
				misoTransferBytes, mosiTransferBytes = nil, nil
				wordBitsMiso, wordBitsMosi = nil, nil
			} else {
				closeTransfer(res.SampleIndex)
				scanner.Put(res.SampleIndex, res.SampleIndex, AnnCSChange, []string{"deassert"}, nil)
			}
			continue
		}

		// CLK edge: act only on the configured sampling transition, and only
		// while a transfer is open.
		if !transferActive {
			continue
		}
		last, current := res.LastPins[chanCLK], res.Pins[chanCLK]
		isSample := (edge == runtime.EdgeRising && last == 0 && current == 1) ||
			(edge == runtime.EdgeFalling && last == 1 && current == 0)
		if !isSample {
			continue
		}

		if bitsInWord == 0 {
			wordStart = res.SampleIndex
		}
		if hasMISO {
			bit := res.Pins[chanMISO]
			misoAcc = shiftIn(misoAcc, bit, lsbFirst, bitsInWord)
			wordBitsMiso = append(wordBitsMiso, bitAnn{sampleIndex: res.SampleIndex, annType: AnnMisoBit, value: bit})
		}
		if hasMOSI {
			bit := res.Pins[chanMOSI]
			mosiAcc = shiftIn(mosiAcc, bit, lsbFirst, bitsInWord)
			wordBitsMosi = append(wordBitsMosi, bitAnn{sampleIndex: res.SampleIndex, annType: AnnMosiBit, value: bit})
		}
		bitsInWord++

		if bitsInWord == wordsize {
			// Both data annotations share Start=wordStart, which precedes
			// every bit annotation just buffered for this word, so they
			// must reach pending before the bits do, not after.
			if hasMISO {
				pending = append(pending, pendingAnn{start: wordStart, end: res.SampleIndex, annType: AnnMisoData, values: []string{fmt.Sprintf("0x%02X", misoAcc)}})
				misoTransferBytes = append(misoTransferBytes, misoAcc)
				misoAcc = 0
			}
			if hasMOSI {
				pending = append(pending, pendingAnn{start: wordStart, end: res.SampleIndex, annType: AnnMosiData, values: []string{fmt.Sprintf("0x%02X", mosiAcc)}})
				mosiTransferBytes = append(mosiTransferBytes, mosiAcc)
				mosiAcc = 0
			}
			wordBitsMiso, wordBitsMosi = flushWordBitPair(wordBitsMiso, wordBitsMosi)
			bitsInWord = 0
		}
	}

	closeTransfer(scanner.SampleIndex())

	return scanner.Results(), nil
}

var _ decode.Decoder = (*Decoder)(nil)
