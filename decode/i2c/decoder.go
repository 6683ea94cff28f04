// Package i2c implements the I2C protocol decoder from spec.md §4.7: an
// explicit {FIND_START, FIND_ADDR, FIND_ACK, FIND_DATA, FIND_ACK2} state
// machine layered on decode/runtime's wait/put scanner.
//
// Grounded on the teacher's demod_afsk.go sibling-state-machine shape
// (several physical-layer demodulators sharing one scanning contract);
// here the shared contract is decode/runtime's Scanner and the
// protocol-specific state machine is I2C's bit/byte/ack cycle instead of a
// tone detector.
package i2c

import (
	"fmt"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
)

const (
	chanSCL = 0
	chanSDA = 1
)

// Annotation type indices, per spec.md §4.7.
const (
	AnnStart = iota
	AnnRepeatStart
	AnnStop
	AnnAck
	AnnNak
	AnnBit
	AnnAddressRead
	AnnAddressWrite
	AnnDataRead
	AnnDataWrite
	AnnWarning
)

// bitAnn is a per-bit annotation held until the byte-span annotation that
// covers it has been appended to the scanner, to preserve the Start-order
// contract (see bitBuf in Decode).
type bitAnn struct {
	sampleIndex int
	value       byte
}

type protoState int

const (
	stateFindStart protoState = iota
	stateFindAddr
	stateFindAck
	stateFindData
	stateFindAck2
)

// Decoder is a fresh I2C decode() invocation; it is never reused.
type Decoder struct{}

// New returns a fresh Decoder, suitable as a decode.Factory.
func New() decode.Decoder { return &Decoder{} }

func (d *Decoder) Info() decode.Info {
	return decode.Info{
		ID:       "i2c",
		Name:     "I2C",
		LongName: "Inter-Integrated Circuit",
		Tags:     []string{"Embedded/industrial"},
		Channels: []decode.ChannelSpec{
			{Name: "SCL", Index: chanSCL, Required: true},
			{Name: "SDA", Index: chanSDA, Required: true},
		},
		Options: []decode.OptionSpec{
			{Name: "address_format", Kind: decode.OptionString, Default: "shifted", Choices: []string{"shifted", "unshifted"}},
		},
		Annotations: []decode.AnnotationSpec{
			{Index: AnnStart, Name: "Start"},
			{Index: AnnRepeatStart, Name: "Repeat start"},
			{Index: AnnStop, Name: "Stop"},
			{Index: AnnAck, Name: "ACK"},
			{Index: AnnNak, Name: "NAK"},
			{Index: AnnBit, Name: "Bit"},
			{Index: AnnAddressRead, Name: "Address read"},
			{Index: AnnAddressWrite, Name: "Address write"},
			{Index: AnnDataRead, Name: "Data read"},
			{Index: AnnDataWrite, Name: "Data write"},
			{Index: AnnWarning, Name: "Warning"},
		},
	}
}

func (d *Decoder) Decode(sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options) ([]runtime.Annotation, error) {
	if err := decode.RequireChannels(d.Info(), selection); err != nil {
		return nil, err
	}
	addressFormat := options.String(0, "shifted")
	if addressFormat != "shifted" && addressFormat != "unshifted" {
		return nil, fmt.Errorf("%w: address_format %q", decode.ErrInvalidOption, addressFormat)
	}

	mapped := runtime.BuildChannelMap(channels, selection, 2)
	scanner := runtime.NewScanner(mapped)

	startCond := runtime.Condition{chanSDA: runtime.EdgeFalling, chanSCL: runtime.EdgeHigh}
	stopCond := runtime.Condition{chanSDA: runtime.EdgeRising, chanSCL: runtime.EdgeHigh}
	bitCond := runtime.Condition{chanSCL: runtime.EdgeRising}
	conditions := []runtime.Condition{startCond, stopCond, bitCond}

	state := stateFindStart
	var (
		byteAcc       byte
		bitCount      int
		byteStart     int
		startIndex    = -1 // sample index of the most recent START, for bits/sec
		tenBitPending bool
		tenBitHigh    byte
		isRead        bool
		transferBits  int // bits actually sampled since the last START, for bits/sec

		// bitBuf holds this byte's per-bit annotations until the byte-span
		// annotation that covers them has been appended; runtime.Put
		// requires non-decreasing Start, and the byte-span Start (the
		// first bit's sample index) is earlier than any individual bit's,
		// so the span must be appended before its bits, not after.
		bitBuf []bitAnn
	)

	// flushBits appends this byte's buffered per-bit annotations, in
	// sampling order, after the byte-span annotation covering them has
	// already been appended.
	flushBits := func() {
		for _, b := range bitBuf {
			scanner.Put(b.sampleIndex, b.sampleIndex, AnnBit, []string{fmt.Sprintf("%d", b.value)}, nil)
		}
		bitBuf = bitBuf[:0]
	}

	for {
		res, err := scanner.Wait(conditions)
		if err != nil {
			break
		}

		switch res.MatchedIndex {
		case 0: // START or REPEAT-START
			if state == stateFindStart {
				scanner.Put(res.SampleIndex, res.SampleIndex, AnnStart, nil, nil)
			} else {
				scanner.Put(res.SampleIndex, res.SampleIndex, AnnRepeatStart, nil, nil)
			}
			startIndex = res.SampleIndex
			transferBits = 0
			bitBuf = bitBuf[:0]
			state = stateFindAddr
			bitCount = 0
			byteAcc = 0
			byteStart = res.SampleIndex
			tenBitPending = false

		case 1: // STOP
			scanner.Put(res.SampleIndex, res.SampleIndex, AnnStop, nil, nil)
			if sampleRate > 0 && startIndex >= 0 && res.SampleIndex > startIndex && transferBits > 0 {
				elapsed := float64(res.SampleIndex-startIndex) / float64(sampleRate)
				bps := float64(transferBits) / elapsed
				// Same Start as the Stop annotation just appended above;
				// Put only requires non-decreasing Start, not strictly
				// increasing, so a point annotation at the same sample is
				// valid and keeps this summary from spanning backwards
				// over the transfer's already-appended per-bit output.
				scanner.Put(res.SampleIndex, res.SampleIndex, AnnWarning, []string{fmt.Sprintf("%.0f bits/s", bps)}, nil)
			}
			state = stateFindStart

		case 2: // SCL rising: sample a bit
			bit := res.Pins[chanSDA]
			switch state {
			case stateFindAddr:
				if bitCount == 0 {
					byteStart = res.SampleIndex
				}
				byteAcc = (byteAcc << 1) | bit
				bitCount++
				transferBits++
				bitBuf = append(bitBuf, bitAnn{sampleIndex: res.SampleIndex, value: bit})
				if bitCount == 8 {
					if tenBitPending {
						fullAddr := (uint16(tenBitHigh) << 8) | uint16(byteAcc)
						annType := AnnAddressWrite
						if isRead {
							annType = AnnAddressRead
						}
						scanner.Put(byteStart, res.SampleIndex, annType, []string{fmt.Sprintf("0x%03X", fullAddr)}, nil)
						flushBits()
						tenBitPending = false
						state = stateFindAck
						bitCount = 0
					} else if byteAcc>>3 == 0b11110 {
						// 10-bit addressing first byte: bits [2:1] are the
						// top address bits, bit 0 is R/W.
						tenBitHigh = (byteAcc >> 1) & 0x03
						isRead = byteAcc&1 == 1
						tenBitPending = true
						state = stateFindAck
						bitCount = 0
						// No address annotation yet (the full address isn't
						// known until the second byte), but the bits still
						// need to reach the output in order.
						flushBits()
					} else {
						isRead = byteAcc&1 == 1
						addr := byteAcc >> 1
						display := addr
						if addressFormat == "unshifted" {
							display = byteAcc
						}
						annType := AnnAddressWrite
						if isRead {
							annType = AnnAddressRead
						}
						scanner.Put(byteStart, res.SampleIndex, annType, []string{fmt.Sprintf("0x%02X", display)}, nil)
						flushBits()
						state = stateFindAck
						bitCount = 0
					}
				}

			case stateFindData:
				if bitCount == 0 {
					byteStart = res.SampleIndex
				}
				byteAcc = (byteAcc << 1) | bit
				bitCount++
				transferBits++
				bitBuf = append(bitBuf, bitAnn{sampleIndex: res.SampleIndex, value: bit})
				if bitCount == 8 {
					annType := AnnDataWrite
					if isRead {
						annType = AnnDataRead
					}
					scanner.Put(byteStart, res.SampleIndex, annType, []string{fmt.Sprintf("0x%02X", byteAcc)}, nil)
					flushBits()
					state = stateFindAck2
					bitCount = 0
				}

			case stateFindAck:
				transferBits++
				if bit == 0 {
					scanner.Put(res.SampleIndex, res.SampleIndex, AnnAck, nil, nil)
				} else {
					scanner.Put(res.SampleIndex, res.SampleIndex, AnnNak, nil, nil)
				}
				if tenBitPending {
					state = stateFindAddr
				} else {
					state = stateFindData
				}
				bitCount = 0

			case stateFindAck2:
				transferBits++
				if bit == 0 {
					scanner.Put(res.SampleIndex, res.SampleIndex, AnnAck, nil, nil)
				} else {
					scanner.Put(res.SampleIndex, res.SampleIndex, AnnNak, nil, nil)
				}
				state = stateFindData
				bitCount = 0

			case stateFindStart:
				// A bit-sample edge before any START has been seen; nothing
				// to do until a START condition arrives.
			}
		}
	}

	return scanner.Results(), nil
}

var _ decode.Decoder = (*Decoder)(nil)
