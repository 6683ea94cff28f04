package spi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
)

func bitsMSBFirst(b byte) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = (b >> uint(7-i)) & 1
	}
	return out
}

// buildWaveform synthesizes CLK/MISO/MOSI/CS samples for spec.md §8's
// literal scenario #4: mode 0 (CPOL=0, CPHA=0, sample on rising edge),
// CS asserted low for the whole capture, MISO/MOSI clocked MSB-first.
func buildWaveform(miso, mosi byte) (clk, misoCh, mosiCh, cs []byte) {
	misoBits, mosiBits := bitsMSBFirst(miso), bitsMSBFirst(mosi)

	type pt struct{ clk, miso, mosi, cs byte }
	var pts []pt
	push := func(c, m, o, s byte) { pts = append(pts, pt{c, m, o, s}) }

	push(0, misoBits[0], mosiBits[0], 0) // initial state: CS already low.
	for i := 0; i < 8; i++ {
		push(1, misoBits[i], mosiBits[i], 0) // rising edge: sample bit i.
		next := i + 1
		if next < 8 {
			push(0, misoBits[next], mosiBits[next], 0)
		} else {
			push(0, misoBits[i], mosiBits[i], 0)
		}
	}
	push(0, 0, 0, 1) // CS deassert, clock idle low.

	clk = make([]byte, len(pts))
	misoCh = make([]byte, len(pts))
	mosiCh = make([]byte, len(pts))
	cs = make([]byte, len(pts))
	for i, p := range pts {
		clk[i], misoCh[i], mosiCh[i], cs[i] = p.clk, p.miso, p.mosi, p.cs
	}
	return clk, misoCh, mosiCh, cs
}

func TestDecode_ModeZeroFullTransfer(t *testing.T) {
	clk, miso, mosi, cs := buildWaveform(0xA5, 0x3C)

	d := New()
	channels := map[int][]byte{chanCLK: clk, chanMISO: miso, chanMOSI: mosi, chanCS: cs}
	selection := map[int]int{chanCLK: chanCLK, chanMISO: chanMISO, chanMOSI: chanMOSI, chanCS: chanCS}
	anns, err := d.Decode(0, channels, selection, runtime.NewOptions(nil))
	require.NoError(t, err)

	var misoBitCount, mosiBitCount int
	var misoData, mosiData, misoTransfer, mosiTransfer *runtime.Annotation
	for i := range anns {
		a := &anns[i]
		switch a.AnnotationType {
		case AnnMisoBit:
			misoBitCount++
		case AnnMosiBit:
			mosiBitCount++
		case AnnMisoData:
			misoData = a
		case AnnMosiData:
			mosiData = a
		case AnnMisoTransfer:
			misoTransfer = a
		case AnnMosiTransfer:
			mosiTransfer = a
		}
	}

	assert.Equal(t, 8, misoBitCount)
	assert.Equal(t, 8, mosiBitCount)
	require.NotNil(t, misoData)
	assert.Equal(t, []string{"0xA5"}, misoData.Values)
	require.NotNil(t, mosiData)
	assert.Equal(t, []string{"0x3C"}, mosiData.Values)
	require.NotNil(t, misoTransfer)
	assert.Equal(t, []string{"A5"}, misoTransfer.Values)
	require.NotNil(t, mosiTransfer)
	assert.Equal(t, []string{"3C"}, mosiTransfer.Values)
}

func TestDecode_MonotoneAnnotations(t *testing.T) {
	clk, miso, mosi, cs := buildWaveform(0xA5, 0x3C)
	d := New()
	channels := map[int][]byte{chanCLK: clk, chanMISO: miso, chanMOSI: mosi, chanCS: cs}
	selection := map[int]int{chanCLK: chanCLK, chanMISO: chanMISO, chanMOSI: chanMOSI, chanCS: chanCS}
	anns, err := d.Decode(0, channels, selection, runtime.NewOptions(nil))
	require.NoError(t, err)
	for i := 1; i < len(anns); i++ {
		assert.LessOrEqual(t, anns[i-1].Start, anns[i].Start)
	}
}

func TestDecode_RequiresAtLeastOneDataLine(t *testing.T) {
	d := New()
	clk := []byte{0, 1, 0, 1, 0}
	_, err := d.Decode(0, map[int][]byte{chanCLK: clk}, map[int]int{chanCLK: chanCLK}, runtime.NewOptions(nil))
	assert.Error(t, err)
}

func TestDecode_NoCSSynthesizesFramingAtStart(t *testing.T) {
	clk, miso, mosi, _ := buildWaveform(0xA5, 0x3C)
	d := New()
	channels := map[int][]byte{chanCLK: clk, chanMISO: miso, chanMOSI: mosi}
	selection := map[int]int{chanCLK: chanCLK, chanMISO: chanMISO, chanMOSI: chanMOSI}
	anns, err := d.Decode(0, channels, selection, runtime.NewOptions(nil))
	require.NoError(t, err)
	require.NotEmpty(t, anns)
	assert.Equal(t, AnnCSChange, anns[0].AnnotationType)
	assert.Equal(t, []string{"assert"}, anns[0].Values)
}

// TestDecode_MidWordCSDeassertWarns exercises the mid-word CS# deassert
// path (the warning annotation previously panicked, since it was Put
// with an earlier Start than the partial word's already-appended bits).
func TestDecode_MidWordCSDeassertWarns(t *testing.T) {
	misoBits, mosiBits := bitsMSBFirst(0xA5), bitsMSBFirst(0x3C)

	type pt struct{ clk, miso, mosi, cs byte }
	var pts []pt
	push := func(c, m, o, s byte) { pts = append(pts, pt{c, m, o, s}) }

	push(0, misoBits[0], mosiBits[0], 0)
	for i := 0; i < 4; i++ { // only 4 of 8 bits clocked before CS deasserts.
		push(1, misoBits[i], mosiBits[i], 0)
		push(0, misoBits[i], mosiBits[i], 0)
	}
	push(0, 0, 0, 1) // CS deassert mid-word.

	clk := make([]byte, len(pts))
	miso := make([]byte, len(pts))
	mosi := make([]byte, len(pts))
	cs := make([]byte, len(pts))
	for i, p := range pts {
		clk[i], miso[i], mosi[i], cs[i] = p.clk, p.miso, p.mosi, p.cs
	}

	d := New()
	channels := map[int][]byte{chanCLK: clk, chanMISO: miso, chanMOSI: mosi, chanCS: cs}
	selection := map[int]int{chanCLK: chanCLK, chanMISO: chanMISO, chanMOSI: chanMOSI, chanCS: chanCS}

	require.NotPanics(t, func() {
		anns, err := d.Decode(0, channels, selection, runtime.NewOptions(nil))
		require.NoError(t, err)

		for i := 1; i < len(anns); i++ {
			assert.LessOrEqual(t, anns[i-1].Start, anns[i].Start)
		}

		var sawWarning bool
		for _, a := range anns {
			if a.AnnotationType == AnnWarning {
				sawWarning = true
			}
		}
		assert.True(t, sawWarning)
	})
}

func TestDecode_RejectsInvalidCPOL(t *testing.T) {
	d := New()
	clk, miso, mosi, cs := buildWaveform(0xA5, 0x3C)
	channels := map[int][]byte{chanCLK: clk, chanMISO: miso, chanMOSI: mosi, chanCS: cs}
	selection := map[int]int{chanCLK: chanCLK, chanMISO: chanMISO, chanMOSI: chanMOSI, chanCS: chanCS}
	_, err := d.Decode(0, channels, selection, runtime.NewOptions([]interface{}{nil, 2}))
	assert.Error(t, err)
}
