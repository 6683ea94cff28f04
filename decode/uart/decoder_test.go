package uart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
)

// buildLine synthesizes one UART line: idle-high, a low start bit, eight
// data bits (LSB-first, as given) each placed at its start-relative
// bitOffset, and a high stop bit — spec.md §8's literal scenario #5
// (115200 8-N-1 at 2,304,000 Hz, 20 samples/bit).
func buildLine(bits []byte, samplesPerBit, startIdx int) []byte {
	total := startIdx + samplesPerBit*(len(bits)+2) + samplesPerBit
	out := make([]byte, total)
	for i := range out {
		out[i] = 1
	}
	out[startIdx] = 0
	bitOffset := func(i int) int { return int(float64(samplesPerBit)*(float64(i)+0.5) + 0.5) }
	for i, bit := range bits {
		out[startIdx+bitOffset(i)] = bit
	}
	out[startIdx+bitOffset(len(bits))] = 1 // stop bit, no parity configured
	return out
}

func TestDecode_115200_8N1(t *testing.T) {
	bits := []byte{0, 1, 0, 1, 0, 0, 0, 0} // 0b01010000 LSB-first -> 0x0A
	rx := buildLine(bits, 20, 5)

	d := New()
	anns, err := d.Decode(2304000, map[int][]byte{chanRX: rx}, map[int]int{chanRX: chanRX}, runtime.NewOptions(nil))
	require.NoError(t, err)

	require.Len(t, anns, 1)
	assert.Equal(t, AnnRXData, anns[0].AnnotationType)
	assert.Equal(t, []string{"0x0A"}, anns[0].Values)
	assert.Equal(t, 5, anns[0].Start)
}

func TestDecode_FrameErrorOnLowStopBit(t *testing.T) {
	bits := []byte{0, 1, 0, 1, 0, 0, 0, 0}
	rx := buildLine(bits, 20, 5)
	stopIdx := 5 + int(float64(20)*(8.5)+0.5)
	rx[stopIdx] = 0 // corrupt the stop bit.

	d := New()
	anns, err := d.Decode(2304000, map[int][]byte{chanRX: rx}, map[int]int{chanRX: chanRX}, runtime.NewOptions(nil))
	require.NoError(t, err)

	var sawFrameError bool
	for _, a := range anns {
		if a.AnnotationType == AnnRXFrameError {
			sawFrameError = true
		}
	}
	assert.True(t, sawFrameError)
}

func TestDecode_MissingRequiredChannel(t *testing.T) {
	d := New()
	_, err := d.Decode(2304000, map[int][]byte{}, map[int]int{}, runtime.NewOptions(nil))
	assert.Error(t, err)
}

func TestDecode_RejectsInvalidDataBits(t *testing.T) {
	d := New()
	rx := buildLine([]byte{0, 1, 0, 1, 0, 0, 0, 0}, 20, 5)
	_, err := d.Decode(2304000, map[int][]byte{chanRX: rx}, map[int]int{chanRX: chanRX}, runtime.NewOptions([]interface{}{nil, 20}))
	assert.Error(t, err)
}

func TestDecode_TXAndRXMergedInStartOrder(t *testing.T) {
	bits := []byte{0, 1, 0, 1, 0, 0, 0, 0}
	rx := buildLine(bits, 20, 5)
	tx := buildLine(bits, 20, 50) // starts later than RX.

	d := New()
	anns, err := d.Decode(2304000, map[int][]byte{chanRX: rx, chanTX: tx}, map[int]int{chanRX: chanRX, chanTX: chanTX}, runtime.NewOptions(nil))
	require.NoError(t, err)
	require.Len(t, anns, 2)
	assert.Equal(t, AnnRXData, anns[0].AnnotationType)
	assert.Equal(t, AnnTXData, anns[1].AnnotationType)
	for i := 1; i < len(anns); i++ {
		assert.LessOrEqual(t, anns[i-1].Start, anns[i].Start)
	}
}
