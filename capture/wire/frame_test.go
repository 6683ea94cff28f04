package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeFrame_LiteralScenario(t *testing.T) {
	// spec.md §8 scenario 1.
	input := []byte{0xAA, 0x01, 0x55, 0xF0}

	body := EncodeBody(input)
	assert.Equal(t, []byte{0xF0, 0x5A, 0x01, 0xF0, 0xA5, 0xF0, 0x00}, body)

	frame := EncodeFrame(input)
	want := append([]byte{0x55, 0xAA}, body...)
	want = append(want, 0xAA, 0x55)
	assert.Equal(t, want, frame)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)
}

func TestFrameRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(rt, "body")

		encoded := EncodeFrame(body)
		decoded, err := DecodeFrame(encoded)
		require.NoError(rt, err)
		require.Equal(rt, body, decoded)

		inner := encoded[2 : len(encoded)-2]
		for i := 0; i < len(inner); i++ {
			b := inner[i]
			if b == escapeByte {
				require.Less(rt, i+1, len(inner), "dangling escape byte")
				i++ // skip the escaped payload byte; it may equal any value
				continue
			}
			require.NotEqual(rt, markerHigh, b)
			require.NotEqual(rt, markerLow, b)
		}
	})
}

func TestFrameScanner_SplitAcrossReads(t *testing.T) {
	body := []byte{0x01, 0x02, 0xAA, 0x03}
	frame := EncodeFrame(body)

	var scanner FrameScanner
	mid := len(frame) / 2
	scanner.Feed(frame[:mid])

	_, ok, err := scanner.Next()
	require.NoError(t, err)
	require.False(t, ok)

	scanner.Feed(frame[mid:])
	got, ok, err := scanner.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, got)
}

func TestFrameScanner_DropsNoiseBeforeMarker(t *testing.T) {
	body := []byte{0x42}
	frame := EncodeFrame(body)
	noisy := append([]byte{0x00, 0x01, 0x02}, frame...)

	var scanner FrameScanner
	scanner.Feed(noisy)

	got, ok, err := scanner.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, got)
}

func TestFrameScanner_MultipleFramesBuffered(t *testing.T) {
	f1 := EncodeFrame([]byte{0x01})
	f2 := EncodeFrame([]byte{0x02, 0x03})

	var scanner FrameScanner
	scanner.Feed(f1)
	scanner.Feed(f2)

	got1, ok, err := scanner.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, got1)

	got2, ok, err := scanner.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x02, 0x03}, got2)
}

func TestDecodeFrame_MissingMarkers(t *testing.T) {
	_, err := DecodeFrame([]byte{0x00, 0x00, 0x00, 0x00})
	assert.Error(t, err)
}
