package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCaptureRequest_LiteralScenario(t *testing.T) {
	// spec.md §8 scenario 2.
	var r CaptureRequest
	r.TriggerType = 1
	r.Trigger = 0
	r.InvertedOrCount = 0
	r.TriggerValue = 0x1234
	for ch := 0; ch < 8; ch++ {
		r.Channels[ch] = 1
	}
	r.ChannelCount = 8
	r.Frequency = 100_000_000
	r.PreSamples = 1000
	r.PostSamples = 9000
	r.LoopCount = 0
	r.Measure = 0
	r.CaptureMode = 0

	buf := r.Marshal()
	require.Len(t, buf, CaptureRequestSize)

	assert.Equal(t, []byte{0x34, 0x12}, buf[3:5])

	// Computed from the explicit field layout in spec.md §3: trigger_type(1)
	// + trigger(1) + inverted_or_count(1) + trigger_value(2) + channels(24)
	// + channel_count(1) puts frequency at offset 30, not 28 as the prose
	// in spec.md §8 scenario 2 states — see DESIGN.md for this resolved
	// inconsistency. The literal byte values it specifies are verified here
	// at the offset the layout actually produces.
	assert.Equal(t, []byte{0x00, 0xE1, 0xF5, 0x05}, buf[30:34])

	parsed, err := UnmarshalCaptureRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestCaptureRequest_RoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var r CaptureRequest
		r.TriggerType = uint8(rapid.IntRange(0, 3).Draw(rt, "triggerType"))
		r.Trigger = uint8(rapid.IntRange(0, 255).Draw(rt, "trigger"))
		r.InvertedOrCount = uint8(rapid.IntRange(0, 255).Draw(rt, "invertedOrCount"))
		r.TriggerValue = uint16(rapid.IntRange(0, 0xFFFF).Draw(rt, "triggerValue"))
		for i := range r.Channels {
			r.Channels[i] = uint8(rapid.IntRange(0, 1).Draw(rt, "channel"))
		}
		r.ChannelCount = uint8(rapid.IntRange(0, 24).Draw(rt, "channelCount"))
		r.Frequency = uint32(rapid.IntRange(0, 1<<31).Draw(rt, "frequency"))
		r.PreSamples = uint32(rapid.IntRange(0, 1<<31).Draw(rt, "preSamples"))
		r.PostSamples = uint32(rapid.IntRange(0, 1<<31).Draw(rt, "postSamples"))
		r.LoopCount = uint8(rapid.IntRange(0, 255).Draw(rt, "loopCount"))
		r.Measure = uint8(rapid.IntRange(0, 1).Draw(rt, "measure"))
		r.CaptureMode = uint8(rapid.IntRange(0, 2).Draw(rt, "captureMode"))

		buf := r.Marshal()
		require.Len(rt, buf, CaptureRequestSize)

		parsed, err := UnmarshalCaptureRequest(buf)
		require.NoError(rt, err)
		require.Equal(rt, r, parsed)
	})
}

func TestUnmarshalCaptureRequest_WrongLength(t *testing.T) {
	_, err := UnmarshalCaptureRequest(make([]byte, 44))
	assert.Error(t, err)
}
