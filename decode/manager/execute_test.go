package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode"
	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
)

// fakeDecoder returns a fixed annotation set regardless of input, so
// execution tests can control exactly what chunk boundaries see.
type fakeDecoder struct {
	anns []runtime.Annotation
}

func (f *fakeDecoder) Info() decode.Info { return decode.Info{ID: "fake"} }
func (f *fakeDecoder) Decode(sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options) ([]runtime.Annotation, error) {
	return f.anns, nil
}

func newFakeManager(anns []runtime.Annotation) *Manager {
	m := &Manager{ordinary: make(map[string]registration), streaming: make(map[string]registration)}
	factory := func() decode.Decoder { return &fakeDecoder{anns: anns} }
	_ = m.Register(decode.Info{ID: "fake"}, factory)
	_ = m.RegisterStreaming(decode.Info{ID: "fake"}, factory)
	return m
}

func TestExecuteDecoder_ReportsThroughput(t *testing.T) {
	anns := []runtime.Annotation{{Start: 0, End: 1, AnnotationType: 0}}
	m := newFakeManager(anns)

	fake := clock.NewFake(time.Unix(0, 0))
	channels := map[int][]byte{0: make([]byte, 1000)}
	res, err := m.ExecuteDecoder("fake", 1000, channels, nil, runtime.NewOptions(nil), fake)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.SamplesProcessed)
	assert.Equal(t, anns, res.Annotations)
}

func TestExecuteStreamingDecoder_DeliversChunksAndAggregatesToBatchResult(t *testing.T) {
	anns := []runtime.Annotation{
		{Start: 10, AnnotationType: 0},
		{Start: 70000, AnnotationType: 1},
		{Start: 140000, AnnotationType: 2},
	}
	m := newFakeManager(anns)
	channels := map[int][]byte{0: make([]byte, 150000)}

	var chunks [][]runtime.Annotation
	var lastProcessed, lastTotal uint64
	res, err := m.ExecuteStreamingDecoder("fake", 1000, channels, nil, runtime.NewOptions(nil), 65536,
		func(processed, total uint64) { lastProcessed, lastTotal = processed, total },
		func(partial []runtime.Annotation) bool { chunks = append(chunks, partial); return true },
		clock.System)
	require.NoError(t, err)

	require.Len(t, chunks, 3) // 150000 samples / 65536-sample chunks -> 3 chunks.
	assert.Len(t, chunks[0], 1)
	assert.Len(t, chunks[1], 1)
	assert.Len(t, chunks[2], 1)
	assert.Equal(t, uint64(150000), lastProcessed)
	assert.Equal(t, uint64(150000), lastTotal)
	assert.Equal(t, anns, res.Annotations)
	assert.Equal(t, uint64(150000), res.SamplesProcessed)
}

func TestExecuteStreamingDecoder_StopsEarlyWhenPartialReturnsFalse(t *testing.T) {
	anns := []runtime.Annotation{
		{Start: 10, AnnotationType: 0},
		{Start: 70000, AnnotationType: 1},
	}
	m := newFakeManager(anns)
	channels := map[int][]byte{0: make([]byte, 150000)}

	seen := 0
	res, err := m.ExecuteStreamingDecoder("fake", 1000, channels, nil, runtime.NewOptions(nil), 65536,
		nil,
		func(partial []runtime.Annotation) bool { seen++; return false },
		clock.System)
	require.NoError(t, err)

	assert.Equal(t, 1, seen)
	assert.Equal(t, uint64(65536), res.SamplesProcessed)
	assert.Len(t, res.Annotations, 1)
}

func TestExecuteDecoder_UnknownIDReturnsDecoderNotFound(t *testing.T) {
	m := New()
	_, err := m.ExecuteDecoder("nope", 1000, nil, nil, runtime.NewOptions(nil), nil)
	assert.ErrorIs(t, err, decode.ErrDecoderNotFound)
}
