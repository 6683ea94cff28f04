package manager

import (
	"time"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
)

// ExecutionResult is a decode() invocation's annotations plus the
// performance-monitor fields spec.md §4.10 requires alongside them:
// duration and sample throughput.
type ExecutionResult struct {
	Annotations      []runtime.Annotation
	Duration         time.Duration
	SamplesProcessed uint64
	SamplesPerSecond float64
}

func finishResult(anns []runtime.Annotation, processed uint64, elapsed time.Duration) ExecutionResult {
	res := ExecutionResult{Annotations: anns, Duration: elapsed, SamplesProcessed: processed}
	if elapsed > 0 {
		res.SamplesPerSecond = float64(processed) / elapsed.Seconds()
	}
	return res
}

// ExecuteDecoder runs one decode() invocation to completion and wraps the
// result with performance-monitor bookkeeping, per spec.md §4.10.
func (m *Manager) ExecuteDecoder(id string, sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options, clk clock.Clock) (ExecutionResult, error) {
	if clk == nil {
		clk = clock.System
	}
	d, err := m.CreateDecoder(id)
	if err != nil {
		return ExecutionResult{}, err
	}

	start := clk.Now()
	anns, err := d.Decode(sampleRate, channels, selection, options)
	if err != nil {
		return ExecutionResult{}, err
	}
	elapsed := clk.Now().Sub(start)

	return finishResult(anns, totalSamples(channels), elapsed), nil
}

func totalSamples(channels map[int][]byte) uint64 {
	max := 0
	for _, ch := range channels {
		if len(ch) > max {
			max = len(ch)
		}
	}
	return uint64(max)
}

const defaultStreamChunk = 64 * 1024

// ProgressFunc reports cumulative samples processed out of total.
type ProgressFunc func(processed, total uint64)

// PartialResultFunc delivers the annotations newly available as of the
// current chunk boundary. Returning false stops delivery of further
// chunks — spec.md §4.10's "decoder must tolerate mid-stream termination
// between chunks".
type PartialResultFunc func(partial []runtime.Annotation) (keepGoing bool)

// ExecuteStreamingDecoder implements spec.md §4.10's chunked execution
// mode. The underlying decode() call still runs to completion in one
// shot — spec.md §5 is explicit that a decode invocation never suspends
// mid-call — so streaming here means *presenting* the already-computed
// annotation set to the caller in ~chunkSamples-sized windows (default
// 64 Ki), with progress and partial-result callbacks between windows and
// early termination honored between them. The aggregated result from
// letting every chunk run to completion is therefore identical to
// ExecuteDecoder's batch result; only the caller-visible delivery and the
// ability to stop early differ.
func (m *Manager) ExecuteStreamingDecoder(id string, sampleRate uint64, channels map[int][]byte, selection map[int]int, options runtime.Options, chunkSamples int, onProgress ProgressFunc, onPartial PartialResultFunc, clk clock.Clock) (ExecutionResult, error) {
	if clk == nil {
		clk = clock.System
	}
	if chunkSamples <= 0 {
		chunkSamples = defaultStreamChunk
	}

	d, err := m.createStreamingDecoder(id)
	if err != nil {
		return ExecutionResult{}, err
	}

	start := clk.Now()
	anns, err := d.Decode(sampleRate, channels, selection, options)
	if err != nil {
		return ExecutionResult{}, err
	}

	total := totalSamples(channels)
	var processed uint64
	idx := 0
	delivered := anns[:0:0]
	stopped := false

	for processed < total {
		chunkEnd := processed + uint64(chunkSamples)
		if chunkEnd > total {
			chunkEnd = total
		}

		var partial []runtime.Annotation
		for idx < len(anns) && anns[idx].Start < int(chunkEnd) {
			partial = append(partial, anns[idx])
			idx++
		}
		delivered = append(delivered, partial...)

		if onProgress != nil {
			onProgress(chunkEnd, total)
		}
		processed = chunkEnd
		if onPartial != nil && !onPartial(partial) {
			stopped = true
			break
		}
	}

	elapsed := clk.Now().Sub(start)
	if stopped {
		return finishResult(delivered, processed, elapsed), nil
	}
	return finishResult(anns, total, elapsed), nil
}
