package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
)

func TestExporter_WritesHeaderOnceAndAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	fake := clock.NewFake(time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))

	exp, err := NewExporter(dir, "capture-%Y%m%d.csv", fake)
	require.NoError(t, err)

	anns := []runtime.Annotation{{Start: 1, End: 2, AnnotationType: 0, Values: []string{"0x50"}}}
	path1, err := exp.Export("session-1", anns)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture-20260729.csv"), path1)

	path2, err := exp.Export("session-2", anns)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)

	data, err := os.ReadFile(path1)
	require.NoError(t, err)
	contents := string(data)
	assert.Equal(t, 1, countOccurrences(contents, "session_id"))
	assert.Equal(t, 1, countOccurrences(contents, "session-1"))
	assert.Equal(t, 1, countOccurrences(contents, "session-2"))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}

func TestNewExporter_RejectsBadPattern(t *testing.T) {
	_, err := NewExporter(t.TempDir(), "%Q-invalid", nil)
	assert.Error(t, err)
}
