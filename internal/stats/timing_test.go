package stats

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaries(t *testing.T) {
	tm := NewTiming(0)
	for _, ms := range []int{2, 4, 4, 4, 5, 5, 7, 9} {
		tm.Add("inference", time.Duration(ms)*time.Millisecond)
	}
	tm.Add("preprocess", 3*time.Millisecond)

	got := tm.Summaries()
	require.Len(t, got, 2)
	assert.Equal(t, "inference", got[0].Stage)
	assert.Equal(t, uint64(8), got[0].Count)
	assert.InDelta(t, 5.0, got[0].Mean, 1e-9)
	assert.InDelta(t, 2.138, got[0].Std, 1e-3)
	assert.Equal(t, 2.0, got[0].Min)
	assert.Equal(t, 9.0, got[0].Max)

	assert.Equal(t, Summary{Stage: "preprocess", Count: 1, Mean: 3, Min: 3, Max: 3}, got[1])
}

func TestWindowKeepsRecentSamples(t *testing.T) {
	tm := NewTiming(2)
	tm.Add("s", 100*time.Millisecond)
	tm.Add("s", 1*time.Millisecond)
	tm.Add("s", 3*time.Millisecond)

	got := tm.Summaries()[0]
	assert.Equal(t, uint64(3), got.Count)
	assert.Equal(t, 3.0, got.Max)
	assert.Equal(t, 1.0, got.Min)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	tm := NewTiming(10)
	tm.Add("postprocess", time.Millisecond)
	tm.Log(&log)
	assert.Contains(t, buf.String(), `"stage":"postprocess"`)
}
