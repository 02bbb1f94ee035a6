// Package stats accumulates per-stage timings and summarizes them.
package stats

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of recent samples kept per stage.
const DefaultWindow = 1000

// Summary describes one stage. Durations are in milliseconds.
type Summary struct {
	Stage string  `json:"stage"`
	Count uint64  `json:"count"`
	Mean  float64 `json:"mean_ms"`
	Std   float64 `json:"std_ms"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
}

type series struct {
	samples []float64
	next    int
	count   uint64
}

// Timing collects durations by stage name. Statistics cover the most
// recent window of samples; Count covers all of them.
type Timing struct {
	mu     sync.Mutex
	window int
	stages map[string]*series
	order  []string
}

// NewTiming returns a Timing keeping window samples per stage.
func NewTiming(window int) *Timing {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Timing{window: window, stages: make(map[string]*series)}
}

// Add records one duration for stage.
func (t *Timing) Add(stage string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stages[stage]
	if !ok {
		s = &series{}
		t.stages[stage] = s
		t.order = append(t.order, stage)
	}
	if len(s.samples) < t.window {
		s.samples = append(s.samples, ms)
	} else {
		s.samples[s.next] = ms
		s.next = (s.next + 1) % t.window
	}
	s.count++
}

// Summaries returns one summary per stage in first-seen order.
func (t *Timing) Summaries() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Summary, 0, len(t.order))
	for _, name := range t.order {
		s := t.stages[name]
		mean, std := stat.MeanStdDev(s.samples, nil)
		if len(s.samples) < 2 {
			std = 0
		}
		out = append(out, Summary{
			Stage: name,
			Count: s.count,
			Mean:  mean,
			Std:   std,
			Min:   floats.Min(s.samples),
			Max:   floats.Max(s.samples),
		})
	}
	return out
}

// Log writes one line per stage.
func (t *Timing) Log(log *zerolog.Logger) {
	for _, s := range t.Summaries() {
		log.Info().
			Str("stage", s.Stage).
			Uint64("count", s.Count).
			Float64("mean_ms", s.Mean).
			Float64("std_ms", s.Std).
			Float64("min_ms", s.Min).
			Float64("max_ms", s.Max).
			Msg("Timing")
	}
}
