// Package control keeps the rolling history of control commands that
// control-conditioned models take as a second input.
package control

import (
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
)

const (
	// Depth is the number of commands kept.
	Depth = 5
	// Width is the number of values per command (vx, vy, vz, yaw).
	Width = 4
)

// Snapshot is an immutable view of the history, oldest command first.
type Snapshot struct {
	Values [Depth][Width]float32
	Filled bool
}

// Flat returns the values in row-major order.
func (s Snapshot) Flat() []float32 {
	out := make([]float32, 0, Depth*Width)
	for _, row := range s.Values {
		out = append(out, row[:]...)
	}
	return out
}

// History is written by one control listener and read by the inference
// worker. Readers never block: every update publishes a fresh Snapshot.
type History struct {
	current atomic.Pointer[Snapshot]

	mu    sync.Mutex
	count int
}

// NewHistory returns an empty, unfilled history.
func NewHistory() *History {
	h := &History{}
	h.current.Store(&Snapshot{})
	return h
}

// Push appends a command, evicting the oldest. The history becomes filled
// once Depth commands have been pushed.
func (h *History) Push(c detection.Control) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current.Load()
	next := &Snapshot{}
	copy(next.Values[:], prev.Values[1:])
	next.Values[Depth-1] = c.Vector()
	if h.count < Depth {
		h.count++
	}
	next.Filled = h.count >= Depth
	h.current.Store(next)
}

// Replace installs a whole history at once.
func (h *History) Replace(values [Depth][Width]float32, filled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if filled {
		h.count = Depth
	} else {
		h.count = 0
	}
	h.current.Store(&Snapshot{Values: values, Filled: filled})
}

// Load returns the latest snapshot.
func (h *History) Load() Snapshot {
	return *h.current.Load()
}

// Filled reports whether Depth commands have been received.
func (h *History) Filled() bool {
	return h.current.Load().Filled
}
