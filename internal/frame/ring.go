package frame

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultRingCapacity is the number of raw frames held between ingest and
// preprocess.
const DefaultRingCapacity = 24

// RawFrame is one camera frame as delivered by the transport.
type RawFrame struct {
	Meta   Metadata
	Pixels []byte
}

type slot struct {
	mu     sync.Mutex
	seq    uint64 // sequence of the frame held, plus one; zero when empty
	meta   Metadata
	pixels []byte
}

// Ring is a fixed-capacity frame buffer. Push overwrites the oldest slot and
// never waits for a consumer. Consumers keep their own cursor (a count of
// frames consumed so far) and compare it to the insert index.
//
// Slots carry the sequence number of the frame they hold, so a reader that
// has been lapped by the producer skips forward to the oldest frame still
// present instead of reading a slot that is being overwritten.
type Ring struct {
	slots []slot

	pushMu sync.Mutex
	insert atomic.Uint64

	mu     sync.Mutex
	cond   *sync.Cond
	closed bool

	lapped atomic.Uint64
}

// NewRing creates a ring with the given capacity. Non-positive capacities
// use DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	r := &Ring{slots: make([]slot, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() int {
	return len(r.slots)
}

// Push copies a frame into the next slot. The caller's buffer may be reused
// as soon as Push returns.
func (r *Ring) Push(meta Metadata, pixels []byte) {
	r.pushMu.Lock()
	seq := r.insert.Load()
	s := &r.slots[seq%uint64(len(r.slots))]

	s.mu.Lock()
	s.meta = meta
	s.pixels = append(s.pixels[:0], pixels...)
	s.seq = seq + 1
	s.mu.Unlock()

	r.mu.Lock()
	r.insert.Store(seq + 1)
	r.cond.Broadcast()
	r.mu.Unlock()
	r.pushMu.Unlock()
}

// Inserted returns the total number of frames pushed.
func (r *Ring) Inserted() uint64 {
	return r.insert.Load()
}

// Available reports whether a frame newer than cursor exists.
func (r *Ring) Available(cursor uint64) bool {
	return cursor < r.insert.Load()
}

// Read copies the frame at cursor into dst and returns the next cursor. If
// the producer has lapped the reader, the oldest frame still held is read
// instead. ok is false when nothing new is available.
func (r *Ring) Read(cursor uint64, dst *RawFrame) (next uint64, ok bool) {
	capacity := uint64(len(r.slots))
	for {
		head := r.insert.Load()
		if cursor >= head {
			return cursor, false
		}
		if head-cursor > capacity {
			r.lapped.Add(head - capacity - cursor)
			cursor = head - capacity
		}

		s := &r.slots[cursor%capacity]
		s.mu.Lock()
		if s.seq != cursor+1 {
			// overwritten since head was loaded
			s.mu.Unlock()
			continue
		}
		dst.Meta = s.meta
		dst.Pixels = append(dst.Pixels[:0], s.pixels...)
		s.mu.Unlock()
		return cursor + 1, true
	}
}

// Wait blocks until a frame newer than cursor exists or the ring is closed.
// It returns false once the ring is closed.
func (r *Ring) Wait(cursor uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.closed && r.insert.Load() <= cursor {
		r.cond.Wait()
	}
	return !r.closed
}

// Close wakes every waiter. Push keeps working after Close.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Lapped returns how many frames readers skipped because the producer
// overwrote them first.
func (r *Ring) Lapped() uint64 {
	return r.lapped.Load()
}

// Snapshot returns copies of the frames currently held, oldest first.
func (r *Ring) Snapshot() []RawFrame {
	type held struct {
		seq   uint64
		frame RawFrame
	}
	var frames []held
	for i := range r.slots {
		s := &r.slots[i]
		s.mu.Lock()
		if s.seq != 0 {
			frames = append(frames, held{
				seq:   s.seq,
				frame: RawFrame{Meta: s.meta, Pixels: append([]byte(nil), s.pixels...)},
			})
		}
		s.mu.Unlock()
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].seq < frames[j].seq })

	out := make([]RawFrame, len(frames))
	for i, h := range frames {
		out[i] = h.frame
	}
	return out
}
