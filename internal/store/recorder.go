package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
)

// Recorder writes detection batches to a Store off the publishing path.
// Batches arriving while the writer is busy are queued up to a limit and
// dropped beyond it.
type Recorder struct {
	store *Store
	queue chan []detection.Detection

	written atomic.Uint64
	dropped atomic.Uint64

	once sync.Once
	done chan struct{}
}

// NewRecorder returns a recorder holding up to depth pending batches.
func NewRecorder(s *Store, depth int) *Recorder {
	if depth <= 0 {
		depth = 64
	}
	return &Recorder{
		store: s,
		queue: make(chan []detection.Detection, depth),
		done:  make(chan struct{}),
	}
}

// Record queues a batch without blocking. The slice must not be modified
// afterwards.
func (r *Recorder) Record(dets []detection.Detection) {
	if len(dets) == 0 {
		return
	}
	select {
	case r.queue <- dets:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued batches until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	log := logger.WithComponent("store")
	defer r.once.Do(func() { close(r.done) })

	write := func(dets []detection.Detection) {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.Insert(wctx, dets); err != nil {
			log.Warn().Err(err).Int("detections", len(dets)).Msg("Failed to record detections")
			return
		}
		r.written.Add(uint64(len(dets)))
	}

	for {
		select {
		case dets := <-r.queue:
			write(dets)
		case <-ctx.Done():
			for {
				select {
				case dets := <-r.queue:
					write(dets)
				default:
					log.Info().Uint64("written", r.written.Load()).Uint64("dropped_batches", r.dropped.Load()).Msg("Recorder stopped")
					return
				}
			}
		}
	}
}

// Done is closed when Run has returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Written returns how many detections were stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns how many batches were discarded.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
