// Package pipeline runs the preprocess, inference and postprocess workers
// between the frame ring and a model.
package pipeline

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/model"
	"github.com/bryanchriswhite/tfliteserver/internal/stats"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueLimit is the cap of both hand-off queues.
	DefaultQueueLimit = 1
	// throughputEvery is how many published frames pass between
	// throughput log lines.
	throughputEvery = 10
	// timingEvery is how many frames pass between timing summaries.
	timingEvery = 100
)

// Config tunes a Pipeline.
type Config struct {
	QueueLimit int
	// CPUAffinity pins the preprocess and postprocess workers. Empty
	// leaves scheduling to the OS.
	CPUAffinity []int
	// Timing logs per-stage summaries periodically and at shutdown.
	Timing bool
}

// Counters is a snapshot of pipeline activity.
type Counters struct {
	Preprocessed uint64  `json:"preprocessed"`
	Inferred     uint64  `json:"inferred"`
	Published    uint64  `json:"published"`
	Skipped      uint64  `json:"skipped"`
	Dropped      uint64  `json:"dropped"`
	Lapped       uint64  `json:"lapped"`
	FPS          float64 `json:"fps"`
}

// Pipeline owns the hand-off queues, the running flag and the inference to
// postprocess handback. Inference does not start on the next item until
// postprocess has finished the previous one, so at most one item is ever
// being postprocessed and engine outputs are read before they are
// overwritten.
type Pipeline struct {
	model model.Model
	ring  *frame.Ring
	cfg   Config
	log   *zerolog.Logger

	pre  *Queue
	post *Queue

	running atomic.Bool
	wg      sync.WaitGroup

	mu        sync.Mutex
	cond      *sync.Cond
	handed    uint64
	completed uint64

	timing *stats.Timing

	preprocessed atomic.Uint64
	inferred     atomic.Uint64
	published    atomic.Uint64
	skipped      atomic.Uint64
	fps          atomic.Uint64 // float64 bits
}

// New returns a stopped pipeline.
func New(m model.Model, ring *frame.Ring, cfg Config) *Pipeline {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	p := &Pipeline{
		model:  m,
		ring:   ring,
		cfg:    cfg,
		log:    logger.WithComponent("pipeline"),
		pre:    NewQueue(cfg.QueueLimit),
		post:   NewQueue(cfg.QueueLimit),
		timing: stats.NewTiming(stats.DefaultWindow),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the three workers.
func (p *Pipeline) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(3)
	go p.preprocessWorker()
	go p.inferenceWorker()
	go p.postprocessWorker()
	p.log.Info().Int("queue_limit", p.cfg.QueueLimit).Ints("cpu_affinity", p.cfg.CPUAffinity).Msg("Pipeline started")
}

// Stop clears the running flag, wakes every wait and joins the workers.
func (p *Pipeline) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.ring.Close()
	p.pre.Close()
	p.post.Close()
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()

	if p.cfg.Timing {
		p.timing.Log(p.log)
	}
	p.log.Info().Uint64("published", p.published.Load()).Msg("Pipeline stopped")
}

// Run starts the pipeline and stops it when ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Start()
	<-ctx.Done()
	p.Stop()
	return nil
}

// Running reports whether the workers are active.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Counters returns a snapshot of the activity counters.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Preprocessed: p.preprocessed.Load(),
		Inferred:     p.inferred.Load(),
		Published:    p.published.Load(),
		Skipped:      p.skipped.Load(),
		Dropped:      p.pre.Dropped() + p.post.Dropped(),
		Lapped:       p.ring.Lapped(),
		FPS:          math.Float64frombits(p.fps.Load()),
	}
}

// Timing returns per-stage timing summaries.
func (p *Pipeline) Timing() []stats.Summary {
	return p.timing.Summaries()
}

func (p *Pipeline) pin(worker string) {
	if len(p.cfg.CPUAffinity) == 0 {
		return
	}
	runtime.LockOSThread()
	if err := setAffinity(p.cfg.CPUAffinity); err != nil {
		p.log.Warn().Err(err).Str("worker", worker).Msg("Failed to set CPU affinity")
	}
}

func (p *Pipeline) preprocessWorker() {
	defer p.wg.Done()
	p.pin("preprocess")

	cursor := p.ring.Inserted()
	var raw frame.RawFrame
	var seq uint64
	for p.running.Load() {
		if !p.ring.Available(cursor) {
			if !p.ring.Wait(cursor) {
				return
			}
			continue
		}
		next, ok := p.ring.Read(cursor, &raw)
		cursor = next
		if !ok {
			continue
		}

		start := time.Now()
		item, err := p.model.Preprocess(raw.Meta, raw.Pixels)
		if err != nil {
			p.skip("preprocess", err)
			continue
		}
		p.timing.Add("preprocess", time.Since(start))

		seq++
		item.Seq = seq
		p.preprocessed.Add(1)
		p.pre.Push(item)
	}
}

func (p *Pipeline) inferenceWorker() {
	defer p.wg.Done()

	for p.running.Load() {
		item, ok := p.pre.Pop()
		if !ok {
			return
		}

		start := time.Now()
		if err := p.model.RunInference(item); err != nil {
			p.skip("inference", err)
			continue
		}
		p.timing.Add("inference", time.Since(start))
		p.inferred.Add(1)

		p.mu.Lock()
		p.handed++
		p.mu.Unlock()

		p.post.Push(item)
		p.pre.Trim()
		p.post.Trim()

		p.mu.Lock()
		for p.running.Load() && p.completed+p.post.Dropped() < p.handed {
			p.cond.Wait()
		}
		p.mu.Unlock()
	}
}

func (p *Pipeline) postprocessWorker() {
	defer p.wg.Done()
	p.pin("postprocess")

	windowStart := time.Now()
	for p.running.Load() {
		item, ok := p.post.Pop()
		if !ok {
			return
		}

		start := time.Now()
		err := p.model.Worker(item)

		p.mu.Lock()
		p.completed++
		p.cond.Broadcast()
		p.mu.Unlock()

		if err != nil {
			p.skip("postprocess", err)
			continue
		}
		p.timing.Add("postprocess", time.Since(start))

		n := p.published.Add(1)
		if n%throughputEvery == 0 {
			elapsed := time.Since(windowStart)
			windowStart = time.Now()
			fps := float64(throughputEvery) / elapsed.Seconds()
			p.fps.Store(math.Float64bits(fps))
			p.log.Info().Float64("fps", fps).Uint64("frames", n).Msg("Throughput")
		}
		if p.cfg.Timing && n%timingEvery == 0 {
			p.timing.Log(p.log)
		}
	}
}

// skip counts a dropped frame. Expected skips are logged at debug level
// only since they can happen at frame rate.
func (p *Pipeline) skip(stage string, err error) {
	p.skipped.Add(1)
	ev := p.log.Debug()
	if !errors.Is(err, model.ErrNotReady) && !errors.Is(err, model.ErrUnsupportedFormat) && !errors.Is(err, model.ErrControlNotReady) {
		ev = p.log.Warn()
	}
	ev.Err(err).Str("stage", stage).Msg("Frame skipped")
}
