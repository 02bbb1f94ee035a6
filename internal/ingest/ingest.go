// Package ingest decides which camera frames reach the frame ring.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/rs/zerolog"
)

// Outcome is what happened to one frame.
type Outcome int

const (
	Accepted Outcome = iota
	SkippedNth
	Backlogged
	NoSubscribers
	Oversize
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case SkippedNth:
		return "skipped_nth"
	case Backlogged:
		return "backlogged"
	case NoSubscribers:
		return "no_subscribers"
	case Oversize:
		return "oversize"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// Demand reports whether anyone consumes the server outputs.
type Demand interface {
	HasSubscribers() bool
}

// Source delivers encoded camera frame messages.
type Source interface {
	Recv(ctx context.Context) ([]byte, error)
	// BytesPending is the size of messages received but not yet consumed.
	BytesPending() int64
}

// Policy configures an Ingestor.
type Policy struct {
	// SkipN drops N frames after every accepted one.
	SkipN int
	// AlwaysCompute disables the no-subscriber short-circuit, as debug and
	// timing modes do.
	AlwaysCompute bool
	MaxFrameSize  int
}

// Counters is a snapshot of ingest outcomes.
type Counters struct {
	Received      uint64 `json:"received"`
	Accepted      uint64 `json:"accepted"`
	SkippedNth    uint64 `json:"skipped_nth"`
	Backlogged    uint64 `json:"backlogged"`
	NoSubscribers uint64 `json:"no_subscribers"`
	Oversize      uint64 `json:"oversize"`
	Malformed     uint64 `json:"malformed"`
}

// Ingestor applies the frame admission policy and pushes admitted frames
// into the ring. Handle must be called from a single goroutine.
type Ingestor struct {
	ring   *frame.Ring
	policy Policy
	demand Demand
	log    *zerolog.Logger

	nSkipped int

	counts [Malformed + 1]atomic.Uint64
}

// New returns an Ingestor feeding ring. A nil demand means outputs always
// have consumers.
func New(ring *frame.Ring, policy Policy, demand Demand) *Ingestor {
	if policy.MaxFrameSize <= 0 {
		policy.MaxFrameSize = frame.MaxFrameSize
	}
	return &Ingestor{
		ring:   ring,
		policy: policy,
		demand: demand,
		log:    logger.WithComponent("ingest"),
	}
}

// Handle admits or drops one frame. pending is the transport backlog at
// the time the frame was received.
func (in *Ingestor) Handle(meta frame.Metadata, pixels []byte, pending int64) Outcome {
	out := in.decide(meta, pending)
	in.counts[out].Add(1)
	if out == Accepted {
		in.ring.Push(meta, pixels)
	}
	return out
}

func (in *Ingestor) decide(meta frame.Metadata, pending int64) Outcome {
	if in.nSkipped < in.policy.SkipN {
		in.nSkipped++
		return SkippedNth
	}
	in.nSkipped = 0

	if pending > 0 {
		in.nSkipped++
		in.log.Debug().Int64("pending_bytes", pending).Msg("Skipping frame due to backlog")
		return Backlogged
	}
	if !in.policy.AlwaysCompute && in.demand != nil && !in.demand.HasSubscribers() {
		return NoSubscribers
	}
	if meta.SizeBytes > in.policy.MaxFrameSize {
		in.log.Warn().Int("size_bytes", meta.SizeBytes).Msg("Frame too large to process")
		return Oversize
	}
	return Accepted
}

// Run reads frames from src until ctx is done or src fails.
func (in *Ingestor) Run(ctx context.Context, src Source) error {
	for {
		msg, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		meta, pixels, err := frame.DecodeCameraFrame(msg)
		if err != nil {
			in.counts[Malformed].Add(1)
			in.log.Debug().Err(err).Int("bytes", len(msg)).Msg("Dropping malformed frame")
			continue
		}
		in.Handle(meta, pixels, src.BytesPending())
	}
}

// Counters returns a snapshot of the outcome counters.
func (in *Ingestor) Counters() Counters {
	c := Counters{
		Accepted:      in.counts[Accepted].Load(),
		SkippedNth:    in.counts[SkippedNth].Load(),
		Backlogged:    in.counts[Backlogged].Load(),
		NoSubscribers: in.counts[NoSubscribers].Load(),
		Oversize:      in.counts[Oversize].Load(),
		Malformed:     in.counts[Malformed].Load(),
	}
	c.Received = c.Accepted + c.SkippedNth + c.Backlogged + c.NoSubscribers + c.Oversize + c.Malformed
	return c
}
