package control

import (
	"context"
	"errors"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
)

// Source delivers raw bytes from the control input channel. Message
// boundaries need not line up with records.
type Source interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Listen decodes control records from src into h until ctx is done or src
// fails. Partial records are carried over to the next message.
func Listen(ctx context.Context, src Source, h *History) error {
	log := logger.WithComponent("control")
	var pending []byte
	received := 0

	for {
		msg, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		pending = append(pending, msg...)

		for len(pending) >= detection.ControlSize {
			var c detection.Control
			if err := c.UnmarshalBinary(pending[:detection.ControlSize]); err != nil {
				return err
			}
			pending = pending[detection.ControlSize:]
			h.Push(c)
			received++
			if received == Depth {
				log.Info().Msg("Control history filled")
			}
			log.Debug().
				Float32("vx", c.VX).
				Float32("vy", c.VY).
				Float32("vz", c.VZ).
				Float32("yaw", c.Yaw).
				Uint64("timestamp_ns", c.Timestamp).
				Msg("Control command")
		}
		if len(pending) == 0 {
			pending = nil
		}
	}
}
