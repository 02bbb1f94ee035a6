package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
)

const v4l2Scheme = "v4l2://"

// Open picks a source for input:
//   - "ws://" or "wss://" URLs subscribe to a pipe served by another process;
//   - "v4l2:///dev/videoN" runs a gst-launch pipeline on the device;
//   - anything else names a channel on the local hub, fed by publishers
//     connecting to /pipes/<name>.
func Open(ctx context.Context, input string, hub *pipe.Hub, cam CameraOptions) (Source, error) {
	log := logger.WithComponent("capture")
	name := CameraName(input)
	if name == "" {
		return nil, fmt.Errorf("invalid input pipe %q", input)
	}

	switch {
	case strings.HasPrefix(input, "ws://"), strings.HasPrefix(input, "wss://"):
		remote, err := pipe.Dial(ctx, input, pipe.ModeSubscribe)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", input).Str("camera", name).Msg("Subscribed to remote pipe")
		return &remoteSource{Remote: remote, name: name}, nil

	case strings.HasPrefix(input, v4l2Scheme):
		device := strings.TrimPrefix(input, v4l2Scheme)
		src := NewGStreamerSource(device, cam)
		if err := src.Start(ctx); err != nil {
			return nil, err
		}
		return src, nil

	default:
		if hub == nil {
			return nil, fmt.Errorf("local pipe %q needs a hub", name)
		}
		sub, err := hub.Channel(name).Subscribe(pipe.DefaultBuffer)
		if err != nil {
			return nil, err
		}
		log.Info().Str("channel", name).Msg("Subscribed to local pipe")
		return &pipeSource{Subscriber: sub, name: name}, nil
	}
}

type pipeSource struct {
	*pipe.Subscriber
	name string
}

func (p *pipeSource) Name() string { return p.name }

type remoteSource struct {
	*pipe.Remote
	name string
}

func (r *remoteSource) Name() string { return r.name }
