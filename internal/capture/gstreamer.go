package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/monotime"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
	"github.com/rs/zerolog"
)

// GStreamerSource reads NV12 frames from a V4L2 device through a
// gst-launch-1.0 subprocess writing raw video to stdout.
type GStreamerSource struct {
	device string
	cam    CameraOptions
	log    *zerolog.Logger

	cmd    *exec.Cmd
	frames chan []byte
	done   chan struct{}

	pending atomic.Int64
	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	readErr error
}

// NewGStreamerSource returns a stopped source for device.
func NewGStreamerSource(device string, cam CameraOptions) *GStreamerSource {
	if cam.Width <= 0 || cam.Height <= 0 {
		cam.Width, cam.Height = 640, 480
	}
	if cam.FPS <= 0 {
		cam.FPS = 30
	}
	return &GStreamerSource{
		device: device,
		cam:    cam,
		log:    logger.WithComponent("gstreamer"),
		frames: make(chan []byte, 2),
		done:   make(chan struct{}),
	}
}

// Name returns the device name.
func (g *GStreamerSource) Name() string {
	return CameraName(g.device)
}

// Pipeline returns the gst-launch pipeline description.
func (g *GStreamerSource) Pipeline() string {
	return fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"video/x-raw,format=NV12,width=%d,height=%d,framerate=%d/1 ! "+
			"fdsink fd=1 sync=false",
		g.device, g.cam.Width, g.cam.Height, g.cam.FPS,
	)
}

// Start launches the subprocess.
func (g *GStreamerSource) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return errors.New("gstreamer source already running")
	}

	pipeline := g.Pipeline()
	g.log.Debug().Str("pipeline", pipeline).Msg("Starting GStreamer subprocess")
	g.cmd = exec.CommandContext(ctx, "sh", "-c", "gst-launch-1.0 -q "+pipeline)

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}
	g.running = true

	go g.readFrames(stdout)
	go g.logStderr(stderr)

	g.log.Info().
		Str("device", g.device).
		Int("width", g.cam.Width).
		Int("height", g.cam.Height).
		Int("pid", g.cmd.Process.Pid).
		Msg("GStreamer subprocess started")
	return nil
}

// readFrames splits the raw NV12 stream into encoded camera messages. When
// the consumer falls behind the newest frame is dropped.
func (g *GStreamerSource) readFrames(r io.Reader) {
	defer close(g.done)

	w, h := g.cam.Width, g.cam.Height
	size := w * h * 3 / 2
	reader := bufio.NewReaderSize(r, size*2)
	buf := make([]byte, size)
	var frameID int32

	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				g.mu.Lock()
				g.readErr = err
				g.mu.Unlock()
			}
			g.log.Debug().Err(err).Msg("GStreamer stream ended")
			return
		}
		meta := frame.Metadata{
			Timestamp: monotime.Now(),
			FrameID:   frameID,
			Width:     w,
			Height:    h,
			Stride:    w,
			Format:    frame.FormatNV12,
			Framerate: int16(g.cam.FPS),
		}
		frameID++

		msg := frame.EncodeCameraFrame(meta, buf)
		select {
		case g.frames <- msg:
			g.pending.Add(int64(len(msg)))
		default:
			g.dropped.Add(1)
		}
	}
}

func (g *GStreamerSource) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			g.log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			g.log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Recv returns the next frame message.
func (g *GStreamerSource) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-g.frames:
		g.pending.Add(-int64(len(msg)))
		return msg, nil
	default:
	}
	select {
	case msg := <-g.frames:
		g.pending.Add(-int64(len(msg)))
		return msg, nil
	case <-g.done:
		select {
		case msg := <-g.frames:
			g.pending.Add(-int64(len(msg)))
			return msg, nil
		default:
		}
		g.mu.Lock()
		err := g.readErr
		g.mu.Unlock()
		if err == nil {
			err = pipe.ErrClosed
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BytesPending returns the size of frames read but not yet received.
func (g *GStreamerSource) BytesPending() int64 {
	return g.pending.Load()
}

// Dropped returns how many frames were discarded because Recv fell behind.
func (g *GStreamerSource) Dropped() uint64 {
	return g.dropped.Load()
}

// Close kills the subprocess.
func (g *GStreamerSource) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}
	if g.cmd != nil && g.cmd.Process != nil {
		g.log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		g.cmd.Process.Kill()
		g.cmd.Wait()
	}
	g.running = false
	g.log.Info().Uint64("dropped", g.dropped.Load()).Msg("GStreamer subprocess stopped")
	return nil
}

// ProbeCaps runs a one-buffer pipeline on device and returns the frame size
// it negotiates.
func ProbeCaps(ctx context.Context, device string) (width, height int, err error) {
	pipeline := fmt.Sprintf("v4l2src device=%s num-buffers=1 ! fakesink", device)
	out, runErr := exec.CommandContext(ctx, "sh", "-c", "gst-launch-1.0 -v "+pipeline).CombinedOutput()
	width, height = parseCaps(string(out))
	if width > 0 && height > 0 {
		return width, height, nil
	}
	if runErr != nil {
		return 0, 0, fmt.Errorf("failed to probe %s: %w", device, runErr)
	}
	return 0, 0, fmt.Errorf("could not determine frame size of %s", device)
}

// parseCaps finds the first video/x-raw caps line carrying a size.
func parseCaps(output string) (width, height int) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "video/x-raw") || !strings.Contains(line, "width=") {
			continue
		}
		w, h := capsInt(line, "width"), capsInt(line, "height")
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return 0, 0
}

// capsInt extracts key=(int)N or key=N from a caps string.
func capsInt(caps, key string) int {
	for _, pattern := range []string{key + "=(int)", key + "="} {
		idx := strings.Index(caps, pattern)
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		end := start
		for end < len(caps) && caps[end] >= '0' && caps[end] <= '9' {
			end++
		}
		if end > start {
			if v, err := strconv.Atoi(caps[start:end]); err == nil {
				return v
			}
		}
	}
	return 0
}
