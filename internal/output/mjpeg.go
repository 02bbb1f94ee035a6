package output

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultQuality is used when Config.Quality is out of range.
	DefaultQuality = 80

	boundary     = "frame"
	viewerBuffer = 2
)

var (
	errAlreadyRunning = errors.New("mjpeg: output already running")
	errNotRunning     = errors.New("mjpeg: output not running")
)

// ViewerStats describes one connected MJPEG viewer.
type ViewerStats struct {
	ID      string `json:"id"`
	Remote  string `json:"remote"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type viewer struct {
	id     uuid.UUID
	remote string
	frames chan []byte

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// MJPEGOutput serves annotated frames as multipart/x-mixed-replace JPEG
// streams. Each viewer has a small buffer; a viewer that falls behind loses
// frames rather than slowing the publisher.
type MJPEGOutput struct {
	config  Config
	running atomic.Bool
	log     *zerolog.Logger

	mu      sync.RWMutex
	viewers map[uuid.UUID]*viewer

	encoded atomic.Uint64
}

// NewMJPEGOutput creates a stopped output.
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality < 1 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		log:     logger.WithComponent("mjpeg"),
		viewers: make(map[uuid.UUID]*viewer),
	}
}

// Start enables encoding. The HTTP handler is mounted separately.
func (m *MJPEGOutput) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	m.encoded.Store(0)
	m.log.Info().Int("quality", m.config.Quality).Msg("MJPEG output started")
	return nil
}

// Stop disconnects every viewer.
func (m *MJPEGOutput) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	m.mu.Lock()
	for id, v := range m.viewers {
		close(v.frames)
		delete(m.viewers, id)
	}
	m.mu.Unlock()

	m.log.Info().Uint64("frames", m.encoded.Load()).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes frame once and offers it to every viewer. Nothing is
// encoded while no viewer is connected.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.running.Load() {
		return errNotRunning
	}
	if m.ClientCount() == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return err
	}
	data := buf.Bytes()
	m.encoded.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.viewers {
		select {
		case v.frames <- data:
		default:
			v.dropped.Add(1)
		}
	}
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "mjpeg"
}

// IsRunning reports whether Start has been called without Stop.
func (m *MJPEGOutput) IsRunning() bool {
	return m.running.Load()
}

// ClientCount returns the number of connected viewers.
func (m *MJPEGOutput) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.viewers)
}

// FrameCount returns the number of frames encoded since Start.
func (m *MJPEGOutput) FrameCount() uint64 {
	return m.encoded.Load()
}

// Viewers returns per-viewer delivery counts.
func (m *MJPEGOutput) Viewers() []ViewerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ViewerStats, 0, len(m.viewers))
	for _, v := range m.viewers {
		out = append(out, ViewerStats{
			ID:      v.id.String(),
			Remote:  v.remote,
			Sent:    v.sent.Load(),
			Dropped: v.dropped.Load(),
		})
	}
	return out
}

func (m *MJPEGOutput) attach(remote string) (*viewer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running.Load() {
		return nil, false
	}
	v := &viewer{id: uuid.New(), remote: remote, frames: make(chan []byte, viewerBuffer)}
	m.viewers[v.id] = v
	return v, true
}

func (m *MJPEGOutput) detach(v *viewer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.viewers[v.id]; ok {
		delete(m.viewers, v.id)
		close(v.frames)
	}
}

// GetHTTPHandler returns the stream handler, usually mounted at /stream.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := m.attach(r.RemoteAddr)
		if !ok {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}
		defer m.detach(v)
		log := m.log.With().Str("viewer", v.id.String()).Str("remote", v.remote).Logger()
		log.Info().Int("viewers", m.ClientCount()).Msg("MJPEG viewer connected")
		defer func() {
			log.Info().Uint64("sent", v.sent.Load()).Uint64("dropped", v.dropped.Load()).Msg("MJPEG viewer disconnected")
		}()

		mw := multipart.NewWriter(w)
		mw.SetBoundary(boundary)

		h := w.Header()
		h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("Connection", "close")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-v.frames:
				if !ok {
					return
				}
				part, err := mw.CreatePart(textproto.MIMEHeader{
					"Content-Type":   {"image/jpeg"},
					"Content-Length": {strconv.Itoa(len(data))},
				})
				if err != nil {
					return
				}
				if _, err := part.Write(data); err != nil {
					return
				}
				v.sent.Add(1)
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}

// GetViewerHandler serves a page showing the stream and live counters.
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>tfliteserver</title>
<style>
body { margin: 0; background: #111; color: #ddd; font: 13px monospace; }
img { display: block; width: 100vw; height: calc(100vh - 24px); object-fit: contain; }
#status { height: 24px; line-height: 24px; padding: 0 8px; }
</style>
</head>
<body>
<img src="/stream" alt="tfliteserver annotated stream">
<div id="status">connecting</div>
<script>
async function poll() {
  try {
    const s = await (await fetch("/api/stats")).json();
    document.getElementById("status").textContent =
      s.model + "  fps " + s.pipeline.fps.toFixed(1) +
      "  published " + s.pipeline.published +
      "  skipped " + s.pipeline.skipped + "  up " + s.uptime;
  } catch (e) {
    document.getElementById("status").textContent = "stats unavailable";
  }
}
setInterval(poll, 1000);
poll();
</script>
</body>
</html>`
