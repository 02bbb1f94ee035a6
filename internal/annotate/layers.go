package annotate

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
)

// Layer is something drawn on top of every annotated frame.
type Layer interface {
	// Name identifies the layer within a Stack.
	Name() string
	// Render draws the layer onto img.
	Render(img *image.RGBA)
}

// Stack renders layers in insertion order.
type Stack struct {
	mu      sync.RWMutex
	layers  []Layer
	enabled bool
}

// NewStack returns an enabled stack holding layers.
func NewStack(layers ...Layer) *Stack {
	s := &Stack{enabled: true}
	for _, l := range layers {
		if err := s.Add(l); err != nil {
			logger.WithComponent("annotate").Warn().Err(err).Msg("Skipping layer")
		}
	}
	return s
}

// Add appends a layer. Names must be unique.
func (s *Stack) Add(l Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.layers {
		if existing.Name() == l.Name() {
			return fmt.Errorf("layer %s already exists", l.Name())
		}
	}
	s.layers = append(s.layers, l)
	return nil
}

// Remove drops the named layer.
func (s *Stack) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.layers {
		if l.Name() == name {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("layer %s not found", name)
}

// Names lists the layers in render order.
func (s *Stack) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.layers))
	for i, l := range s.layers {
		names[i] = l.Name()
	}
	return names
}

// SetEnabled turns rendering of the whole stack on or off.
func (s *Stack) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Render draws every layer onto img.
func (s *Stack) Render(img *image.RGBA) {
	s.mu.RLock()
	if !s.enabled {
		s.mu.RUnlock()
		return
	}
	layers := append([]Layer(nil), s.layers...)
	s.mu.RUnlock()

	for _, l := range layers {
		l.Render(img)
	}
}

var (
	bannerText = color.RGBA{A: 0xff}
	bannerBack = color.RGBA{R: 180, G: 180, B: 180, A: 0xff}
)

// FPSBanner shows the frame rate between renders and the last inference
// time in the top-left corner.
type FPSBanner struct {
	mu        sync.Mutex
	last      time.Time
	inference time.Duration
	now       func() time.Time
}

// NewFPSBanner returns a banner using the wall clock.
func NewFPSBanner() *FPSBanner {
	return &FPSBanner{now: time.Now}
}

func (b *FPSBanner) Name() string { return "fps" }

// SetInference records the inference time shown on the next render.
func (b *FPSBanner) SetInference(d time.Duration) {
	b.mu.Lock()
	b.inference = d
	b.mu.Unlock()
}

// Text advances the frame clock and returns the banner text.
func (b *FPSBanner) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	var fps float64
	if !b.last.IsZero() {
		if dt := now.Sub(b.last); dt > 0 {
			fps = float64(time.Second) / float64(dt)
		}
	}
	b.last = now
	return fmt.Sprintf("FPS: %.1f, Inference: %.1f [ms]", fps, float64(b.inference)/float64(time.Millisecond))
}

func (b *FPSBanner) Render(img *image.RGBA) {
	back := bannerBack
	Label{Text: b.Text(), Color: bannerText, Background: &back, Padding: 2}.Render(img)
}
