package model

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/annotate"
	"github.com/bryanchriswhite/tfliteserver/internal/control"
	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/imgproc"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/monotime"
	"github.com/rs/zerolog"
)

const (
	normalizationConst = 255.0
	pixelMeanGuess     = 127.0
)

// Options configures model construction.
type Options struct {
	Name          Name
	Category      Category
	Normalization Normalization

	ModelPath     string
	LabelsPath    string
	RequireLabels bool

	Delegate   engine.Delegate
	NumThreads int

	Debug  bool
	Timing bool

	// Camera is stamped into every detection.
	Camera string

	// Loader builds the engine. Required.
	Loader engine.Loader
	// Publisher receives results. Nil discards them.
	Publisher Publisher
	// Control feeds control-conditioned models.
	Control *control.History
}

// Base holds the state every model variant shares. It is immutable after
// construction except for the resizer, which only the preprocess worker
// touches, and the frame counter.
type Base struct {
	opts Options

	Engine     engine.Engine
	Labels     []string
	LabelCount int

	// Width and Height are the model input resolution.
	Width, Height int
	InputType     engine.TensorType

	Publisher Publisher
	Banner    *annotate.FPSBanner
	Overlay   *annotate.Stack

	log     *zerolog.Logger
	resizer *imgproc.Resizer
	frames  atomic.Int32
	now     func() int64
}

// NewBase loads the engine and labels and reads the input geometry.
func NewBase(opts Options, needsLabels bool) (*Base, error) {
	if opts.Loader == nil {
		return nil, errors.New("model: no engine loader")
	}

	b := &Base{
		opts:      opts,
		Publisher: opts.Publisher,
		Banner:    annotate.NewFPSBanner(),
		log:       logger.WithComponent("model"),
		now:       monotime.Now,
	}
	if b.Publisher == nil {
		b.Publisher = discard{}
	}
	b.Overlay = annotate.NewStack(b.Banner)

	if opts.LabelsPath != "" && (needsLabels || opts.RequireLabels) {
		labels, count, err := ReadLabels(opts.LabelsPath)
		if err != nil {
			if needsLabels {
				return nil, fmt.Errorf("failed to read labels: %w", err)
			}
			b.log.Warn().Err(err).Msg("Labels unavailable")
		} else {
			b.Labels, b.LabelCount = labels, count
		}
	} else if needsLabels {
		return nil, fmt.Errorf("model %s requires a labels file", opts.Name)
	}

	eng, err := opts.Loader(engine.Options{
		ModelPath:  opts.ModelPath,
		Delegate:   opts.Delegate,
		NumThreads: opts.NumThreads,
	})
	if err != nil {
		return nil, err
	}
	b.Engine = eng

	in := eng.Input(0)
	if in == nil {
		eng.Close()
		return nil, errors.New("model has no input tensor")
	}
	h, w, _, err := engine.Dims(in)
	if err != nil {
		eng.Close()
		return nil, err
	}
	b.Width, b.Height, b.InputType = w, h, in.Type()

	b.log.Info().
		Str("model", opts.Name.String()).
		Str("category", opts.Category.String()).
		Int("width", w).
		Int("height", h).
		Str("input_type", b.InputType.String()).
		Str("normalization", opts.Normalization.String()).
		Int("labels", b.LabelCount).
		Msg("Model ready")
	return b, nil
}

func (b *Base) Name() Name         { return b.opts.Name }
func (b *Base) Category() Category { return b.opts.Category }

// Close releases the engine.
func (b *Base) Close() error {
	if b.Engine == nil {
		return nil
	}
	return b.Engine.Close()
}

// Label returns the label for a class index, or "" when out of range.
func (b *Base) Label(i int) string {
	if i < 0 || i >= len(b.Labels) {
		return ""
	}
	return b.Labels[i]
}

// Debug reports whether per-frame diagnostics are enabled.
func (b *Base) Debug() bool { return b.opts.Debug }

// nextFrameID advances and returns the processed frame counter.
func (b *Base) nextFrameID() int32 {
	return b.frames.Add(1)
}

// DefaultPreprocess converts the frame to RGBA and resizes it to the model
// input. The first frame only builds the resizer and returns ErrNotReady.
func DefaultPreprocess(b *Base, meta frame.Metadata, pixels []byte) (*Item, error) {
	full, err := imgproc.ToRGBA(meta, pixels)
	if err != nil {
		return nil, err
	}
	w, h := full.Bounds().Dx(), full.Bounds().Dy()

	if !b.resizer.Matches(w, h) {
		first := b.resizer == nil
		b.resizer = imgproc.NewResizer(w, h, b.Width, b.Height)
		if first {
			return nil, ErrNotReady
		}
	}

	return &Item{
		Meta:   meta,
		Input:  b.resizer.Resize(full),
		Output: full,
	}, nil
}

// DefaultRunInference writes item.Input to the first input tensor and
// invokes the engine.
func DefaultRunInference(b *Base, item *Item) error {
	if err := FillInput(b.Engine.Input(0), item.Input, b.opts.Normalization); err != nil {
		return err
	}
	return b.invoke(item)
}

func (b *Base) invoke(item *Item) error {
	start := time.Now()
	if err := b.Engine.Invoke(); err != nil {
		return err
	}
	item.InferenceTime = time.Since(start)
	b.Banner.SetInference(item.InferenceTime)
	return nil
}

// FillInput copies the RGB channels of img into t. Float tensors are
// normalized; 8-bit tensors receive the raw bytes.
func FillInput(t engine.Tensor, img *image.RGBA, norm Normalization) error {
	if t == nil {
		return errors.New("missing input tensor")
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if n := engine.Elements(t); n != w*h*3 {
		return fmt.Errorf("input tensor holds %d elements, image has %d", n, w*h*3)
	}

	i := 0
	each := func(fn func(i int, p uint8)) {
		for y := 0; y < h; y++ {
			row := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			for x := 0; x < w; x++ {
				fn(i, row[4*x])
				fn(i+1, row[4*x+1])
				fn(i+2, row[4*x+2])
				i += 3
			}
		}
	}

	switch t.Type() {
	case engine.Float32:
		dst := t.Float32s()
		switch norm {
		case HardDivision:
			each(func(i int, p uint8) { dst[i] = float32(p) / normalizationConst })
		case PixelMean:
			each(func(i int, p uint8) { dst[i] = (float32(p) - pixelMeanGuess) / pixelMeanGuess })
		default:
			each(func(i int, p uint8) { dst[i] = float32(p) })
		}
	case engine.UInt8:
		dst := t.UInt8s()
		each(func(i int, p uint8) { dst[i] = p })
	case engine.Int8:
		dst := t.Int8s()
		each(func(i int, p uint8) { dst[i] = int8(p) })
	default:
		return fmt.Errorf("unsupported input tensor type %s", t.Type())
	}
	return nil
}

// publish sends every populated part of res.
func (b *Base) publish(res *Result) error {
	if res == nil {
		return nil
	}
	var errs []error
	if res.Image != nil {
		errs = append(errs, b.Publisher.PublishImage(res.Meta, res.Image))
	}
	if len(res.Detections) > 0 {
		errs = append(errs, b.Publisher.PublishDetections(res.Detections))
	}
	if res.Record != nil {
		errs = append(errs, b.Publisher.PublishRecord(*res.Record))
	}
	return errors.Join(errs...)
}

// imageResult wraps an annotated image with RGB metadata derived from meta.
func imageResult(meta frame.Metadata, img *image.RGBA) *Result {
	b := img.Bounds()
	return &Result{Meta: meta.AsRGB(b.Dx(), b.Dy()), Image: img}
}

type discard struct{}

func (discard) PublishImage(frame.Metadata, *image.RGBA) error { return nil }
func (discard) PublishDetections([]detection.Detection) error  { return nil }
func (discard) PublishRecord(detection.Record) error           { return nil }
