package model

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/bryanchriswhite/tfliteserver/internal/annotate"
	"github.com/bryanchriswhite/tfliteserver/internal/decode"
	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
)

// Depth publishes a false-color depth map at model resolution.
type Depth struct {
	*Base
}

func (d *Depth) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(d.Base, meta, pixels)
}

func (d *Depth) RunInference(item *Item) error {
	return DefaultRunInference(d.Base, item)
}

func (d *Depth) Postprocess(item *Item) (*Result, error) {
	out := d.Engine.Output(0)
	if out == nil || out.Type() != engine.Float32 {
		return nil, fmt.Errorf("depth model needs a float32 output")
	}
	shape := out.Shape()
	if len(shape) < 3 {
		return nil, fmt.Errorf("unexpected depth output shape %v", shape)
	}
	h, w := shape[1], shape[2]

	img := decode.ColorizeDepth(out.Float32s(), w, h)
	d.Overlay.Render(img)
	return imageResult(item.Meta, img), nil
}

func (d *Depth) Worker(item *Item) error {
	res, err := d.Postprocess(item)
	if err != nil {
		return err
	}
	return d.publish(res)
}

// legendBorder is the width of the legend strip appended to segmentation
// frames.
const legendBorder = 110

// Segmenter blends a class map over the model-resolution frame and appends
// a color legend.
type Segmenter struct {
	*Base
}

func (s *Segmenter) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(s.Base, meta, pixels)
}

func (s *Segmenter) RunInference(item *Item) error {
	return DefaultRunInference(s.Base, item)
}

func (s *Segmenter) classes() ([]int64, error) {
	out := s.Engine.Output(0)
	if out == nil {
		return nil, fmt.Errorf("segmentation model has no output")
	}
	switch out.Type() {
	case engine.Int64:
		return out.Int64s(), nil
	case engine.Int32:
		src := out.Int32s()
		dst := make([]int64, len(src))
		for i, v := range src {
			dst[i] = int64(v)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported segmentation output type %s", out.Type())
	}
}

func (s *Segmenter) Postprocess(item *Item) (*Result, error) {
	classes, err := s.classes()
	if err != nil {
		return nil, err
	}
	if len(classes) < s.Width*s.Height {
		return nil, fmt.Errorf("class map holds %d entries, want %d", len(classes), s.Width*s.Height)
	}

	base := image.NewRGBA(item.Input.Bounds())
	draw.Draw(base, base.Bounds(), item.Input, item.Input.Bounds().Min, draw.Src)
	decode.SegmentationOverlay(base, classes)

	img := annotate.ExtendRight(base, legendBorder, color.RGBA{A: 0xff})
	for i := 0; i < s.LabelCount; i++ {
		annotate.DrawText(img, s.Width+4, 16*(i+1), s.Labels[i], decode.SegmentationColor(int64(i)))
	}
	s.Overlay.Render(img)
	return imageResult(item.Meta, img), nil
}

func (s *Segmenter) Worker(item *Item) error {
	res, err := s.Postprocess(item)
	if err != nil {
		return err
	}
	return s.publish(res)
}

var (
	jointColor = color.RGBA{R: 255, G: 255, A: 0xff}
	boneColor  = color.RGBA{R: 200, G: 200, B: 200, A: 0xff}
)

const jointRadius = 4

// PoseEstimator draws a single-person skeleton.
type PoseEstimator struct {
	*Base
}

func (p *PoseEstimator) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(p.Base, meta, pixels)
}

func (p *PoseEstimator) RunInference(item *Item) error {
	return DefaultRunInference(p.Base, item)
}

func (p *PoseEstimator) Postprocess(item *Item) (*Result, error) {
	data, err := outputFloat32s(p.Engine, 0)
	if err != nil {
		return nil, err
	}
	if len(data) < decode.NumKeypoints*3 {
		return nil, fmt.Errorf("pose output holds %d values, want %d", len(data), decode.NumKeypoints*3)
	}
	b := item.Output.Bounds()
	kps := decode.Keypoints(data, b.Dx(), b.Dy())

	for _, line := range decode.Skeleton(kps, decode.KeypointThreshold) {
		annotate.Line(item.Output, line[0], line[1], boneColor, 2)
	}
	for _, kp := range decode.Visible(kps, decode.KeypointThreshold) {
		annotate.Circle(item.Output, kp.Point, jointRadius, jointColor)
	}
	p.Overlay.Render(item.Output)
	return imageResult(item.Meta, item.Output), nil
}

func (p *PoseEstimator) Worker(item *Item) error {
	res, err := p.Postprocess(item)
	if err != nil {
		return err
	}
	return p.publish(res)
}

var (
	_ Model = (*Depth)(nil)
	_ Model = (*Segmenter)(nil)
	_ Model = (*PoseEstimator)(nil)
)
