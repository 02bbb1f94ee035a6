package model

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/bryanchriswhite/tfliteserver/internal/annotate"
	"github.com/bryanchriswhite/tfliteserver/internal/decode"
	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
)

type detectorKind int

const (
	kindSSD detectorKind = iota
	kindYOLOv5
	kindYOLOv8
)

const boxThickness = 2

var boxLabelColor = color.RGBA{A: 0xff}

// Detector draws and publishes bounding boxes. One type covers the
// single-shot, anchor-grid and transposed decoders.
type Detector struct {
	*Base
	kind detectorKind
}

func newDetector(b *Base, kind detectorKind) *Detector {
	return &Detector{Base: b, kind: kind}
}

func (d *Detector) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(d.Base, meta, pixels)
}

func (d *Detector) RunInference(item *Item) error {
	return DefaultRunInference(d.Base, item)
}

func (d *Detector) Postprocess(item *Item) (*Result, error) {
	fw, fh := item.Output.Bounds().Dx(), item.Output.Bounds().Dy()

	boxes, err := d.decode(fw, fh)
	if err != nil {
		return nil, err
	}

	frameID := d.nextFrameID()
	dets := make([]detection.Detection, 0, len(boxes))
	for _, box := range boxes {
		label := d.Label(box.ClassID)
		name := label
		if d.kind != kindYOLOv5 {
			name = cleanLabel(label)
		}

		annotate.StrokeRect(item.Output, image.Rect(box.X, box.Y, box.XMax(), box.YMax()), annotate.ColorForID(box.ClassID), boxThickness)
		textY := box.Y
		if d.kind == kindSSD {
			textY -= 10
		}
		annotate.DrawText(item.Output, box.X, textY, label, boxLabelColor)

		if d.Debug() {
			d.log.Debug().Str("class", name).Float32("confidence", box.ClassConf).Msg("Detected")
		}

		det := detection.New()
		det.Timestamp = d.now()
		det.ClassID = uint32(box.ClassID)
		det.FrameID = frameID
		det.ClassName = name
		det.Camera = d.opts.Camera
		det.ClassConfidence = box.ClassConf
		det.DetectionConfidence = box.DetConf
		det.XMin = float32(box.X)
		det.YMin = float32(box.Y)
		det.XMax = float32(box.XMax())
		det.YMax = float32(box.YMax())
		dets = append(dets, det)
	}

	d.Overlay.Render(item.Output)

	res := imageResult(item.Meta, item.Output)
	res.Detections = dets
	return res, nil
}

func (d *Detector) decode(fw, fh int) ([]decode.Box, error) {
	switch d.kind {
	case kindSSD:
		if d.Engine.OutputCount() < 4 {
			return nil, fmt.Errorf("single-shot detector needs 4 outputs, model has %d", d.Engine.OutputCount())
		}
		locations := d.Engine.Output(0).Float32s()
		classes := d.Engine.Output(1).Float32s()
		scores := d.Engine.Output(2).Float32s()
		count := d.Engine.Output(3).Float32s()
		if len(count) == 0 {
			return nil, errors.New("empty detection count tensor")
		}
		return decode.SSD(locations, classes, scores, int(count[0]), fw, fh, decode.SSDScoreThreshold), nil

	case kindYOLOv5:
		out := d.Engine.Output(0)
		shape := out.Shape()
		if len(shape) != 3 || shape[2] <= 5 {
			return nil, fmt.Errorf("unexpected YOLOv5 output shape %v", shape)
		}
		return decode.YOLOv5(out.Float32s(), d.Width, d.Height, shape[2]-5, fw, fh, decode.DefaultYOLOv5Params), nil

	default:
		out := d.Engine.Output(0)
		shape := out.Shape()
		if len(shape) != 3 {
			return nil, fmt.Errorf("unexpected YOLOv8 output shape %v", shape)
		}
		return decode.YOLOv8(out.Float32s(), shape[1], shape[2], d.LabelCount, fw, fh, decode.DefaultYOLOv8Params), nil
	}
}

func (d *Detector) Worker(item *Item) error {
	res, err := d.Postprocess(item)
	if err != nil {
		return err
	}
	return d.publish(res)
}

var _ Model = (*Detector)(nil)

// outputFloat32s returns output i as float32, widening 8-bit tensors.
func outputFloat32s(e engine.Engine, i int) ([]float32, error) {
	out := e.Output(i)
	if out == nil {
		return nil, fmt.Errorf("model has no output %d", i)
	}
	switch out.Type() {
	case engine.Float32:
		return out.Float32s(), nil
	case engine.UInt8:
		return decode.Uint8Scores(out.UInt8s()), nil
	default:
		return nil, fmt.Errorf("unsupported output type %s", out.Type())
	}
}
