// Package model implements the per-model strategies the pipeline runs:
// preprocessing, inference, decoding and publishing of one frame.
package model

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/imgproc"
)

var (
	// ErrNotReady is returned by Preprocess for the first frame, which only
	// initializes the resizer.
	ErrNotReady = errors.New("model: not ready")
	// ErrUnsupportedFormat is returned by Preprocess for pixel formats that
	// cannot be converted.
	ErrUnsupportedFormat = imgproc.ErrUnsupportedFormat
	// ErrControlNotReady is returned by control-conditioned models until
	// the control history is filled.
	ErrControlNotReady = errors.New("model: control history not filled")
)

// Name identifies a model architecture.
type Name int

const (
	Placeholder Name = iota
	MobileNet
	FastDepth
	DeepLab
	EfficientNet
	PoseNet
	YOLOv5
	YOLOv8
	YOLOv11
	GateXYZ
	GateYaw
	GateBin
	Zeroshot
)

var nameStrings = map[Name]string{
	Placeholder:  "placeholder",
	MobileNet:    "mobilenet",
	FastDepth:    "fastdepth",
	DeepLab:      "deeplab",
	EfficientNet: "efficientnet",
	PoseNet:      "posenet",
	YOLOv5:       "yolov5",
	YOLOv8:       "yolov8",
	YOLOv11:      "yolov11",
	GateXYZ:      "gate_xyz",
	GateYaw:      "gate_yaw",
	GateBin:      "gate_bin",
	Zeroshot:     "zeroshot",
}

func (n Name) String() string {
	if s, ok := nameStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Name(%d)", int(n))
}

// ParseName maps a config value to a Name.
func ParseName(s string) (Name, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for n, str := range nameStrings {
		if str == s {
			return n, nil
		}
	}
	return Placeholder, fmt.Errorf("unknown model name %q", s)
}

// Category is the kind of output a model produces.
type Category int

const (
	ObjectDetection Category = iota
	MonoDepth
	Classification
	Segmentation
	Pose
)

var categoryStrings = map[Category]string{
	ObjectDetection: "object_detection",
	MonoDepth:       "mono_depth",
	Classification:  "classification",
	Segmentation:    "segmentation",
	Pose:            "pose",
}

func (c Category) String() string {
	if s, ok := categoryStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// ParseCategory maps a config value to a Category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, str := range categoryStrings {
		if str == s {
			return c, nil
		}
	}
	return ObjectDetection, fmt.Errorf("unknown model category %q", s)
}

// Normalization is how float32 inputs are scaled from 8-bit pixels.
type Normalization int

const (
	// NoNormalization passes pixel values through.
	NoNormalization Normalization = iota
	// PixelMean maps pixels to (p-127)/127.
	PixelMean
	// HardDivision maps pixels to p/255.
	HardDivision
)

func (n Normalization) String() string {
	switch n {
	case PixelMean:
		return "pixel_mean"
	case HardDivision:
		return "hard_division"
	default:
		return "none"
	}
}

// ParseNormalization maps a config value to a Normalization.
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return NoNormalization, nil
	case "pixel_mean":
		return PixelMean, nil
	case "hard_division":
		return HardDivision, nil
	}
	return NoNormalization, fmt.Errorf("unknown normalization %q", s)
}

// Item is one frame moving through the pipeline. Input is the image at
// model resolution; Output is the full-resolution image annotations are
// drawn on.
type Item struct {
	Seq           uint64
	Meta          frame.Metadata
	Input         *image.RGBA
	Output        *image.RGBA
	InferenceTime time.Duration
}

// Result is what Postprocess decoded from one frame. Any field may be
// empty.
type Result struct {
	Meta       frame.Metadata
	Image      *image.RGBA
	Detections []detection.Detection
	Record     *detection.Record
}

// Publisher receives decoded results.
type Publisher interface {
	PublishImage(meta frame.Metadata, img *image.RGBA) error
	PublishDetections(dets []detection.Detection) error
	PublishRecord(rec detection.Record) error
}

// Model is one model architecture bound to a loaded engine.
type Model interface {
	Name() Name
	Category() Category
	// Preprocess converts a camera frame into a pipeline item.
	Preprocess(meta frame.Metadata, pixels []byte) (*Item, error)
	// RunInference fills the engine inputs from item and invokes it.
	RunInference(item *Item) error
	// Postprocess decodes the engine outputs for item.
	Postprocess(item *Item) (*Result, error)
	// Worker postprocesses item and publishes the result.
	Worker(item *Item) error
	Close() error
}
