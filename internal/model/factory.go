package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// New builds the model variant for opts.Name and opts.Category. An
// unsupported combination is an error; nothing is loaded in that case.
func New(opts Options) (Model, error) {
	build, needsLabels, err := variant(opts)
	if err != nil {
		return nil, err
	}
	b, err := NewBase(opts, needsLabels)
	if err != nil {
		return nil, err
	}
	return build(b), nil
}

func variant(opts Options) (build func(*Base) Model, needsLabels bool, err error) {
	unsupported := func() (func(*Base) Model, bool, error) {
		return nil, false, fmt.Errorf("unsupported category %s for model %s", opts.Category, opts.Name)
	}

	switch opts.Name {
	case PoseNet:
		if opts.Category != Pose {
			return unsupported()
		}
		return func(b *Base) Model { return &PoseEstimator{Base: b} }, false, nil

	case YOLOv5:
		if opts.Category != ObjectDetection {
			return unsupported()
		}
		return func(b *Base) Model { return newDetector(b, kindYOLOv5) }, true, nil

	case YOLOv8, YOLOv11:
		if opts.Category != ObjectDetection {
			return unsupported()
		}
		return func(b *Base) Model { return newDetector(b, kindYOLOv8) }, true, nil

	case MobileNet, Placeholder:
		switch opts.Category {
		case ObjectDetection:
			return func(b *Base) Model { return newDetector(b, kindSSD) }, true, nil
		case Classification:
			return func(b *Base) Model { return newClassifier(b, 1) }, true, nil
		}
		return unsupported()

	case FastDepth:
		if opts.Category != MonoDepth {
			return unsupported()
		}
		return func(b *Base) Model { return &Depth{Base: b} }, false, nil

	case DeepLab:
		if opts.Category != Segmentation {
			return unsupported()
		}
		return func(b *Base) Model { return &Segmenter{Base: b} }, true, nil

	case EfficientNet:
		if opts.Category != Classification {
			return unsupported()
		}
		return func(b *Base) Model { return newClassifier(b, 0) }, true, nil

	case GateXYZ:
		return func(b *Base) Model { return newGate(b, 3) }, false, nil
	case GateYaw, GateBin:
		return func(b *Base) Model { return newGate(b, 1) }, false, nil

	case Zeroshot:
		return func(b *Base) Model { return newZeroshot(b, opts.Control) }, false, nil
	}
	return unsupported()
}

// Profile is what a model file name implies about the architecture.
type Profile struct {
	Name          Name
	Category      Category
	Normalization Normalization
	// Known is false when no rule matched and the placeholder profile was
	// returned.
	Known bool
}

var profiles = []struct {
	match   string
	profile Profile
}{
	{"ssdlite_mobilenet", Profile{MobileNet, ObjectDetection, PixelMean, true}},
	{"mobilenetv1_nnapi_quant", Profile{MobileNet, ObjectDetection, PixelMean, true}},
	{"mobilenetv1_nnapi_classifier", Profile{MobileNet, Classification, PixelMean, true}},
	{"fastdepth", Profile{FastDepth, MonoDepth, HardDivision, true}},
	{"deeplab", Profile{DeepLab, Segmentation, NoNormalization, true}},
	{"efficientnet", Profile{EfficientNet, Classification, PixelMean, true}},
	{"movenet", Profile{PoseNet, Pose, NoNormalization, true}},
	{"yolov5", Profile{YOLOv5, ObjectDetection, HardDivision, true}},
	{"yolov8", Profile{YOLOv8, ObjectDetection, HardDivision, true}},
	{"yolov11", Profile{YOLOv11, ObjectDetection, HardDivision, true}},
	{"gate_xyz", Profile{GateXYZ, ObjectDetection, NoNormalization, true}},
	{"gate_yaw", Profile{GateYaw, ObjectDetection, NoNormalization, true}},
	{"gate_bin", Profile{GateBin, ObjectDetection, NoNormalization, true}},
	{"zeroshot", Profile{Zeroshot, ObjectDetection, NoNormalization, true}},
}

// Resolve derives the model profile from its file name.
func Resolve(modelPath string) Profile {
	base := strings.ToLower(filepath.Base(modelPath))
	for _, p := range profiles {
		if strings.Contains(base, p.match) {
			return p.profile
		}
	}
	return Profile{Name: Placeholder, Category: ObjectDetection}
}
