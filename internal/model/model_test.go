package model

import (
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bryanchriswhite/tfliteserver/internal/control"
	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/engine/enginetest"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu         sync.Mutex
	images     []frame.Metadata
	detections [][]detection.Detection
	records    []detection.Record
}

func (r *recorder) PublishImage(meta frame.Metadata, _ *image.RGBA) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, meta)
	return nil
}

func (r *recorder) PublishDetections(dets []detection.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections = append(r.detections, dets)
	return nil
}

func (r *recorder) PublishRecord(rec detection.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func loaderFor(e *enginetest.Engine) engine.Loader {
	return func(engine.Options) (engine.Engine, error) { return e, nil }
}

func rgbFrame(w, h int, ts int64) (frame.Metadata, []byte) {
	pixels := make([]byte, w*h*3)
	for i := range pixels {
		pixels[i] = uint8(i)
	}
	return frame.Metadata{Timestamp: ts, Width: w, Height: h, Format: frame.FormatRGB, SizeBytes: len(pixels)}, pixels
}

func writeLabels(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

// ready runs the throwaway first frame and returns the item for the second.
func ready(t *testing.T, m Model, w, h int) *Item {
	t.Helper()
	meta, pixels := rgbFrame(w, h, 1000)
	_, err := m.Preprocess(meta, pixels)
	require.ErrorIs(t, err, ErrNotReady)
	item, err := m.Preprocess(meta, pixels)
	require.NoError(t, err)
	return item
}

func TestFirstFrameDropped(t *testing.T) {
	e := enginetest.New(
		[]*enginetest.Tensor{enginetest.ImageInput(engine.Float32, 4, 4, 3)},
		[]*enginetest.Tensor{enginetest.NewTensor("out", engine.Float32, 1, 3)},
	)
	m, err := New(Options{Name: GateXYZ, Loader: loaderFor(e)})
	require.NoError(t, err)

	meta, pixels := rgbFrame(8, 6, 1)
	_, err = m.Preprocess(meta, pixels)
	assert.ErrorIs(t, err, ErrNotReady)

	for i := 0; i < 3; i++ {
		item, err := m.Preprocess(meta, pixels)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 4), item.Input.Bounds())
		assert.Equal(t, image.Rect(0, 0, 8, 6), item.Output.Bounds())
	}
}

func TestPreprocessRejectsUnsupportedFormat(t *testing.T) {
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.UInt8, 2, 2, 3)}, nil)
	m, err := New(Options{Name: GateYaw, Loader: loaderFor(e)})
	require.NoError(t, err)

	_, err = m.Preprocess(frame.Metadata{Width: 2, Height: 2, Format: frame.FormatH264}, make([]byte, 64))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFillInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	copy(img.Pix, []byte{0, 127, 255, 255})

	tests := []struct {
		norm Normalization
		want []float32
	}{
		{NoNormalization, []float32{0, 127, 255}},
		{HardDivision, []float32{0, 127.0 / 255, 1}},
		{PixelMean, []float32{-1, 0, 128.0 / 127}},
	}
	for _, tt := range tests {
		t.Run(tt.norm.String(), func(t *testing.T) {
			in := enginetest.ImageInput(engine.Float32, 1, 1, 3)
			require.NoError(t, FillInput(in, img, tt.norm))
			assert.InDeltaSlice(t, tt.want, in.Float32s(), 1e-6)
		})
	}

	u8 := enginetest.ImageInput(engine.UInt8, 1, 1, 3)
	require.NoError(t, FillInput(u8, img, PixelMean))
	assert.Equal(t, []uint8{0, 127, 255}, u8.UInt8s())

	i8 := enginetest.ImageInput(engine.Int8, 1, 1, 3)
	require.NoError(t, FillInput(i8, img, NoNormalization))
	assert.Equal(t, []int8{0, 127, -1}, i8.Int8s())

	assert.Error(t, FillInput(enginetest.ImageInput(engine.Float32, 2, 2, 3), img, NoNormalization))
	assert.Error(t, FillInput(enginetest.ImageInput(engine.Int32, 1, 1, 3), img, NoNormalization))
}

func TestRunInferenceFailureIsReported(t *testing.T) {
	e := enginetest.New(
		[]*enginetest.Tensor{enginetest.ImageInput(engine.UInt8, 2, 2, 3)},
		[]*enginetest.Tensor{enginetest.NewTensor("out", engine.Float32, 1, 1)},
	)
	m, err := New(Options{Name: GateBin, Loader: loaderFor(e)})
	require.NoError(t, err)
	item := ready(t, m, 4, 4)

	e.Fail = true
	assert.ErrorIs(t, m.RunInference(item), enginetest.ErrInvoke)
}

func TestGatePublishesRecord(t *testing.T) {
	out := enginetest.NewTensor("out", engine.Float32, 1, 3)
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.Float32, 2, 2, 3)}, []*enginetest.Tensor{out})
	e.OnInvoke = func(_, outputs []*enginetest.Tensor) {
		copy(outputs[0].Float32s(), []float32{1.5, -2, 3})
	}
	pub := &recorder{}
	m, err := New(Options{Name: GateXYZ, Loader: loaderFor(e), Publisher: pub})
	require.NoError(t, err)

	item := ready(t, m, 4, 4)
	require.NoError(t, m.RunInference(item))
	require.NoError(t, m.Worker(item))

	require.Len(t, pub.records, 1)
	assert.Equal(t, []float32{1.5, -2, 3}, pub.records[0].Values)
	assert.Equal(t, uint64(1000), pub.records[0].Timestamp)
	assert.Empty(t, pub.images)
}

func TestZeroshotPublishGating(t *testing.T) {
	ctrl := enginetest.NewTensor("control", engine.Float32, 1, control.Depth*control.Width)
	e := enginetest.New(
		[]*enginetest.Tensor{enginetest.ImageInput(engine.Float32, 2, 2, 3), ctrl},
		[]*enginetest.Tensor{enginetest.NewTensor("out", engine.Float32, 1, 4)},
	)
	e.OnInvoke = func(inputs, outputs []*enginetest.Tensor) {
		// echo the newest command back
		copy(outputs[0].Float32s(), inputs[1].Float32s()[16:20])
	}
	history := control.NewHistory()
	pub := &recorder{}
	m, err := New(Options{Name: Zeroshot, Loader: loaderFor(e), Publisher: pub, Control: history})
	require.NoError(t, err)
	item := ready(t, m, 4, 4)

	assert.ErrorIs(t, m.RunInference(item), ErrControlNotReady)
	require.NoError(t, m.Worker(item))
	assert.Empty(t, pub.records)
	assert.Zero(t, e.Invocations())

	for i := 1; i <= control.Depth; i++ {
		history.Push(detection.Control{VX: float32(i), VY: 0.5, VZ: -0.5, Yaw: 0.25})
	}
	require.NoError(t, m.RunInference(item))
	require.NoError(t, m.Worker(item))

	require.Len(t, pub.records, 1)
	assert.Equal(t, []float32{5, 0.5, -0.5, 0.25}, pub.records[0].Values)
	assert.Equal(t, float32(1), ctrl.Float32s()[0], "oldest command first")
	for _, v := range e.Input(0).Float32s() {
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestSSDDetector(t *testing.T) {
	locations := enginetest.NewTensor("locations", engine.Float32, 1, 10, 4)
	classes := enginetest.NewTensor("classes", engine.Float32, 1, 10)
	scores := enginetest.NewTensor("scores", engine.Float32, 1, 10)
	count := enginetest.NewTensor("count", engine.Float32, 1)
	e := enginetest.New(
		[]*enginetest.Tensor{enginetest.ImageInput(engine.UInt8, 4, 4, 3)},
		[]*enginetest.Tensor{locations, classes, scores, count},
	)
	e.OnInvoke = func(_, outputs []*enginetest.Tensor) {
		copy(outputs[0].Float32s(), []float32{0.25, 0.25, 0.75, 0.75, 0, 0, 1, 1})
		copy(outputs[1].Float32s(), []float32{1, 0})
		copy(outputs[2].Float32s(), []float32{0.9, 0.5})
		outputs[3].Float32s()[0] = 2
	}

	pub := &recorder{}
	m, err := New(Options{
		Name:       MobileNet,
		Category:   ObjectDetection,
		LabelsPath: writeLabels(t, "0 person\n1 bicycle\n"),
		Camera:     "hires",
		Loader:     loaderFor(e),
		Publisher:  pub,
	})
	require.NoError(t, err)

	item := ready(t, m, 40, 20)
	require.NoError(t, m.RunInference(item))
	require.NoError(t, m.Worker(item))

	require.Len(t, pub.images, 1)
	assert.Equal(t, frame.FormatRGB, pub.images[0].Format)
	assert.Equal(t, 120, pub.images[0].Stride)

	require.Len(t, pub.detections, 1)
	require.Len(t, pub.detections[0], 1)
	d := pub.detections[0][0]
	assert.Equal(t, "bicycle", d.ClassName)
	assert.Equal(t, "hires", d.Camera)
	assert.Equal(t, uint32(1), d.ClassID)
	assert.Equal(t, int32(1), d.FrameID)
	assert.Equal(t, detection.NotApplicable, d.DetectionConfidence)
	assert.Equal(t, []float32{10, 5, 30, 15}, []float32{d.XMin, d.YMin, d.XMax, d.YMax})
	assert.Equal(t, frame.Magic, d.Magic)
}

func TestClassifierOffset(t *testing.T) {
	out := enginetest.NewTensor("scores", engine.UInt8, 1, 1001)
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.UInt8, 2, 2, 3)}, []*enginetest.Tensor{out})
	out.UInt8s()[0] = 255
	out.UInt8s()[1+3] = 200

	m, err := New(Options{
		Name:       MobileNet,
		Category:   Classification,
		LabelsPath: writeLabels(t, "tench\ngoldfish\nshark\ntiger shark\n"),
		Loader:     loaderFor(e),
	})
	require.NoError(t, err)

	c := m.(*Classifier)
	idx, score, err := c.Top1()
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.InDelta(t, 200.0/255, score, 1e-6)
	assert.Equal(t, "tiger shark", c.Label(idx))
}

func TestSegmenterAppendsLegend(t *testing.T) {
	out := enginetest.NewTensor("classes", engine.Int64, 1, 4, 4)
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.Float32, 4, 4, 3)}, []*enginetest.Tensor{out})
	pub := &recorder{}
	m, err := New(Options{
		Name:       DeepLab,
		Category:   Segmentation,
		LabelsPath: writeLabels(t, "road\nsidewalk\n"),
		Loader:     loaderFor(e),
		Publisher:  pub,
	})
	require.NoError(t, err)

	item := ready(t, m, 8, 8)
	require.NoError(t, m.RunInference(item))
	require.NoError(t, m.Worker(item))

	require.Len(t, pub.images, 1)
	assert.Equal(t, 4+legendBorder, pub.images[0].Width)
	assert.Equal(t, 4, pub.images[0].Height)
	assert.Equal(t, (4+legendBorder)*3, pub.images[0].Stride)
}

func TestDepthPublishesModelResolution(t *testing.T) {
	out := enginetest.NewTensor("depth", engine.Float32, 1, 3, 5, 1)
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.Float32, 6, 6, 3)}, []*enginetest.Tensor{out})
	pub := &recorder{}
	m, err := New(Options{Name: FastDepth, Category: MonoDepth, Loader: loaderFor(e), Publisher: pub})
	require.NoError(t, err)

	item := ready(t, m, 12, 12)
	require.NoError(t, m.RunInference(item))
	require.NoError(t, m.Worker(item))
	require.Len(t, pub.images, 1)
	assert.Equal(t, 5, pub.images[0].Width)
	assert.Equal(t, 3, pub.images[0].Height)
}

func TestPoseDrawsOnFullFrame(t *testing.T) {
	out := enginetest.NewTensor("kps", engine.Float32, 1, 1, 17, 3)
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.Float32, 4, 4, 3)}, []*enginetest.Tensor{out})
	copy(out.Float32s(), []float32{0.5, 0.5, 0.9})
	pub := &recorder{}
	m, err := New(Options{Name: PoseNet, Category: Pose, Loader: loaderFor(e), Publisher: pub})
	require.NoError(t, err)

	item := ready(t, m, 40, 40)
	require.NoError(t, m.RunInference(item))
	require.NoError(t, m.Worker(item))
	assert.Equal(t, jointColor, item.Output.RGBAAt(20, 20))
	require.Len(t, pub.images, 1)
	assert.Equal(t, 40, pub.images[0].Width)
}

func TestFactoryRejectsUnsupportedCombination(t *testing.T) {
	loaded := false
	loader := func(engine.Options) (engine.Engine, error) {
		loaded = true
		return nil, nil
	}
	_, err := New(Options{Name: DeepLab, Category: Pose, Loader: loader})
	assert.Error(t, err)
	_, err = New(Options{Name: EfficientNet, Category: ObjectDetection, Loader: loader})
	assert.Error(t, err)
	assert.False(t, loaded)
}

func TestMissingLabelsIsFatal(t *testing.T) {
	e := enginetest.New([]*enginetest.Tensor{enginetest.ImageInput(engine.UInt8, 2, 2, 3)}, nil)
	_, err := New(Options{Name: YOLOv5, Category: ObjectDetection, LabelsPath: filepath.Join(t.TempDir(), "nope.txt"), Loader: loaderFor(e)})
	assert.Error(t, err)

	_, err = New(Options{Name: YOLOv8, Category: ObjectDetection, Loader: loaderFor(e)})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		path string
		want Profile
	}{
		{"/usr/bin/dnn/ssdlite_mobilenet_v2_coco.tflite", Profile{MobileNet, ObjectDetection, PixelMean, true}},
		{"/usr/bin/dnn/mobilenetv1_nnapi_classifier.tflite", Profile{MobileNet, Classification, PixelMean, true}},
		{"/usr/bin/dnn/fastdepth_float16_quant.tflite", Profile{FastDepth, MonoDepth, HardDivision, true}},
		{"/usr/bin/dnn/edgetpu_deeplab_321_os32_float16_quant.tflite", Profile{DeepLab, Segmentation, NoNormalization, true}},
		{"/usr/bin/dnn/lite-model_movenet_singlepose_lightning_tflite_float16_4.tflite", Profile{PoseNet, Pose, NoNormalization, true}},
		{"/usr/bin/dnn/yolov11n_float16.tflite", Profile{YOLOv11, ObjectDetection, HardDivision, true}},
		{"/usr/bin/dnn/zeroshot.tflite", Profile{Zeroshot, ObjectDetection, NoNormalization, true}},
		{"/tmp/custom.tflite", Profile{Placeholder, ObjectDetection, NoNormalization, false}},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.path))
		})
	}
}

func TestReadLabelsPads(t *testing.T) {
	labels, count, err := ReadLabels(writeLabels(t, "a\r\nb\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, labels, 16)
	assert.Equal(t, "a", labels[0])
	assert.Equal(t, "", labels[15])
}

func TestCleanLabel(t *testing.T) {
	assert.Equal(t, "person", cleanLabel("0 person"))
	assert.Equal(t, "trafficlight", cleanLabel("9 traffic light"))
	assert.Equal(t, "person", cleanLabel("person"))
}

func TestParseNames(t *testing.T) {
	n, err := ParseName("YOLOv8")
	require.NoError(t, err)
	assert.Equal(t, YOLOv8, n)
	_, err = ParseName("resnet")
	assert.Error(t, err)

	c, err := ParseCategory("mono_depth")
	require.NoError(t, err)
	assert.Equal(t, MonoDepth, c)

	norm, err := ParseNormalization("pixel_mean")
	require.NoError(t, err)
	assert.Equal(t, PixelMean, norm)
}
