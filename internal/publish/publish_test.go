package publish

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNames(t *testing.T) {
	img, data := ChannelNames("mobilenet", false)
	assert.Equal(t, "tflite", img)
	assert.Equal(t, "tflite_data", data)

	img, data = ChannelNames("mobilenet", true)
	assert.Equal(t, "mobilenet_tflite", img)
	assert.Equal(t, "mobilenet_tflite_data", data)
}

func newAdapter(t *testing.T, hub *pipe.Hub, opts Options) *Adapter {
	t.Helper()
	opts.Hub = hub
	if opts.ImageChannel == "" {
		opts.ImageChannel = "tflite"
	}
	opts.Now = func() int64 { return 42 }
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

func TestPublishImage(t *testing.T) {
	hub := pipe.NewHub()
	a := newAdapter(t, hub, Options{})
	sub, err := hub.Channel("tflite").Subscribe(1)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	img.Set(1, 0, color.RGBA{R: 4, G: 5, B: 6, A: 255})

	in := frame.Metadata{Timestamp: 7, FrameID: 9, Width: 640, Height: 480, Format: frame.FormatNV12}
	require.NoError(t, a.PublishImage(in, img))

	msg, err := sub.Recv(context.Background())
	require.NoError(t, err)
	meta, pixels, err := frame.DecodeCameraFrame(msg)
	require.NoError(t, err)

	want := frame.Metadata{Timestamp: 42, FrameID: 9, Width: 2, Height: 1, SizeBytes: 6, Stride: 6, Format: frame.FormatRGB}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, pixels)
	assert.Equal(t, uint64(1), a.Counters().Images)
}

type capture struct{ msgs [][]byte }

func (c *capture) Write(msg []byte) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestPublishDetections(t *testing.T) {
	hub := pipe.NewHub()
	mqtt := &capture{}
	a := newAdapter(t, hub, Options{DataChannel: "tflite_data", MQTT: mqtt})

	data, err := hub.Channel("tflite_data").Subscribe(1)
	require.NoError(t, err)
	feed, err := a.Feed()
	require.NoError(t, err)

	d := detection.New()
	d.ClassName = "person"
	d.ClassConfidence = 0.9
	dets := []detection.Detection{d, d}
	require.NoError(t, a.PublishDetections(dets))

	msg, err := data.Recv(context.Background())
	require.NoError(t, err)
	assert.Len(t, msg, 2*detection.Size)
	got, err := detection.DecodeBatch(msg)
	require.NoError(t, err)
	assert.Equal(t, "person", got[1].ClassName)

	js, err := feed.Recv(context.Background())
	require.NoError(t, err)
	var decoded []detection.Detection
	require.NoError(t, json.Unmarshal(js, &decoded))
	assert.Len(t, decoded, 2)

	require.Len(t, mqtt.msgs, 1)
	assert.JSONEq(t, string(js), string(mqtt.msgs[0]))
	assert.Equal(t, uint64(2), a.Counters().Detections)

	require.NoError(t, a.PublishDetections(nil))
	assert.Len(t, mqtt.msgs, 1)
}

func TestPublishRecord(t *testing.T) {
	hub := pipe.NewHub()
	a := newAdapter(t, hub, Options{DataChannel: "tflite_data"})
	sub, err := hub.Channel("tflite_data").Subscribe(1)
	require.NoError(t, err)

	require.NoError(t, a.PublishRecord(detection.Record{Values: []float32{1, 2, 3}, Timestamp: 99}))
	msg, err := sub.Recv(context.Background())
	require.NoError(t, err)
	assert.Len(t, msg, 24)
	rec, err := detection.DecodeRecord(msg, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), rec.Timestamp)
}

func TestNoDataChannel(t *testing.T) {
	hub := pipe.NewHub()
	a := newAdapter(t, hub, Options{})
	assert.NoError(t, a.PublishRecord(detection.Record{Values: []float32{1}}))
	_, err := a.Feed()
	assert.Error(t, err)
	_, ok := hub.Lookup("tflite_data")
	assert.False(t, ok)
}

func TestHasSubscribers(t *testing.T) {
	hub := pipe.NewHub()
	a := newAdapter(t, hub, Options{DataChannel: "tflite_data"})
	assert.False(t, a.HasSubscribers())

	sub, err := hub.Channel("tflite_data").Subscribe(1)
	require.NoError(t, err)
	assert.True(t, a.HasSubscribers())
	sub.Close()
	assert.False(t, a.HasSubscribers())

	feed, err := a.Feed()
	require.NoError(t, err)
	assert.True(t, a.HasSubscribers())
	feed.Close()

	withMQTT := newAdapter(t, pipe.NewHub(), Options{MQTT: &capture{}})
	assert.True(t, withMQTT.HasSubscribers())
}

func TestNewRequiresHub(t *testing.T) {
	_, err := New(Options{ImageChannel: "tflite"})
	assert.Error(t, err)
}
