// Package publish delivers model results to the pipe fabric and the
// secondary sinks (MJPEG viewers, detection log, MQTT mirror, websocket
// detection feed).
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/imgproc"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/monotime"
	"github.com/bryanchriswhite/tfliteserver/internal/output"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
	"github.com/bryanchriswhite/tfliteserver/internal/store"
	"github.com/rs/zerolog"
)

const (
	imageSuffix = "tflite"
	dataSuffix  = "tflite_data"
	feedSuffix  = "_json"
)

// ChannelNames returns the image and detection channel names. With
// allowMultiple each instance prefixes its channels so several servers can
// share one fabric.
func ChannelNames(prefix string, allowMultiple bool) (imageName, dataName string) {
	if allowMultiple && prefix != "" {
		return prefix + "_" + imageSuffix, prefix + "_" + dataSuffix
	}
	return imageSuffix, dataSuffix
}

// Options wires an Adapter to its sinks. Only Hub and ImageChannel are
// required.
type Options struct {
	Hub          *pipe.Hub
	ImageChannel string
	// DataChannel is empty for models that publish no detections.
	DataChannel string
	MJPEG       output.Output
	Recorder    *store.Recorder
	MQTT        pipe.Writer
	// Now stamps published frames. Defaults to the monotonic clock.
	Now func() int64
}

// Counters is a snapshot of what was published.
type Counters struct {
	Images     uint64 `json:"images"`
	Detections uint64 `json:"detections"`
	Records    uint64 `json:"records"`
	Errors     uint64 `json:"errors"`
}

// Adapter implements model.Publisher.
type Adapter struct {
	image *pipe.Channel
	data  *pipe.Channel
	feed  *pipe.Channel

	mjpeg    output.Output
	recorder *store.Recorder
	mqtt     pipe.Writer
	now      func() int64
	log      *zerolog.Logger

	images     atomic.Uint64
	detections atomic.Uint64
	records    atomic.Uint64
	errors     atomic.Uint64
}

// New creates the output channels on the hub.
func New(opts Options) (*Adapter, error) {
	if opts.Hub == nil || opts.ImageChannel == "" {
		return nil, errors.New("publish: hub and image channel are required")
	}
	a := &Adapter{
		image:    opts.Hub.Channel(opts.ImageChannel),
		mjpeg:    opts.MJPEG,
		recorder: opts.Recorder,
		mqtt:     opts.MQTT,
		now:      opts.Now,
		log:      logger.WithComponent("publish"),
	}
	if a.now == nil {
		a.now = monotime.Now
	}
	if opts.DataChannel != "" {
		a.data = opts.Hub.Channel(opts.DataChannel)
		a.feed = opts.Hub.Channel(opts.DataChannel + feedSuffix)
	}
	a.log.Info().
		Str("image_channel", opts.ImageChannel).
		Str("data_channel", opts.DataChannel).
		Bool("mjpeg", a.mjpeg != nil).
		Bool("recorder", a.recorder != nil).
		Bool("mqtt", a.mqtt != nil).
		Msg("Publisher ready")
	return a, nil
}

// PublishImage stamps the frame with the publish time and writes it as
// packed RGB24 to the image channel and any MJPEG viewers.
func (a *Adapter) PublishImage(meta frame.Metadata, img *image.RGBA) error {
	b := img.Bounds()
	meta = meta.AsRGB(b.Dx(), b.Dy())
	meta.Timestamp = a.now()

	var errs []error
	if a.image.Subscribers() > 0 {
		msg := frame.EncodeCameraFrame(meta, imgproc.PackRGB(img))
		if err := a.image.Write(msg); err != nil {
			errs = append(errs, fmt.Errorf("failed to write image: %w", err))
		}
	}
	if a.mjpeg != nil && a.mjpeg.IsRunning() && a.mjpeg.ClientCount() > 0 {
		if err := a.mjpeg.WriteFrame(img); err != nil {
			errs = append(errs, err)
		}
	}
	a.images.Add(1)
	return a.fail(errs)
}

// PublishDetections writes the batch as contiguous 172-byte records and
// forwards it to the secondary sinks.
func (a *Adapter) PublishDetections(dets []detection.Detection) error {
	if len(dets) == 0 {
		return nil
	}
	var errs []error
	if a.data != nil {
		if err := a.data.Write(detection.EncodeBatch(dets)); err != nil {
			errs = append(errs, fmt.Errorf("failed to write detections: %w", err))
		}
	}
	if a.recorder != nil {
		a.recorder.Record(dets)
	}

	feedWanted := a.feed != nil && a.feed.Subscribers() > 0
	if a.mqtt != nil || feedWanted {
		payload, err := json.Marshal(dets)
		if err != nil {
			errs = append(errs, err)
		} else {
			if a.mqtt != nil {
				if err := a.mqtt.Write(payload); err != nil {
					a.log.Debug().Err(err).Msg("MQTT mirror write failed")
				}
			}
			if feedWanted {
				if err := a.feed.Write(payload); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	a.detections.Add(uint64(len(dets)))
	return a.fail(errs)
}

// PublishRecord writes a numeric record on the detection channel.
func (a *Adapter) PublishRecord(rec detection.Record) error {
	if a.data == nil {
		return nil
	}
	msg, err := rec.MarshalBinary()
	if err != nil {
		return a.fail([]error{err})
	}
	if err := a.data.Write(msg); err != nil {
		return a.fail([]error{fmt.Errorf("failed to write record: %w", err)})
	}
	a.records.Add(1)
	return nil
}

// HasSubscribers reports whether any output currently has a consumer.
func (a *Adapter) HasSubscribers() bool {
	if a.image.Subscribers() > 0 {
		return true
	}
	if a.data != nil && (a.data.Subscribers() > 0 || a.feed.Subscribers() > 0) {
		return true
	}
	if a.mjpeg != nil && a.mjpeg.ClientCount() > 0 {
		return true
	}
	return a.mqtt != nil || a.recorder != nil
}

// Feed subscribes to JSON-encoded detection batches.
func (a *Adapter) Feed() (*pipe.Subscriber, error) {
	if a.feed == nil {
		return nil, errors.New("publish: model produces no detections")
	}
	return a.feed.Subscribe(pipe.DefaultBuffer)
}

// Counters returns a snapshot of the publish counters.
func (a *Adapter) Counters() Counters {
	return Counters{
		Images:     a.images.Load(),
		Detections: a.detections.Load(),
		Records:    a.records.Load(),
		Errors:     a.errors.Load(),
	}
}

func (a *Adapter) fail(errs []error) error {
	err := errors.Join(errs...)
	if err != nil {
		a.errors.Add(1)
	}
	return err
}
