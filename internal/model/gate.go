package model

import (
	"fmt"

	"github.com/bryanchriswhite/tfliteserver/internal/control"
	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
)

// Gate publishes the first few scalars of its output tensor as a numeric
// record. It draws and publishes no image.
type Gate struct {
	*Base
	values int
}

func newGate(b *Base, values int) *Gate {
	return &Gate{Base: b, values: values}
}

func (g *Gate) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(g.Base, meta, pixels)
}

func (g *Gate) RunInference(item *Item) error {
	return DefaultRunInference(g.Base, item)
}

func (g *Gate) Postprocess(item *Item) (*Result, error) {
	rec, err := scalarRecord(g.Engine, g.values, item.Meta)
	if err != nil {
		return nil, err
	}
	if g.Debug() {
		g.log.Debug().Str("model", g.Name().String()).Floats32("values", rec.Values).Uint64("timestamp_ns", rec.Timestamp).Msg("Gate output")
	}
	return &Result{Meta: item.Meta, Record: &rec}, nil
}

func (g *Gate) Worker(item *Item) error {
	res, err := g.Postprocess(item)
	if err != nil {
		return err
	}
	return g.publish(res)
}

func scalarRecord(e engine.Engine, n int, meta frame.Metadata) (detection.Record, error) {
	out := e.Output(0)
	if out == nil || out.Type() != engine.Float32 {
		return detection.Record{}, fmt.Errorf("numeric model needs a float32 output")
	}
	data := out.Float32s()
	if len(data) < n {
		return detection.Record{}, fmt.Errorf("output holds %d values, want %d", len(data), n)
	}
	return detection.Record{
		Values:    append([]float32(nil), data[:n]...),
		Timestamp: uint64(meta.Timestamp),
	}, nil
}

// ZeroshotOutputs is the number of values a zeroshot model emits
// (vx, vy, vz, yaw).
const ZeroshotOutputs = 4

// ZeroshotModel conditions on the frame and the recent control history.
// Until the history is filled frames are skipped without publishing.
type ZeroshotModel struct {
	*Base
	history *control.History
}

func newZeroshot(b *Base, h *control.History) *ZeroshotModel {
	if h == nil {
		h = control.NewHistory()
	}
	return &ZeroshotModel{Base: b, history: h}
}

func (z *ZeroshotModel) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(z.Base, meta, pixels)
}

// RunInference feeds the image scaled to [0,1] as input 0 and the control
// history as input 1.
func (z *ZeroshotModel) RunInference(item *Item) error {
	snap := z.history.Load()
	if !snap.Filled {
		return ErrControlNotReady
	}
	if z.Engine.InputCount() < 2 {
		return fmt.Errorf("zeroshot model needs 2 inputs, has %d", z.Engine.InputCount())
	}
	if err := FillInput(z.Engine.Input(0), item.Input, HardDivision); err != nil {
		return err
	}

	ctrl := z.Engine.Input(1)
	if ctrl.Type() != engine.Float32 {
		return fmt.Errorf("control input must be float32, got %s", ctrl.Type())
	}
	if n := engine.Elements(ctrl); n != control.Depth*control.Width {
		return fmt.Errorf("control input holds %d elements, want %d", n, control.Depth*control.Width)
	}
	copy(ctrl.Float32s(), snap.Flat())

	return z.invoke(item)
}

func (z *ZeroshotModel) Postprocess(item *Item) (*Result, error) {
	rec, err := scalarRecord(z.Engine, ZeroshotOutputs, item.Meta)
	if err != nil {
		return nil, err
	}
	return &Result{Meta: item.Meta, Record: &rec}, nil
}

func (z *ZeroshotModel) Worker(item *Item) error {
	if !z.history.Filled() {
		z.log.Debug().Msg("Zeroshot: no control data available, skipping")
		return nil
	}
	res, err := z.Postprocess(item)
	if err != nil {
		return err
	}
	if z.Debug() {
		v := res.Record.Values
		z.log.Debug().
			Float32("vx", v[0]).
			Float32("vy", v[1]).
			Float32("vz", v[2]).
			Float32("yaw", v[3]).
			Uint64("timestamp_ns", res.Record.Timestamp).
			Msg("Zeroshot output")
	}
	return z.publish(res)
}

var (
	_ Model = (*Gate)(nil)
	_ Model = (*ZeroshotModel)(nil)
)
