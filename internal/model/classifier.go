package model

import (
	"image/color"

	"github.com/bryanchriswhite/tfliteserver/internal/annotate"
	"github.com/bryanchriswhite/tfliteserver/internal/decode"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
)

var classLabelColor = color.RGBA{G: 255, A: 0xff}

// Classifier overlays the top-1 label on the frame.
type Classifier struct {
	*Base
	// offset skips leading entries of the score tensor, such as a
	// background class the label table does not list.
	offset int
}

func newClassifier(b *Base, offset int) *Classifier {
	return &Classifier{Base: b, offset: offset}
}

func (c *Classifier) Preprocess(meta frame.Metadata, pixels []byte) (*Item, error) {
	return DefaultPreprocess(c.Base, meta, pixels)
}

func (c *Classifier) RunInference(item *Item) error {
	return DefaultRunInference(c.Base, item)
}

// Top1 returns the best class index and its score.
func (c *Classifier) Top1() (int, float32, error) {
	scores, err := outputFloat32s(c.Engine, 0)
	if err != nil {
		return -1, 0, err
	}
	idx, score := decode.Classify(scores, c.offset, decode.ImageNetClasses)
	return idx, score, nil
}

func (c *Classifier) Postprocess(item *Item) (*Result, error) {
	idx, score, err := c.Top1()
	if err != nil {
		return nil, err
	}
	label := c.Label(idx)
	c.log.Debug().Str("class", label).Float32("score", score).Msg("Classified")

	annotate.DrawText(item.Output, item.Output.Bounds().Dx()/3, 25, label, classLabelColor)
	c.Overlay.Render(item.Output)
	return imageResult(item.Meta, item.Output), nil
}

func (c *Classifier) Worker(item *Item) error {
	res, err := c.Postprocess(item)
	if err != nil {
		return err
	}
	return c.publish(res)
}

var _ Model = (*Classifier)(nil)
