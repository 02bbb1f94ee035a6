package annotate

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var face = basicfont.Face7x13

// Label is a line of text with an optional background box. X and Y give
// the top-left corner of the box.
type Label struct {
	Text       string
	X, Y       int
	Color      color.RGBA
	Background *color.RGBA
	Padding    int
}

// Size returns the rendered width and height including padding.
func (l Label) Size() (int, int) {
	w := MeasureText(l.Text)
	return w + l.Padding*2, face.Height + l.Padding*2
}

// Render draws the label onto img.
func (l Label) Render(img *image.RGBA) {
	if l.Text == "" {
		return
	}
	if l.Background != nil {
		w, h := l.Size()
		FillRect(img, image.Rect(l.X, l.Y, l.X+w, l.Y+h), *l.Background)
	}
	DrawText(img, l.X+l.Padding, l.Y+l.Padding+face.Ascent, l.Text, l.Color)
}

// DrawText draws text with its baseline at (x, y).
func DrawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// MeasureText returns the advance width of text in pixels.
func MeasureText(text string) int {
	d := &font.Drawer{Face: face}
	return d.MeasureString(text).Ceil()
}

// LineHeight is the height of one line of text.
func LineHeight() int {
	return face.Height
}
