// Package annotate draws boxes, skeletons, labels and banners onto frames
// before they are published.
package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"math/rand"
)

// BlendImage blends a source image onto a destination image at the given
// position with the specified opacity.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 65535.0
			if alpha <= 0 {
				continue
			}

			d := dst.RGBAAt(dx, dy)
			da := float64(d.A) / 255.0
			outAlpha := alpha + da*(1-alpha)
			if outAlpha <= 0 {
				continue
			}
			mix := func(s uint32, dc uint8) uint8 {
				return uint8((float64(s)/257.0*alpha + float64(dc)*da*(1-alpha)) / outAlpha)
			}
			dst.SetRGBA(dx, dy, color.RGBA{
				R: mix(sr, d.R),
				G: mix(sg, d.G),
				B: mix(sb, d.B),
				A: uint8(outAlpha * 255),
			})
		}
	}
}

// FillRect fills r with c. Opaque fills are drawn directly, translucent ones
// are blended.
func FillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	if c.A == 0xff {
		draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(tmp, tmp.Bounds(), image.NewUniform(color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}), image.Point{}, draw.Src)
	BlendImage(dst, tmp, r.Min.X, r.Min.Y, float64(c.A)/255.0)
}

// StrokeRect draws the outline of r, growing inward by thickness pixels.
func StrokeRect(dst *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r = r.Canon()
	FillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), c)
	FillRect(dst, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), c)
	FillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), c)
	FillRect(dst, image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// Line draws a segment from a to b with a square brush of the given
// thickness.
func Line(dst *image.RGBA, a, b image.Point, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	half := thickness / 2
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := sign(b.X-a.X), sign(b.Y-a.Y)
	err := dx + dy
	x, y := a.X, a.Y
	for {
		FillRect(dst, image.Rect(x-half, y-half, x-half+thickness, y-half+thickness), c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// Circle fills a disc of the given radius centered on p.
func Circle(dst *image.RGBA, p image.Point, radius int, c color.RGBA) {
	bounds := dst.Bounds()
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > radius*radius {
				continue
			}
			q := image.Pt(p.X+x, p.Y+y)
			if q.In(bounds) {
				dst.SetRGBA(q.X, q.Y, c)
			}
		}
	}
}

// ExtendRight returns a copy of img with a border of the given width added
// on the right, filled with c.
func ExtendRight(img *image.RGBA, border int, c color.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()+border, b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)
	return out
}

const paletteSize = 100

var palette = func() []color.RGBA {
	r := rand.New(rand.NewSource(123))
	p := make([]color.RGBA, paletteSize)
	for i := range p {
		p[i] = color.RGBA{R: uint8(r.Intn(255)), G: uint8(r.Intn(255)), B: uint8(r.Intn(255)), A: 0xff}
	}
	return p
}()

// ColorForID returns a stable color for a class id.
func ColorForID(id int) color.RGBA {
	if id < 0 {
		id = -id
	}
	return palette[id%paletteSize]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
