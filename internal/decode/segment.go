package decode

import (
	"image"
	"image/color"
)

// SegmentationColors is the per-class palette of the 19 Cityscapes classes.
var SegmentationColors = [19]color.RGBA{
	{139, 0, 0, 255},
	{255, 0, 0, 255},
	{255, 99, 71, 255},
	{250, 128, 114, 255},
	{255, 140, 0, 255},
	{255, 255, 0, 255},
	{189, 183, 107, 255},
	{154, 205, 50, 255},
	{0, 255, 0, 255},
	{0, 100, 0, 255},
	{0, 250, 154, 255},
	{0, 128, 128, 255},
	{30, 144, 255, 255},
	{25, 25, 112, 255},
	{138, 43, 226, 255},
	{75, 0, 130, 255},
	{139, 0, 139, 255},
	{238, 130, 238, 255},
	{255, 20, 147, 255},
}

const (
	// SegmentationBase is the weight of the camera image in the overlay.
	SegmentationBase = 0.75
	// SegmentationMask is the weight of the class colors.
	SegmentationMask = 0.25
)

// SegmentationColor returns the palette entry for a class. Classes outside
// the palette are black.
func SegmentationColor(class int64) color.RGBA {
	if class < 0 || class >= int64(len(SegmentationColors)) {
		return color.RGBA{A: 255}
	}
	return SegmentationColors[class]
}

// SegmentationOverlay blends the class map over base in place. classes is
// row-major with base's width and height.
func SegmentationOverlay(base *image.RGBA, classes []int64) {
	b := base.Bounds()
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if i >= len(classes) {
				return
			}
			c := SegmentationColor(classes[i])
			o := base.PixOffset(b.Min.X+x, b.Min.Y+y)
			base.Pix[o+0] = blend(base.Pix[o+0], c.R)
			base.Pix[o+1] = blend(base.Pix[o+1], c.G)
			base.Pix[o+2] = blend(base.Pix[o+2], c.B)
			base.Pix[o+3] = 255
		}
	}
}

func blend(a, b uint8) uint8 {
	v := SegmentationBase*float32(a) + SegmentationMask*float32(b) + 0.5
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
