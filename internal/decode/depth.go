package decode

import (
	"image"
	"image/color"
)

// NormalizeDepth min-max scales a depth map to 0..255. A constant map
// becomes all zeros.
func NormalizeDepth(depth []float32) []uint8 {
	out := make([]uint8, len(depth))
	if len(depth) == 0 {
		return out
	}
	lo, hi := depth[0], depth[0]
	for _, v := range depth {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span <= 0 {
		return out
	}
	for i, v := range depth {
		out[i] = uint8(255 * (v - lo) / span)
	}
	return out
}

// Jet maps an 8-bit intensity onto the blue-cyan-yellow-red ramp.
func Jet(v uint8) color.RGBA {
	x := float32(v) / 255
	ramp := func(center float32) uint8 {
		d := 4*x - center
		if d < 0 {
			d = -d
		}
		c := 1.5 - d
		switch {
		case c <= 0:
			return 0
		case c >= 1:
			return 255
		default:
			return uint8(c * 255)
		}
	}
	return color.RGBA{R: ramp(3), G: ramp(2), B: ramp(1), A: 255}
}

// ColorizeDepth renders a w x h depth map as a false-color image.
func ColorizeDepth(depth []float32, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	levels := NormalizeDepth(depth)
	for i := 0; i < w*h && i < len(levels); i++ {
		c := Jet(levels[i])
		o := i * 4
		img.Pix[o+0] = c.R
		img.Pix[o+1] = c.G
		img.Pix[o+2] = c.B
		img.Pix[o+3] = 255
	}
	return img
}
