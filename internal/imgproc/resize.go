package imgproc

import (
	"image"

	"golang.org/x/image/draw"
)

// Resizer scales frames of one fixed source size to one fixed destination
// size. The bilinear sampling weights are computed once at construction.
type Resizer struct {
	scaler     draw.Scaler
	srcW, srcH int
	dstW, dstH int
}

// NewResizer precomputes a bilinear scaler from srcW x srcH to dstW x dstH.
func NewResizer(srcW, srcH, dstW, dstH int) *Resizer {
	return &Resizer{
		scaler: draw.BiLinear.NewScaler(dstW, dstH, srcW, srcH),
		srcW:   srcW,
		srcH:   srcH,
		dstW:   dstW,
		dstH:   dstH,
	}
}

// Matches reports whether the resizer was built for this source size.
func (r *Resizer) Matches(srcW, srcH int) bool {
	return r != nil && r.srcW == srcW && r.srcH == srcH
}

// Size returns the destination size.
func (r *Resizer) Size() (int, int) {
	return r.dstW, r.dstH
}

// Resize returns src scaled to the destination size.
func (r *Resizer) Resize(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.dstW, r.dstH))
	if r.srcW == r.dstW && r.srcH == r.dstH {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
	r.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
