// Package imgproc converts camera pixel formats to RGBA and resizes frames
// to model input resolution.
package imgproc

import (
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"golang.org/x/image/draw"
)

// ErrUnsupportedFormat is returned for pixel formats that cannot be decoded.
var ErrUnsupportedFormat = errors.New("imgproc: unsupported pixel format")

// ToImage wraps a camera buffer in an image.Image without converting
// colorspace. Stereo formats are read as their left (mono) half.
func ToImage(meta frame.Metadata, pixels []byte) (image.Image, error) {
	w, h := meta.Width, meta.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("imgproc: invalid frame size %dx%d", w, h)
	}
	format := meta.Format.Mono()

	switch format {
	case frame.FormatNV12, frame.FormatNV21:
		// Each chroma row holds ceil(w/2) interleaved pairs.
		stride := strideOr(meta.Stride, 2*((w+1)/2))
		if err := need(pixels, stride*h+stride*((h+1)/2)); err != nil {
			return nil, err
		}
		return semiPlanar(pixels, w, h, stride, format == frame.FormatNV21), nil

	case frame.FormatYUV422:
		stride := strideOr(meta.Stride, 4*((w+1)/2))
		if err := need(pixels, stride*h); err != nil {
			return nil, err
		}
		return packedYUYV(pixels, w, h, stride), nil

	case frame.FormatRAW8:
		stride := strideOr(meta.Stride, w)
		if err := need(pixels, stride*h); err != nil {
			return nil, err
		}
		return &image.Gray{Pix: pixels[:stride*h], Stride: stride, Rect: image.Rect(0, 0, w, h)}, nil

	case frame.FormatRGB:
		stride := strideOr(meta.Stride, w*3)
		if err := need(pixels, stride*h); err != nil {
			return nil, err
		}
		return UnpackRGB(pixels, w, h, stride), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, meta.Format)
	}
}

// ToRGBA converts a camera buffer to a newly allocated RGBA image.
func ToRGBA(meta frame.Metadata, pixels []byte) (*image.RGBA, error) {
	src, err := ToImage(meta, pixels)
	if err != nil {
		return nil, err
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	return dst, nil
}

func strideOr(stride, fallback int) int {
	if stride < fallback {
		return fallback
	}
	return stride
}

func need(pixels []byte, n int) error {
	if len(pixels) < n {
		return fmt.Errorf("imgproc: frame needs %d bytes, got %d", n, len(pixels))
	}
	return nil
}

// semiPlanar splits the interleaved chroma plane of NV12/NV21 into the
// planar layout image.YCbCr expects.
func semiPlanar(pixels []byte, w, h, stride int, vFirst bool) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for y := 0; y < h; y++ {
		copy(img.Y[y*img.YStride:y*img.YStride+w], pixels[y*stride:y*stride+w])
	}

	uv := pixels[stride*h:]
	cw, ch := (w+1)/2, (h+1)/2
	for y := 0; y < ch; y++ {
		row := uv[y*stride:]
		for x := 0; x < cw; x++ {
			a, b := row[2*x], row[2*x+1]
			if vFirst {
				a, b = b, a
			}
			img.Cb[y*img.CStride+x] = a
			img.Cr[y*img.CStride+x] = b
		}
	}
	return img
}

func packedYUYV(pixels []byte, w, h, stride int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	cw := (w + 1) / 2
	for y := 0; y < h; y++ {
		row := pixels[y*stride:]
		for x := 0; x < cw; x++ {
			q := row[4*x : 4*x+4]
			img.Y[y*img.YStride+2*x] = q[0]
			if 2*x+1 < w {
				img.Y[y*img.YStride+2*x+1] = q[2]
			}
			img.Cb[y*img.CStride+x] = q[1]
			img.Cr[y*img.CStride+x] = q[3]
		}
	}
	return img
}

// UnpackRGB expands packed RGB24 rows into an RGBA image.
func UnpackRGB(pixels []byte, w, h, stride int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := pixels[y*stride : y*stride+w*3]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			dst[4*x+0] = src[3*x+0]
			dst[4*x+1] = src[3*x+1]
			dst[4*x+2] = src[3*x+2]
			dst[4*x+3] = 0xff
		}
	}
	return img
}

// PackRGB flattens an RGBA image into packed RGB24, the format published on
// the image channel.
func PackRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out[y*w*3:]
		for x := 0; x < w; x++ {
			dst[3*x+0] = src[4*x+0]
			dst[3*x+1] = src[4*x+1]
			dst[3*x+2] = src[4*x+2]
		}
	}
	return out
}
