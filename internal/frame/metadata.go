package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic tags every camera header and detection record ("VOXL" little-endian).
const Magic uint32 = 0x564F584C

// MetadataSize is the encoded size of a camera frame header.
const MetadataSize = 40

// MaxFrameSize bounds a single pixel buffer (3840x2160 RGB plus headroom).
const MaxFrameSize = 12441600

// PixelFormat is the on-wire pixel format tag of a camera frame.
type PixelFormat int16

const (
	FormatRAW8       PixelFormat = 0
	FormatNV12       PixelFormat = 1
	FormatStereoRAW8 PixelFormat = 2
	FormatH264       PixelFormat = 3
	FormatH265       PixelFormat = 4
	FormatRAW16      PixelFormat = 5
	FormatNV21       PixelFormat = 6
	FormatJPG        PixelFormat = 7
	FormatYUV422     PixelFormat = 8
	FormatYUV420     PixelFormat = 9
	FormatRGB        PixelFormat = 10
	FormatFloat32    PixelFormat = 11
	FormatStereoNV21 PixelFormat = 12
	FormatStereoRGB  PixelFormat = 13
	FormatYUV422UYVY PixelFormat = 14
	FormatStereoNV12 PixelFormat = 15
)

var formatNames = map[PixelFormat]string{
	FormatRAW8:       "RAW8",
	FormatNV12:       "NV12",
	FormatStereoRAW8: "STEREO_RAW8",
	FormatH264:       "H264",
	FormatH265:       "H265",
	FormatRAW16:      "RAW16",
	FormatNV21:       "NV21",
	FormatJPG:        "JPG",
	FormatYUV422:     "YUV422",
	FormatYUV420:     "YUV420",
	FormatRGB:        "RGB",
	FormatFloat32:    "FLOAT32",
	FormatStereoNV21: "STEREO_NV21",
	FormatStereoRGB:  "STEREO_RGB",
	FormatYUV422UYVY: "YUV422_UYVY",
	FormatStereoNV12: "STEREO_NV12",
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int16(f))
}

// Mono maps a stereo format to its single-camera equivalent. The left image
// comes first in a stereo buffer, so the mono conversion simply reads it.
func (f PixelFormat) Mono() PixelFormat {
	switch f {
	case FormatStereoNV12:
		return FormatNV12
	case FormatStereoNV21:
		return FormatNV21
	case FormatStereoRAW8:
		return FormatRAW8
	case FormatStereoRGB:
		return FormatRGB
	default:
		return f
	}
}

// Metadata describes one camera frame.
type Metadata struct {
	Timestamp  int64       `json:"timestamp_ns"`
	FrameID    int32       `json:"frame_id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	SizeBytes  int         `json:"size_bytes"`
	Stride     int         `json:"stride"`
	ExposureNs int32       `json:"exposure_ns"`
	Gain       int16       `json:"gain"`
	Format     PixelFormat `json:"format"`
	Framerate  int16       `json:"framerate"`
}

// AsRGB returns a copy of m describing a packed RGB24 image of w x h.
func (m Metadata) AsRGB(w, h int) Metadata {
	m.Format = FormatRGB
	m.Width = w
	m.Height = h
	m.Stride = w * 3
	m.SizeBytes = w * h * 3
	return m
}

var (
	// ErrShortHeader is returned when a buffer is smaller than a header.
	ErrShortHeader = errors.New("frame: buffer shorter than metadata header")
	// ErrBadMagic is returned when a header does not start with Magic.
	ErrBadMagic = errors.New("frame: bad magic number")
)

// MarshalBinary encodes the 40-byte little-endian header.
func (m Metadata) MarshalBinary() ([]byte, error) {
	b := make([]byte, MetadataSize)
	m.put(b)
	return b, nil
}

func (m Metadata) put(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], Magic)
	le.PutUint64(b[4:], uint64(m.Timestamp))
	le.PutUint32(b[12:], uint32(m.FrameID))
	le.PutUint16(b[16:], uint16(int16(m.Width)))
	le.PutUint16(b[18:], uint16(int16(m.Height)))
	le.PutUint32(b[20:], uint32(int32(m.SizeBytes)))
	le.PutUint32(b[24:], uint32(int32(m.Stride)))
	le.PutUint32(b[28:], uint32(m.ExposureNs))
	le.PutUint16(b[32:], uint16(m.Gain))
	le.PutUint16(b[34:], uint16(m.Format))
	le.PutUint16(b[36:], uint16(m.Framerate))
	le.PutUint16(b[38:], 0)
}

// UnmarshalBinary decodes a header produced by MarshalBinary.
func (m *Metadata) UnmarshalBinary(b []byte) error {
	if len(b) < MetadataSize {
		return ErrShortHeader
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:]) != Magic {
		return ErrBadMagic
	}
	m.Timestamp = int64(le.Uint64(b[4:]))
	m.FrameID = int32(le.Uint32(b[12:]))
	m.Width = int(int16(le.Uint16(b[16:])))
	m.Height = int(int16(le.Uint16(b[18:])))
	m.SizeBytes = int(int32(le.Uint32(b[20:])))
	m.Stride = int(int32(le.Uint32(b[24:])))
	m.ExposureNs = int32(le.Uint32(b[28:]))
	m.Gain = int16(le.Uint16(b[32:]))
	m.Format = PixelFormat(int16(le.Uint16(b[34:])))
	m.Framerate = int16(le.Uint16(b[36:]))
	return nil
}

// EncodeCameraFrame builds a pipe message: header followed by the pixels.
// SizeBytes in the header is set to len(pixels).
func EncodeCameraFrame(meta Metadata, pixels []byte) []byte {
	meta.SizeBytes = len(pixels)
	msg := make([]byte, MetadataSize+len(pixels))
	meta.put(msg)
	copy(msg[MetadataSize:], pixels)
	return msg
}

// DecodeCameraFrame splits a pipe message into header and pixels. The pixel
// slice aliases msg.
func DecodeCameraFrame(msg []byte) (Metadata, []byte, error) {
	var meta Metadata
	if err := meta.UnmarshalBinary(msg); err != nil {
		return meta, nil, err
	}
	body := msg[MetadataSize:]
	if meta.SizeBytes < 0 || meta.SizeBytes > len(body) {
		return meta, nil, fmt.Errorf("frame: header claims %d bytes, message carries %d", meta.SizeBytes, len(body))
	}
	return meta, body[:meta.SizeBytes], nil
}
