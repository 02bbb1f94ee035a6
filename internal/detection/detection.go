// Package detection defines the records published on the detection channel
// and their little-endian wire layouts.
package detection

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bryanchriswhite/tfliteserver/internal/frame"
)

const (
	// Size is the encoded size of one Detection.
	Size = 172
	// NameLen is the fixed width of the class and camera name fields.
	NameLen = 64
	// NotApplicable marks a confidence the model architecture does not produce.
	NotApplicable float32 = -1
)

// ErrShortRecord is returned when a buffer is smaller than a record.
var ErrShortRecord = errors.New("detection: buffer shorter than record")

// Detection is one object found in a frame.
type Detection struct {
	Magic               uint32  `json:"magic"`
	Timestamp           int64   `json:"timestamp_ns"`
	ClassID             uint32  `json:"class_id"`
	FrameID             int32   `json:"frame_id"`
	ClassName           string  `json:"class_name"`
	Camera              string  `json:"cam"`
	ClassConfidence     float32 `json:"class_confidence"`
	DetectionConfidence float32 `json:"detection_confidence"`
	XMin                float32 `json:"x_min"`
	YMin                float32 `json:"y_min"`
	XMax                float32 `json:"x_max"`
	YMax                float32 `json:"y_max"`
}

// New returns a Detection with the magic tag set.
func New() Detection {
	return Detection{Magic: frame.Magic}
}

// MarshalBinary encodes d into its 172-byte layout.
func (d Detection) MarshalBinary() ([]byte, error) {
	b := make([]byte, Size)
	d.put(b)
	return b, nil
}

func (d Detection) put(b []byte) {
	le := binary.LittleEndian
	magic := d.Magic
	if magic == 0 {
		magic = frame.Magic
	}
	le.PutUint32(b[0:], magic)
	le.PutUint64(b[4:], uint64(d.Timestamp))
	le.PutUint32(b[12:], d.ClassID)
	le.PutUint32(b[16:], uint32(d.FrameID))
	putName(b[20:20+NameLen], d.ClassName)
	putName(b[84:84+NameLen], d.Camera)
	le.PutUint32(b[148:], math.Float32bits(d.ClassConfidence))
	le.PutUint32(b[152:], math.Float32bits(d.DetectionConfidence))
	le.PutUint32(b[156:], math.Float32bits(d.XMin))
	le.PutUint32(b[160:], math.Float32bits(d.YMin))
	le.PutUint32(b[164:], math.Float32bits(d.XMax))
	le.PutUint32(b[168:], math.Float32bits(d.YMax))
}

// putName writes a NUL-terminated name, truncated to fit.
func putName(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

func getName(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (d *Detection) UnmarshalBinary(b []byte) error {
	if len(b) < Size {
		return ErrShortRecord
	}
	le := binary.LittleEndian
	d.Magic = le.Uint32(b[0:])
	if d.Magic != frame.Magic {
		return fmt.Errorf("detection: bad magic 0x%08x", d.Magic)
	}
	d.Timestamp = int64(le.Uint64(b[4:]))
	d.ClassID = le.Uint32(b[12:])
	d.FrameID = int32(le.Uint32(b[16:]))
	d.ClassName = getName(b[20 : 20+NameLen])
	d.Camera = getName(b[84 : 84+NameLen])
	d.ClassConfidence = math.Float32frombits(le.Uint32(b[148:]))
	d.DetectionConfidence = math.Float32frombits(le.Uint32(b[152:]))
	d.XMin = math.Float32frombits(le.Uint32(b[156:]))
	d.YMin = math.Float32frombits(le.Uint32(b[160:]))
	d.XMax = math.Float32frombits(le.Uint32(b[164:]))
	d.YMax = math.Float32frombits(le.Uint32(b[168:]))
	return nil
}

// EncodeBatch concatenates records without framing.
func EncodeBatch(dets []Detection) []byte {
	b := make([]byte, Size*len(dets))
	for i, d := range dets {
		d.put(b[i*Size:])
	}
	return b
}

// DecodeBatch splits a message of concatenated records.
func DecodeBatch(b []byte) ([]Detection, error) {
	if len(b)%Size != 0 {
		return nil, fmt.Errorf("detection: batch length %d is not a multiple of %d", len(b), Size)
	}
	dets := make([]Detection, len(b)/Size)
	for i := range dets {
		if err := dets[i].UnmarshalBinary(b[i*Size:]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return dets, nil
}
