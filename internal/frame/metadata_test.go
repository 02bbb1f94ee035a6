package frame

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCameraFrameRoundTrip(t *testing.T) {
	meta := Metadata{
		Timestamp:  123456789,
		FrameID:    42,
		Width:      4,
		Height:     2,
		Stride:     4,
		ExposureNs: 5000,
		Gain:       7,
		Format:     FormatNV12,
		Framerate:  30,
	}
	pixels := make([]byte, 12)
	for i := range pixels {
		pixels[i] = byte(i)
	}

	msg := EncodeCameraFrame(meta, pixels)
	require.Len(t, msg, MetadataSize+len(pixels))
	assert.Equal(t, Magic, binary.LittleEndian.Uint32(msg))

	got, body, err := DecodeCameraFrame(msg)
	require.NoError(t, err)
	meta.SizeBytes = len(pixels)
	if diff := cmp.Diff(meta, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, pixels, body)
}

func TestDecodeCameraFrameRejectsBadInput(t *testing.T) {
	_, _, err := DecodeCameraFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortHeader)

	msg := EncodeCameraFrame(Metadata{}, []byte{1})
	msg[0] = 0
	_, _, err = DecodeCameraFrame(msg)
	assert.ErrorIs(t, err, ErrBadMagic)

	msg = EncodeCameraFrame(Metadata{}, []byte{1, 2})
	_, _, err = DecodeCameraFrame(msg[:MetadataSize+1])
	assert.Error(t, err)
}

func TestPixelFormatMono(t *testing.T) {
	assert.Equal(t, FormatNV12, FormatStereoNV12.Mono())
	assert.Equal(t, FormatNV21, FormatStereoNV21.Mono())
	assert.Equal(t, FormatRAW8, FormatStereoRAW8.Mono())
	assert.Equal(t, FormatYUV422, FormatYUV422.Mono())
	assert.Equal(t, "STEREO_NV12", FormatStereoNV12.String())
	assert.Equal(t, "UNKNOWN(99)", PixelFormat(99).String())
}

func TestAsRGB(t *testing.T) {
	m := Metadata{FrameID: 3, Format: FormatNV12, Width: 640, Height: 480}.AsRGB(320, 240)
	assert.Equal(t, FormatRGB, m.Format)
	assert.Equal(t, 960, m.Stride)
	assert.Equal(t, 320*240*3, m.SizeBytes)
	assert.EqualValues(t, 3, m.FrameID)
}
