// Package capture opens the camera stream the server consumes.
package capture

import (
	"context"
	"path"
	"strings"
)

// Source delivers encoded camera frame messages (header plus pixels).
type Source interface {
	// Name is the camera name stamped into detections.
	Name() string

	// Recv blocks for the next frame message.
	Recv(ctx context.Context) ([]byte, error)

	// BytesPending is the size of frames received but not yet consumed.
	BytesPending() int64

	// Close releases the source and any background processes.
	Close() error
}

// CameraOptions configures sources that drive a camera device directly.
type CameraOptions struct {
	Width  int
	Height int
	FPS    int
}

// CameraName returns the last path element of an input pipe, ignoring
// trailing slashes: "/run/mpa/hires_small_color/" is "hires_small_color".
func CameraName(input string) string {
	if i := strings.Index(input, "://"); i >= 0 {
		input = input[i+3:]
	}
	input = strings.TrimRight(input, "/")
	if input == "" {
		return ""
	}
	return path.Base(input)
}
