// Package output carries annotated frames to viewers outside the pipe
// fabric.
package output

import (
	"image"
)

// Output is a sink for annotated frames.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool

	// ClientCount returns the number of connected viewers
	ClientCount() int
}

// Config holds common configuration for all output types
type Config struct {
	// Quality is the JPEG quality, 1-100.
	Quality int
}
