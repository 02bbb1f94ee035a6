//go:build edgetpu

package tflite

import (
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"github.com/rs/zerolog"
)

// nnapiDelegate attaches the first Edge TPU found on the system.
func nnapiDelegate(log zerolog.Logger) delegates.Delegater {
	devices, err := edgetpu.DeviceList()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enumerate Edge TPU devices")
		return nil
	}
	if len(devices) == 0 {
		log.Warn().Msg("No Edge TPU devices found")
		return nil
	}
	log.Info().Str("path", devices[0].Path).Msg("Using Edge TPU")
	return edgetpu.New(devices[0])
}
