//go:build !edgetpu

package tflite

import (
	"github.com/mattn/go-tflite/delegates"
	"github.com/rs/zerolog"
)

func nnapiDelegate(log zerolog.Logger) delegates.Delegater {
	log.Warn().Msg("Neural accelerator support not compiled in (build with -tags edgetpu)")
	return nil
}
