package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exitFatal is the process status for startup failures.
const exitFatal = 255

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "tfliteserver",
		Short: "tfliteserver - on-device TFLite inference server",
		Long: `tfliteserver subscribes to a camera pipe, runs a TensorFlow Lite model on
every admitted frame and publishes annotated images and detections.

Features:
  • SSD, YOLOv5, YOLOv8/v11 object detection
  • Classification, monocular depth, segmentation and pose models
  • Gate regressors and control-conditioned zero-shot models
  • GPU, NNAPI or CPU delegates
  • Websocket pipe fabric, MJPEG viewer and REST API
  • Optional sqlite detection log and MQTT mirror`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/tfliteserver/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "debug logging, overlays and computing without subscribers")
	rootCmd.PersistentFlags().BoolP("timing", "t", false, "log per-stage timing summaries")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logs")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("timing", rootCmd.PersistentFlags().Lookup("timing"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
