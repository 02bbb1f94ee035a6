package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/api"
	"github.com/bryanchriswhite/tfliteserver/internal/capture"
	"github.com/bryanchriswhite/tfliteserver/internal/config"
	"github.com/bryanchriswhite/tfliteserver/internal/control"
	"github.com/bryanchriswhite/tfliteserver/internal/engine/tflite"
	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/bryanchriswhite/tfliteserver/internal/ingest"
	"github.com/bryanchriswhite/tfliteserver/internal/instance"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/model"
	"github.com/bryanchriswhite/tfliteserver/internal/output"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
	"github.com/bryanchriswhite/tfliteserver/internal/pipeline"
	"github.com/bryanchriswhite/tfliteserver/internal/publish"
	"github.com/bryanchriswhite/tfliteserver/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference server",
	Long: `Start the inference server: subscribe to the camera pipe, run the model
and publish results until interrupted.

The server also provides a REST API, websocket pipe endpoints and an MJPEG
viewer of the annotated output.`,
	Example: `  # Start with the configured model
  tfliteserver serve

  # Start on a custom port with a specific config file
  tfliteserver serve --port 9090 --config /etc/tfliteserver/config.yaml

  # Debug overlays and per-stage timing
  tfliteserver serve -d -t`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	debug := viper.GetBool("debug")
	timing := viper.GetBool("timing")
	pretty := viper.GetBool("pretty")

	logger.Init(viper.GetString("log_level"), pretty)

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if level := viper.GetString("log_level"); level != "" {
		configMgr.SetLogLevel(level)
	}
	if debug {
		configMgr.SetLogLevel(string(logger.DebugLevel))
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, pretty)
	log := logger.WithComponent("serve")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", configMgr.GetConfigPath(), err)
	}
	profile, _ := cfg.Profile()
	if !profile.Known {
		log.Warn().Str("model", cfg.Model).Msg("Unrecognized model file name, using generic SSD detection")
	}

	if !cfg.AllowMultiple {
		lock, err := instance.Acquire(cfg.PIDFile, instance.DefaultGrace)
		if err != nil {
			return fmt.Errorf("failed to acquire pid file: %w", err)
		}
		defer lock.Release()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := pipe.NewHub()
	defer hub.Close()

	camera := capture.CameraName(cfg.InputPipe)
	camOpts := capture.CameraOptions{Width: cfg.Camera.Width, Height: cfg.Camera.Height, FPS: cfg.Camera.FPS}

	mjpegOut := output.NewMJPEGOutput(output.Config{Quality: cfg.MJPEGQuality})
	if err := mjpegOut.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	defer mjpegOut.Stop()

	var (
		db       *store.Store
		recorder *store.Recorder
	)
	if cfg.RecordDB != "" {
		db, err = store.Open(cfg.RecordDB)
		if err != nil {
			return fmt.Errorf("failed to open detection log: %w", err)
		}
		defer db.Close()
		recorder = store.NewRecorder(db, 0)
		go recorder.Run(ctx)
	}

	var mirror pipe.Writer
	if cfg.MQTT.Broker != "" {
		w, err := pipe.NewMQTTWriter(pipe.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			return fmt.Errorf("failed to create MQTT mirror: %w", err)
		}
		defer w.Close()
		mirror = w
	}

	imageName, dataName := publish.ChannelNames(cfg.OutputPipePrefix, cfg.AllowMultiple)
	if profile.Category != model.ObjectDetection {
		dataName = ""
	}
	adapter, err := publish.New(publish.Options{
		Hub:          hub,
		ImageChannel: imageName,
		DataChannel:  dataName,
		MJPEG:        mjpegOut,
		Recorder:     recorder,
		MQTT:         mirror,
	})
	if err != nil {
		return err
	}

	var history *control.History
	var controlSrc capture.Source
	if profile.Name == model.Zeroshot {
		history = control.NewHistory()
		controlSrc, err = capture.Open(ctx, cfg.ControlInputPipe, hub, camOpts)
		if err != nil {
			return fmt.Errorf("failed to open control input: %w", err)
		}
		defer controlSrc.Close()
	}

	m, err := model.New(model.Options{
		Name:          profile.Name,
		Category:      profile.Category,
		Normalization: profile.Normalization,
		ModelPath:     cfg.Model,
		LabelsPath:    cfg.Labels,
		RequireLabels: cfg.RequiresLabels,
		Delegate:      cfg.DelegateOption(),
		NumThreads:    cfg.NumThreads,
		Debug:         debug,
		Timing:        timing,
		Camera:        camera,
		Loader:        tflite.Load,
		Publisher:     adapter,
		Control:       history,
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer m.Close()

	ring := frame.NewRing(frame.DefaultRingCapacity)
	pl := pipeline.New(m, ring, pipeline.Config{
		QueueLimit:  cfg.QueueLimit,
		CPUAffinity: cfg.CPUAffinity,
		Timing:      timing,
	})

	src, err := capture.Open(ctx, cfg.InputPipe, hub, camOpts)
	if err != nil {
		return fmt.Errorf("failed to open input pipe: %w", err)
	}
	defer src.Close()

	in := ingest.New(ring, ingest.Policy{
		SkipN:         cfg.SkipNFrames,
		AlwaysCompute: debug || timing,
	}, adapter)

	started := time.Now()
	errCh := make(chan error, 3)

	pl.Start()
	go func() { errCh <- in.Run(ctx, src) }()
	if history != nil {
		go func() { errCh <- control.Listen(ctx, controlSrc, history) }()
	}
	if cfg.ServerPort > 0 {
		server := api.NewServer(api.Options{
			Config: configMgr,
			Hub:    hub,
			Store:  db,
			Feed:   adapter,
			MJPEG:  mjpegOut,
			Stats: func() api.Stats {
				st := api.Stats{
					Model:    profile.Name.String(),
					Uptime:   time.Since(started).Round(time.Second).String(),
					Pipeline: pl.Counters(),
					Ingest:   in.Counters(),
					Publish:  adapter.Counters(),
				}
				if timing {
					st.Timing = pl.Timing()
				}
				return st
			},
		})
		go func() { errCh <- server.Run(ctx, cfg.ServerPort) }()
	}

	log.Info().
		Str("model", profile.Name.String()).
		Str("category", profile.Category.String()).
		Str("camera", camera).
		Str("image_channel", imageName).
		Str("data_channel", dataName).
		Int("port", cfg.ServerPort).
		Bool("debug", debug).
		Bool("timing", timing).
		Msg("✅ tfliteserver is running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, pipe.ErrClosed) {
			log.Error().Err(runErr).Msg("Component failed, shutting down")
		}
	}

	stop()
	pl.Stop()
	if recorder != nil {
		<-recorder.Done()
	}
	if errors.Is(runErr, pipe.ErrClosed) {
		return nil
	}
	return runErr
}
