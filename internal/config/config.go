package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/model"
)

// Config represents the server configuration
type Config struct {
	SkipNFrames      int    `json:"skip_n_frames" yaml:"skip_n_frames"`
	Model            string `json:"model" yaml:"model"`
	ModelName        string `json:"model_name,omitempty" yaml:"model_name"`
	ModelCategory    string `json:"model_category,omitempty" yaml:"model_category"`
	Normalization    string `json:"normalization,omitempty" yaml:"normalization"`
	InputPipe        string `json:"input_pipe" yaml:"input_pipe"`
	ControlInputPipe string `json:"control_input_pipe,omitempty" yaml:"control_input_pipe"`
	Delegate         string `json:"delegate" yaml:"delegate"`
	NumThreads       int    `json:"num_threads,omitempty" yaml:"num_threads"`
	RequiresLabels   bool   `json:"requires_labels" yaml:"requires_labels"`
	Labels           string `json:"labels" yaml:"labels"`
	AllowMultiple    bool   `json:"allow_multiple" yaml:"allow_multiple"`
	OutputPipePrefix string `json:"output_pipe_prefix" yaml:"output_pipe_prefix"`

	QueueLimit  int   `json:"queue_limit,omitempty" yaml:"queue_limit"`
	CPUAffinity []int `json:"cpu_affinity,omitempty" yaml:"cpu_affinity"`

	ServerPort   int    `json:"server_port,omitempty" yaml:"server_port"`
	LogLevel     string `json:"log_level,omitempty" yaml:"log_level"`
	PIDFile      string `json:"pid_file,omitempty" yaml:"pid_file"`
	RecordDB     string `json:"record_db,omitempty" yaml:"record_db"`
	MJPEGQuality int    `json:"mjpeg_quality,omitempty" yaml:"mjpeg_quality"`

	Camera CameraConfig `json:"camera" yaml:"camera"`
	MQTT   MQTTConfig   `json:"mqtt" yaml:"mqtt"`
}

// CameraConfig configures v4l2:// inputs.
type CameraConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	FPS    int `json:"fps" yaml:"fps"`
}

// MQTTConfig configures the detection mirror. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	QoS      int    `json:"qos" yaml:"qos"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		SkipNFrames:      0,
		Model:            "/usr/bin/dnn/ssdlite_mobilenet_v2_coco.tflite",
		InputPipe:        "/run/mpa/hires_small_color/",
		ControlInputPipe: "/run/mpa/control_out",
		Delegate:         "gpu",
		NumThreads:       4,
		RequiresLabels:   true,
		Labels:           "/usr/bin/dnn/coco_labels.txt",
		AllowMultiple:    false,
		OutputPipePrefix: "mobilenet",
		QueueLimit:       1,
		CPUAffinity:      []int{4, 5, 6},
		ServerPort:       8080,
		LogLevel:         "info",
		PIDFile:          "/run/tfliteserver.pid",
		MJPEGQuality:     80,
		Camera: CameraConfig{
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		MQTT: MQTTConfig{
			Topic:    "tflite/detections",
			ClientID: "tfliteserver",
		},
	}
}

// clone returns a deep copy
func (c *Config) clone() *Config {
	cp := *c
	cp.CPUAffinity = append([]int(nil), c.CPUAffinity...)
	return &cp
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.SkipNFrames < 0 {
		errs = append(errs, fmt.Errorf("skip_n_frames must be >= 0, got %d", c.SkipNFrames))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.InputPipe == "" {
		errs = append(errs, errors.New("input_pipe is required"))
	}
	switch strings.ToLower(c.Delegate) {
	case "gpu", "cpu", "nnapi":
	default:
		errs = append(errs, fmt.Errorf("delegate must be gpu, cpu or nnapi, got %q", c.Delegate))
	}
	if c.NumThreads < 1 {
		errs = append(errs, fmt.Errorf("num_threads must be >= 1, got %d", c.NumThreads))
	}
	if c.RequiresLabels && c.Labels == "" {
		errs = append(errs, errors.New("labels is required when requires_labels is set"))
	}
	if c.AllowMultiple && c.OutputPipePrefix == "" {
		errs = append(errs, errors.New("output_pipe_prefix is required when allow_multiple is set"))
	}
	if c.QueueLimit < 1 {
		errs = append(errs, fmt.Errorf("queue_limit must be >= 1, got %d", c.QueueLimit))
	}
	for _, cpu := range c.CPUAffinity {
		if cpu < 0 {
			errs = append(errs, fmt.Errorf("cpu_affinity entries must be >= 0, got %d", cpu))
		}
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port out of range: %d", c.ServerPort))
	}
	switch c.LogLevel {
	case string(logger.DebugLevel), string(logger.InfoLevel), string(logger.WarnLevel), string(logger.ErrorLevel):
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel))
	}
	if c.MJPEGQuality < 1 || c.MJPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("mjpeg_quality must be 1-100, got %d", c.MJPEGQuality))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 || c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera size and fps must be positive, got %dx%d@%d", c.Camera.Width, c.Camera.Height, c.Camera.FPS))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if _, err := c.Profile(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Profile resolves the model architecture from the model file name, then
// applies any explicit model_name, model_category and normalization.
func (c *Config) Profile() (model.Profile, error) {
	p := model.Resolve(c.Model)
	if c.ModelName != "" {
		n, err := model.ParseName(c.ModelName)
		if err != nil {
			return p, err
		}
		p.Name = n
		p.Known = true
	}
	if c.ModelCategory != "" {
		cat, err := model.ParseCategory(c.ModelCategory)
		if err != nil {
			return p, err
		}
		p.Category = cat
	}
	if c.Normalization != "" {
		norm, err := model.ParseNormalization(c.Normalization)
		if err != nil {
			return p, err
		}
		p.Normalization = norm
	}
	return p, nil
}

// DelegateOption returns the parsed delegate.
func (c *Config) DelegateOption() engine.Delegate {
	return engine.ParseDelegate(c.Delegate)
}
