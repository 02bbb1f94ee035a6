// Package tflite is the TensorFlow Lite backend of engine.Engine.
package tflite

import (
	"fmt"

	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/xnnpack"
	"github.com/rs/zerolog"
)

// Engine wraps a TFLite interpreter.
type Engine struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	delegate    delegates.Delegater
	log         zerolog.Logger
}

// Load reads the model, attaches the requested delegate and allocates
// tensors. A delegate that cannot be attached is logged and the interpreter
// falls back to its built-in CPU kernels.
func Load(opts engine.Options) (engine.Engine, error) {
	log := *logger.WithComponent("tflite")

	model := tflite.NewModelFromFile(opts.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("failed to load model %s", opts.ModelPath)
	}

	options := tflite.NewInterpreterOptions()
	threads := opts.NumThreads
	if threads <= 0 {
		threads = 1
	}
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.Error().Str("source", "interpreter").Msg(msg)
	}, nil)

	e := &Engine{model: model, options: options, log: log}
	e.delegate = attachDelegate(options, opts.Delegate, threads, log)

	e.interpreter = tflite.NewInterpreter(model, options)
	if e.interpreter == nil {
		e.Close()
		return nil, fmt.Errorf("failed to build interpreter for %s", opts.ModelPath)
	}
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		e.Close()
		return nil, fmt.Errorf("failed to allocate tensors: status %v", status)
	}

	log.Info().
		Str("model", opts.ModelPath).
		Str("delegate", opts.Delegate.String()).
		Int("threads", threads).
		Int("inputs", e.InputCount()).
		Int("outputs", e.OutputCount()).
		Msg("Model loaded")
	return e, nil
}

func attachDelegate(options *tflite.InterpreterOptions, d engine.Delegate, threads int, log zerolog.Logger) delegates.Delegater {
	var delegate delegates.Delegater
	switch d {
	case engine.DelegateCPU:
		delegate = xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(threads)})
	case engine.DelegateNNAPI:
		delegate = nnapiDelegate(log)
	default:
		// go-tflite has no GPU delegate binding.
		log.Warn().Msg("GPU delegate is not available in this build, using CPU kernels")
		return nil
	}
	if delegate == nil {
		log.Warn().Str("delegate", d.String()).Msg("Failed to create delegate, using CPU kernels")
		return nil
	}
	options.AddDelegate(delegate)
	return delegate
}

func (e *Engine) InputCount() int  { return e.interpreter.GetInputTensorCount() }
func (e *Engine) OutputCount() int { return e.interpreter.GetOutputTensorCount() }

func (e *Engine) Input(i int) engine.Tensor {
	t := e.interpreter.GetInputTensor(i)
	if t == nil {
		return nil
	}
	return tensor{t}
}

func (e *Engine) Output(i int) engine.Tensor {
	t := e.interpreter.GetOutputTensor(i)
	if t == nil {
		return nil
	}
	return tensor{t}
}

// Invoke runs the model once.
func (e *Engine) Invoke() error {
	if status := e.interpreter.Invoke(); status != tflite.OK {
		return fmt.Errorf("invoke failed: status %v", status)
	}
	return nil
}

// Close releases the interpreter, delegate and model in that order.
func (e *Engine) Close() error {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.delegate != nil {
		e.delegate.Delete()
		e.delegate = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	e.log.Debug().Msg("Engine released")
	return nil
}

type tensor struct {
	t *tflite.Tensor
}

func (t tensor) Name() string { return t.t.Name() }

func (t tensor) Type() engine.TensorType {
	switch t.t.Type() {
	case tflite.Float32:
		return engine.Float32
	case tflite.UInt8:
		return engine.UInt8
	case tflite.Int8:
		return engine.Int8
	case tflite.Int32:
		return engine.Int32
	case tflite.Int64:
		return engine.Int64
	default:
		return engine.Unknown
	}
}

func (t tensor) Shape() []int {
	shape := make([]int, t.t.NumDims())
	for i := range shape {
		shape[i] = t.t.Dim(i)
	}
	return shape
}

func (t tensor) Float32s() []float32 { return t.t.Float32s() }
func (t tensor) UInt8s() []uint8     { return t.t.UInt8s() }
func (t tensor) Int8s() []int8       { return t.t.Int8s() }
func (t tensor) Int32s() []int32     { return t.t.Int32s() }
func (t tensor) Int64s() []int64     { return t.t.Int64s() }
