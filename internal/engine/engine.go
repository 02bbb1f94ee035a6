// Package engine defines the tensor execution engine the models run on.
//
// The production backend lives in engine/tflite; tests use the in-memory
// engine from engine/enginetest.
package engine

import (
	"fmt"
	"strings"
)

// TensorType is the element type of a tensor.
type TensorType int

const (
	Unknown TensorType = iota
	Float32
	UInt8
	Int8
	Int32
	Int64
)

// String returns the lower-case element type name.
func (t TensorType) String() string {
	switch t {
	case Float32:
		return "float32"
	case UInt8:
		return "uint8"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// Tensor is an input or output buffer owned by an Engine. The typed
// accessors return the engine's backing storage; writes to an input slice
// are seen by the next Invoke. An accessor that does not match Type returns
// nil.
type Tensor interface {
	Name() string
	Type() TensorType
	Shape() []int
	Float32s() []float32
	UInt8s() []uint8
	Int8s() []int8
	Int32s() []int32
	Int64s() []int64
}

// Engine runs a loaded model.
type Engine interface {
	InputCount() int
	Input(i int) Tensor
	OutputCount() int
	Output(i int) Tensor
	Invoke() error
	Close() error
}

// Delegate selects the hardware backend an engine should attach.
type Delegate int

const (
	DelegateGPU Delegate = iota
	DelegateCPU
	DelegateNNAPI
)

// ParseDelegate maps a config value to a Delegate. Unrecognized values
// select the GPU delegate.
func ParseDelegate(s string) Delegate {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return DelegateCPU
	case "nnapi":
		return DelegateNNAPI
	default:
		return DelegateGPU
	}
}

func (d Delegate) String() string {
	switch d {
	case DelegateCPU:
		return "cpu"
	case DelegateNNAPI:
		return "nnapi"
	default:
		return "gpu"
	}
}

// Options configures engine construction.
type Options struct {
	ModelPath  string
	Delegate   Delegate
	NumThreads int
}

// Loader builds an Engine from Options.
type Loader func(Options) (Engine, error)

// Dims returns the height, width and channel count of an NHWC image tensor.
func Dims(t Tensor) (height, width, channels int, err error) {
	shape := t.Shape()
	if len(shape) != 4 {
		return 0, 0, 0, fmt.Errorf("tensor %q: expected 4 dims, got %v", t.Name(), shape)
	}
	return shape[1], shape[2], shape[3], nil
}

// Elements returns the element count of a tensor.
func Elements(t Tensor) int {
	n := 1
	for _, d := range t.Shape() {
		n *= d
	}
	return n
}
