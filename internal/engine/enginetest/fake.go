// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"errors"
	"sync"

	"github.com/bryanchriswhite/tfliteserver/internal/engine"
)

// ErrInvoke is returned by Invoke when the engine was told to fail.
var ErrInvoke = errors.New("enginetest: invoke failed")

// Tensor is a slice-backed tensor.
type Tensor struct {
	name  string
	typ   engine.TensorType
	shape []int

	f32 []float32
	u8  []uint8
	i8  []int8
	i32 []int32
	i64 []int64
}

// NewTensor allocates a zeroed tensor of the given type and shape.
func NewTensor(name string, typ engine.TensorType, shape ...int) *Tensor {
	t := &Tensor{name: name, typ: typ, shape: append([]int(nil), shape...)}
	n := 1
	for _, d := range shape {
		n *= d
	}
	switch typ {
	case engine.Float32:
		t.f32 = make([]float32, n)
	case engine.UInt8:
		t.u8 = make([]uint8, n)
	case engine.Int8:
		t.i8 = make([]int8, n)
	case engine.Int32:
		t.i32 = make([]int32, n)
	case engine.Int64:
		t.i64 = make([]int64, n)
	}
	return t
}

func (t *Tensor) Name() string            { return t.name }
func (t *Tensor) Type() engine.TensorType { return t.typ }
func (t *Tensor) Shape() []int            { return t.shape }
func (t *Tensor) Float32s() []float32     { return t.f32 }
func (t *Tensor) UInt8s() []uint8         { return t.u8 }
func (t *Tensor) Int8s() []int8           { return t.i8 }
func (t *Tensor) Int32s() []int32         { return t.i32 }
func (t *Tensor) Int64s() []int64         { return t.i64 }

// Engine is a fake engine whose outputs are filled by an optional hook.
type Engine struct {
	mu      sync.Mutex
	inputs  []*Tensor
	outputs []*Tensor

	// OnInvoke runs inside Invoke and may write the output tensors.
	OnInvoke func(inputs, outputs []*Tensor)
	// Fail makes Invoke return ErrInvoke.
	Fail bool

	invocations int
	closed      bool
}

// New returns an engine with the given input and output tensors.
func New(inputs []*Tensor, outputs []*Tensor) *Engine {
	return &Engine{inputs: inputs, outputs: outputs}
}

// ImageInput returns a 1xHxWxC tensor.
func ImageInput(typ engine.TensorType, h, w, c int) *Tensor {
	return NewTensor("input", typ, 1, h, w, c)
}

func (e *Engine) InputCount() int  { return len(e.inputs) }
func (e *Engine) OutputCount() int { return len(e.outputs) }

func (e *Engine) Input(i int) engine.Tensor {
	if i < 0 || i >= len(e.inputs) {
		return nil
	}
	return e.inputs[i]
}

func (e *Engine) Output(i int) engine.Tensor {
	if i < 0 || i >= len(e.outputs) {
		return nil
	}
	return e.outputs[i]
}

// Invoke counts the call and runs OnInvoke.
func (e *Engine) Invoke() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fail {
		return ErrInvoke
	}
	e.invocations++
	if e.OnInvoke != nil {
		e.OnInvoke(e.inputs, e.outputs)
	}
	return nil
}

// Invocations returns how many successful Invoke calls were made.
func (e *Engine) Invocations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invocations
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
