package engine_test

import (
	"testing"

	"github.com/bryanchriswhite/tfliteserver/internal/engine"
	"github.com/bryanchriswhite/tfliteserver/internal/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDelegate(t *testing.T) {
	tests := []struct {
		in   string
		want engine.Delegate
	}{
		{"gpu", engine.DelegateGPU},
		{"cpu", engine.DelegateCPU},
		{" NNAPI ", engine.DelegateNNAPI},
		{"", engine.DelegateGPU},
		{"tpu", engine.DelegateGPU},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ParseDelegate(tt.in))
		})
	}
}

func TestDimsAndElements(t *testing.T) {
	in := enginetest.ImageInput(engine.UInt8, 300, 200, 3)
	h, w, c, err := engine.Dims(in)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 200, 3}, []int{h, w, c})
	assert.Equal(t, 180000, engine.Elements(in))
	assert.Len(t, in.UInt8s(), 180000)
	assert.Nil(t, in.Float32s())

	_, _, _, err = engine.Dims(enginetest.NewTensor("flat", engine.Float32, 20))
	assert.Error(t, err)
}

func TestFakeInvoke(t *testing.T) {
	out := enginetest.NewTensor("out", engine.Float32, 1, 3)
	e := enginetest.New(nil, []*enginetest.Tensor{out})
	e.OnInvoke = func(_, outputs []*enginetest.Tensor) {
		outputs[0].Float32s()[1] = 7
	}

	require.NoError(t, e.Invoke())
	assert.Equal(t, float32(7), e.Output(0).Float32s()[1])
	assert.Nil(t, e.Output(1))

	e.Fail = true
	assert.ErrorIs(t, e.Invoke(), enginetest.ErrInvoke)
	assert.Equal(t, 1, e.Invocations())
}
