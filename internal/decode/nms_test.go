package decode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	a := Box{X: 0, Y: 0, W: 10, H: 10}
	assert.Equal(t, float32(1), IoU(a, a))
	assert.Equal(t, float32(0), IoU(a, Box{X: 20, Y: 20, W: 5, H: 5}))
	assert.Equal(t, float32(0.5), IoU(a, Box{X: 0, Y: 0, W: 10, H: 5}))
	assert.Equal(t, float32(0), IoU(Box{}, Box{}))
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	boxes := []Box{
		{ClassID: 0, Score: 0.6, X: 1, Y: 1, W: 10, H: 10},
		{ClassID: 0, Score: 0.9, X: 0, Y: 0, W: 10, H: 10},
		{ClassID: 1, Score: 0.8, X: 50, Y: 50, W: 10, H: 10},
	}
	kept := NMS(boxes, 0.5, false)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, float32(0.8), kept[1].Score)
}

func TestNMSIdempotent(t *testing.T) {
	boxes := []Box{
		{Score: 0.9, X: 0, Y: 0, W: 10, H: 10},
		{Score: 0.85, X: 2, Y: 2, W: 10, H: 10},
		{Score: 0.7, X: 5, Y: 0, W: 10, H: 10},
		{Score: 0.6, X: 30, Y: 30, W: 8, H: 8},
		{Score: 0.5, X: 31, Y: 31, W: 8, H: 8},
	}
	once := NMS(boxes, 0.5, false)
	twice := NMS(once, 0.5, false)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second NMS pass changed the result (-once +twice):\n%s", diff)
	}
}

func TestNMSThresholdIsStrict(t *testing.T) {
	// IoU of these two is exactly 0.5.
	boxes := []Box{
		{Score: 0.9, X: 0, Y: 0, W: 10, H: 10},
		{Score: 0.8, X: 0, Y: 0, W: 10, H: 5},
	}
	require.Equal(t, float32(0.5), IoU(boxes[0], boxes[1]))

	assert.Len(t, NMS(boxes, 0.5, false), 2)
	assert.Len(t, NMS(boxes, 0.49, false), 1)
}

func TestNMSPerClass(t *testing.T) {
	boxes := []Box{
		{ClassID: 0, Score: 0.9, X: 0, Y: 0, W: 10, H: 10},
		{ClassID: 1, Score: 0.8, X: 0, Y: 0, W: 10, H: 10},
	}
	assert.Len(t, NMS(boxes, 0.5, true), 2)
	assert.Len(t, NMS(boxes, 0.5, false), 1)
}

func TestNMSDoesNotMutateInput(t *testing.T) {
	boxes := []Box{{Score: 0.1}, {Score: 0.9, X: 100}}
	NMS(boxes, 0.5, false)
	assert.Equal(t, float32(0.1), boxes[0].Score)
}
