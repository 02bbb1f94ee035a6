package frame

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushN(r *Ring, from, n int) {
	for i := from; i < from+n; i++ {
		r.Push(Metadata{FrameID: int32(i), Width: 1, Height: 1}, []byte{byte(i)})
	}
}

func TestRingOverwriteKeepsLastN(t *testing.T) {
	r := NewRing(DefaultRingCapacity)
	pushN(r, 0, DefaultRingCapacity+7)

	held := r.Snapshot()
	require.Len(t, held, DefaultRingCapacity)
	for i, f := range held {
		want := int32(7 + i)
		assert.Equal(t, want, f.Meta.FrameID)
		assert.Equal(t, []byte{byte(want)}, f.Pixels)
	}
}

func TestRingAvailableAndRead(t *testing.T) {
	r := NewRing(4)
	var dst RawFrame

	assert.False(t, r.Available(0))
	next, ok := r.Read(0, &dst)
	assert.False(t, ok)
	assert.Zero(t, next)

	pushN(r, 0, 2)
	assert.True(t, r.Available(0))

	next, ok = r.Read(0, &dst)
	require.True(t, ok)
	assert.EqualValues(t, 1, next)
	assert.EqualValues(t, 0, dst.Meta.FrameID)

	next, ok = r.Read(next, &dst)
	require.True(t, ok)
	assert.EqualValues(t, 1, dst.Meta.FrameID)
	assert.False(t, r.Available(next))
}

func TestRingLappedReaderSkipsForward(t *testing.T) {
	r := NewRing(4)
	pushN(r, 0, 10)

	var dst RawFrame
	next, ok := r.Read(0, &dst)
	require.True(t, ok)
	assert.EqualValues(t, 6, dst.Meta.FrameID)
	assert.EqualValues(t, 7, next)
	assert.EqualValues(t, 6, r.Lapped())
}

func TestRingReadCopiesPixels(t *testing.T) {
	r := NewRing(2)
	src := []byte{1, 2, 3}
	r.Push(Metadata{}, src)
	src[0] = 9

	var dst RawFrame
	_, ok := r.Read(0, &dst)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, dst.Pixels)
}

func TestRingWaitWakesOnPushAndClose(t *testing.T) {
	r := NewRing(2)

	woke := make(chan bool, 1)
	go func() { woke <- r.Wait(0) }()
	time.Sleep(10 * time.Millisecond)
	pushN(r, 0, 1)
	assert.True(t, <-woke)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.False(t, r.Wait(1))
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()
	wg.Wait()
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	r := NewRing(8)
	const total = 500

	done := make(chan struct{})
	var last int32 = -1
	go func() {
		defer close(done)
		var cursor uint64
		var dst RawFrame
		for r.Wait(cursor) {
			var ok bool
			cursor, ok = r.Read(cursor, &dst)
			if !ok {
				continue
			}
			// frames are observed in push order even when some are skipped
			assert.Greater(t, dst.Meta.FrameID, last)
			last = dst.Meta.FrameID
			if last == total-1 {
				return
			}
		}
	}()

	pushN(r, 0, total)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		r.Close()
		t.Fatal("consumer never saw the final frame")
	}
	assert.EqualValues(t, total-1, last)
}
