package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/bryanchriswhite/tfliteserver/internal/frame"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type demand bool

func (d demand) HasSubscribers() bool { return bool(d) }

func meta(size int) frame.Metadata {
	return frame.Metadata{Width: 1, Height: size, Format: frame.FormatRAW8, SizeBytes: size}
}

func TestSkipEveryNth(t *testing.T) {
	ring := frame.NewRing(4)
	in := New(ring, Policy{SkipN: 2}, demand(true))

	var got []Outcome
	for i := 0; i < 6; i++ {
		got = append(got, in.Handle(meta(1), []byte{0}, 0))
	}
	want := []Outcome{SkippedNth, SkippedNth, Accepted, SkippedNth, SkippedNth, Accepted}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(2), ring.Inserted())
}

func TestBacklogCountsTowardSkip(t *testing.T) {
	in := New(frame.NewRing(4), Policy{SkipN: 1}, demand(true))

	assert.Equal(t, SkippedNth, in.Handle(meta(1), []byte{0}, 0))
	assert.Equal(t, Backlogged, in.Handle(meta(1), []byte{0}, 100))
	// the backlogged frame used up the skip budget
	assert.Equal(t, Accepted, in.Handle(meta(1), []byte{0}, 0))
}

func TestNoSubscribers(t *testing.T) {
	ring := frame.NewRing(4)
	in := New(ring, Policy{}, demand(false))
	assert.Equal(t, NoSubscribers, in.Handle(meta(1), []byte{0}, 0))
	assert.Zero(t, ring.Inserted())

	in = New(ring, Policy{AlwaysCompute: true}, demand(false))
	assert.Equal(t, Accepted, in.Handle(meta(1), []byte{0}, 0))
}

func TestOversize(t *testing.T) {
	in := New(frame.NewRing(4), Policy{MaxFrameSize: 4}, nil)
	assert.Equal(t, Oversize, in.Handle(meta(5), make([]byte, 5), 0))
	assert.Equal(t, Accepted, in.Handle(meta(4), make([]byte, 4), 0))
}

type scripted struct {
	msgs    [][]byte
	pending int64
}

func (s *scripted) Recv(ctx context.Context) ([]byte, error) {
	if len(s.msgs) == 0 {
		return nil, context.Canceled
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *scripted) BytesPending() int64 { return s.pending }

func TestRunDecodesMessages(t *testing.T) {
	ring := frame.NewRing(4)
	in := New(ring, Policy{}, nil)

	good := frame.EncodeCameraFrame(meta(3), []byte{1, 2, 3})
	src := &scripted{msgs: [][]byte{good, []byte("junk"), good}}
	require.NoError(t, in.Run(context.Background(), src))

	c := in.Counters()
	assert.Equal(t, uint64(3), c.Received)
	assert.Equal(t, uint64(2), c.Accepted)
	assert.Equal(t, uint64(1), c.Malformed)

	var raw frame.RawFrame
	_, ok := ring.Read(0, &raw)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, raw.Pixels)
}

type failing struct{}

func (failing) Recv(context.Context) ([]byte, error) { return nil, errors.New("pipe gone") }
func (failing) BytesPending() int64                  { return 0 }

func TestRunReturnsSourceError(t *testing.T) {
	in := New(frame.NewRing(4), Policy{}, nil)
	assert.EqualError(t, in.Run(context.Background(), failing{}), "pipe gone")
}
