package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "detections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func det(name string, frameID int32) detection.Detection {
	d := detection.New()
	d.Timestamp = 1000 + int64(frameID)
	d.FrameID = frameID
	d.ClassID = 3
	d.ClassName = name
	d.Camera = "hires"
	d.ClassConfidence = 0.75
	d.DetectionConfidence = detection.NotApplicable
	d.XMin, d.YMin, d.XMax, d.YMax = 1, 2, 30, 40
	return d
}

func TestInsertAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []detection.Detection{det("car", 1), det("person", 2), det("car", 3)}))
	require.NoError(t, s.Insert(ctx, nil))

	rows, err := s.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(3), rows[0].FrameID)
	assert.Equal(t, int32(2), rows[1].FrameID)
	if diff := cmp.Diff(det("car", 3), rows[0].Detection); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	cars, err := s.Recent(ctx, "car", 10)
	require.NoError(t, err)
	assert.Len(t, cars, 2)

	counts, err := s.CountByClass(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"car": 2, "person": 1}, counts)
}

func TestGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, []detection.Detection{det("dog", 7)}))

	rows, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	got, err := s.Get(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "dog", got.ClassName)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), []detection.Detection{det("cat", 1)}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	counts, err := s.CountByClass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["cat"])
}

func TestRecorder(t *testing.T) {
	s := openTemp(t)
	rec := NewRecorder(s, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	rec.Record([]detection.Detection{det("car", 1)})
	rec.Record(nil)
	rec.Record([]detection.Detection{det("car", 2), det("bus", 3)})

	require.Eventually(t, func() bool { return rec.Written() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-rec.Done()
	assert.Zero(t, rec.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	rec := NewRecorder(nil, 1)
	rec.Record([]detection.Detection{det("a", 1)})
	rec.Record([]detection.Detection{det("b", 2)})
	assert.Equal(t, uint64(1), rec.Dropped())
}
