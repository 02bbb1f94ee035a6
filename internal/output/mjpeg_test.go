package output

import (
	"bufio"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMJPEGLifecycle(t *testing.T) {
	m := NewMJPEGOutput(Config{Quality: 0})
	assert.Equal(t, DefaultQuality, m.config.Quality)

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	assert.Error(t, m.WriteFrame(img))

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	assert.True(t, m.IsRunning())

	// no viewers, nothing encoded
	require.NoError(t, m.WriteFrame(img))
	assert.Zero(t, m.FrameCount())

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestMJPEGStreamsToClient(t *testing.T) {
	m := NewMJPEGOutput(Config{Quality: 50})
	require.NoError(t, m.Start())
	defer m.Stop()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 8, 8))))
	assert.Equal(t, uint64(1), m.FrameCount())

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
}

func TestViewerPage(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMJPEGOutput(Config{}).GetViewerHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), `<img src="/stream"`)
}

func TestSlowViewerDropsFrames(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())

	v, ok := m.attach("test")
	require.True(t, ok)

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < viewerBuffer+3; i++ {
		require.NoError(t, m.WriteFrame(img))
	}

	stats := m.Viewers()
	require.Len(t, stats, 1)
	assert.Equal(t, v.id.String(), stats[0].ID)
	assert.Equal(t, uint64(3), stats[0].Dropped)

	require.NoError(t, m.Stop())
	_, open := <-v.frames
	for open {
		_, open = <-v.frames
	}
	assert.Zero(t, m.ClientCount())

	// detach after Stop must not close twice
	m.detach(v)

	_, ok = m.attach("late")
	assert.False(t, ok)
}
