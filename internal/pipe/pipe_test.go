package pipe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFanOut(t *testing.T) {
	hub := NewHub()
	ch := hub.Channel("tflite")
	assert.Same(t, ch, hub.Channel("tflite"))

	a, err := ch.Subscribe(4)
	require.NoError(t, err)
	b, err := ch.Subscribe(4)
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Subscribers())

	require.NoError(t, ch.Write([]byte("hello")))
	ctx := context.Background()
	for _, sub := range []*Subscriber{a, b} {
		msg, err := sub.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(msg))
	}

	st := ch.Stats()
	assert.Equal(t, uint64(1), st.Messages)
	assert.Equal(t, uint64(5), st.Bytes)
	assert.Equal(t, []string{"tflite"}, hub.Names())
}

func TestSubscriberBacklog(t *testing.T) {
	ch := NewHub().Channel("cam")
	sub, err := ch.Subscribe(2)
	require.NoError(t, err)

	require.NoError(t, ch.Write(make([]byte, 10)))
	require.NoError(t, ch.Write(make([]byte, 20)))
	require.NoError(t, ch.Write(make([]byte, 30)))

	assert.Equal(t, int64(30), sub.BytesPending())
	assert.Equal(t, uint64(1), sub.Dropped())
	assert.Equal(t, uint64(1), ch.Stats().Dropped)

	msg, err := sub.Recv(context.Background())
	require.NoError(t, err)
	assert.Len(t, msg, 10)
	assert.Equal(t, int64(20), sub.BytesPending())
}

func TestUnsubscribeAndClose(t *testing.T) {
	hub := NewHub()
	ch := hub.Channel("cam")
	sub, err := ch.Subscribe(1)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.Zero(t, ch.Subscribers())
	_, err = sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	hub.Close()
	assert.ErrorIs(t, ch.Write([]byte{1}), ErrClosed)
	_, err = ch.Subscribe(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecvHonorsContext(t *testing.T) {
	sub, err := NewHub().Channel("cam").Subscribe(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type sliceWriter struct {
	msgs [][]byte
	err  error
}

func (w *sliceWriter) Write(msg []byte) error {
	w.msgs = append(w.msgs, msg)
	return w.err
}

func TestTee(t *testing.T) {
	ok := &sliceWriter{}
	bad := &sliceWriter{err: errors.New("down")}
	err := Tee{bad, ok}.Write([]byte("x"))
	assert.EqualError(t, err, "down")
	assert.Len(t, ok.msgs, 1)
	assert.Len(t, bad.msgs, 1)
}

func TestWebsocketRoundTrip(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWebsocket(w, r, "control_out")
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()

	reader, err := Dial(ctx, url, ModeSubscribe)
	require.NoError(t, err)
	defer reader.Close()
	require.Eventually(t, func() bool {
		return hub.Channel("control_out").Subscribers() == 1
	}, 2*time.Second, 5*time.Millisecond)

	writer, err := Dial(ctx, url, ModePublish)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Write([]byte{1, 2, 3}))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := reader.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, msg)
}

func TestWebsocketRejectsBadMode(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pipes/x?mode=both", nil)
	hub.ServeWebsocket(rec, req, "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeToken struct{ err error }

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f *fakeToken) Error() error { return f.err }

type fakeClient struct {
	mqtt.Client
	open     bool
	topics   []string
	payloads [][]byte
}

func (f *fakeClient) IsConnectionOpen() bool { return f.open }
func (f *fakeClient) Disconnect(uint)        { f.open = false }
func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return &fakeToken{}
}

func TestMQTTWriter(t *testing.T) {
	client := &fakeClient{open: true}
	w := newMQTTWriter(client, "tflite/detections", 0, logger.WithComponent("mqtt"))

	require.NoError(t, w.Write([]byte(`{"class":"cat"}`)))
	assert.Equal(t, []string{"tflite/detections"}, client.topics)
	assert.Equal(t, uint64(1), w.Published())

	client.open = false
	assert.Error(t, w.Write([]byte("x")))
	assert.Equal(t, uint64(1), w.Failed())
	assert.False(t, w.Connected())
	require.NoError(t, w.Close())
}

func TestMQTTOptionsValidation(t *testing.T) {
	_, err := NewMQTTWriter(MQTTOptions{Topic: "t"})
	assert.Error(t, err)
	_, err = NewMQTTWriter(MQTTOptions{Broker: "localhost:1883"})
	assert.Error(t, err)
	_, err = NewMQTTWriter(MQTTOptions{Broker: "localhost:1883", Topic: "t", QoS: 3})
	assert.Error(t, err)
}
