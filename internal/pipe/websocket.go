package pipe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	// ModePublish makes a websocket client a writer on the channel.
	ModePublish = "pub"
	// ModeSubscribe makes a websocket client a reader of the channel.
	ModeSubscribe = "sub"

	writeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWebsocket exposes the channel called name over a websocket. The
// "mode" query parameter selects publishing ("pub") or subscribing ("sub",
// the default). Every binary websocket message is one pipe message.
func (h *Hub) ServeWebsocket(w http.ResponseWriter, r *http.Request, name string) {
	log := logger.WithComponent("pipe")
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = ModeSubscribe
	}
	if mode != ModePublish && mode != ModeSubscribe {
		http.Error(w, fmt.Sprintf("invalid mode %q", mode), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("channel", name).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := h.Channel(name)
	log.Info().Str("channel", name).Str("mode", mode).Str("remote", r.RemoteAddr).Msg("Pipe client connected")
	defer log.Info().Str("channel", name).Str("mode", mode).Str("remote", r.RemoteAddr).Msg("Pipe client disconnected")

	if mode == ModePublish {
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			if err := ch.Write(msg); err != nil {
				return
			}
		}
	}

	sub, err := ch.Subscribe(DefaultBuffer)
	if err != nil {
		return
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			log.Debug().Err(err).Str("channel", name).Msg("Pipe client write failed")
			return
		}
	}
}

// Remote is a connection to a channel served by another process.
type Remote struct {
	conn *websocket.Conn
	sub  *Subscriber

	writeMu sync.Mutex
	done    chan struct{}
	err     error
}

// Dial connects to a pipe URL such as ws://host:8080/pipes/name. mode is
// ModeSubscribe to read messages or ModePublish to write them.
func Dial(ctx context.Context, rawURL, mode string) (*Remote, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipe url: %w", err)
	}
	q := u.Query()
	q.Set("mode", mode)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial pipe %s: %w", rawURL, err)
	}

	r := &Remote{conn: conn, sub: newSubscriber(DefaultBuffer), done: make(chan struct{})}
	go r.readLoop(mode)
	return r, nil
}

func (r *Remote) readLoop(mode string) {
	defer close(r.done)
	defer r.sub.close()
	for {
		kind, msg, err := r.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
				r.err = err
			}
			return
		}
		if mode == ModeSubscribe && kind == websocket.BinaryMessage {
			r.sub.offer(msg)
		}
	}
}

// Recv returns the next message from the remote channel.
func (r *Remote) Recv(ctx context.Context) ([]byte, error) {
	return r.sub.Recv(ctx)
}

// BytesPending returns the size of received messages not yet consumed.
func (r *Remote) BytesPending() int64 {
	return r.sub.BytesPending()
}

// Write sends msg to the remote channel.
func (r *Remote) Write(msg []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Close sends a close frame and releases the connection.
func (r *Remote) Close() error {
	r.writeMu.Lock()
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	r.writeMu.Unlock()
	err := r.conn.Close()
	<-r.done
	return err
}

// Err returns the error that ended the connection once it is closed.
func (r *Remote) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
