// Package pipe is the in-process message fabric frames and detections move
// over. A Hub holds named channels; each channel fans every message out to
// its subscribers without ever blocking the writer.
package pipe

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed channel or subscriber.
var ErrClosed = errors.New("pipe: closed")

// DefaultBuffer is the number of messages a subscriber may fall behind
// before new messages are dropped for it.
const DefaultBuffer = 16

// Writer accepts whole messages.
type Writer interface {
	Write(msg []byte) error
}

// Hub is a registry of named channels.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*Channel)}
}

// Channel returns the channel called name, creating it if needed.
func (h *Hub) Channel(name string) *Channel {
	h.mu.RLock()
	ch, ok := h.channels[name]
	h.mu.RUnlock()
	if ok {
		return ch
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok = h.channels[name]; ok {
		return ch
	}
	ch = newChannel(name)
	h.channels[name] = ch
	return ch
}

// Lookup returns an existing channel.
func (h *Hub) Lookup(name string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[name]
	return ch, ok
}

// Names lists the channels in lexical order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Stats returns per-channel counters.
func (h *Hub) Stats() []ChannelStats {
	var out []ChannelStats
	for _, name := range h.Names() {
		if ch, ok := h.Lookup(name); ok {
			out = append(out, ch.Stats())
		}
	}
	return out
}

// Close closes every channel.
func (h *Hub) Close() {
	h.mu.Lock()
	channels := h.channels
	h.channels = make(map[string]*Channel)
	h.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

// ChannelStats is a snapshot of one channel.
type ChannelStats struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
	Messages    uint64 `json:"messages"`
	Bytes       uint64 `json:"bytes"`
	Dropped     uint64 `json:"dropped"`
}

// Channel is one named message stream.
type Channel struct {
	name string

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscriber
	closed bool

	messages atomic.Uint64
	bytes    atomic.Uint64
}

func newChannel(name string) *Channel {
	return &Channel{name: name, subs: make(map[uuid.UUID]*Subscriber)}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Write delivers msg to every subscriber. Subscribers that are full miss
// the message. The slice is shared, so callers must not modify it after
// Write returns.
func (c *Channel) Write(msg []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	c.messages.Add(1)
	c.bytes.Add(uint64(len(msg)))
	for _, sub := range c.subs {
		sub.offer(msg)
	}
	return nil
}

// Subscribe registers a new subscriber with the given buffer depth.
func (c *Channel) Subscribe(buffer int) (*Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	sub := newSubscriber(buffer)
	sub.channel = c
	c.subs[sub.id] = sub
	logger.WithComponent("pipe").Debug().
		Str("channel", c.name).
		Str("subscriber", sub.id.String()).
		Int("subscribers", len(c.subs)).
		Msg("Subscriber added")
	return sub, nil
}

// Unsubscribe removes and closes a subscriber.
func (c *Channel) Unsubscribe(id uuid.UUID) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Subscribers returns the number of current subscribers.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := ChannelStats{
		Name:        c.name,
		Subscribers: len(c.subs),
		Messages:    c.messages.Load(),
		Bytes:       c.bytes.Load(),
	}
	for _, sub := range c.subs {
		st.Dropped += sub.Dropped()
	}
	return st
}

// Close closes the channel and all of its subscribers.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[uuid.UUID]*Subscriber)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// Subscriber receives the messages of one channel.
type Subscriber struct {
	id      uuid.UUID
	channel *Channel
	ch      chan []byte

	pending atomic.Int64
	dropped atomic.Uint64

	once sync.Once
	done chan struct{}
}

func newSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscriber{
		id:   uuid.New(),
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID returns the subscriber id.
func (s *Subscriber) ID() uuid.UUID { return s.id }

func (s *Subscriber) offer(msg []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- msg:
		s.pending.Add(int64(len(msg)))
	default:
		s.dropped.Add(1)
	}
}

// Recv blocks for the next message.
func (s *Subscriber) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.ch:
		s.pending.Add(-int64(len(msg)))
		return msg, nil
	default:
	}
	select {
	case msg := <-s.ch:
		s.pending.Add(-int64(len(msg)))
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BytesPending returns the size of the messages queued but not yet
// received.
func (s *Subscriber) BytesPending() int64 {
	return s.pending.Load()
}

// Dropped returns how many messages were lost because the subscriber was
// full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscriber from its channel.
func (s *Subscriber) Close() error {
	if s.channel != nil {
		s.channel.Unsubscribe(s.id)
	} else {
		s.close()
	}
	return nil
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Tee writes every message to all writers.
type Tee []Writer

// Write writes msg to each writer and joins their errors.
func (t Tee) Write(msg []byte) error {
	var errs []error
	for _, w := range t {
		if err := w.Write(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
