package tabsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupported is returned by a ChannelFactory when no broadcast primitive
// is available. A bus built on it degrades to no-op broadcasts.
var ErrUnsupported = errors.New("broadcast channel not supported")

// ErrChannelClosed is returned when publishing on a closed channel.
var ErrChannelClosed = errors.New("broadcast channel closed")

// Channel is a named publish/subscribe primitive shared by sibling instances.
// A publisher may receive its own messages.
type Channel interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe starts delivery. Messages published after it returns are
	// delivered in publish order.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// ChannelFactory opens the channel called name.
type ChannelFactory func(name string) (Channel, error)

const endpointBuffer = 64

// Hub is an in-process broadcast medium. Every channel opened with the same
// name on one hub sees the messages of the others.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*hubChannel]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*hubChannel]struct{})}
}

// Channel opens a new endpoint on the topic name. It satisfies ChannelFactory.
func (h *Hub) Channel(name string) (Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name is empty")
	}
	return &hubChannel{hub: h, name: name, done: make(chan struct{})}, nil
}

func (h *Hub) endpoints(name string) []*hubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := make([]*hubChannel, 0, len(h.topics[name]))
	for c := range h.topics[name] {
		list = append(list, c)
	}
	return list
}

type hubChannel struct {
	hub       *Hub
	name      string
	mu        sync.Mutex
	ch        chan []byte
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func (c *hubChannel) Subscribe(context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	if c.ch != nil {
		return nil, fmt.Errorf("channel %q is already subscribed", c.name)
	}
	c.ch = make(chan []byte, endpointBuffer)

	c.hub.mu.Lock()
	if c.hub.topics[c.name] == nil {
		c.hub.topics[c.name] = make(map[*hubChannel]struct{})
	}
	c.hub.topics[c.name][c] = struct{}{}
	c.hub.mu.Unlock()
	return c.ch, nil
}

func (c *hubChannel) Publish(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	for _, peer := range c.hub.endpoints(c.name) {
		msg := append([]byte(nil), payload...)
		select {
		case peer.ch <- msg:
		case <-peer.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *hubChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.hub.mu.Lock()
		delete(c.hub.topics[c.name], c)
		if len(c.hub.topics[c.name]) == 0 {
			delete(c.hub.topics, c.name)
		}
		c.hub.mu.Unlock()
		close(c.done)
	})
	return nil
}

// Unsupported is a ChannelFactory for environments without a broadcast medium.
func Unsupported(string) (Channel, error) { return nil, ErrUnsupported }
