package tabsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisTopicPrefix = "sessync:"

// RedisChannel carries messages between processes over Redis pub/sub.
type RedisChannel struct {
	rdb       redis.UniversalClient
	topic     string
	mu        sync.Mutex
	ps        *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
}

func NewRedisChannel(rdb redis.UniversalClient, name string) *RedisChannel {
	return &RedisChannel{rdb: rdb, topic: redisTopicPrefix + name, done: make(chan struct{})}
}

// RedisFactory returns a ChannelFactory that opens channels on rdb.
func RedisFactory(rdb redis.UniversalClient) ChannelFactory {
	return func(name string) (Channel, error) {
		if rdb == nil {
			return nil, ErrUnsupported
		}
		return NewRedisChannel(rdb, name), nil
	}
}

func (c *RedisChannel) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	if err := c.rdb.Publish(ctx, c.topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", c.topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ps != nil {
		return nil, fmt.Errorf("channel %s is already subscribed", c.topic)
	}

	ps := c.rdb.Subscribe(ctx, c.topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	c.ps = ps

	out := make(chan []byte, endpointBuffer)
	in := ps.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-c.done:
					return
				}
			case <-c.done:
				return
			}
		}
	}()
	log.Debug().Str("topic", c.topic).Msg("Subscribed to Redis broadcast channel")
	return out, nil
}

func (c *RedisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ps != nil {
			err = c.ps.Close()
		}
	})
	return err
}
