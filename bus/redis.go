package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/encodeous/tasknet/state"
	"github.com/redis/go-redis/v9"
)

// RedisTransport maps topics onto redis pub/sub channels so nodes on different robots can talk.
type RedisTransport struct {
	client redis.UniversalClient
	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{
		client: client,
		subs:   make(map[*redisSub]struct{}),
	}
}

func DialRedis(ctx context.Context, cfg state.BusCfg) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisTransport(client), nil
}

type redisSub struct {
	t    *RedisTransport
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

func (r *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *RedisTransport) Subscribe(ctx context.Context, topic string, handler func([]byte)) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, topic)
	// wait for the subscription to be confirmed so no message published after we return is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	sub := &redisSub{t: r, ps: ps, done: make(chan struct{})}
	ch := ps.Channel(redis.WithChannelSize(state.QueueSize))
	go func() {
		defer close(sub.done)
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	return sub, nil
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		s.t.mu.Lock()
		delete(s.t.subs, s)
		s.t.mu.Unlock()
		err = s.ps.Close()
	})
	<-s.done
	return err
}

func (r *RedisTransport) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSub, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return r.client.Close()
}
