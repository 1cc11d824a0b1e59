// Package bus carries control and status messages between nodes over a named-topic transport.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/encodeous/tasknet/perf"
	"github.com/encodeous/tasknet/state"
)

var ErrClosed = errors.New("bus closed")

// Transport moves opaque frames between topics. Delivery is at-least-once and unordered
// across publishers; each subscription queue is bounded.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) (Subscription, error)
	Close() error
}

type Subscription interface {
	// Close stops delivery and waits for an in-flight handler to return.
	// It must not be called from inside the handler.
	Close() error
}

// Bus is the typed view of a Transport.
type Bus struct {
	t      Transport
	prefix string
	log    *slog.Logger
}

func New(t Transport, prefix string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{t: t, prefix: prefix, log: log}
}

// Open creates the transport selected by cfg.
func Open(ctx context.Context, cfg state.BusCfg, log *slog.Logger) (*Bus, error) {
	switch cfg.Kind {
	case state.BusMemory, "":
		return New(NewMemoryTransport(), cfg.Prefix, log), nil
	case state.BusRedis:
		t, err := DialRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return New(t, cfg.Prefix, log), nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}

func (b *Bus) topic(t string) string {
	return b.prefix + t
}

func (b *Bus) PublishControl(ctx context.Context, topic string, msg state.ControlMessage) error {
	perf.MessagesSent.Add(1)
	return b.t.Publish(ctx, b.topic(topic), EncodeControl(msg))
}

func (b *Bus) PublishStatus(ctx context.Context, topic string, msg state.StatusMessage) error {
	perf.MessagesSent.Add(1)
	return b.t.Publish(ctx, b.topic(topic), EncodeStatus(msg))
}

func (b *Bus) SubscribeControl(ctx context.Context, topic string, h func(state.ControlMessage)) (Subscription, error) {
	return b.t.Subscribe(ctx, b.topic(topic), func(payload []byte) {
		perf.MessagesReceived.Add(1)
		msg, err := DecodeControl(payload)
		if err != nil {
			perf.DecodeErrors.Add(1)
			b.log.Warn("dropping malformed control message", "topic", topic, "error", err)
			return
		}
		h(msg)
	})
}

func (b *Bus) SubscribeStatus(ctx context.Context, topic string, h func(state.StatusMessage)) (Subscription, error) {
	return b.t.Subscribe(ctx, b.topic(topic), func(payload []byte) {
		perf.MessagesReceived.Add(1)
		msg, err := DecodeStatus(payload)
		if err != nil {
			perf.DecodeErrors.Add(1)
			b.log.Warn("dropping malformed status message", "topic", topic, "error", err)
			return
		}
		h(msg)
	})
}

func (b *Bus) Close() error {
	return b.t.Close()
}
