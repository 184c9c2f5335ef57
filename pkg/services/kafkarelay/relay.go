/*
Package kafkarelay forwards domain events to a Kafka topic. It's an ordinary
event bus subscriber, so it's subject to the same lossy delivery as websocket
clients and never slows the simulation down.
*/
package kafkarelay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/nspcc-dev/nexa-sim/pkg/event"
	"github.com/nspcc-dev/nexa-sim/pkg/pubsub"
	"github.com/segmentio/kafka-go"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// MessageWriter is the part of kafka.Writer used by the Relay.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay copies bus events to Kafka.
type Relay struct {
	config  config.Kafka
	bus     *pubsub.Bus
	writer  MessageWriter
	log     *zap.Logger
	started *atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const defaultWriteTimeout = 5 * time.Second

// New creates a Relay writing to the configured brokers.
func New(cfg config.Kafka, bus *pubsub.Bus, log *zap.Logger) *Relay {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
	}
	return NewWithWriter(cfg, bus, w, log)
}

// NewWithWriter creates a Relay using the given writer.
func NewWithWriter(cfg config.Kafka, bus *pubsub.Bus, w MessageWriter, log *zap.Logger) *Relay {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Relay{
		config:  cfg,
		bus:     bus,
		writer:  w,
		log:     log.With(zap.String("service", "kafka"), zap.String("topic", cfg.Topic)),
		started: atomic.NewBool(false),
	}
}

// Name returns service name.
func (r *Relay) Name() string {
	return "kafka"
}

// Start subscribes to the bus and starts relaying events in a separate
// goroutine. Events published before Start are not relayed.
func (r *Relay) Start() {
	if !r.config.Enabled {
		r.log.Info("kafka relay is not enabled")
		return
	}
	if !r.started.CompareAndSwap(false, true) {
		r.log.Info("kafka relay already started")
		return
	}
	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())
	sub := r.bus.Subscribe()
	r.wg.Add(1)
	go r.run(ctx, sub)
	r.log.Info("kafka relay started", zap.Strings("brokers", r.config.Brokers))
}

// Shutdown stops the relay and closes the writer.
func (r *Relay) Shutdown() {
	if !r.started.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	r.wg.Wait()
	if err := r.writer.Close(); err != nil {
		r.log.Warn("failed to close kafka writer", zap.Error(err))
	}
	r.log.Info("kafka relay stopped")
}

func (r *Relay) run(ctx context.Context, sub *pubsub.Subscription) {
	defer r.wg.Done()
	defer sub.Close()
	for {
		e, missed, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pubsub.ErrClosed) {
				r.log.Error("event subscription failed", zap.Error(err))
			}
			return
		}
		if missed != 0 {
			r.log.Warn("relay is too slow, events missed", zap.Uint64("count", missed))
			r.relay(ctx, event.Missed{Count: missed})
		}
		r.relay(ctx, e)
	}
}

// relay writes a single event, failures are logged and the event is lost.
func (r *Relay) relay(ctx context.Context, e event.Event) {
	data, err := event.Encode(e)
	if err != nil {
		r.log.Error("failed to encode event, skipping", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ID().String()),
		Value: data,
	})
	if err != nil {
		relayFailures.Inc()
		r.log.Warn("failed to relay event", zap.Stringer("event", e.ID()), zap.Error(err))
		return
	}
	relayedEvents.Inc()
}
