package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/hv-route-sync/internal/fetcher"
)

// Publisher sends refresh notifications without blocking the refresh path.
// Events are dropped when the queue is full.
type Publisher struct {
	topic   string
	events  chan RefreshEvent
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewPublisherWithProducer(prod, topic, queueSize, logger), nil
}

func NewPublisherWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan RefreshEvent, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("refresh event marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.ID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("refresh event publish failed", "err", err)
			}
		}
	}()

	return p
}

// Publish queues ev. It reports false when the event was dropped.
func (p *Publisher) Publish(ev RefreshEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.events <- ev:
		return true
	default:
		p.logger.Warn("refresh event queue full, dropping", "id", ev.ID)
		return false
	}
}

// RefreshCompleted adapts a fetcher result into a RefreshEvent.
func (p *Publisher) RefreshCompleted(_ context.Context, res fetcher.Result) {
	p.Publish(FromResult(res))
}

func FromResult(res fetcher.Result) RefreshEvent {
	e := res.Viewport.Extent
	ev := RefreshEvent{
		ID:         res.ID,
		Zoom:       res.Viewport.Zoom,
		Extent:     [4]float64{e.XMin, e.YMin, e.XMax, e.YMax},
		Projection: res.Viewport.Projection,
		TS:         res.Started.UTC(),
	}
	for _, s := range res.Sources {
		lo := LayerOutcome{Layer: s.Layer, OK: s.Err == nil, DurationMS: s.Duration.Milliseconds()}
		if s.Err != nil {
			lo.Error = s.Err.Error()
		}
		ev.Layers = append(ev.Layers, lo)
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	return ev
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
