package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	obs "github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
)

// ViewportSink receives decoded viewport changes; *fetcher.Fetcher
// implements it.
type ViewportSink interface {
	OnViewportChanged(vp model.Viewport) bool
}

type ConsumerConfig struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

func DefaultConsumerConfig(brokers, topic, group string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:          SplitBrokers(brokers),
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		DedupeSize:       4096,
	}
}

func SplitBrokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Consumer struct {
	cfg    ConsumerConfig
	logger *slog.Logger
	sink   ViewportSink
	seq    *seqDedupe
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger, sink ViewportSink) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		seq:    newSeqDedupe(cfg.DedupeSize),
	}
}

// Start consumes viewport events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.sink == nil {
		return errors.New("events: missing viewport sink")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" {
		return errors.New("events: brokers and topic are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, logger: c.logger}

	c.logger.Info("viewport consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.logger.Error("viewport consumer error", "err", err, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("viewport consumer shutting down")
			return nil
		}
	}
}

// ProcessOne decodes one message and hands the viewport to the sink.
// Undecodable or invalid payloads return an error wrapping ErrInvalidEvent.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev ViewportEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncViewportEvent(obs.ViewportInvalid)
		return fmt.Errorf("%w: json decode: %w", ErrInvalidEvent, err)
	}
	vp, err := ev.Viewport()
	if err != nil {
		obs.IncViewportEvent(obs.ViewportInvalid)
		return err
	}
	if !c.seq.shouldApply(ev.Client, ev.Seq) {
		c.logger.DebugContext(ctx, "stale viewport event skipped",
			"client", ev.Client, "seq", ev.Seq, "offset", msg.Offset)
		return nil
	}
	scheduled := c.sink.OnViewportChanged(vp)
	c.logger.DebugContext(ctx, "viewport event applied",
		"zoom", vp.Zoom, "scheduled", scheduled, "partition", msg.Partition, "offset", msg.Offset)
	return nil
}
