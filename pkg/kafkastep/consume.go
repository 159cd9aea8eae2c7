package kafkastep

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
)

// ConsumeConfig configures single and batch consume steps.
type ConsumeConfig struct {
	Common
	// Topic may contain {{ .key }} placeholders. Empty means the topic of
	// the last produce step in the scenario.
	Topic string
	// GroupID overrides the context and settings group id.
	GroupID string
	// Timeout overrides the settings consume timeout.
	Timeout time.Duration
	// Count is the number of messages a batch consume waits for.
	Count int
}

func (c ConsumeConfig) clone() ConsumeConfig {
	out := c
	out.Common = c.Common.clone()
	return out
}

// ConsumeStep reads one message.
type ConsumeStep struct {
	*scenario.Slot
	cfg         ConsumeConfig
	placeholder bool
}

// NewConsume creates a consume step for topic.
func NewConsume(topic string) *ConsumeStep {
	return &ConsumeStep{Slot: scenario.NewSlot(), cfg: ConsumeConfig{Topic: topic}}
}

func (s *ConsumeStep) Config() ConsumeConfig { return s.cfg.clone() }

// With returns an unexecuted copy of s with fn applied to its configuration.
func (s *ConsumeStep) With(fn func(*ConsumeConfig)) *ConsumeStep {
	cfg := s.cfg.clone()
	fn(&cfg)
	return &ConsumeStep{Slot: scenario.NewSlot(), cfg: cfg, placeholder: s.placeholder}
}

func (s *ConsumeStep) Name() string { return "consume " + topicLabel(s.cfg.Topic, s.placeholder) }

func (s *ConsumeStep) Execute(ctx context.Context, sc *scenario.Context) result.Result {
	return scenario.Run(s.Slot, func() result.Result {
		if s.placeholder {
			return result.Failed(&scenario.InvalidStateError{Expected: topicEntryPoint})
		}
		loop, topic, err := prepareConsume(ctx, sc, s.cfg, 1)
		if err != nil {
			return result.Failed(err).WithTopic(topic)
		}
		loop.run(ctx)

		switch loop.state {
		case stateSucceeded:
			res := toConsume(loop.msgs[0])
			res.ViaFallback = loop.viaFallback
			return res
		case stateTimedOut:
			lines, _ := loop.diags.snapshot()
			return result.TimedOut(topic, loop.timeout, lines)
		default:
			return result.Failed(loop.err).WithTopic(topic)
		}
	})
}

// BatchConsumeStep reads Count messages through one consumer.
type BatchConsumeStep struct {
	*scenario.Slot
	cfg         ConsumeConfig
	placeholder bool
}

// NewBatchConsume creates a step that waits for count messages on topic.
func NewBatchConsume(topic string, count int) *BatchConsumeStep {
	return &BatchConsumeStep{Slot: scenario.NewSlot(), cfg: ConsumeConfig{Topic: topic, Count: count}}
}

func (s *BatchConsumeStep) Config() ConsumeConfig { return s.cfg.clone() }

func (s *BatchConsumeStep) With(fn func(*ConsumeConfig)) *BatchConsumeStep {
	cfg := s.cfg.clone()
	fn(&cfg)
	return &BatchConsumeStep{Slot: scenario.NewSlot(), cfg: cfg, placeholder: s.placeholder}
}

func (s *BatchConsumeStep) Name() string {
	return fmt.Sprintf("consume %d from %s", s.cfg.Count, topicLabel(s.cfg.Topic, s.placeholder))
}

// Execute returns a *result.BatchConsume. A deadline that elapses before
// Count messages arrived yields a partial, unsuccessful batch.
func (s *BatchConsumeStep) Execute(ctx context.Context, sc *scenario.Context) result.Result {
	return scenario.Run(s.Slot, func() result.Result {
		if s.placeholder {
			return result.Failed(&scenario.InvalidStateError{Expected: topicEntryPoint})
		}
		if s.cfg.Count <= 0 {
			return result.Failed(&scenario.ConfigError{Err: fmt.Errorf("batch consume requires a positive count, got %d", s.cfg.Count)})
		}
		loop, topic, err := prepareConsume(ctx, sc, s.cfg, s.cfg.Count)
		if err != nil {
			return result.Failed(err).WithTopic(topic)
		}
		loop.run(ctx)

		if loop.state == stateFaulted {
			return result.Failed(loop.err).WithTopic(topic)
		}
		msgs := make([]*result.Consume, 0, len(loop.msgs))
		for _, m := range loop.msgs {
			c := toConsume(m)
			c.ViaFallback = loop.viaFallback
			msgs = append(msgs, c)
		}
		return result.NewBatchConsume(topic, s.cfg.Count, msgs)
	})
}

func prepareConsume(ctx context.Context, sc *scenario.Context, cfg ConsumeConfig, want int) (*consumeLoop, string, error) {
	topic, err := resolveTopic(cfg.Topic, sc)
	if err != nil {
		return nil, topic, err
	}
	e, err := cfg.Common.resolve(ctx, sc)
	if err != nil {
		return nil, topic, err
	}

	groupID := resolveGroupID(cfg.GroupID, sc, e.settings)
	sc.Set(LastGroupIDKey, groupID)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = e.settings.Kafka.ConsumeTimeout.D()
	}

	loop := newConsumeLoop(e.factory, ConsumerConfig{
		ClientConfig: e.client,
		Topic:        topic,
		GroupID:      groupID,
	}, timeout, want)
	return loop, topic, nil
}

func toConsume(m kafka.Message) *result.Consume {
	var headers map[string]string
	if len(m.Headers) > 0 {
		headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return result.NewConsume(m.Topic, m.Partition, m.Offset, m.Time, m.Key, m.Value, headers)
}

func topicLabel(topic string, placeholder bool) string {
	if placeholder {
		return "(no topic)"
	}
	if topic == "" {
		return "(last produced topic)"
	}
	return topic
}
