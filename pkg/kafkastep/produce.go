package kafkastep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
)

// DefaultProduceTimeout bounds a produce step without an explicit timeout.
const DefaultProduceTimeout = 30 * time.Second

// Record is one key/value pair of a batch.
type Record struct {
	Key   any
	Value any
}

// ProduceConfig configures single and batch produce steps.
type ProduceConfig struct {
	Common
	// Topic may contain {{ .key }} placeholders.
	Topic   string
	Key     any
	Value   any
	Headers map[string]string
	// Records is the batch content. Single produce steps ignore it.
	Records []Record
	Timeout time.Duration
}

func (c ProduceConfig) clone() ProduceConfig {
	out := c
	out.Common = c.Common.clone()
	out.Headers = copyHeaders(c.Headers)
	out.Records = append([]Record(nil), c.Records...)
	return out
}

// ProduceStep writes one record.
type ProduceStep struct {
	*scenario.Slot
	cfg         ProduceConfig
	placeholder bool
}

// NewProduce creates a produce step for topic.
func NewProduce(topic string) *ProduceStep {
	return &ProduceStep{Slot: scenario.NewSlot(), cfg: ProduceConfig{Topic: topic}}
}

func (s *ProduceStep) Config() ProduceConfig { return s.cfg.clone() }

// With returns an unexecuted copy of s with fn applied to its configuration.
func (s *ProduceStep) With(fn func(*ProduceConfig)) *ProduceStep {
	cfg := s.cfg.clone()
	fn(&cfg)
	return &ProduceStep{Slot: scenario.NewSlot(), cfg: cfg, placeholder: s.placeholder}
}

func (s *ProduceStep) Name() string { return "produce " + topicLabel(s.cfg.Topic, s.placeholder) }

func (s *ProduceStep) Execute(ctx context.Context, sc *scenario.Context) result.Result {
	return scenario.Run(s.Slot, func() result.Result {
		if s.placeholder {
			return result.Failed(&scenario.InvalidStateError{Expected: topicEntryPoint})
		}
		key, err := encode(s.cfg.Key)
		if err != nil {
			return result.Failed(fmt.Errorf("key: %w", err))
		}
		value, err := encode(s.cfg.Value)
		if err != nil {
			return result.Failed(fmt.Errorf("value: %w", err))
		}

		p, topic, scope, err := prepareProduce(ctx, sc, s.cfg)
		if err != nil {
			return result.Failed(err).WithTopic(topic)
		}
		defer scope.close()

		msg := Message{Topic: topic, Key: key, Value: value, Headers: copyHeaders(s.cfg.Headers)}
		d, err := p.Send(scope.ctx, msg)
		logging.Debug("KafkaStep", "Produced to %s partition %d offset %d: %s", topic, d.Partition, d.Offset, d.Status)
		return result.NewProduce(topic, d.Partition, d.Offset, d.Timestamp, key, d.Status, err)
	})
}

// BatchProduceStep writes Records concurrently through one producer.
type BatchProduceStep struct {
	*scenario.Slot
	cfg         ProduceConfig
	placeholder bool
}

// NewBatchProduce creates a batch step for topic.
func NewBatchProduce(topic string, records ...Record) *BatchProduceStep {
	return &BatchProduceStep{
		Slot: scenario.NewSlot(),
		cfg:  ProduceConfig{Topic: topic, Records: append([]Record(nil), records...)},
	}
}

func (s *BatchProduceStep) Config() ProduceConfig { return s.cfg.clone() }

func (s *BatchProduceStep) With(fn func(*ProduceConfig)) *BatchProduceStep {
	cfg := s.cfg.clone()
	fn(&cfg)
	return &BatchProduceStep{Slot: scenario.NewSlot(), cfg: cfg, placeholder: s.placeholder}
}

func (s *BatchProduceStep) Name() string {
	return fmt.Sprintf("produce %d to %s", len(s.cfg.Records), topicLabel(s.cfg.Topic, s.placeholder))
}

// Execute returns a *result.BatchProduce with one delivery per record, in
// record order. Sends are not ordered among each other.
func (s *BatchProduceStep) Execute(ctx context.Context, sc *scenario.Context) result.Result {
	return scenario.Run(s.Slot, func() result.Result {
		if s.placeholder {
			return result.Failed(&scenario.InvalidStateError{Expected: topicEntryPoint})
		}
		if len(s.cfg.Records) == 0 {
			return result.Failed(&scenario.ConfigError{Err: fmt.Errorf("batch produce requires at least one record")})
		}

		msgs := make([]Message, len(s.cfg.Records))
		for i, r := range s.cfg.Records {
			key, err := encode(r.Key)
			if err != nil {
				return result.Failed(fmt.Errorf("record %d key: %w", i, err))
			}
			value, err := encode(r.Value)
			if err != nil {
				return result.Failed(fmt.Errorf("record %d value: %w", i, err))
			}
			msgs[i] = Message{Key: key, Value: value, Headers: copyHeaders(s.cfg.Headers)}
		}

		p, topic, scope, err := prepareProduce(ctx, sc, s.cfg)
		if err != nil {
			return result.Failed(err).WithTopic(topic)
		}
		defer scope.close()

		deliveries := make([]*result.Produce, len(msgs))
		// A failed send is recorded in its delivery and does not stop the others.
		var wg sync.WaitGroup
		for i := range msgs {
			msgs[i].Topic = topic
			wg.Go(func() {
				d, err := p.Send(scope.ctx, msgs[i])
				deliveries[i] = result.NewProduce(topic, d.Partition, d.Offset, d.Timestamp, msgs[i].Key, d.Status, err)
			})
		}
		wg.Wait()
		return result.NewBatchProduce(topic, deliveries)
	})
}

// produceScope owns the producer and deadline of one produce step.
type produceScope struct {
	ctx      context.Context
	cancel   context.CancelFunc
	producer Producer
}

func (p *produceScope) close() {
	p.cancel()
	if err := p.producer.Close(); err != nil {
		logging.Debug("KafkaStep", "Closing producer: %v", err)
	}
}

// prepareProduce resolves the topic and connection, creates the topic when
// settings allow it and returns a producer bound to the step deadline.
func prepareProduce(ctx context.Context, sc *scenario.Context, cfg ProduceConfig) (Producer, string, *produceScope, error) {
	topic, err := resolveTopic(cfg.Topic, sc)
	if err != nil {
		return nil, cfg.Topic, nil, err
	}
	e, err := cfg.Common.resolve(ctx, sc)
	if err != nil {
		return nil, topic, nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultProduceTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)

	if e.settings.Kafka.AutoCreate() {
		if err := e.factory.Admin(e.client).EnsureTopic(sendCtx, topic, e.settings.Kafka.Partitions); err != nil {
			cancel()
			return nil, topic, nil, err
		}
	}

	p := e.factory.Producer(e.client)
	sc.Set(LastProducedTopicKey, topic)
	return p, topic, &produceScope{ctx: sendCtx, cancel: cancel, producer: p}, nil
}
