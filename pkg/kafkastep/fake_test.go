package kafkastep

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/giantswarm/given/pkg/result"
)

// fakeBroker is an in-memory ClientFactory.
type fakeBroker struct {
	mu           sync.Mutex
	partitions   int
	topics       map[string][][]kafka.Message
	created      []string
	lastConsumer ConsumerConfig

	// coordinatorDown makes group subscriptions log the coordinator error
	// and never deliver.
	coordinatorDown  bool
	subscribeErr     error
	fetchErr         error
	panicOnSubscribe bool
	rejectKeys       map[string]bool
	// loseCoordinatorAfter makes group consumers fail with
	// NotCoordinatorForGroup once they delivered that many messages.
	loseCoordinatorAfter int

	subscribed atomic.Int32
	assigned   atomic.Int32
	sends      atomic.Int32
}

func newFakeBroker(partitions int) *fakeBroker {
	return &fakeBroker{
		partitions: partitions,
		topics:     make(map[string][][]kafka.Message),
		rejectKeys: make(map[string]bool),
	}
}

func (b *fakeBroker) ensure(topic string) [][]kafka.Message {
	parts, ok := b.topics[topic]
	if !ok {
		parts = make([][]kafka.Message, b.partitions)
		b.topics[topic] = parts
	}
	return parts
}

// publish stores value directly, bypassing the producer.
func (b *fakeBroker) publish(topic string, values ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := b.ensure(topic)
	for i, v := range values {
		p := i % len(parts)
		parts[p] = append(parts[p], kafka.Message{
			Topic:     topic,
			Partition: p,
			Offset:    int64(len(parts[p])),
			Value:     []byte(v),
			Time:      time.Now(),
		})
	}
}

func (b *fakeBroker) messages(topic string) []kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []kafka.Message
	for _, p := range b.topics[topic] {
		out = append(out, p...)
	}
	return out
}

func (b *fakeBroker) consumerConfig() ConsumerConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastConsumer
}

func (b *fakeBroker) Subscribe(cfg ConsumerConfig) (Consumer, error) {
	if b.panicOnSubscribe {
		panic("client exploded")
	}
	b.subscribed.Add(1)
	b.mu.Lock()
	b.lastConsumer = cfg
	parts := len(b.ensure(cfg.Topic))
	b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	if b.coordinatorDown {
		cfg.ErrorLogger("failed to join group %s: %v", cfg.GroupID, kafka.GroupCoordinatorNotAvailable)
	}
	all := make([]int, parts)
	for i := range all {
		all[i] = i
	}
	c := b.consumer(cfg.Topic, all, b.coordinatorDown)
	c.failAfter = b.loseCoordinatorAfter
	return c, nil
}

func (b *fakeBroker) Assign(cfg ConsumerConfig, partitions []int) (Consumer, error) {
	b.assigned.Add(1)
	return b.consumer(cfg.Topic, partitions, false), nil
}

func (b *fakeBroker) consumer(topic string, partitions []int, stalled bool) *fakeConsumer {
	return &fakeConsumer{b: b, topic: topic, parts: partitions, pos: map[int]int{}, stalled: stalled}
}

func (b *fakeBroker) Admin(ClientConfig) Admin { return b }

func (b *fakeBroker) Producer(ClientConfig) Producer { return b }

func (b *fakeBroker) Partitions(_ context.Context, topic string) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.topics[topic]
	if !ok {
		return nil, kafka.UnknownTopicOrPartition
	}
	ids := make([]int, len(parts))
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

func (b *fakeBroker) Brokers(context.Context) ([]string, error) {
	return []string{"broker.test:9092"}, nil
}

func (b *fakeBroker) EnsureTopic(_ context.Context, topic string, partitions int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make([][]kafka.Message, partitions)
	}
	b.created = append(b.created, topic)
	return nil
}

func (b *fakeBroker) Send(_ context.Context, msg Message) (Delivery, error) {
	b.sends.Add(1)
	if b.rejectKeys[string(msg.Key)] {
		return Delivery{Partition: -1, Offset: -1, Status: result.NotPersisted}, errors.New("record rejected")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	parts := b.ensure(msg.Topic)
	p := 0
	if len(msg.Key) > 0 {
		h := fnv.New32a()
		_, _ = h.Write(msg.Key)
		p = int(h.Sum32()) % len(parts)
	}
	var headers []kafka.Header
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	m := kafka.Message{
		Topic:     msg.Topic,
		Partition: p,
		Offset:    int64(len(parts[p])),
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      time.Now(),
	}
	parts[p] = append(parts[p], m)
	return Delivery{Partition: p, Offset: m.Offset, Timestamp: m.Time, Status: result.Persisted}, nil
}

func (b *fakeBroker) Close() error { return nil }

type fakeConsumer struct {
	b       *fakeBroker
	topic   string
	parts   []int
	pos     map[int]int
	stalled bool
	closed  atomic.Bool

	failAfter int
	fetched   int
}

func (c *fakeConsumer) next() (kafka.Message, bool) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	topic := c.b.topics[c.topic]
	for _, p := range c.parts {
		if p >= len(topic) {
			continue
		}
		if i := c.pos[p]; i < len(topic[p]) {
			c.pos[p] = i + 1
			return topic[p][i], true
		}
	}
	return kafka.Message{}, false
}

func (c *fakeConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	for {
		if c.b.fetchErr != nil {
			return kafka.Message{}, c.b.fetchErr
		}
		if c.failAfter > 0 && c.fetched >= c.failAfter {
			return kafka.Message{}, kafka.NotCoordinatorForGroup
		}
		if !c.stalled {
			if m, ok := c.next(); ok {
				c.fetched++
				return m, nil
			}
		}
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *fakeConsumer) Close() error {
	c.closed.Store(true)
	return nil
}
