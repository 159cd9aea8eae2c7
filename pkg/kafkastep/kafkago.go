package kafkastep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/giantswarm/given/pkg/result"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultMaxWait     = 250 * time.Millisecond
)

// KafkaGo is the ClientFactory backed by github.com/segmentio/kafka-go.
type KafkaGo struct {
	// DialTimeout bounds broker connection attempts.
	DialTimeout time.Duration
	// MaxWait is the longest a reader waits for a fetch response.
	MaxWait time.Duration
	// ReplicationFactor is used for topics created by EnsureTopic.
	ReplicationFactor int
}

// NewKafkaGo returns a factory with default timeouts.
func NewKafkaGo() *KafkaGo {
	return &KafkaGo{
		DialTimeout:       defaultDialTimeout,
		MaxWait:           defaultMaxWait,
		ReplicationFactor: 1,
	}
}

var defaultFactory = NewKafkaGo()

// DefaultFactory returns the factory used by steps without WithClient.
func DefaultFactory() ClientFactory { return defaultFactory }

func (k *KafkaGo) dialer(cfg ClientConfig) *kafka.Dialer {
	return &kafka.Dialer{
		ClientID:      cfg.ClientID,
		Timeout:       k.DialTimeout,
		DualStack:     true,
		TLS:           cfg.Security.TLS,
		SASLMechanism: cfg.Security.SASL,
	}
}

func (k *KafkaGo) client(cfg ClientConfig) *kafka.Client {
	return &kafka.Client{
		Addr:    kafka.TCP(cfg.Brokers...),
		Timeout: k.DialTimeout,
		Transport: &kafka.Transport{
			ClientID:    cfg.ClientID,
			DialTimeout: k.DialTimeout,
			TLS:         cfg.Security.TLS,
			SASL:        cfg.Security.SASL,
		},
	}
}

func (k *KafkaGo) readerConfig(cfg ConsumerConfig) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		Dialer:      k.dialer(cfg.ClientConfig),
		MaxWait:     k.MaxWait,
		StartOffset: kafka.FirstOffset,
	}
	if cfg.Logger != nil {
		rc.Logger = kafka.LoggerFunc(cfg.Logger)
	}
	if cfg.ErrorLogger != nil {
		rc.ErrorLogger = kafka.LoggerFunc(cfg.ErrorLogger)
	}
	return rc
}

func (k *KafkaGo) Subscribe(cfg ConsumerConfig) (Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no bootstrap servers configured")
	}
	rc := k.readerConfig(cfg)
	rc.GroupID = cfg.GroupID
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &readerConsumer{r: kafka.NewReader(rc)}, nil
}

func (k *KafkaGo) Assign(cfg ConsumerConfig, partitions []int) (Consumer, error) {
	if len(partitions) == 0 {
		return nil, fmt.Errorf("topic %q has no partitions", cfg.Topic)
	}
	readers := make([]*kafka.Reader, 0, len(partitions))
	for _, p := range partitions {
		rc := k.readerConfig(cfg)
		rc.Partition = p
		if err := rc.Validate(); err != nil {
			for _, r := range readers {
				_ = r.Close()
			}
			return nil, err
		}
		readers = append(readers, kafka.NewReader(rc))
	}
	return newMultiConsumer(readers), nil
}

func (k *KafkaGo) Admin(cfg ClientConfig) Admin {
	return &kafkaAdmin{client: k.client(cfg), replication: k.ReplicationFactor}
}

func (k *KafkaGo) Producer(cfg ClientConfig) Producer {
	c := k.client(cfg)
	return &kafkaProducer{
		client:     c,
		admin:      &kafkaAdmin{client: c, replication: k.ReplicationFactor},
		balancer:   &kafka.Hash{},
		partitions: make(map[string][]int),
	}
}

type readerConsumer struct {
	r *kafka.Reader
}

func (c *readerConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *readerConsumer) Close() error { return c.r.Close() }

// multiConsumer merges per-partition readers into one Consumer.
type multiConsumer struct {
	readers []*kafka.Reader
	msgs    chan kafka.Message
	errs    chan error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newMultiConsumer(readers []*kafka.Reader) *multiConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	m := &multiConsumer{
		readers: readers,
		msgs:    make(chan kafka.Message),
		errs:    make(chan error, len(readers)),
		cancel:  cancel,
	}
	for _, r := range readers {
		m.wg.Add(1)
		go m.pump(ctx, r)
	}
	return m
}

func (m *multiConsumer) pump(ctx context.Context, r *kafka.Reader) {
	defer m.wg.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.errs <- err
			}
			return
		}
		select {
		case m.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *multiConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-m.msgs:
		return msg, nil
	case err := <-m.errs:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (m *multiConsumer) Close() error {
	m.cancel()
	var errs []error
	for _, r := range m.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

type kafkaAdmin struct {
	client      *kafka.Client
	replication int
}

func (a *kafkaAdmin) Partitions(ctx context.Context, topic string) ([]int, error) {
	meta, err := a.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata for topic %q: %w", topic, err)
	}
	for _, t := range meta.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, fmt.Errorf("topic %q: %w", topic, t.Error)
		}
		ids := make([]int, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			ids = append(ids, p.ID)
		}
		sort.Ints(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("topic %q: %w", topic, kafka.UnknownTopicOrPartition)
}

func (a *kafkaAdmin) Brokers(ctx context.Context) ([]string, error) {
	meta, err := a.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cluster metadata: %w", err)
	}
	out := make([]string, 0, len(meta.Brokers))
	for _, b := range meta.Brokers {
		out = append(out, fmt.Sprintf("%s:%d", b.Host, b.Port))
	}
	sort.Strings(out)
	return out, nil
}

func (a *kafkaAdmin) EnsureTopic(ctx context.Context, topic string, partitions int) error {
	resp, err := a.client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: a.replication,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", topic, err)
	}
	if err := resp.Errors[topic]; err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %q: %w", topic, err)
	}
	return nil
}

// kafkaProducer produces records through kafka.Client, choosing partitions
// with a hash balancer so equal keys land on the same partition.
type kafkaProducer struct {
	client   *kafka.Client
	admin    *kafkaAdmin
	balancer *kafka.Hash

	mu         sync.Mutex
	partitions map[string][]int
}

func (p *kafkaProducer) topicPartitions(ctx context.Context, topic string) ([]int, error) {
	p.mu.Lock()
	cached, ok := p.partitions[topic]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	ids, err := p.admin.Partitions(ctx, topic)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.partitions[topic] = ids
	p.mu.Unlock()
	return ids, nil
}

func (p *kafkaProducer) Send(ctx context.Context, msg Message) (Delivery, error) {
	notPersisted := Delivery{Partition: -1, Offset: -1, Status: result.NotPersisted}

	partitions, err := p.topicPartitions(ctx, msg.Topic)
	if err != nil {
		return notPersisted, err
	}
	partition := p.balancer.Balance(kafka.Message{Key: msg.Key}, partitions...)

	record := kafka.Record{
		Time:  time.Now(),
		Value: kafka.NewBytes(msg.Value),
	}
	if msg.Key != nil {
		record.Key = kafka.NewBytes(msg.Key)
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	resp, err := p.client.Produce(ctx, &kafka.ProduceRequest{
		Topic:        msg.Topic,
		Partition:    partition,
		RequiredAcks: kafka.RequireAll,
		Records:      kafka.NewRecordReader(record),
	})
	if err != nil {
		// The request may have reached the broker before the deadline.
		if errors.Is(err, context.DeadlineExceeded) {
			return Delivery{Partition: partition, Offset: -1, Status: result.PossiblyPersisted}, err
		}
		return notPersisted, err
	}
	if resp.Error != nil {
		return notPersisted, resp.Error
	}
	if recErr := resp.RecordErrors[0]; recErr != nil {
		return notPersisted, recErr
	}

	ts := resp.LogAppendTime
	if ts.IsZero() {
		ts = record.Time
	}
	return Delivery{
		Partition: partition,
		Offset:    resp.BaseOffset,
		Timestamp: ts,
		Status:    result.Persisted,
	}, nil
}

func (p *kafkaProducer) Close() error {
	if t, ok := p.client.Transport.(*kafka.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
