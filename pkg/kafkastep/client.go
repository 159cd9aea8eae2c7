package kafkastep

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"

	"github.com/giantswarm/given/pkg/result"
)

// Security is the broker connection security produced by the auth handlers.
type Security struct {
	SASL sasl.Mechanism
	TLS  *tls.Config
}

// ClientConfig is the connection configuration shared by every client.
type ClientConfig struct {
	Brokers  []string
	ClientID string
	Security Security
}

// LogFunc receives client log lines.
type LogFunc func(format string, args ...any)

// ConsumerConfig configures a consumer of one topic.
type ConsumerConfig struct {
	ClientConfig
	Topic   string
	GroupID string
	// Logger and ErrorLogger receive the client's log output. The consume
	// loop inspects these lines when a poll deadline elapses.
	Logger      LogFunc
	ErrorLogger LogFunc
}

// Message is a record to produce.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Delivery is the broker's answer to one produced record.
type Delivery struct {
	Partition int
	Offset    int64
	Timestamp time.Time
	Status    result.DeliveryStatus
}

// Consumer reads messages from a subscription or a set of assigned partitions.
type Consumer interface {
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Admin reads and creates topic metadata.
type Admin interface {
	Partitions(ctx context.Context, topic string) ([]int, error)
	// EnsureTopic creates topic with partitions partitions unless it exists.
	EnsureTopic(ctx context.Context, topic string, partitions int) error
	// Brokers lists the cluster members as host:port.
	Brokers(ctx context.Context) ([]string, error)
}

// Producer sends records. Implementations are safe for concurrent use.
type Producer interface {
	// Send produces msg. A non-nil error may still come with a Delivery whose
	// status says whether the record could have been written.
	Send(ctx context.Context, msg Message) (Delivery, error)
	Close() error
}

// ClientFactory builds broker clients. KafkaGo is the production
// implementation; tests substitute in-memory fakes.
type ClientFactory interface {
	// Subscribe joins the consumer group cfg.GroupID on cfg.Topic.
	Subscribe(cfg ConsumerConfig) (Consumer, error)
	// Assign reads the given partitions of cfg.Topic from the earliest
	// offset without group coordination.
	Assign(cfg ConsumerConfig, partitions []int) (Consumer, error)
	Admin(cfg ClientConfig) Admin
	Producer(cfg ClientConfig) Producer
}
