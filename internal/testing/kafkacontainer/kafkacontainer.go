// Package kafkacontainer starts a single-node Kafka compatible broker in a
// container for integration tests.
package kafkacontainer

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultImage        = "docker.redpanda.com/redpandadata/redpanda:v24.2.7"
	defaultStartTimeout = 90 * time.Second
	readyLog            = "Successfully started Redpanda!"
)

// Broker is a running broker container.
type Broker struct {
	container testcontainers.Container
	// Address is the bootstrap server reachable from the host.
	Address string
}

type config struct {
	image        string
	startTimeout time.Duration
}

// Option configures the container.
type Option func(*config)

// WithImage overrides the broker image.
func WithImage(image string) Option {
	return func(c *config) { c.image = image }
}

// WithStartTimeout bounds the time to wait for the broker to report ready.
func WithStartTimeout(d time.Duration) Option {
	return func(c *config) { c.startTimeout = d }
}

// Start runs the broker. The advertised listener must match the host port,
// so the port is chosen before the container starts and bound one to one.
func Start(ctx context.Context, opts ...Option) (*Broker, error) {
	cfg := &config{image: defaultImage, startTimeout: defaultStartTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve a broker port: %w", err)
	}
	addr := fmt.Sprintf("localhost:%d", port)

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{fmt.Sprintf("%d:%d/tcp", port, port)},
		Cmd: []string{
			"redpanda", "start",
			"--mode", "dev-container",
			"--smp", "1",
			"--kafka-addr", fmt.Sprintf("0.0.0.0:%d", port),
			"--advertise-kafka-addr", addr,
		},
		WaitingFor: wait.ForLog(readyLog).WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if container != nil {
			_ = container.Terminate(context.Background())
		}
		return nil, fmt.Errorf("failed to start broker container: %w", err)
	}
	return &Broker{container: container, Address: addr}, nil
}

// StartT starts a broker for t and terminates it on cleanup.
func StartT(t testing.TB, opts ...Option) *Broker {
	t.Helper()
	b, err := Start(context.Background(), opts...)
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() {
		_ = b.Terminate(context.Background())
	})
	return b
}

// Terminate stops and removes the container.
func (b *Broker) Terminate(ctx context.Context) error {
	return b.container.Terminate(ctx)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
