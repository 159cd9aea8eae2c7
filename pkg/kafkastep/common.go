package kafkastep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/giantswarm/given/internal/template"
	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

// Common is the connection configuration carried by every broker step.
type Common struct {
	// Brokers overrides the settings bootstrap servers.
	Brokers []string
	// ClientID overrides the settings client id.
	ClientID string
	Auth     *auth.KafkaConfig
	// Factory replaces the default kafka-go client factory.
	Factory ClientFactory
}

func (c Common) clone() Common {
	out := c
	out.Brokers = append([]string(nil), c.Brokers...)
	out.Auth = c.Auth.Clone()
	return out
}

// env is everything a step needs to talk to the broker.
type env struct {
	settings *settings.Settings
	factory  ClientFactory
	client   ClientConfig
}

func (c Common) resolve(ctx context.Context, sc *scenario.Context) (*env, error) {
	st, err := sc.LoadSettings()
	if err != nil {
		return nil, err
	}

	brokers := c.Brokers
	if len(brokers) == 0 {
		brokers = st.Kafka.BootstrapServers
	}
	if len(brokers) == 0 {
		return nil, &scenario.ConfigError{Err: errors.New("no bootstrap servers configured")}
	}

	clientID := c.ClientID
	if clientID == "" {
		clientID = st.Kafka.ClientID
	}

	sec, err := resolveSecurity(ctx, sc, st, c.Auth)
	if err != nil {
		return nil, err
	}

	factory := c.Factory
	if factory == nil {
		factory = DefaultFactory()
	}

	return &env{
		settings: st,
		factory:  factory,
		client:   ClientConfig{Brokers: brokers, ClientID: clientID, Security: sec},
	}, nil
}

var templates = template.New()

// resolveTopic renders topic against the scenario properties. An empty
// topic means the topic of the last produce step.
func resolveTopic(topic string, sc *scenario.Context) (string, error) {
	if topic == "" {
		last, ok := LastProducedTopic(sc)
		if !ok || last == "" {
			return "", &scenario.ConfigError{Err: errors.New("no topic configured and no topic produced yet")}
		}
		return last, nil
	}
	return templates.Render(topic, sc.Properties())
}

// encode serialises a key or value: strings and byte slices pass through,
// nil stays nil, everything else is JSON.
func encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case json.RawMessage:
		return b, nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T as JSON: %w", v, err)
		}
		return raw, nil
	}
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Ping connects to the brokers configured for sc, with its auth, and
// returns the cluster members. A nil factory means the default one.
func Ping(ctx context.Context, sc *scenario.Context, factory ClientFactory) ([]string, error) {
	e, err := Common{Factory: factory}.resolve(ctx, sc)
	if err != nil {
		return nil, err
	}
	return e.factory.Admin(e.client).Brokers(ctx)
}
