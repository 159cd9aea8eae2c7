package kafkastep

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

// Handler applies one broker auth scheme to the connection security.
type Handler = auth.Handler[*auth.KafkaConfig, *Security]

var handlers = auth.NewRegistry[*auth.KafkaConfig, *Security]("kafka",
	saslPlainHandler{},
	saslScramHandler{typ: auth.TypeSASLScram256, algo: scram.SHA256},
	saslScramHandler{typ: auth.TypeSASLScram512, algo: scram.SHA512},
	sslHandler{},
	mutualTLSHandler{},
)

// RegisterHandler adds h to the broker auth registry. It takes precedence
// over built-in handlers of the same type.
func RegisterHandler(h Handler) {
	handlers.Register(h)
}

// resolveSecurity picks the auth config by precedence (step, context,
// settings) and turns it into connection security.
func resolveSecurity(ctx context.Context, sc *scenario.Context, st *settings.Settings, explicit *auth.KafkaConfig) (Security, error) {
	var sec Security
	fromContext, _ := scenario.Property[*auth.KafkaConfig](sc, ContextAuthKey)
	cfg, tier, err := auth.Pick(explicit, fromContext, func() (*auth.KafkaConfig, error) {
		return st.Kafka.Auth, nil
	})
	if err != nil || cfg == nil {
		return sec, err
	}
	logging.Debug("KafkaStep", "Using %s authentication from %s", cfg.Type, tier)
	if _, err := handlers.Apply(ctx, cfg, &sec); err != nil {
		return sec, fmt.Errorf("%s authentication: %w", cfg.Type, err)
	}
	return sec, nil
}

// saslTLS enables TLS for SASL_SSL connections.
func saslTLS(s *auth.SASL, sec *Security) error {
	if !s.UseTLS && s.TLS == nil {
		return nil
	}
	tlsConfig, err := auth.LoadTLSConfig(s.TLS)
	if err != nil {
		return err
	}
	sec.TLS = tlsConfig
	return nil
}

type saslPlainHandler struct{}

func (saslPlainHandler) Type() auth.Type                  { return auth.TypeSASLPlain }
func (saslPlainHandler) Matches(c *auth.KafkaConfig) bool { return c.SASL != nil }

func (saslPlainHandler) Apply(_ context.Context, c *auth.KafkaConfig, sec *Security) error {
	if err := c.SASL.Validate(auth.TypeSASLPlain); err != nil {
		return err
	}
	sec.SASL = plain.Mechanism{Username: c.SASL.Username, Password: c.SASL.Password}
	return saslTLS(c.SASL, sec)
}

type saslScramHandler struct {
	typ  auth.Type
	algo scram.Algorithm
}

func (h saslScramHandler) Type() auth.Type                { return h.typ }
func (saslScramHandler) Matches(c *auth.KafkaConfig) bool { return c.SASL != nil }

func (h saslScramHandler) Apply(_ context.Context, c *auth.KafkaConfig, sec *Security) error {
	if err := c.SASL.Validate(h.typ); err != nil {
		return err
	}
	mechanism, err := scram.Mechanism(h.algo, c.SASL.Username, c.SASL.Password)
	if err != nil {
		return err
	}
	sec.SASL = mechanism
	return saslTLS(c.SASL, sec)
}

type sslHandler struct{}

func (sslHandler) Type() auth.Type                  { return auth.TypeSSL }
func (sslHandler) Matches(c *auth.KafkaConfig) bool { return c.SSL != nil }

func (sslHandler) Apply(_ context.Context, c *auth.KafkaConfig, sec *Security) error {
	tlsConfig, err := auth.LoadTLSConfig(c.SSL)
	if err != nil {
		return err
	}
	sec.TLS = tlsConfig
	return nil
}

type mutualTLSHandler struct{}

func (mutualTLSHandler) Type() auth.Type                  { return auth.TypeMutualTLS }
func (mutualTLSHandler) Matches(c *auth.KafkaConfig) bool { return c.MutualTLS != nil }

func (mutualTLSHandler) Apply(_ context.Context, c *auth.KafkaConfig, sec *Security) error {
	if err := c.MutualTLS.RequireClientCert(auth.TypeMutualTLS); err != nil {
		return err
	}
	tlsConfig, err := auth.LoadTLSConfig(c.MutualTLS)
	if err != nil {
		return err
	}
	sec.TLS = tlsConfig
	return nil
}
