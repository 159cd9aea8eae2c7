package kafkastep

import (
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

// Context property keys.
const (
	// ContextAuthKey holds an *auth.KafkaConfig used when a step has no explicit auth.
	ContextAuthKey = "kafkastep.auth"
	// ContextGroupIDKey holds the consumer group id used when a step has none.
	ContextGroupIDKey = "kafkastep.groupId"
	// LastProducedTopicKey holds the topic of the most recent produce step.
	LastProducedTopicKey = "kafkastep.lastProducedTopic"
	// LastGroupIDKey holds the group id of the most recent consume step.
	LastGroupIDKey = "kafkastep.lastGroupId"
)

// SetContextAuth stores cfg as the broker auth of this scenario's steps
// that carry no explicit auth.
func SetContextAuth(sc *scenario.Context, cfg *auth.KafkaConfig) {
	sc.Set(ContextAuthKey, cfg)
}

// SetContextGroupID stores the consumer group id used by consume steps
// without an explicit one.
func SetContextGroupID(sc *scenario.Context, groupID string) {
	sc.Set(ContextGroupIDKey, groupID)
}

// LastProducedTopic returns the topic written by the most recent produce step.
func LastProducedTopic(sc *scenario.Context) (string, bool) {
	return scenario.Property[string](sc, LastProducedTopicKey)
}

// NewTopicName returns a unique topic name starting with prefix.
func NewTopicName(prefix string) string {
	return uniqueName(prefix, "topic")
}

// NewGroupID returns a unique consumer group id starting with prefix.
func NewGroupID(prefix string) string {
	return uniqueName(prefix, "group")
}

func uniqueName(prefix, fallback string) string {
	prefix = strings.TrimRight(prefix, "-.")
	if prefix == "" {
		prefix = fallback
	}
	return prefix + "-" + uuid.NewString()
}

// resolveGroupID applies the precedence step, context, settings.
func resolveGroupID(explicit string, sc *scenario.Context, st *settings.Settings) string {
	if explicit != "" {
		return explicit
	}
	if id, ok := scenario.Property[string](sc, ContextGroupIDKey); ok && id != "" {
		return id
	}
	if st.Kafka.GroupID != "" {
		return st.Kafka.GroupID
	}
	return settings.DefaultGroupID
}
