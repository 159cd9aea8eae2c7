package auth

import (
	"context"
	"sync"

	"github.com/giantswarm/given/pkg/logging"
)

// Config is implemented by the pointer config unions (*HTTPConfig, *KafkaConfig).
type Config interface {
	comparable
	AuthType() Type
}

// Tier identifies where a resolved config came from.
type Tier int

const (
	TierNone Tier = iota
	TierExplicit
	TierContext
	TierSettings
)

func (t Tier) String() string {
	switch t {
	case TierExplicit:
		return "step"
	case TierContext:
		return "context"
	case TierSettings:
		return "settings"
	default:
		return "none"
	}
}

// Pick resolves a config from the three tiers in order: explicit, then the
// scenario context, then settings. The first non-nil tier wins. A winning
// config whose type is none disables authentication, so an explicit none
// overrides the lower tiers. The zero value of C means skip.
func Pick[C Config](explicit, fromContext C, fromSettings func() (C, error)) (C, Tier, error) {
	var zero C
	if explicit != zero {
		return nonNone(explicit), TierExplicit, nil
	}
	if fromContext != zero {
		return nonNone(fromContext), TierContext, nil
	}
	if fromSettings != nil {
		cfg, err := fromSettings()
		if err != nil {
			return zero, TierNone, err
		}
		if cfg != zero {
			return nonNone(cfg), TierSettings, nil
		}
	}
	return zero, TierNone, nil
}

func nonNone[C Config](cfg C) C {
	var zero C
	if cfg.AuthType().IsNone() {
		return zero
	}
	return cfg
}

// Handler applies one scheme of config C to target T, e.g. an
// *http.Request or a broker security config.
type Handler[C Config, T any] interface {
	// Type is the discriminator handled.
	Type() Type
	// Matches reports whether cfg carries this handler's payload.
	Matches(cfg C) bool
	// Apply validates the payload and mutates target.
	Apply(ctx context.Context, cfg C, target T) error
}

// Registry dispatches configs to handlers by discriminator.
type Registry[C Config, T any] struct {
	mu       sync.RWMutex
	name     string
	handlers []Handler[C, T]
}

// NewRegistry creates a registry; name is used in log lines.
func NewRegistry[C Config, T any](name string, handlers ...Handler[C, T]) *Registry[C, T] {
	r := &Registry[C, T]{name: name}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds h. Handlers registered later for the same type take precedence.
func (r *Registry[C, T]) Register(h Handler[C, T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append([]Handler[C, T]{h}, r.handlers...)
}

// Apply runs the handler matching cfg. It returns applied=false without an
// error when cfg is empty, of type none, or has no handler whose
// discriminator and payload both match.
func (r *Registry[C, T]) Apply(ctx context.Context, cfg C, target T) (bool, error) {
	var zero C
	if cfg == zero || cfg.AuthType().IsNone() {
		return false, nil
	}

	r.mu.RLock()
	handlers := r.handlers
	r.mu.RUnlock()

	for _, h := range handlers {
		if !cfg.AuthType().Is(h.Type()) || !h.Matches(cfg) {
			continue
		}
		if err := h.Apply(ctx, cfg, target); err != nil {
			return false, err
		}
		logging.Debug("Auth", "Applied %s %s authentication", r.name, h.Type())
		return true, nil
	}

	logging.Debug("Auth", "No %s handler for type %q with a matching payload, skipping", r.name, cfg.AuthType())
	return false, nil
}

// Types lists the registered discriminators.
func (r *Registry[C, T]) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for _, h := range r.handlers {
		types = append(types, h.Type())
	}
	return types
}
