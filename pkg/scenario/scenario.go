package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/settings"
)

// Reporter receives configuration errors. *testing.T and *testing.B satisfy it.
type Reporter interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Scenario is the per-test orchestrator. It owns a Context and the step
// currently being configured.
type Scenario struct {
	mu       sync.Mutex
	ctx      context.Context
	sc       *Context
	current  Step
	reporter Reporter
	src      settings.Source
	props    map[string]any
}

// Option configures a Scenario.
type Option func(*Scenario)

// WithTB reports configuration errors through t.Fatalf instead of panicking.
func WithTB(t Reporter) Option {
	return func(s *Scenario) { s.reporter = t }
}

// WithSettings binds the settings source used for defaults and auth.
func WithSettings(src settings.Source) Option {
	return func(s *Scenario) { s.src = src }
}

// WithContext sets the parent context of every step execution.
func WithContext(ctx context.Context) Option {
	return func(s *Scenario) { s.ctx = ctx }
}

// WithProperties seeds the Context property bag.
func WithProperties(props map[string]any) Option {
	return func(s *Scenario) {
		if s.props == nil {
			s.props = make(map[string]any, len(props))
		}
		for k, v := range props {
			s.props[k] = v
		}
	}
}

// Given starts a scenario.
func Given(opts ...Option) *Scenario {
	s := &Scenario{ctx: context.Background()}
	for _, opt := range opts {
		opt(s)
	}
	s.sc = NewContext(s.src)
	for k, v := range s.props {
		s.sc.Set(k, v)
	}
	return s
}

// Context returns the scenario's shared state.
func (s *Scenario) Context() *Context { return s.sc }

// BaseContext returns the parent context used for step execution.
func (s *Scenario) BaseContext() context.Context { return s.ctx }

// SetCurrentStep replaces the current step. The previous step is not executed.
func (s *Scenario) SetCurrentStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = step
}

// CurrentStep returns the step being configured, nil before the first.
func (s *Scenario) CurrentStep() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ExecuteCurrentStep runs the current step unless it already ran and returns
// its result.
func (s *Scenario) ExecuteCurrentStep(ctx context.Context) (result.Result, error) {
	step := s.CurrentStep()
	if step == nil {
		return nil, ErrNoCurrentStep
	}
	if step.IsExecuted() {
		return step.Result(), nil
	}

	logging.Debug("Scenario", "Executing step %s", step.Name())
	res := step.Execute(ctx, s.sc)
	if res == nil {
		// Execute must store a result; fall back to the slot for steps that only store.
		res = step.Result()
	}
	if res != nil && !res.Success() {
		logging.Debug("Scenario", "Step %s failed: %s", step.Name(), strings.Join(res.Errors(), "; "))
	} else {
		logging.Debug("Scenario", "Step %s succeeded", step.Name())
	}
	return res, nil
}

// execute runs the current step. Configuration errors stored by the step are
// reported through Fail; the stored result is still returned when the
// Reporter does not stop the caller.
func (s *Scenario) execute() result.Result {
	res, err := s.ExecuteCurrentStep(s.ctx)
	if err != nil {
		s.Fail(err)
		return nil
	}
	if f, ok := res.(*result.Failure); ok && IsConfigError(f.Err) {
		s.Fail(f.Err)
	}
	return res
}

// And executes the current step and returns s so the next step can be attached.
func (s *Scenario) And() *Scenario {
	s.execute()
	return s
}

// On is an alias of And that reads better before broker steps.
func (s *Scenario) On() *Scenario {
	return s.And()
}

// Then executes the current step and returns its result.
func (s *Scenario) Then() result.Result {
	return s.execute()
}

// Validate executes the current step and passes its result to fn.
func (s *Scenario) Validate(fn func(result.Result)) *Scenario {
	if s.execute() == nil {
		return s
	}
	if err := s.CurrentStep().Validate(fn); err != nil {
		s.Fail(err)
	}
	return s
}

// Save executes the current step and stores it under name.
func (s *Scenario) Save(name string) *Scenario {
	if s.execute() == nil {
		return s
	}
	s.sc.Storage().Save(name, s.CurrentStep())
	return s
}

// Capture executes the current step and writes the value extracted by fn
// into the property bag under key.
func (s *Scenario) Capture(key string, fn func(result.Result) (any, error)) *Scenario {
	res := s.execute()
	if res == nil {
		return s
	}
	v, err := fn(res)
	if err != nil {
		s.Fail(fmt.Errorf("capture %q: %w", key, err))
		return s
	}
	s.sc.Set(key, v)
	return s
}

// Fail reports a configuration error: through the bound Reporter when there
// is one, by panicking otherwise.
func (s *Scenario) Fail(err error) {
	if s.reporter != nil {
		s.reporter.Helper()
		s.reporter.Fatalf("%v", err)
		return
	}
	panic(err)
}

// Current returns the current step as T, or an *InvalidStateError naming
// entryPoint when the current step has another type.
func Current[T Step](s *Scenario, entryPoint string) (T, error) {
	var zero T
	step := s.CurrentStep()
	if step == nil {
		return zero, &InvalidStateError{Expected: entryPoint}
	}
	t, ok := step.(T)
	if !ok {
		return zero, &InvalidStateError{Expected: entryPoint, Got: step.Name()}
	}
	return t, nil
}
