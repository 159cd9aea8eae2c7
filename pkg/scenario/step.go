package scenario

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/giantswarm/given/pkg/result"
)

// Step is one configured transport operation plus its eventual result.
//
// Configuration is fixed at construction. Execute writes the result into the
// step's slot and never panics past its boundary; it does not guard against
// being called twice, so a direct second call runs the operation again.
// Scenario chaining operators only execute steps that have not run yet.
type Step interface {
	// Name is a short human readable description such as "GET /users".
	Name() string
	// Execute runs the operation against sc and stores the result.
	Execute(ctx context.Context, sc *Context) result.Result
	// Result returns the stored result, nil before execution.
	Result() result.Result
	// IsExecuted reports whether a result has been stored.
	IsExecuted() bool
	// Validate invokes fn once with the stored result, or returns
	// ErrNotExecuted when the step has not run.
	Validate(fn func(result.Result)) error
}

// Slot is the single mutable execution slot of a step. Step implementations
// embed a fresh *Slot per instance so the methods below complete the Step
// interface.
type Slot struct {
	mu  sync.RWMutex
	res result.Result
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Store records r, replacing any earlier result.
func (s *Slot) Store(r result.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = r
}

// Result returns the stored result.
func (s *Slot) Result() result.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.res
}

// IsExecuted reports whether a result is stored.
func (s *Slot) IsExecuted() bool {
	return s.Result() != nil
}

// Validate calls fn with the stored result.
func (s *Slot) Validate(fn func(result.Result)) error {
	r := s.Result()
	if r == nil {
		return ErrNotExecuted
	}
	fn(r)
	return nil
}

// Guard runs fn and converts a panic or a nil return into a failure result.
func Guard(fn func() result.Result) (res result.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = result.Panicked(rec, debug.Stack())
		}
	}()
	res = fn()
	if res == nil {
		res = result.Failed(fmt.Errorf("step returned no result"))
	}
	return res
}

// Run is the common body of Execute: it guards fn, stores the outcome in
// slot and returns it.
func Run(slot *Slot, fn func() result.Result) result.Result {
	res := Guard(fn)
	slot.Store(res)
	return res
}
