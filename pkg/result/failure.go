package result

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindError   Kind = "error"
	KindTimeout Kind = "timeout"
)

// Failure is an execution that did not complete: a transport error, a
// recovered panic, a serialisation error or an exhausted deadline.
type Failure struct {
	Kind   Kind
	Reason string

	// ErrorType is the Go type of the original error or panic value.
	ErrorType    string
	ErrorMessage string
	Stack        string
	Err          error

	// Topic and Timeout are set for broker timeouts.
	Topic       string
	Timeout     time.Duration
	Diagnostics []string
}

// Failed captures err, its type and the current stack.
func Failed(err error) *Failure {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	return &Failure{
		Kind:         KindError,
		Reason:       err.Error(),
		ErrorType:    fmt.Sprintf("%T", err),
		ErrorMessage: err.Error(),
		Stack:        string(debug.Stack()),
		Err:          err,
	}
}

// Failedf is Failed with a formatted error.
func Failedf(format string, args ...any) *Failure {
	return Failed(fmt.Errorf(format, args...))
}

// Panicked converts a recovered panic value into a failure. stack should be
// captured inside the deferred recover.
func Panicked(recovered any, stack []byte) *Failure {
	var err error
	switch v := recovered.(type) {
	case error:
		err = v
	default:
		err = fmt.Errorf("%v", v)
	}
	return &Failure{
		Kind:         KindError,
		Reason:       "panic: " + err.Error(),
		ErrorType:    fmt.Sprintf("%T", recovered),
		ErrorMessage: err.Error(),
		Stack:        string(stack),
		Err:          err,
	}
}

// TimedOut reports a deadline that elapsed before the awaited message arrived.
func TimedOut(topic string, timeout time.Duration, diagnostics []string) *Failure {
	diag := make([]string, len(diagnostics))
	copy(diag, diagnostics)
	return &Failure{
		Kind:        KindTimeout,
		Reason:      fmt.Sprintf("no message received from topic %q within %s", topic, timeout),
		Topic:       topic,
		Timeout:     timeout,
		Diagnostics: diag,
	}
}

// WithTopic returns f with Topic set, for failures raised in broker steps.
func (f *Failure) WithTopic(topic string) *Failure {
	f.Topic = topic
	return f
}

func (*Failure) sealed() {}

func (*Failure) Success() bool { return false }

func (f *Failure) Errors() []string {
	reason := f.Reason
	if reason == "" {
		reason = string(f.Kind)
	}
	if reason == "" {
		reason = "failure"
	}
	errs := []string{reason}
	errs = append(errs, f.Diagnostics...)
	return errs
}

func (f *Failure) Data() any { return f.Err }

// Unwrap exposes the original error to errors.Is and errors.As.
func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Error() string { return strings.Join(f.Errors(), "; ") }

func (f *Failure) Properties() map[string]string {
	props := map[string]string{
		PropReason: f.Reason,
	}
	setIf(props, PropExceptionType, f.ErrorType)
	setIf(props, PropExceptionMsg, f.ErrorMessage)
	setIf(props, PropStackTrace, f.Stack)
	setIf(props, PropTopic, f.Topic)
	if f.Timeout > 0 {
		props[PropTimeout] = f.Timeout.String()
	}
	return props
}
