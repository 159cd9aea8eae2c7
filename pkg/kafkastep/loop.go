package kafkastep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/giantswarm/given/pkg/logging"
)

// pollSlice is the longest single fetch; the loop checks its own deadline
// between slices.
const pollSlice = 250 * time.Millisecond

type loopState int

const (
	stateSubscribing loopState = iota
	statePolling
	stateFallbackPolling
	stateSucceeded
	stateTimedOut
	stateFaulted
)

func (s loopState) String() string {
	switch s {
	case stateSubscribing:
		return "subscribing"
	case statePolling:
		return "polling"
	case stateFallbackPolling:
		return "fallbackPolling"
	case stateSucceeded:
		return "succeeded"
	case stateTimedOut:
		return "timedOut"
	case stateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// consumeLoop subscribes to a topic and polls until want messages arrived or
// the deadline elapsed. When the deadline elapses and the group coordinator
// was unavailable it falls back to reading every partition directly under a
// fresh deadline.
type consumeLoop struct {
	factory ClientFactory
	cfg     ConsumerConfig
	timeout time.Duration
	want    int

	diags       *diagnostics
	state       loopState
	viaFallback bool
	msgs        []kafka.Message
	// seen holds the partition/offset of every message in msgs. The fallback
	// rereads partitions from the earliest offset, so records already
	// delivered through the group must not be counted twice.
	seen map[recordPosition]struct{}
	err  error
}

type recordPosition struct {
	partition int
	offset    int64
}

func newConsumeLoop(factory ClientFactory, cfg ConsumerConfig, timeout time.Duration, want int) *consumeLoop {
	l := &consumeLoop{
		factory: factory,
		cfg:     cfg,
		timeout: timeout,
		want:    want,
		diags:   &diagnostics{},
		seen:    make(map[recordPosition]struct{}),
	}
	l.cfg.Logger = l.diags.logger("info")
	l.cfg.ErrorLogger = l.diags.logger("error")
	return l
}

func (l *consumeLoop) transition(next loopState) {
	logging.Debug("KafkaStep", "Consume %s: %s -> %s", l.cfg.Topic, l.state, next)
	l.state = next
}

// run drives the state machine to a terminal state.
func (l *consumeLoop) run(ctx context.Context) {
	l.state = stateSubscribing
	consumer, err := l.factory.Subscribe(l.cfg)
	if err != nil {
		l.fault(fmt.Errorf("failed to subscribe to topic %q: %w", l.cfg.Topic, err))
		return
	}

	l.transition(statePolling)
	err = l.poll(ctx, consumer, time.Now().Add(l.timeout))
	closeConsumer(consumer)
	if err != nil {
		l.fault(err)
		return
	}
	if l.done() {
		l.transition(stateSucceeded)
		return
	}

	lines, errs := l.diags.snapshot()
	if !coordinatorUnavailable(lines, errs) {
		l.transition(stateTimedOut)
		return
	}

	logging.Info("KafkaStep", "Group coordinator unavailable for topic %s, reading partitions directly", l.cfg.Topic)
	l.transition(stateFallbackPolling)
	l.viaFallback = true

	// The fallback gets its own deadline; metadata lookup counts against it.
	deadline := time.Now().Add(l.timeout)
	metaCtx, cancel := context.WithDeadline(ctx, deadline)
	partitions, err := l.factory.Admin(l.cfg.ClientConfig).Partitions(metaCtx, l.cfg.Topic)
	cancel()
	if err != nil {
		l.fault(fmt.Errorf("fallback: %w", err))
		return
	}

	consumer, err = l.factory.Assign(l.cfg, partitions)
	if err != nil {
		l.fault(fmt.Errorf("fallback: failed to assign partitions %v: %w", partitions, err))
		return
	}
	err = l.poll(ctx, consumer, deadline)
	closeConsumer(consumer)
	switch {
	case err != nil:
		l.fault(err)
	case l.done():
		l.transition(stateSucceeded)
	default:
		l.transition(stateTimedOut)
	}
}

func (l *consumeLoop) done() bool { return len(l.msgs) >= l.want }

func (l *consumeLoop) fault(err error) {
	l.err = err
	l.transition(stateFaulted)
}

// poll fetches in slices until enough messages arrived or deadline passed.
// Coordinator errors are recorded and polling continues; other client errors
// end the loop.
func (l *consumeLoop) poll(ctx context.Context, c Consumer, deadline time.Time) error {
	for !l.done() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sliceCtx, cancel := context.WithTimeout(ctx, min(pollSlice, remaining))
		msg, err := c.Fetch(sliceCtx)
		cancel()

		switch {
		case err == nil:
			l.add(msg)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// slice elapsed
		case ctx.Err() != nil:
			return ctx.Err()
		case coordinatorUnavailable(nil, []error{err}):
			l.diags.addErr(err)
			wait(ctx, min(pollSlice, remaining))
		default:
			l.diags.addErr(err)
			return fmt.Errorf("failed to fetch from topic %q: %w", l.cfg.Topic, err)
		}
	}
	return nil
}

func (l *consumeLoop) add(msg kafka.Message) {
	pos := recordPosition{partition: msg.Partition, offset: msg.Offset}
	if _, dup := l.seen[pos]; dup {
		return
	}
	l.seen[pos] = struct{}{}
	l.msgs = append(l.msgs, msg)
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func closeConsumer(c Consumer) {
	if err := c.Close(); err != nil {
		logging.Debug("KafkaStep", "Closing consumer: %v", err)
	}
}
