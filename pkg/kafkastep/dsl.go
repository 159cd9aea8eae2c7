package kafkastep

import (
	"time"

	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
)

const topicEntryPoint = "Topic()"

// configurable is implemented by every broker step. Placeholders carry a
// client factory attached before Topic was called.
type configurable interface {
	scenario.Step
	isPlaceholder() bool
}

func (s *ProduceStep) isPlaceholder() bool      { return s.placeholder }
func (s *BatchProduceStep) isPlaceholder() bool { return s.placeholder }
func (s *ConsumeStep) isPlaceholder() bool      { return s.placeholder }
func (s *BatchConsumeStep) isPlaceholder() bool { return s.placeholder }

// pending returns the current step as T when it has not run yet.
func pending[T configurable](s *scenario.Scenario) (T, bool) {
	var zero T
	step, ok := s.CurrentStep().(T)
	if !ok || step.IsExecuted() {
		return zero, false
	}
	return step, true
}

// update replaces the current step with next(step), or reports that Topic
// has to be called first.
func update[T configurable](s *scenario.Scenario, next func(T) T) {
	step, ok := pending[T](s)
	if !ok || step.isPlaceholder() {
		if _, err := scenario.Current[T](s, topicEntryPoint); err != nil {
			s.Fail(err)
			return
		}
		s.Fail(&scenario.InvalidStateError{Expected: topicEntryPoint, Got: s.CurrentStep().Name()})
		return
	}
	s.SetCurrentStep(next(step))
}

// begin starts a step for topic, merging a pending placeholder.
func begin[T configurable](s *scenario.Scenario, fresh func() T, merge func(T) T) {
	if step, ok := pending[T](s); ok && step.isPlaceholder() {
		s.SetCurrentStep(merge(step))
		return
	}
	s.SetCurrentStep(fresh())
}

// attach sets the client factory on the pending step or caches it in a placeholder.
func attach[T configurable](s *scenario.Scenario, set func(T) T, placeholder func() T) {
	if step, ok := pending[T](s); ok {
		s.SetCurrentStep(set(step))
		return
	}
	s.SetCurrentStep(placeholder())
}

// ProduceDSL builds a single produce step.
type ProduceDSL struct {
	s *scenario.Scenario
}

// Produce starts a produce step chain on s.
func Produce(s *scenario.Scenario) *ProduceDSL { return &ProduceDSL{s: s} }

func (d *ProduceDSL) with(fn func(*ProduceConfig)) *ProduceDSL {
	update(d.s, func(p *ProduceStep) *ProduceStep { return p.With(fn) })
	return d
}

// Topic creates the step. A client attached earlier with WithClient is kept.
func (d *ProduceDSL) Topic(topic string) *ProduceDSL {
	begin(d.s,
		func() *ProduceStep { return NewProduce(topic) },
		func(p *ProduceStep) *ProduceStep {
			next := p.With(func(c *ProduceConfig) { c.Topic = topic })
			next.placeholder = false
			return next
		})
	return d
}

// WithClient uses f instead of the kafka-go factory. It may be called before Topic.
func (d *ProduceDSL) WithClient(f ClientFactory) *ProduceDSL {
	attach(d.s,
		func(p *ProduceStep) *ProduceStep { return p.With(func(c *ProduceConfig) { c.Factory = f }) },
		func() *ProduceStep {
			return &ProduceStep{Slot: scenario.NewSlot(), cfg: ProduceConfig{Common: Common{Factory: f}}, placeholder: true}
		})
	return d
}

// WithKey sets the record key. Strings and byte slices are sent as-is,
// other values as JSON.
func (d *ProduceDSL) WithKey(key any) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.Key = key })
}

// WithValue sets the record value, serialised like WithKey.
func (d *ProduceDSL) WithValue(value any) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.Value = value })
}

func (d *ProduceDSL) WithHeader(name, value string) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.Headers = withHeader(c.Headers, name, value) })
}

func (d *ProduceDSL) WithTimeout(timeout time.Duration) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.Timeout = timeout })
}

func (d *ProduceDSL) WithAuth(cfg *auth.KafkaConfig) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.Auth = cfg.Clone() })
}

func (d *ProduceDSL) WithBrokers(brokers ...string) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.Brokers = append([]string(nil), brokers...) })
}

func (d *ProduceDSL) WithClientID(id string) *ProduceDSL {
	return d.with(func(c *ProduceConfig) { c.ClientID = id })
}

func (d *ProduceDSL) Step() *ProduceStep                  { return currentOrFail[*ProduceStep](d.s) }
func (d *ProduceDSL) Then() result.Result                 { return d.s.Then() }
func (d *ProduceDSL) And() *scenario.Scenario             { return d.s.And() }
func (d *ProduceDSL) Save(name string) *scenario.Scenario { return d.s.Save(name) }

// ProduceBatchDSL builds a batch produce step.
type ProduceBatchDSL struct {
	s *scenario.Scenario
}

// ProduceBatch starts a batch produce step chain on s.
func ProduceBatch(s *scenario.Scenario) *ProduceBatchDSL { return &ProduceBatchDSL{s: s} }

func (d *ProduceBatchDSL) with(fn func(*ProduceConfig)) *ProduceBatchDSL {
	update(d.s, func(p *BatchProduceStep) *BatchProduceStep { return p.With(fn) })
	return d
}

func (d *ProduceBatchDSL) Topic(topic string) *ProduceBatchDSL {
	begin(d.s,
		func() *BatchProduceStep { return NewBatchProduce(topic) },
		func(p *BatchProduceStep) *BatchProduceStep {
			next := p.With(func(c *ProduceConfig) { c.Topic = topic })
			next.placeholder = false
			return next
		})
	return d
}

func (d *ProduceBatchDSL) WithClient(f ClientFactory) *ProduceBatchDSL {
	attach(d.s,
		func(p *BatchProduceStep) *BatchProduceStep {
			return p.With(func(c *ProduceConfig) { c.Factory = f })
		},
		func() *BatchProduceStep {
			return &BatchProduceStep{Slot: scenario.NewSlot(), cfg: ProduceConfig{Common: Common{Factory: f}}, placeholder: true}
		})
	return d
}

// WithMessages replaces the batch content.
func (d *ProduceBatchDSL) WithMessages(records ...Record) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) { c.Records = append([]Record(nil), records...) })
}

// Add appends one record to the batch.
func (d *ProduceBatchDSL) Add(key, value any) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) { c.Records = append(c.Records, Record{Key: key, Value: value}) })
}

// WithValues appends one keyless record per value.
func (d *ProduceBatchDSL) WithValues(values ...any) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) {
		for _, v := range values {
			c.Records = append(c.Records, Record{Value: v})
		}
	})
}

// WithHeader sets a header on every record of the batch.
func (d *ProduceBatchDSL) WithHeader(name, value string) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) { c.Headers = withHeader(c.Headers, name, value) })
}

func (d *ProduceBatchDSL) WithTimeout(timeout time.Duration) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) { c.Timeout = timeout })
}

func (d *ProduceBatchDSL) WithAuth(cfg *auth.KafkaConfig) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) { c.Auth = cfg.Clone() })
}

func (d *ProduceBatchDSL) WithBrokers(brokers ...string) *ProduceBatchDSL {
	return d.with(func(c *ProduceConfig) { c.Brokers = append([]string(nil), brokers...) })
}

func (d *ProduceBatchDSL) Step() *BatchProduceStep             { return currentOrFail[*BatchProduceStep](d.s) }
func (d *ProduceBatchDSL) Then() result.Result                 { return d.s.Then() }
func (d *ProduceBatchDSL) And() *scenario.Scenario             { return d.s.And() }
func (d *ProduceBatchDSL) Save(name string) *scenario.Scenario { return d.s.Save(name) }

// ConsumeDSL builds a single consume step.
type ConsumeDSL struct {
	s *scenario.Scenario
}

// Consume starts a consume step chain on s.
func Consume(s *scenario.Scenario) *ConsumeDSL { return &ConsumeDSL{s: s} }

func (d *ConsumeDSL) with(fn func(*ConsumeConfig)) *ConsumeDSL {
	update(d.s, func(p *ConsumeStep) *ConsumeStep { return p.With(fn) })
	return d
}

func (d *ConsumeDSL) Topic(topic string) *ConsumeDSL {
	begin(d.s,
		func() *ConsumeStep { return NewConsume(topic) },
		func(p *ConsumeStep) *ConsumeStep {
			next := p.With(func(c *ConsumeConfig) { c.Topic = topic })
			next.placeholder = false
			return next
		})
	return d
}

// LastProducedTopic consumes from the topic of the scenario's last produce step.
func (d *ConsumeDSL) LastProducedTopic() *ConsumeDSL { return d.Topic("") }

func (d *ConsumeDSL) WithClient(f ClientFactory) *ConsumeDSL {
	attach(d.s,
		func(p *ConsumeStep) *ConsumeStep { return p.With(func(c *ConsumeConfig) { c.Factory = f }) },
		func() *ConsumeStep {
			return &ConsumeStep{Slot: scenario.NewSlot(), cfg: ConsumeConfig{Common: Common{Factory: f}}, placeholder: true}
		})
	return d
}

// WithGroupID overrides the context and settings consumer group id.
func (d *ConsumeDSL) WithGroupID(groupID string) *ConsumeDSL {
	return d.with(func(c *ConsumeConfig) { c.GroupID = groupID })
}

func (d *ConsumeDSL) WithTimeout(timeout time.Duration) *ConsumeDSL {
	return d.with(func(c *ConsumeConfig) { c.Timeout = timeout })
}

func (d *ConsumeDSL) WithAuth(cfg *auth.KafkaConfig) *ConsumeDSL {
	return d.with(func(c *ConsumeConfig) { c.Auth = cfg.Clone() })
}

func (d *ConsumeDSL) WithBrokers(brokers ...string) *ConsumeDSL {
	return d.with(func(c *ConsumeConfig) { c.Brokers = append([]string(nil), brokers...) })
}

func (d *ConsumeDSL) WithClientID(id string) *ConsumeDSL {
	return d.with(func(c *ConsumeConfig) { c.ClientID = id })
}

func (d *ConsumeDSL) Step() *ConsumeStep                  { return currentOrFail[*ConsumeStep](d.s) }
func (d *ConsumeDSL) Then() result.Result                 { return d.s.Then() }
func (d *ConsumeDSL) And() *scenario.Scenario             { return d.s.And() }
func (d *ConsumeDSL) Save(name string) *scenario.Scenario { return d.s.Save(name) }

// ConsumeBatchDSL builds a batch consume step.
type ConsumeBatchDSL struct {
	s *scenario.Scenario
}

// ConsumeBatch starts a batch consume step chain on s.
func ConsumeBatch(s *scenario.Scenario) *ConsumeBatchDSL { return &ConsumeBatchDSL{s: s} }

func (d *ConsumeBatchDSL) with(fn func(*ConsumeConfig)) *ConsumeBatchDSL {
	update(d.s, func(p *BatchConsumeStep) *BatchConsumeStep { return p.With(fn) })
	return d
}

// Topic creates the step with a count of one; use WithCount to wait for more.
func (d *ConsumeBatchDSL) Topic(topic string) *ConsumeBatchDSL {
	begin(d.s,
		func() *BatchConsumeStep { return NewBatchConsume(topic, 1) },
		func(p *BatchConsumeStep) *BatchConsumeStep {
			next := p.With(func(c *ConsumeConfig) {
				c.Topic = topic
				if c.Count == 0 {
					c.Count = 1
				}
			})
			next.placeholder = false
			return next
		})
	return d
}

func (d *ConsumeBatchDSL) LastProducedTopic() *ConsumeBatchDSL { return d.Topic("") }

func (d *ConsumeBatchDSL) WithClient(f ClientFactory) *ConsumeBatchDSL {
	attach(d.s,
		func(p *BatchConsumeStep) *BatchConsumeStep {
			return p.With(func(c *ConsumeConfig) { c.Factory = f })
		},
		func() *BatchConsumeStep {
			return &BatchConsumeStep{Slot: scenario.NewSlot(), cfg: ConsumeConfig{Common: Common{Factory: f}}, placeholder: true}
		})
	return d
}

// WithCount sets the number of messages to wait for.
func (d *ConsumeBatchDSL) WithCount(n int) *ConsumeBatchDSL {
	return d.with(func(c *ConsumeConfig) { c.Count = n })
}

func (d *ConsumeBatchDSL) WithGroupID(groupID string) *ConsumeBatchDSL {
	return d.with(func(c *ConsumeConfig) { c.GroupID = groupID })
}

func (d *ConsumeBatchDSL) WithTimeout(timeout time.Duration) *ConsumeBatchDSL {
	return d.with(func(c *ConsumeConfig) { c.Timeout = timeout })
}

func (d *ConsumeBatchDSL) WithAuth(cfg *auth.KafkaConfig) *ConsumeBatchDSL {
	return d.with(func(c *ConsumeConfig) { c.Auth = cfg.Clone() })
}

func (d *ConsumeBatchDSL) WithBrokers(brokers ...string) *ConsumeBatchDSL {
	return d.with(func(c *ConsumeConfig) { c.Brokers = append([]string(nil), brokers...) })
}

func (d *ConsumeBatchDSL) Step() *BatchConsumeStep             { return currentOrFail[*BatchConsumeStep](d.s) }
func (d *ConsumeBatchDSL) Then() result.Result                 { return d.s.Then() }
func (d *ConsumeBatchDSL) And() *scenario.Scenario             { return d.s.And() }
func (d *ConsumeBatchDSL) Save(name string) *scenario.Scenario { return d.s.Save(name) }

func currentOrFail[T scenario.Step](s *scenario.Scenario) T {
	step, err := scenario.Current[T](s, topicEntryPoint)
	if err != nil {
		s.Fail(err)
	}
	return step
}

func withHeader(h map[string]string, name, value string) map[string]string {
	if h == nil {
		h = make(map[string]string, 1)
	}
	h[name] = value
	return h
}
