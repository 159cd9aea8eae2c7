package result

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/giantswarm/given/pkg/jsonpath"
)

// DeliveryStatus reports how far a produced record got.
type DeliveryStatus int

const (
	// NotPersisted means the broker rejected or never received the record.
	NotPersisted DeliveryStatus = iota
	// PossiblyPersisted means the send was interrupted after it left the client.
	PossiblyPersisted
	// Persisted means the broker acknowledged the record.
	Persisted
)

func (s DeliveryStatus) String() string {
	switch s {
	case NotPersisted:
		return "NotPersisted"
	case PossiblyPersisted:
		return "PossiblyPersisted"
	case Persisted:
		return "Persisted"
	default:
		return "Unknown"
	}
}

// Consume is a single message read from a topic.
type Consume struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
	Headers   map[string]string
	// ViaFallback is set when the message was read through manual partition
	// assignment after the group coordinator was unavailable.
	ViaFallback bool
}

// NewConsume copies the given message fields into a Consume result.
func NewConsume(topic string, partition int, offset int64, ts time.Time, key, value []byte, headers map[string]string) *Consume {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &Consume{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Timestamp: ts,
		Key:       key,
		Value:     value,
		Headers:   h,
	}
}

func (*Consume) sealed() {}

func (*Consume) Success() bool    { return true }
func (*Consume) Errors() []string { return nil }

// Data returns the message value as a string.
func (r *Consume) Data() any { return string(r.Value) }

func (r *Consume) Properties() map[string]string {
	props := map[string]string{
		PropTopic:       r.Topic,
		PropPartition:   itoa(r.Partition),
		PropOffset:      i64toa(r.Offset),
		PropViaFallback: btoa(r.ViaFallback),
	}
	setIf(props, PropTimestamp, formatTime(r.Timestamp))
	setIf(props, PropKey, string(r.Key))
	for k, v := range r.Headers {
		props[PropHeaderPrefix+k] = v
	}
	return props
}

// Text returns the message value as a string.
func (r *Consume) Text() string { return string(r.Value) }

// String returns the value at path of a JSON message value.
func (r *Consume) String(path string) (string, error) { return jsonpath.String(r.Value, path) }

// Decode unmarshals the JSON message value into v.
func (r *Consume) Decode(v any) error {
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("failed to decode message value: %w", err)
	}
	return nil
}

// Produce is the delivery report of a single record.
type Produce struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Status    DeliveryStatus
	// Err carries the broker or transport error for records not persisted.
	Err error
}

// NewProduce builds a delivery report.
func NewProduce(topic string, partition int, offset int64, ts time.Time, key []byte, status DeliveryStatus, err error) *Produce {
	return &Produce{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Timestamp: ts,
		Key:       key,
		Status:    status,
		Err:       err,
	}
}

func (*Produce) sealed() {}

func (r *Produce) Success() bool { return r.Status == Persisted }

func (r *Produce) Errors() []string {
	if r.Success() {
		return nil
	}
	if r.Err != nil {
		return []string{fmt.Sprintf("delivery %s: %v", r.Status, r.Err)}
	}
	return []string{"delivery " + r.Status.String()}
}

func (r *Produce) Data() any { return r.Status }

func (r *Produce) Properties() map[string]string {
	props := map[string]string{
		PropTopic:          r.Topic,
		PropPartition:      itoa(r.Partition),
		PropOffset:         i64toa(r.Offset),
		PropDeliveryStatus: r.Status.String(),
	}
	setIf(props, PropTimestamp, formatTime(r.Timestamp))
	setIf(props, PropKey, string(r.Key))
	return props
}

// BatchConsume collects the messages read by a batch consume step.
type BatchConsume struct {
	Topic     string
	Messages  []*Consume
	Requested int
	Missing   int
}

// NewBatchConsume builds a batch result; Missing is derived from the
// requested count and the messages received.
func NewBatchConsume(topic string, requested int, messages []*Consume) *BatchConsume {
	missing := requested - len(messages)
	if missing < 0 {
		missing = 0
	}
	return &BatchConsume{
		Topic:     topic,
		Messages:  messages,
		Requested: requested,
		Missing:   missing,
	}
}

func (*BatchConsume) sealed() {}

func (r *BatchConsume) Success() bool { return r.Missing == 0 }

func (r *BatchConsume) Errors() []string {
	if r.Success() {
		return nil
	}
	return []string{fmt.Sprintf("received %d of %d messages", len(r.Messages), r.Requested)}
}

// Data returns the message values in arrival order.
func (r *BatchConsume) Data() any { return r.Values() }

// Values returns the message values as strings in arrival order.
func (r *BatchConsume) Values() []string {
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = string(m.Value)
	}
	return out
}

// SortedValues returns the message values sorted, for order independent comparison.
func (r *BatchConsume) SortedValues() []string {
	out := r.Values()
	sort.Strings(out)
	return out
}

func (r *BatchConsume) Properties() map[string]string {
	return map[string]string{
		PropTopic:     r.Topic,
		PropCount:     itoa(len(r.Messages)),
		PropRequested: itoa(r.Requested),
		PropMissing:   itoa(r.Missing),
	}
}

// BatchProduce holds one delivery report per record, in input order.
type BatchProduce struct {
	Topic      string
	Deliveries []*Produce
}

func NewBatchProduce(topic string, deliveries []*Produce) *BatchProduce {
	return &BatchProduce{Topic: topic, Deliveries: deliveries}
}

func (*BatchProduce) sealed() {}

func (r *BatchProduce) Success() bool {
	for _, d := range r.Deliveries {
		if !d.Success() {
			return false
		}
	}
	return true
}

func (r *BatchProduce) Errors() []string {
	var errs []string
	for i, d := range r.Deliveries {
		for _, e := range d.Errors() {
			errs = append(errs, fmt.Sprintf("record %d: %s", i, e))
		}
	}
	return errs
}

func (r *BatchProduce) Data() any { return r.Deliveries }

// Persisted counts the acknowledged records.
func (r *BatchProduce) Persisted() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Success() {
			n++
		}
	}
	return n
}

func (r *BatchProduce) Properties() map[string]string {
	return map[string]string{
		PropTopic:     r.Topic,
		PropCount:     itoa(len(r.Deliveries)),
		PropMissing:   itoa(len(r.Deliveries) - r.Persisted()),
		PropRequested: itoa(len(r.Deliveries)),
	}
}
