package result

import (
	"strconv"
	"time"
)

// Property keys used by Properties across all variants.
const (
	PropStatusCode     = "statusCode"
	PropStatus         = "status"
	PropElapsed        = "elapsed"
	PropTopic          = "topic"
	PropPartition      = "partition"
	PropOffset         = "offset"
	PropTimestamp      = "timestamp"
	PropKey            = "key"
	PropDeliveryStatus = "deliveryStatus"
	PropCount          = "count"
	PropRequested      = "requested"
	PropMissing        = "missing"
	PropViaFallback    = "viaFallback"
	PropReason         = "reason"
	PropTimeout        = "timeout"
	PropExceptionType  = "exceptionType"
	PropExceptionMsg   = "exceptionMessage"
	PropStackTrace     = "stackTrace"
	PropHeaderPrefix   = "header."
)

// Result is the outcome of exactly one step execution.
//
// The set of implementations is closed: *HTTP, *Consume, *Produce,
// *BatchConsume, *BatchProduce and *Failure. Callers select on the concrete
// type with a type switch.
type Result interface {
	// Success reports whether the step achieved its goal.
	Success() bool
	// Errors lists human readable failure reasons. It is never empty when
	// Success is false.
	Errors() []string
	// Data returns the primary payload of the result.
	Data() any
	// Properties flattens the typed fields into strings for reporting.
	Properties() map[string]string

	sealed()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func itoa(n int) string     { return strconv.Itoa(n) }
func i64toa(n int64) string { return strconv.FormatInt(n, 10) }
func btoa(b bool) string    { return strconv.FormatBool(b) }

func setIf(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
