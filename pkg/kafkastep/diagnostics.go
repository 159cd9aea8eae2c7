package kafkastep

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/giantswarm/given/pkg/logging"
)

// maxDiagnostics bounds the number of retained log lines per consume.
const maxDiagnostics = 200

// diagnostics collects client log lines and errors seen while consuming.
type diagnostics struct {
	mu    sync.Mutex
	lines []string
	errs  []error
}

func (d *diagnostics) add(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.lines) == maxDiagnostics {
		d.lines = append(d.lines[:0], d.lines[1:]...)
	}
	d.lines = append(d.lines, line)
}

func (d *diagnostics) addErr(err error) {
	d.add(err.Error())
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

// logger returns a LogFunc that records and forwards client output.
func (d *diagnostics) logger(level string) LogFunc {
	return func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		d.add(level + ": " + line)
		logging.Debug("KafkaStep", "kafka %s: %s", level, line)
	}
}

func (d *diagnostics) snapshot() ([]string, []error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...), append([]error(nil), d.errs...)
}

// coordinatorUnavailable reports whether the consumer group coordinator was
// unavailable: either a client error carries the broker error code, or a log
// line names the condition.
func coordinatorUnavailable(lines []string, errs []error) bool {
	for _, err := range errs {
		if errors.Is(err, kafka.GroupCoordinatorNotAvailable) || errors.Is(err, kafka.NotCoordinatorForGroup) {
			return true
		}
	}
	for _, line := range lines {
		l := strings.ToLower(line)
		if !strings.Contains(l, "coordinator") {
			continue
		}
		if strings.Contains(l, "not available") || strings.Contains(l, "unavailable") || strings.Contains(l, "not coordinator") {
			return true
		}
	}
	return false
}
