// Package logging provides subsystem-tagged structured logging for given.
//
// The package wraps log/slog. Each entry carries a subsystem attribute so the
// output of a scenario run can be filtered by the component that produced it.
//
// # Initialization
//
// Nothing is logged until one of the Init functions is called. Library users
// that want step-level tracing inside their tests can route it through the
// test logger:
//
//	func TestOrders(t *testing.T) {
//		logging.InitForTest(t, logging.LevelDebug)
//		...
//	}
//
// The CLI installs a handler on stderr:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
// # Subsystems
//
//   - Scenario: step execution and chaining
//   - HTTPStep: request construction and transport
//   - KafkaStep: producer, consumer and fallback transitions
//   - Auth: credential resolution and token refresh
//   - Settings: settings discovery, parsing and cache invalidation
//   - CLI: command execution
package logging
