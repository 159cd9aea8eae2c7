// Package scenario implements the Given/When/Then execution engine.
//
// A Scenario holds one Context and the step currently under construction.
// Transport packages (httpstep, kafkastep) attach steps to it; the chaining
// operators run the current step before the next one is attached:
//
//	s := scenario.Given(scenario.WithTB(t))
//	httpstep.Request(s).Resource("/orders").WithJSON(order).Post()
//	s.Save("create")
//	res := kafkastep.Consume(s.And()).Topic("orders").Then()
//
// Steps are immutable configuration snapshots. Every DSL call builds a new
// step from the current one and replaces it, so the previous snapshot is
// never changed. A step's only mutable state is its Slot, written by Execute.
//
// Configuration mistakes, such as calling a header method before Resource(),
// are reported synchronously through the Reporter bound with WithTB, or as a
// panic when no Reporter is bound. Failures during execution never escape
// Execute; they become *result.Failure values.
package scenario
