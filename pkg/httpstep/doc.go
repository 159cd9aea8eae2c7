// Package httpstep provides the HTTP request step and its fluent builder.
//
// A step is configured through Request and executed by the scenario
// chaining operators:
//
//	res := httpstep.Request(s).
//		Resource("/orders/{{ .orderId }}").
//		WithBearerToken(token).
//		Get().
//		Then()
//
// Paths, query values, headers and string or map bodies are rendered as
// templates against the scenario properties. The base URL, default headers,
// timeout and auth come from settings unless the step overrides them.
// Auth resolution order is the step, then the scenario context
// (SetContextAuth), then settings.
//
// WithClient sends requests through a caller supplied Doer, for example a
// client bound to an in-process server. Settings headers, the settings base
// URL and the settings timeout are not applied to such clients.
package httpstep
