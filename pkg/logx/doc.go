// Package logx wraps zerolog behind a small structured-logging API.
//
// It provides:
//   - a Logger value type whose zero value is a safe no-op
//   - Field closures (String, Int64, Err, ...) applied per call site
//   - a Service that can swap sinks/levels at runtime via Apply()
package logx
