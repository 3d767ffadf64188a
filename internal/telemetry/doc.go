// Package telemetry wraps OTel SDK setup for traces and metrics. When
// telemetry is disabled no exporters are created and the global
// providers remain noop, so engine spans cost nothing.
package telemetry
