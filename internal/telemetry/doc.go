// Package telemetry provides OpenTelemetry tracing setup for the relay.
// Sessions open one span per utterance with a child span per pipeline stage;
// outbound provider requests are traced by the instrumented HTTP transport.
package telemetry
