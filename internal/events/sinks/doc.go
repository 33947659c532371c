// Package sinks provides events.Sink implementations: structured logs,
// Prometheus collectors, Google Cloud Pub/Sub delivery, and an in-memory
// sink for tests.
package sinks
