// Package metrics exposes the gateway's Prometheus collectors on a private
// registry served at /metrics. All recording methods are safe on a nil
// *Metrics, so components can run without metrics in tests.
package metrics
