// Package api serves the read-only status API of a running harvester:
// health checks, Prometheus metrics and the per-target lifecycle report.
package api
