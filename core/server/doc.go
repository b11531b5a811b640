// Package server runs the operational HTTP listener of certflow: Prometheus
// metrics and the liveness and readiness probes. Run plugs into an errgroup
// next to the queue workers and shuts the listener down when the group
// context ends.
package server
