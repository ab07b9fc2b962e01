/*
Package metrics exposes cluster-internal state as Prometheus collectors.

Metrics are grouped by the component that owns them: peer directory and
election (membership, leadership, term), gossip (round counts, bundle
sizes, overflow), the token store (counts, validation outcomes, rate
limiting), the engine pool (idle/busy/dead counts, restarts, quarantine),
and the dispatcher (decisions, scoring latency, end-to-end analysis
duration). Handler() serves them in the Prometheus exposition format for
mounting under /metrics by the admin HTTP adapter.

Package metrics also carries a small component health registry
(RegisterComponent, HealthHandler, ReadyHandler and LivenessHandler in
health.go) used for a liveness/readiness
JSON endpoint, independent of the Prometheus collectors above.
*/
package metrics
