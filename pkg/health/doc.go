/*
Package health provides a small, pluggable health-check toolkit: HTTP, TCP,
exec, and engine probes, all implementing the Checker interface and sharing
a Result/Status/Config bookkeeping model (consecutive failure/success
counts, a startup grace period).

HTTPChecker and TCPChecker probe a network endpoint; ExecChecker runs a
local command; EngineChecker is specific to this cluster's pooled UCI
engine processes — it writes a probe command to the process's stdin and
waits for a distinguished reply line on stdout, with Send/ReadLine
supplied by the caller so this package stays decoupled from process
management. The engine pool (pkg/enginepool) uses EngineChecker for the
"isready"/"readyok" round trip run after each spawn and on every Ok
release. A release whose probe fails still returns the handle to Idle
until HealthFailK consecutive probes have failed.
*/
package health
