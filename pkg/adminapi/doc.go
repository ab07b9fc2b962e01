// Package adminapi exposes the cluster's control surface over plain
// JSON-over-HTTP: token lifecycle, peer directory snapshot, analyze
// submission, and engine pool metrics. It replaces a gRPC+mTLS surface
// with gorilla/mux routing in the style of a lightweight HA control
// plane — bearer-token auth per request instead of per-connection
// client certificates.
package adminapi
