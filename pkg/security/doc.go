/*
Package security provides the cluster's cryptographic primitives: the
process-wide ClusterSecrets holder (cluster secret for the transport
handshake, token secret for token MACs — spec.md §9 "Global state"),
constant-time MAC verification (crypto/subtle), and AES-256-GCM helpers
for encrypting data at rest, which pkg/storage does not call.

There is deliberately no certificate authority or TLS machinery here: the
peer transport authenticates with an HMAC challenge/response over the
shared cluster secret rather than mTLS (spec.md §6 — "session keys are
not derived; the cluster relies on network-layer confidentiality").
*/
package security
