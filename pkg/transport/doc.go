/*
Package transport implements the connection-oriented, length-prefixed
peer channel from spec.md §6: fixed 12-byte header (magic, version,
msg_type, reserved, length) plus a self-describing compact-record body.
Every session authenticates with an HMAC challenge/response over the
shared cluster secret before any other message is accepted; one logical
outbound session per peer endpoint is maintained, lazily (re)dialed with
exponential backoff. A send that cannot complete within SendTimeout
returns ErrPeerUnreachable so the caller — typically the Failure
Detector — can record a negative observation.
*/
package transport
