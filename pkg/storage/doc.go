/*
Package storage persists the one node-local state that must survive a
restart: the node's own id and incarnation, and the token mutation log
(spec.md §6 "Persisted state"). BoltStore keeps two go.etcd.io/bbolt
buckets — meta (node_id, last_incarnation) and tokens (an append-only
log of token records keyed by the bucket's increasing sequence number)
— in a single iffd.db file.

ReplayTokenLog is read once at startup and fed into pkg/tokenstore in
append order; CompactTokenLog is called by the elected leader's periodic
housekeeping job once revoked tokens age past retention, and is expected
to produce a store that replays to the same live state modulo history
(spec.md §8).
*/
package storage
