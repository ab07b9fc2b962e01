// Package manager is the composition root of an iffish node: it loads
// persisted identity and tokens, constructs the peer directory,
// transport, discovery sources, failure detector, gossip engine,
// election, engine pool, dispatcher, and admin API, wires the
// transport's single Handler into a demux that routes each inbound
// frame to the component that owns its MessageType, and runs every
// component's loop until the process is asked to stop.
//
// Every other package in this module is usable on its own; Manager's
// only job is wiring, matching the teacher's own manager package shape
// (a single struct owning every subsystem's lifecycle) without its
// Raft consensus layer — spec.md's Non-goals exclude a replicated log,
// so leadership here is plain Bully election over the gossiped
// directory, and persisted state is limited to node identity and the
// token log (pkg/storage).
package manager
