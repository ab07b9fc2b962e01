/*
Package failuredetector implements spec.md §4.6: heartbeats every
HeartbeatInterval to each non-Dead peer, Suspect after k misses, Dead
after m, with a handful of peers asked to indirect-probe a suspect
before the direct path alone condemns it. rtt_ewma_ms is maintained with
github.com/VividCortex/ewma on every HeartbeatAck round trip. A node that
hears itself evaluated as Suspect or Dead calls back into its
incarnation self-defense hook instead of marking itself down.
*/
package failuredetector
