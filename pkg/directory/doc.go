/*
Package directory implements the Peer Directory (spec.md §4.3): the
single in-memory NodeID → PeerRecord map every other component reads
and writes through. Upsert merges by (incarnation, then state order
Dead > Leaving > Suspect > Alive > Joining); a lower incarnation is
always discarded and Dead is sticky except to a strictly higher
incarnation. All mutation is serialized behind one lock held only for
the O(1) merge itself — this is the cluster's only cross-component
mutable map (spec.md's "Shared-resource policy").
*/
package directory
