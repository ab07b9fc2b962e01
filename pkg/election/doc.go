/*
Package election implements Bully-style leader election with explicit
terms (spec.md §4.8): a candidate increments current_term and challenges
only peers with a strictly higher node id, yielding to any ack; absent
an ack within bully_timeout it declares itself leader and broadcasts
Coordinator. Followers adopt any Coordinator whose term is at least
their own. Housekeeper is the elected leader's one administrative duty —
a periodic token-compaction cycle — started on leadership and stopped on
step-down.
*/
package election
