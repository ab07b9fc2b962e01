// Package dispatcher scores peers and routes analyze requests
// (spec.md §4.9): lowest weighted score wins, admission control guards
// a self-selection that would overload the local engine pool, and a
// request forwards at most one hop with its deadline intact. Selection
// reuses the "pick the candidate with the best score" shape a
// round-robin-with-load scheduler uses, generalized from container
// placement to per-request peer selection.
package dispatcher
