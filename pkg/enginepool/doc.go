// Package enginepool supervises a fixed-size pool of UCI engine child
// processes (spec.md §4.1): checkout/release with a FIFO idle queue,
// spawn-on-demand up to pool_size, and a ticker-driven zombie killer
// sweeper grounded in the same sync-loop shape a container health
// monitor uses, generalized from polling container state to polling
// engine process and health-probe state.
package enginepool
