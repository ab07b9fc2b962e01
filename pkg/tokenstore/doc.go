// Package tokenstore implements the authoritative local view of API
// tokens (spec.md §4.2): create, revoke, validate, list, and
// apply_remote, with one mutex shared by validation and mutations (there
// is no copy-on-write snapshot). Mutations are persisted
// through pkg/storage so a restart replays tokens.log before serving
// traffic, and exposed to pkg/gossip and pkg/election via the
// TokenSource and TokenCompactor interfaces those packages already
// define.
package tokenstore
