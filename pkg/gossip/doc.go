/*
Package gossip implements the anti-entropy engine from spec.md §4.7.
Every gossip_interval it selects fanout peers from a
github.com/google/btree index ordered by last_gossiped_at (oldest
first, jittered among near-ties — "weighted slightly towards
recently-unseen peers" without a flat uniform sample) and sends each a
bundle of membership deltas since that peer's high-watermark, the local
LoadSample, and any newer token mutations. Within max_bundle_bytes,
token deltas are placed first and membership deltas fill what is left;
the LoadSample goes in its own frame outside that budget. Dropped
entries simply aren't marked as sent, so they're retried next round.
*/
package gossip
