package directory

import (
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/stretchr/testify/require"
)

func TestUpsertDiscardsLowerIncarnation(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	d := New(self)

	require.True(t, d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 5}))
	require.False(t, d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 3}))

	rec, ok := d.Get(peer)
	require.True(t, ok)
	require.Equal(t, uint64(5), rec.Incarnation)
}

func TestDeadIsStickyAtSameIncarnation(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	d := New(self)

	d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateDead, Incarnation: 5})
	changed := d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 5})
	require.False(t, changed)

	rec, _ := d.Get(peer)
	require.Equal(t, clustertypes.StateDead, rec.State)
}

func TestHigherIncarnationRevivesDeadPeer(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	d := New(self)

	d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateDead, Incarnation: 5})
	changed := d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 6})
	require.True(t, changed)

	rec, _ := d.Get(peer)
	require.Equal(t, clustertypes.StateAlive, rec.State)
	require.Equal(t, uint64(6), rec.Incarnation)
}

func TestUpsertSkipsSelf(t *testing.T) {
	self := clustertypes.NewNodeID()
	d := New(self)
	require.False(t, d.Upsert(clustertypes.PeerRecord{NodeID: self, State: clustertypes.StateAlive, Incarnation: 1}))
	require.Equal(t, 0, d.Len())
}

func TestDuplicateUpsertIsNoOp(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	d := New(self)

	rec := clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 1}
	require.True(t, d.Upsert(rec))
	require.False(t, d.Upsert(rec))
}

func TestTouchHeartbeatRevivesSuspect(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	d := New(self)

	d.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 1})
	d.MarkSuspect(peer)
	rec, _ := d.Get(peer)
	require.Equal(t, clustertypes.StateSuspect, rec.State)

	d.TouchHeartbeat(peer, time.Now())
	rec, _ = d.Get(peer)
	require.Equal(t, clustertypes.StateAlive, rec.State)
}

func TestLivePeersExcludesDead(t *testing.T) {
	self := clustertypes.NewNodeID()
	a := clustertypes.NewNodeID()
	b := clustertypes.NewNodeID()
	d := New(self)

	d.Upsert(clustertypes.PeerRecord{NodeID: a, State: clustertypes.StateAlive, Incarnation: 1})
	d.Upsert(clustertypes.PeerRecord{NodeID: b, State: clustertypes.StateDead, Incarnation: 1})

	live := d.LivePeers()
	require.Len(t, live, 1)
	require.Equal(t, a, live[0].NodeID)
}
