package failuredetector

import (
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T, self clustertypes.NodeID, dir *directory.Directory) *Detector {
	t.Helper()
	cfg := Config{HeartbeatInterval: 100 * time.Millisecond}
	return New(cfg, self, dir, nil, nil)
}

func TestEvaluateMarksSuspectAfterKMisses(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	dir := directory.New(self)
	dir.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 1, LastHeartbeatAt: time.Now()})

	d := newTestDetector(t, self, dir)

	rec, _ := dir.Get(peer)
	d.evaluate(rec, time.Now().Add(4*d.cfg.HeartbeatInterval))

	rec, _ = dir.Get(peer)
	require.Equal(t, clustertypes.StateSuspect, rec.State)
}

func TestEvaluateMarksDeadAfterMMisses(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	dir := directory.New(self)
	dir.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 1, LastHeartbeatAt: time.Now()})

	d := newTestDetector(t, self, dir)

	rec, _ := dir.Get(peer)
	d.evaluate(rec, time.Now().Add(6*d.cfg.HeartbeatInterval))

	rec, _ = dir.Get(peer)
	require.Equal(t, clustertypes.StateDead, rec.State)
}

func TestEvaluateTriggersSelfDefenseInsteadOfMarkingSelf(t *testing.T) {
	self := clustertypes.NewNodeID()
	dir := directory.New(self)

	called := false
	d := New(Config{HeartbeatInterval: 100 * time.Millisecond}, self, dir, nil, func() { called = true })

	selfRec := clustertypes.PeerRecord{NodeID: self, State: clustertypes.StateAlive, Incarnation: 1, LastHeartbeatAt: time.Now().Add(-time.Hour)}
	d.evaluate(selfRec, time.Now())

	require.True(t, called)
}

func TestEvaluateNoOpBeforeSuspectThreshold(t *testing.T) {
	self := clustertypes.NewNodeID()
	peer := clustertypes.NewNodeID()
	dir := directory.New(self)
	dir.Upsert(clustertypes.PeerRecord{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 1, LastHeartbeatAt: time.Now()})

	d := newTestDetector(t, self, dir)

	rec, _ := dir.Get(peer)
	d.evaluate(rec, time.Now())

	rec, _ = dir.Get(peer)
	require.Equal(t, clustertypes.StateAlive, rec.State)
}
