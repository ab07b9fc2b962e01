package manager

import (
	"testing"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/transport"
	"github.com/stretchr/testify/require"
)

func TestHandleAnnounceUpsertsSenderAsJoining(t *testing.T) {
	self := clustertypes.NewNodeID()
	dir := directory.New(self)
	r := newRouter(self, dir)

	sender := clustertypes.NewNodeID()
	endpoints := []clustertypes.Endpoint{{Host: "10.0.0.5", Port: 7600}}
	body := encodeAnnounce(sender, 3, endpoints)

	r.handle(clustertypes.NewNodeID(), transport.Frame{Type: transport.MsgAnnounce, Body: body})

	rec, ok := dir.Get(sender)
	require.True(t, ok)
	require.Equal(t, clustertypes.StateJoining, rec.State)
	require.Equal(t, uint64(3), rec.Incarnation)
	require.Equal(t, endpoints, rec.Endpoints)
}

func TestHandleAnnounceIgnoresSelf(t *testing.T) {
	self := clustertypes.NewNodeID()
	dir := directory.New(self)
	r := newRouter(self, dir)

	body := encodeAnnounce(self, 1, nil)
	r.handle(clustertypes.NewNodeID(), transport.Frame{Type: transport.MsgAnnounce, Body: body})

	require.Empty(t, dir.Snapshot())
}

func TestHandleAnnounceIgnoresMalformedBody(t *testing.T) {
	self := clustertypes.NewNodeID()
	dir := directory.New(self)
	r := newRouter(self, dir)

	r.handle(clustertypes.NewNodeID(), transport.Frame{Type: transport.MsgAnnounce, Body: []byte{0xff}})

	require.Empty(t, dir.Snapshot())
}
