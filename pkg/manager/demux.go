package manager

import (
	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/dispatcher"
	"github.com/cuemby/iffish/pkg/election"
	"github.com/cuemby/iffish/pkg/failuredetector"
	"github.com/cuemby/iffish/pkg/gossip"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/transport"
	"github.com/rs/zerolog"
)

// router demuxes every inbound frame to the component that owns its
// MessageType. It exists because transport.New needs a Handler at
// construction time while the components it dispatches to need the
// same *transport.Transport at their own construction time; router
// breaks the cycle by being built empty and filled in once every
// component exists.
type router struct {
	logger zerolog.Logger

	fd   *failuredetector.Detector
	goss *gossip.Engine
	elec *election.Election
	disp *dispatcher.Dispatcher

	dir    *directory.Directory
	selfID clustertypes.NodeID
}

func newRouter(selfID clustertypes.NodeID, dir *directory.Directory) *router {
	return &router{
		logger: log.WithComponent("manager.router"),
		dir:    dir,
		selfID: selfID,
	}
}

func (r *router) handle(from clustertypes.NodeID, f transport.Frame) {
	switch f.Type {
	case transport.MsgHeartbeat:
		r.fd.HandleHeartbeat(from, f.Body)
	case transport.MsgHeartbeatAck:
		r.fd.HandleHeartbeatAck(from, f.Body)
	case transport.MsgMembershipDelta:
		r.goss.HandleMembershipDelta(from, f.Body)
	case transport.MsgLoadSample:
		r.goss.HandleLoadSample(from, f.Body)
	case transport.MsgTokenDelta:
		r.goss.HandleTokenDelta(from, f.Body)
	case transport.MsgElectionRequest:
		r.elec.HandleElectionRequest(from, f.Body)
	case transport.MsgElectionAck:
		r.elec.HandleElectionAck(from, f.Body)
	case transport.MsgCoordinator:
		r.elec.HandleCoordinator(from, f.Body)
	case transport.MsgForward:
		r.disp.HandleForward(from, f.Body)
	case transport.MsgForwardReply:
		r.disp.HandleForwardReply(from, f.Body)
	case transport.MsgAnnounce:
		r.handleAnnounce(f.Body)
	default:
		r.logger.Warn().Uint8("type", uint8(f.Type)).Msg("unhandled frame type")
	}
}

// handleAnnounce upserts the sender as Joining. The sender's identity
// comes from the frame body, not fromNode, because an announce can
// arrive from a peer the directory has never upserted before — the
// handshake only authenticates the connection, not the application
// identity discovery is introducing.
func (r *router) handleAnnounce(body []byte) {
	a, err := decodeAnnounce(body)
	if err != nil {
		r.logger.Warn().Err(err).Msg("malformed announce")
		return
	}
	if a.nodeID == r.selfID {
		return
	}
	r.dir.Upsert(clustertypes.PeerRecord{
		NodeID:      a.nodeID,
		Endpoints:   a.endpoints,
		State:       clustertypes.StateJoining,
		Incarnation: a.incarnation,
	})
}
