package manager

import (
	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/transport"
)

// encodeAnnounce builds the MsgAnnounce body a node sends to introduce
// itself to a freshly-discovered endpoint: self identity, current
// incarnation, and every endpoint it can be reached on. The receiver
// learns the sender's NodeID from it; no Announce is sent in reply, so
// a peer found only by bare address (static seeds, DNS) becomes known
// once that peer announces itself.
func encodeAnnounce(selfID clustertypes.NodeID, incarnation uint64, endpoints []clustertypes.Endpoint) []byte {
	enc := transport.NewEncoder().PutString(selfID.String()).PutUint64(incarnation).PutUint32(uint32(len(endpoints)))
	for _, ep := range endpoints {
		enc.PutString(ep.Host).PutUint32(uint32(ep.Port))
	}
	return enc.Bytes()
}

type announce struct {
	nodeID      clustertypes.NodeID
	incarnation uint64
	endpoints   []clustertypes.Endpoint
}

func decodeAnnounce(body []byte) (announce, error) {
	dec := transport.NewDecoder(body)
	idStr := dec.GetString()
	incarnation := dec.GetUint64()
	n := dec.GetUint32()
	endpoints := make([]clustertypes.Endpoint, 0, n)
	for i := uint32(0); i < n; i++ {
		host := dec.GetString()
		port := dec.GetUint32()
		endpoints = append(endpoints, clustertypes.Endpoint{Host: host, Port: int(port)})
	}
	if dec.Err() != nil {
		return announce{}, dec.Err()
	}
	id, err := clustertypes.ParseNodeID(idStr)
	if err != nil {
		return announce{}, err
	}
	return announce{nodeID: id, incarnation: incarnation, endpoints: endpoints}, nil
}
