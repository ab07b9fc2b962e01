package discovery

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/transport"
)

const multicastGroup = "239.255.42.98:7878"

// MulticastSource listens for, and periodically sends, Announce packets
// on the cluster's well-known UDP multicast group (spec.md §6).
type MulticastSource struct {
	Self             Candidate
	AnnounceInterval time.Duration
}

func (m MulticastSource) Run(ctx context.Context, emit func(Candidate)) {
	logger := log.WithComponent("discovery.multicast")

	groupAddr, err := net.ResolveUDPAddr("udp4", multicastGroup)
	if err != nil {
		logger.Error().Err(err).Msg("resolve multicast group")
		return
	}

	listenConn, err := net.ListenMulticastUDP("udp4", nil, groupAddr)
	if err != nil {
		logger.Error().Err(err).Msg("join multicast group")
		return
	}
	defer listenConn.Close()

	sendConn, err := net.DialUDP("udp4", nil, groupAddr)
	if err != nil {
		logger.Error().Err(err).Msg("dial multicast group")
		return
	}
	defer sendConn.Close()

	go m.announceLoop(ctx, sendConn)
	m.listenLoop(ctx, listenConn, emit)
}

func (m MulticastSource) announceLoop(ctx context.Context, conn *net.UDPConn) {
	interval := m.AnnounceInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var buf bytes.Buffer
			frame := transport.Frame{Type: transport.MsgAnnounce, Body: encodeAnnounce(m.Self)}
			if err := transport.WriteFrame(&buf, frame); err != nil {
				continue
			}
			conn.Write(buf.Bytes())
		}
	}
}

func (m MulticastSource) listenLoop(ctx context.Context, conn *net.UDPConn, emit func(Candidate)) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if n < 12 {
			continue
		}
		body := append([]byte(nil), buf[12:n]...)
		cand, err := decodeAnnounce(body)
		if err != nil {
			continue
		}
		emit(cand)
	}
}

func encodeAnnounce(c Candidate) []byte {
	enc := transport.NewEncoder().PutString(c.NodeID.String()).PutUint64(c.Incarnation).PutUint32(uint32(len(c.Endpoints)))
	for _, ep := range c.Endpoints {
		enc.PutString(ep.Host).PutUint32(uint32(ep.Port))
	}
	return enc.Bytes()
}

func decodeAnnounce(body []byte) (Candidate, error) {
	dec := transport.NewDecoder(body)
	nodeIDStr := dec.GetString()
	incarnation := dec.GetUint64()
	count := dec.GetUint32()

	endpoints := make([]clustertypes.Endpoint, 0, count)
	for i := uint32(0); i < count; i++ {
		host := dec.GetString()
		port := dec.GetUint32()
		endpoints = append(endpoints, clustertypes.Endpoint{Host: host, Port: int(port)})
	}
	if dec.Err() != nil {
		return Candidate{}, dec.Err()
	}

	nodeID, err := clustertypes.ParseNodeID(nodeIDStr)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{NodeID: nodeID, Incarnation: incarnation, Endpoints: endpoints}, nil
}
