package gossip

import (
	"fmt"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/transport"
)

// bundle is one round's per-peer payload, already trimmed to fit
// MaxBundleBytes with priority rollover Token > Membership > Load — a
// dropped entry simply isn't added to peerHWM, so it's resent next round.
type bundle struct {
	tokens     []clustertypes.Token
	membership []clustertypes.PeerRecord
}

// estimated per-entry overhead used only to size-budget the bundle; the
// wire encoding's actual length-prefixing is the source of truth.
const (
	estMembershipEntryBytes = 96
	estTokenEntryBytes      = 64
)

func buildBundle(all []clustertypes.PeerRecord, tokens TokenSource, hwm clustertypes.GossipDigest, maxBytes int) bundle {
	var b bundle
	budget := maxBytes

	// Priority 1: Token deltas.
	if tokens != nil {
		for _, tok := range tokens.TokenDeltasSince(hwm.TokenHWM) {
			if budget < estTokenEntryBytes {
				break
			}
			b.tokens = append(b.tokens, tok)
			budget -= estTokenEntryBytes
		}
	}

	// Priority 2: Membership deltas (newest-wins since the peer's HWM).
	for _, rec := range all {
		seen, ok := hwm.MembershipHWM[rec.NodeID]
		if ok && rec.Incarnation <= seen {
			continue
		}
		if budget < estMembershipEntryBytes {
			break
		}
		b.membership = append(b.membership, rec)
		budget -= estMembershipEntryBytes
	}

	return b
}

func encodeMembershipDelta(recs []clustertypes.PeerRecord) []byte {
	enc := transport.NewEncoder().PutUint32(uint32(len(recs)))
	for _, rec := range recs {
		enc.PutString(rec.NodeID.String()).
			PutUint8(uint8(rec.State)).
			PutUint64(rec.Incarnation).
			PutUint32(uint32(len(rec.Endpoints)))
		for _, ep := range rec.Endpoints {
			enc.PutString(ep.Host).PutUint32(uint32(ep.Port))
		}
	}
	return enc.Bytes()
}

func decodeMembershipDelta(body []byte) ([]clustertypes.PeerRecord, error) {
	dec := transport.NewDecoder(body)
	count := dec.GetUint32()

	recs := make([]clustertypes.PeerRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		idStr := dec.GetString()
		state := clustertypes.PeerState(dec.GetUint8())
		incarnation := dec.GetUint64()
		epCount := dec.GetUint32()

		endpoints := make([]clustertypes.Endpoint, 0, epCount)
		for j := uint32(0); j < epCount; j++ {
			host := dec.GetString()
			port := dec.GetUint32()
			endpoints = append(endpoints, clustertypes.Endpoint{Host: host, Port: int(port)})
		}
		if dec.Err() != nil {
			return nil, dec.Err()
		}

		id, err := clustertypes.ParseNodeID(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse node id in membership delta: %w", err)
		}

		recs = append(recs, clustertypes.PeerRecord{
			NodeID:      id,
			State:       state,
			Incarnation: incarnation,
			Endpoints:   endpoints,
		})
	}
	return recs, nil
}

func encodeLoadSample(id clustertypes.NodeID, l clustertypes.LoadSample) []byte {
	return transport.NewEncoder().
		PutString(id.String()).
		PutUint64(uint64(l.CPURatio * 1e6)).
		PutUint32(uint32(l.QueueDepth)).
		PutUint32(uint32(l.Inflight)).
		PutUint64(uint64(l.RTTEWMAMs * 1e3)).
		PutInt64(l.SampledAt.UnixNano()).
		Bytes()
}

func decodeLoadSample(body []byte) (clustertypes.NodeID, clustertypes.LoadSample, error) {
	dec := transport.NewDecoder(body)
	idStr := dec.GetString()
	cpuFixed := dec.GetUint64()
	queueDepth := dec.GetUint32()
	inflight := dec.GetUint32()
	rttFixed := dec.GetUint64()
	sampledAtNanos := dec.GetInt64()
	if dec.Err() != nil {
		return clustertypes.NodeID{}, clustertypes.LoadSample{}, dec.Err()
	}

	id, err := clustertypes.ParseNodeID(idStr)
	if err != nil {
		return clustertypes.NodeID{}, clustertypes.LoadSample{}, fmt.Errorf("parse node id in load sample: %w", err)
	}

	return id, clustertypes.LoadSample{
		CPURatio:   float64(cpuFixed) / 1e6,
		QueueDepth: int(queueDepth),
		Inflight:   int(inflight),
		RTTEWMAMs:  float64(rttFixed) / 1e3,
		SampledAt:  timeFromUnixNano(sampledAtNanos),
	}, nil
}

func encodeTokenDeltas(toks []clustertypes.Token) []byte {
	enc := transport.NewEncoder().PutUint32(uint32(len(toks)))
	for _, tok := range toks {
		var expiresAtNanos int64
		hasExpiry := uint8(0)
		if tok.ExpiresAt != nil {
			hasExpiry = 1
			expiresAtNanos = tok.ExpiresAt.UnixNano()
		}
		revoked := uint8(0)
		if tok.Revoked {
			revoked = 1
		}
		enc.PutBytes(tok.ID[:]).
			PutString(tok.Name).
			PutInt64(tok.CreatedAt.UnixNano()).
			PutUint8(hasExpiry).
			PutInt64(expiresAtNanos).
			PutUint8(revoked).
			PutUint64(tok.Version)
	}
	return enc.Bytes()
}

func decodeTokenDeltas(body []byte) ([]clustertypes.Token, error) {
	dec := transport.NewDecoder(body)
	count := dec.GetUint32()

	toks := make([]clustertypes.Token, 0, count)
	for i := uint32(0); i < count; i++ {
		idBytes := dec.GetBytes()
		name := dec.GetString()
		createdAtNanos := dec.GetInt64()
		hasExpiry := dec.GetUint8()
		expiresAtNanos := dec.GetInt64()
		revoked := dec.GetUint8()
		version := dec.GetUint64()
		if dec.Err() != nil {
			return nil, dec.Err()
		}

		var id clustertypes.TokenID
		copy(id[:], idBytes)

		tok := clustertypes.Token{
			ID:        id,
			Name:      name,
			CreatedAt: timeFromUnixNano(createdAtNanos),
			Revoked:   revoked == 1,
			Version:   version,
		}
		if hasExpiry == 1 {
			t := timeFromUnixNano(expiresAtNanos)
			tok.ExpiresAt = &t
		}
		toks = append(toks, tok)
	}
	return toks, nil
}
