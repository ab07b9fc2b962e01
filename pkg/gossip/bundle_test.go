package gossip

import (
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/stretchr/testify/require"
)

type fakeTokenSource struct {
	toks []clustertypes.Token
}

func (f fakeTokenSource) TokenDeltasSince(seen map[clustertypes.TokenID]uint64) []clustertypes.Token {
	var out []clustertypes.Token
	for _, t := range f.toks {
		if v, ok := seen[t.ID]; !ok || t.Version > v {
			out = append(out, t)
		}
	}
	return out
}

func (f fakeTokenSource) ApplyRemoteToken(t clustertypes.Token) bool { return true }

func TestBuildBundleRespectsPriorityUnderTightBudget(t *testing.T) {
	tok := clustertypes.Token{ID: clustertypes.NewTokenID(), Name: "a", CreatedAt: time.Now(), Version: 1}
	ts := fakeTokenSource{toks: []clustertypes.Token{tok}}

	peers := []clustertypes.PeerRecord{
		{NodeID: clustertypes.NewNodeID(), State: clustertypes.StateAlive, Incarnation: 1},
	}

	hwm := clustertypes.GossipDigest{MembershipHWM: map[clustertypes.NodeID]uint64{}, TokenHWM: map[clustertypes.TokenID]uint64{}}

	b := buildBundle(peers, ts, hwm, estTokenEntryBytes)
	require.Len(t, b.tokens, 1)
	require.Len(t, b.membership, 0)
}

func TestBuildBundleSkipsAlreadySeenMembership(t *testing.T) {
	peer := clustertypes.NewNodeID()
	peers := []clustertypes.PeerRecord{{NodeID: peer, State: clustertypes.StateAlive, Incarnation: 5}}

	hwm := clustertypes.GossipDigest{
		MembershipHWM: map[clustertypes.NodeID]uint64{peer: 5},
		TokenHWM:      map[clustertypes.TokenID]uint64{},
	}

	b := buildBundle(peers, nil, hwm, 1<<20)
	require.Len(t, b.membership, 0)
}

func TestMembershipDeltaRoundTrip(t *testing.T) {
	recs := []clustertypes.PeerRecord{
		{
			NodeID:      clustertypes.NewNodeID(),
			State:       clustertypes.StateAlive,
			Incarnation: 3,
			Endpoints:   []clustertypes.Endpoint{{Host: "10.0.0.5", Port: 7000}},
		},
	}

	body := encodeMembershipDelta(recs)
	got, err := decodeMembershipDelta(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, recs[0].NodeID, got[0].NodeID)
	require.Equal(t, recs[0].State, got[0].State)
	require.Equal(t, recs[0].Incarnation, got[0].Incarnation)
	require.Equal(t, recs[0].Endpoints, got[0].Endpoints)
}

func TestLoadSampleRoundTrip(t *testing.T) {
	id := clustertypes.NewNodeID()
	sample := clustertypes.LoadSample{
		CPURatio:   0.42,
		QueueDepth: 7,
		Inflight:   2,
		RTTEWMAMs:  12.5,
		SampledAt:  time.Unix(0, time.Now().UnixNano()),
	}

	body := encodeLoadSample(id, sample)
	gotID, gotSample, err := decodeLoadSample(body)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.InDelta(t, sample.CPURatio, gotSample.CPURatio, 1e-6)
	require.Equal(t, sample.QueueDepth, gotSample.QueueDepth)
	require.Equal(t, sample.Inflight, gotSample.Inflight)
	require.InDelta(t, sample.RTTEWMAMs, gotSample.RTTEWMAMs, 1e-3)
	require.True(t, sample.SampledAt.Equal(gotSample.SampledAt))
}

func TestTokenDeltaRoundTrip(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	tok := clustertypes.Token{
		ID:        clustertypes.NewTokenID(),
		Name:      "ci-runner",
		CreatedAt: time.Now(),
		ExpiresAt: &expires,
		Revoked:   false,
		Version:   4,
	}

	body := encodeTokenDeltas([]clustertypes.Token{tok})
	got, err := decodeTokenDeltas(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, tok.ID, got[0].ID)
	require.Equal(t, tok.Name, got[0].Name)
	require.Equal(t, tok.Version, got[0].Version)
	require.NotNil(t, got[0].ExpiresAt)
	require.True(t, tok.ExpiresAt.Equal(*got[0].ExpiresAt))
}
