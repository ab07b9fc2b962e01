package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	idle, busy int
}

func (f *fakePool) Checkout(ctx context.Context, timeout time.Duration) (*enginepool.Lease, error) {
	return nil, nil
}
func (f *fakePool) Release(lease *enginepool.Lease, outcome enginepool.Outcome) {}
func (f *fakePool) Metrics() enginepool.Metrics {
	return enginepool.Metrics{Idle: f.idle, Busy: f.busy}
}

func newTestDispatcher(t *testing.T, pool EnginePool) *Dispatcher {
	t.Helper()
	self := clustertypes.NewNodeID()
	dir := directory.New(self)
	d := New(Config{QueueCap: 2}, self, dir, pool, nil)
	return d
}

func TestSubmitExecutesLocallyWhenAdmitted(t *testing.T) {
	d := newTestDispatcher(t, &fakePool{idle: 1})
	called := false
	d.execute = func(ctx context.Context, pool EnginePool, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
		called = true
		return clustertypes.AnalysisResult{RequestID: req.RequestID, BestMove: "e2e4"}, nil
	}

	res, err := d.Submit(context.Background(), clustertypes.Request{RequestID: "r1", Position: "startpos", Depth: 10})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "e2e4", res.BestMove)
	require.Equal(t, d.selfID, res.ExecutedBy)
}

func TestSubmitReturnsOverloadedWithNoPeersAndNoAdmission(t *testing.T) {
	d := newTestDispatcher(t, &fakePool{idle: 0, busy: 2})
	d.localInflight = 2 // at queue cap, no idle handles

	_, err := d.Submit(context.Background(), clustertypes.Request{RequestID: "r2", Position: "startpos", Depth: 10})
	require.ErrorIs(t, err, clustertypes.ErrOverloaded)
}

func TestSubmitWithHopCountExecutesLocallyRegardlessOfAdmission(t *testing.T) {
	d := newTestDispatcher(t, &fakePool{idle: 0, busy: 2})
	d.localInflight = 5

	called := false
	d.execute = func(ctx context.Context, pool EnginePool, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
		called = true
		return clustertypes.AnalysisResult{RequestID: req.RequestID, BestMove: "d2d4"}, nil
	}

	res, err := d.Submit(context.Background(), clustertypes.Request{RequestID: "r3", Position: "startpos", Depth: 5, HopCount: 1})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "d2d4", res.BestMove)
}

func TestHandleForwardReplyWakesPendingWaiter(t *testing.T) {
	d := newTestDispatcher(t, &fakePool{idle: 1})
	ch := make(chan forwardReply, 1)
	d.mu.Lock()
	d.pending["r4"] = ch
	d.mu.Unlock()

	body := encodeForwardReply("r4", clustertypes.AnalysisResult{BestMove: "g1f3"}, "")
	d.HandleForwardReply(clustertypes.NewNodeID(), body)

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		require.Equal(t, "g1f3", r.res.BestMove)
	default:
		t.Fatal("expected pending waiter to be woken")
	}
}

func TestForwardWireRoundTrip(t *testing.T) {
	req := clustertypes.Request{
		RequestID: "r5",
		Position:  "8/8/8/8/8/8/8/K6k w - - 0 1",
		Depth:     12,
		Deadline:  time.Now().Add(time.Minute),
	}
	body := encodeForward(req, 1)
	decoded, err := decodeForward(body)
	require.NoError(t, err)
	require.Equal(t, req.RequestID, decoded.RequestID)
	require.Equal(t, req.Position, decoded.Position)
	require.Equal(t, req.Depth, decoded.Depth)
	require.Equal(t, 1, decoded.HopCount)
}

func TestForwardReplyWireRoundTripWithScores(t *testing.T) {
	cp := 35
	res := clustertypes.AnalysisResult{
		BestMove:     "e2e4",
		PonderMove:   "e7e5",
		ScoreCP:      &cp,
		DepthReached: 20,
		PV:           []string{"e2e4", "e7e5", "g1f3"},
		Nodes:        123456,
		NPS:          500000,
	}
	body := encodeForwardReply("r6", res, "")
	requestID, decoded, errMsg, err := decodeForwardReply(body)
	require.NoError(t, err)
	require.Equal(t, "r6", requestID)
	require.Empty(t, errMsg)
	require.Equal(t, "e2e4", decoded.BestMove)
	require.NotNil(t, decoded.ScoreCP)
	require.Equal(t, 35, *decoded.ScoreCP)
	require.Nil(t, decoded.ScoreMate)
	require.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, decoded.PV)
}
