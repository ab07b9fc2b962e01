package dispatcher

import (
	"context"
	"testing"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/stretchr/testify/require"
)

type fakeLease struct {
	sent  []string
	lines []string
	idx   int
}

func (f *fakeLease) Send(line string) error {
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeLease) ReadLine(ctx context.Context) (string, error) {
	if f.idx >= len(f.lines) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	l := f.lines[f.idx]
	f.idx++
	return l, nil
}

func TestApplyInfoLineExtractsLatestFields(t *testing.T) {
	res := clustertypes.AnalysisResult{}
	applyInfoLine(&res, "info depth 10 seldepth 14 score cp 35 nodes 10000 nps 500000 pv e2e4 e7e5")
	require.Equal(t, 10, res.DepthReached)
	require.NotNil(t, res.ScoreCP)
	require.Equal(t, 35, *res.ScoreCP)
	require.Equal(t, int64(10000), res.Nodes)
	require.Equal(t, int64(500000), res.NPS)
	require.Equal(t, []string{"e2e4", "e7e5"}, res.PV)
}

func TestApplyInfoLineMateScoreClearsCP(t *testing.T) {
	res := clustertypes.AnalysisResult{}
	applyInfoLine(&res, "info depth 5 score mate 3 pv g1f3")
	require.NotNil(t, res.ScoreMate)
	require.Equal(t, 3, *res.ScoreMate)
	require.Nil(t, res.ScoreCP)
}

func TestParseBestMoveWithPonder(t *testing.T) {
	res := clustertypes.AnalysisResult{}
	ok := parseBestMove(&res, "bestmove e2e4 ponder e7e5")
	require.True(t, ok)
	require.Equal(t, "e2e4", res.BestMove)
	require.Equal(t, "e7e5", res.PonderMove)
}

func TestRunSearchReadsUntilBestmove(t *testing.T) {
	lease := &fakeLease{lines: []string{
		"info depth 1 score cp 10 pv e2e4",
		"info depth 5 score cp 20 pv e2e4 e7e5",
		"bestmove e2e4 ponder e7e5",
	}}
	res, outcome, err := runSearch(context.Background(), lease, clustertypes.Request{RequestID: "x", Position: "startpos", Depth: 5})
	require.NoError(t, err)
	require.Equal(t, enginepool.Ok, outcome)
	require.Equal(t, "e2e4", res.BestMove)
	require.Equal(t, 20, *res.ScoreCP)
	require.Len(t, lease.sent, 2)
}
