package discovery

import (
	"context"
	"testing"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/stretchr/testify/require"
)

func TestStaticSourceEmitsEachCandidateOnce(t *testing.T) {
	a := clustertypes.NewNodeID()
	b := clustertypes.NewNodeID()
	src := StaticSource{Candidates: []Candidate{
		{NodeID: a, Endpoints: []clustertypes.Endpoint{{Host: "10.0.0.1", Port: 7000}}},
		{NodeID: b, Endpoints: []clustertypes.Endpoint{{Host: "10.0.0.2", Port: 7000}}},
	}}

	var got []Candidate
	src.Run(context.Background(), func(c Candidate) { got = append(got, c) })

	require.Len(t, got, 2)
	require.Equal(t, a, got[0].NodeID)
	require.Equal(t, b, got[1].NodeID)
}

func TestStaticSourceStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := StaticSource{Candidates: []Candidate{
		{NodeID: clustertypes.NewNodeID()},
		{NodeID: clustertypes.NewNodeID()},
	}}

	var got []Candidate
	src.Run(ctx, func(c Candidate) { got = append(got, c) })
	require.Len(t, got, 0)
}
