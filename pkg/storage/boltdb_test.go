package storage

import (
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/stretchr/testify/require"
)

func TestNodeIdentityPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewBoltStore(dir)
	require.NoError(t, err)
	id1, inc1, err := s1.NodeIdentity()
	require.NoError(t, err)
	require.Equal(t, uint64(0), inc1)
	require.NoError(t, s1.SaveIncarnation(3))
	require.NoError(t, s1.Close())

	s2, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	id2, inc2, err := s2.NodeIdentity()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, uint64(3), inc2)
}

func TestTokenLogReplaysInAppendOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	tok1 := clustertypes.Token{ID: clustertypes.NewTokenID(), Name: "a", CreatedAt: time.Now(), Version: 1}
	tok2 := clustertypes.Token{ID: clustertypes.NewTokenID(), Name: "b", CreatedAt: time.Now(), Version: 1}
	tok1Revoked := tok1
	tok1Revoked.Revoked = true
	tok1Revoked.Version = 2

	require.NoError(t, s.AppendTokenMutation(tok1))
	require.NoError(t, s.AppendTokenMutation(tok2))
	require.NoError(t, s.AppendTokenMutation(tok1Revoked))

	muts, err := s.ReplayTokenLog()
	require.NoError(t, err)
	require.Len(t, muts, 3)
	require.Equal(t, tok1.ID, muts[0].Token.ID)
	require.Equal(t, tok2.ID, muts[1].Token.ID)
	require.Equal(t, tok1Revoked.ID, muts[2].Token.ID)
	require.True(t, muts[2].Token.Revoked)
	require.True(t, muts[1].Seq > muts[0].Seq)
	require.True(t, muts[2].Seq > muts[1].Seq)
}

func TestCompactTokenLogDropsHistory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	tok := clustertypes.Token{ID: clustertypes.NewTokenID(), Name: "a", CreatedAt: time.Now(), Version: 1}
	revoked := tok
	revoked.Revoked = true
	revoked.Version = 5

	require.NoError(t, s.AppendTokenMutation(tok))
	require.NoError(t, s.AppendTokenMutation(revoked))

	require.NoError(t, s.CompactTokenLog([]clustertypes.Token{revoked}))

	muts, err := s.ReplayTokenLog()
	require.NoError(t, err)
	require.Len(t, muts, 1)
	require.Equal(t, revoked.ID, muts[0].Token.ID)
	require.Equal(t, uint64(5), muts[0].Token.Version)
}
