package tokenstore

import (
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/security"
	"github.com/cuemby/iffish/pkg/storage"
	"github.com/stretchr/testify/require"
)

type memBacking struct {
	seq uint64
	log []storage.TokenMutation
}

func (m *memBacking) NodeIdentity() (clustertypes.NodeID, uint64, error) { return clustertypes.NodeID{}, 0, nil }
func (m *memBacking) SaveIncarnation(uint64) error                      { return nil }

func (m *memBacking) AppendTokenMutation(t clustertypes.Token) error {
	m.seq++
	m.log = append(m.log, storage.TokenMutation{Seq: m.seq, Token: t})
	return nil
}

func (m *memBacking) ReplayTokenLog() ([]storage.TokenMutation, error) { return m.log, nil }

func (m *memBacking) CompactTokenLog(snapshot []clustertypes.Token) error {
	m.log = m.log[:0]
	for _, t := range snapshot {
		m.seq++
		m.log = append(m.log, storage.TokenMutation{Seq: m.seq, Token: t})
	}
	return nil
}

func (m *memBacking) Close() error { return nil }

func newTestStore(t *testing.T) (*Store, *security.ClusterSecrets) {
	t.Helper()
	secrets, err := security.LoadClusterSecrets([]byte("cluster-secret"), []byte("token-secret"))
	require.NoError(t, err)
	return New(secrets, &memBacking{}, 1000, 1000), secrets
}

func TestCreateThenValidateSucceeds(t *testing.T) {
	s, _ := newTestStore(t)

	tok, bearer, err := s.Create("ci", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tok.Version)

	claims, err := s.Validate(bearer)
	require.NoError(t, err)
	require.Equal(t, tok.ID, claims.ID)
}

func TestValidateUnknownPrefixIsUnknownNotBadMac(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Validate("not-a-token-at-all")
	require.ErrorIs(t, err, clustertypes.ErrUnknownToken)
}

func TestValidateWrongMacIsBadMac(t *testing.T) {
	s, _ := newTestStore(t)
	_, bearer, err := s.Create("ci", nil)
	require.NoError(t, err)

	// The final base32 character holds one MAC bit plus unused padding
	// bits, so tamper with the one before it, which is all MAC bits.
	tampered := bearer[:len(bearer)-2] + flipLastChar(bearer[len(bearer)-2:len(bearer)-1]) + bearer[len(bearer)-1:]
	_, err = s.Validate(tampered)
	require.ErrorIs(t, err, clustertypes.ErrBadMac)
}

func flipLastChar(c string) string {
	if c == "A" {
		return "B"
	}
	return "A"
}

func TestRevokeIsTerminalAndBumpsVersion(t *testing.T) {
	s, _ := newTestStore(t)
	tok, bearer, err := s.Create("ci", nil)
	require.NoError(t, err)

	ok, err := s.Revoke(tok.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Validate(bearer)
	require.ErrorIs(t, err, clustertypes.ErrRevoked)

	found := false
	for _, lt := range s.List() {
		if lt.ID == tok.ID {
			require.Equal(t, uint64(2), lt.Version)
			require.True(t, lt.Revoked)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateExpiredToken(t *testing.T) {
	s, _ := newTestStore(t)
	past := -time.Hour
	_, bearer, err := s.Create("ci", &past)
	require.NoError(t, err)

	_, err = s.Validate(bearer)
	require.ErrorIs(t, err, clustertypes.ErrExpired)
}

func TestApplyRemoteTokenRespectsOutranks(t *testing.T) {
	s, _ := newTestStore(t)
	id := clustertypes.NewTokenID()
	base := clustertypes.Token{ID: id, Name: "x", CreatedAt: time.Now(), Version: 1}

	require.True(t, s.ApplyRemoteToken(base))

	stale := base
	stale.Name = "stale-write"
	require.False(t, s.ApplyRemoteToken(stale))

	newer := base
	newer.Revoked = true
	newer.Version = 2
	require.True(t, s.ApplyRemoteToken(newer))

	for _, lt := range s.List() {
		if lt.ID == id {
			require.True(t, lt.Revoked)
			require.Equal(t, uint64(2), lt.Version)
		}
	}
}

func TestTokenDeltasSinceOnlyReturnsNewer(t *testing.T) {
	s, _ := newTestStore(t)
	tok, _, err := s.Create("ci", nil)
	require.NoError(t, err)

	deltas := s.TokenDeltasSince(map[clustertypes.TokenID]uint64{})
	require.Len(t, deltas, 1)

	deltas = s.TokenDeltasSince(map[clustertypes.TokenID]uint64{tok.ID: 1})
	require.Empty(t, deltas)
}

func TestCompactExpiredDropsOldRevokedOnly(t *testing.T) {
	s, _ := newTestStore(t)
	kept, _, err := s.Create("kept", nil)
	require.NoError(t, err)

	stale, _, err := s.Create("stale", nil)
	require.NoError(t, err)
	_, err = s.Revoke(stale.ID)
	require.NoError(t, err)

	s.mu.Lock()
	old := s.tokens[stale.ID]
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	s.tokens[stale.ID] = old
	s.mu.Unlock()

	dropped, err := s.CompactExpired(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, dropped)

	ids := map[clustertypes.TokenID]bool{}
	for _, lt := range s.List() {
		ids[lt.ID] = true
	}
	require.True(t, ids[kept.ID])
	require.False(t, ids[stale.ID])
}

func TestReplayFromConvergesViaOutranks(t *testing.T) {
	s, _ := newTestStore(t)
	id := clustertypes.NewTokenID()
	created := time.Now()
	muts := []storage.TokenMutation{
		{Seq: 1, Token: clustertypes.Token{ID: id, Name: "a", CreatedAt: created, Version: 1}},
		{Seq: 2, Token: clustertypes.Token{ID: id, Name: "a", CreatedAt: created, Version: 2, Revoked: true}},
	}
	s.ReplayFrom(muts)

	found := false
	for _, lt := range s.List() {
		if lt.ID == id {
			require.True(t, lt.Revoked)
			found = true
		}
	}
	require.True(t, found)
}
