package tokenstore

import (
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/metrics"
	"github.com/cuemby/iffish/pkg/security"
	"github.com/cuemby/iffish/pkg/storage"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	tokenPrefix   = "iff_"
	idEncodedLen  = 26 // base32, no padding, of 16 raw bytes
	macRawLen     = 32 // HMAC-SHA256
	macEncodedLen = 52 // base32, no padding, of 32 raw bytes
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// TokenClaims is returned on successful validation.
type TokenClaims struct {
	ID        clustertypes.TokenID
	Name      string
	ExpiresAt *time.Time
}

// Store is the authoritative local set of tokens (spec.md §4.2). One
// mutex guards the live set for mutations and reads alike; Validate
// holds it only for its map lookup, but can wait behind a concurrent
// mutation's critical section. There is no copy-on-write snapshot.
type Store struct {
	secrets *security.ClusterSecrets
	backing storage.Store
	logger  zerolog.Logger

	mu      sync.Mutex // guards tokens and limiter for mutations and reads
	tokens  map[clustertypes.TokenID]clustertypes.Token
	limiter map[clustertypes.TokenID]*rate.Limiter
	rateN   rate.Limit
	rateB   int
}

// New constructs an empty Store. Call ReplayFrom to restore persisted
// state before serving traffic.
func New(secrets *security.ClusterSecrets, backing storage.Store, ratePerSecond float64, burst int) *Store {
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &Store{
		secrets: secrets,
		backing: backing,
		logger:  log.WithComponent("tokenstore"),
		tokens:  make(map[clustertypes.TokenID]clustertypes.Token),
		limiter: make(map[clustertypes.TokenID]*rate.Limiter),
		rateN:   rate.Limit(ratePerSecond),
		rateB:   burst,
	}
}

// ReplayFrom restores tokens.log into memory, applying each mutation
// in append order through the same LWW merge rule live gossip uses, so
// replay converges to the state the live store would have reached.
func (s *Store) ReplayFrom(muts []storage.TokenMutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range muts {
		s.mergeLocked(m.Token)
	}
	s.refreshGauges()
}

// Create mints a fresh token, persists the mutation, and returns both
// the record and its client-presentable materialized string.
func (s *Store) Create(name string, ttl *time.Duration) (clustertypes.Token, string, error) {
	id := clustertypes.NewTokenID()
	now := time.Now()
	var expires *time.Time
	if ttl != nil {
		e := now.Add(*ttl)
		expires = &e
	}
	tok := clustertypes.Token{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: expires,
		Revoked:   false,
		Version:   1,
	}

	s.mu.Lock()
	s.tokens[id] = tok
	s.refreshGauges()
	s.mu.Unlock()

	if err := s.backing.AppendTokenMutation(tok); err != nil {
		return clustertypes.Token{}, "", fmt.Errorf("persist token: %w", err)
	}

	mac := s.secrets.TokenMAC(id, tok.CreatedAt.UnixNano())
	return tok, materialize(id, mac), nil
}

// Revoke marks a token permanently revoked, bumping its version. A
// revoke of an unknown token is a no-op returning false.
func (s *Store) Revoke(id clustertypes.TokenID) (bool, error) {
	s.mu.Lock()
	cur, ok := s.tokens[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if cur.Revoked {
		s.mu.Unlock()
		return true, nil
	}
	cur.Revoked = true
	cur.Version++
	s.tokens[id] = cur
	delete(s.limiter, id)
	s.refreshGauges()
	s.mu.Unlock()

	if err := s.backing.AppendTokenMutation(cur); err != nil {
		return false, fmt.Errorf("persist revoke: %w", err)
	}
	return true, nil
}

// List returns a point-in-time copy of every known token.
func (s *Store) List() []clustertypes.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clustertypes.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// Validate parses a client-presented bearer string and checks it
// against the live set. The MAC comparison is always timing-safe;
// structural rejects (bad prefix, wrong length) short-circuit before
// ever touching a MAC and are reported as Unknown, never BadMac, per
// spec.md §6.
func (s *Store) Validate(bearer string) (TokenClaims, error) {
	id, mac, err := parse(bearer)
	if err != nil {
		metrics.TokenValidationsTotal.WithLabelValues("unknown").Inc()
		return TokenClaims{}, clustertypes.ErrUnknownToken
	}

	s.mu.Lock()
	tok, ok := s.tokens[id]
	s.mu.Unlock()
	if !ok {
		metrics.TokenValidationsTotal.WithLabelValues("unknown").Inc()
		return TokenClaims{}, clustertypes.ErrUnknownToken
	}

	expected := s.secrets.TokenMAC(id, tok.CreatedAt.UnixNano())
	if !s.secrets.VerifyTokenMAC(expected, mac) {
		metrics.TokenValidationsTotal.WithLabelValues("bad_mac").Inc()
		return TokenClaims{}, clustertypes.ErrBadMac
	}

	if tok.Revoked {
		metrics.TokenValidationsTotal.WithLabelValues("revoked").Inc()
		return TokenClaims{}, clustertypes.ErrRevoked
	}
	if tok.Expired(time.Now()) {
		metrics.TokenValidationsTotal.WithLabelValues("expired").Inc()
		return TokenClaims{}, clustertypes.ErrExpired
	}

	if !s.allow(id) {
		metrics.TokenRateLimited.Inc()
		return TokenClaims{}, clustertypes.ErrOverloaded
	}

	metrics.TokenValidationsTotal.WithLabelValues("ok").Inc()
	return TokenClaims{ID: tok.ID, Name: tok.Name, ExpiresAt: tok.ExpiresAt}, nil
}

// allow applies the per-token rate limiter, created lazily on first
// successful validation.
func (s *Store) allow(id clustertypes.TokenID) bool {
	s.mu.Lock()
	lim, ok := s.limiter[id]
	if !ok {
		lim = rate.NewLimiter(s.rateN, s.rateB)
		s.limiter[id] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// ApplyRemoteToken merges a token mutation received over gossip,
// implementing pkg/gossip's TokenSource interface. Returns true if the
// merge changed local state.
func (s *Store) ApplyRemoteToken(t clustertypes.Token) bool {
	s.mu.Lock()
	changed := s.mergeLocked(t)
	if changed {
		s.refreshGauges()
	}
	s.mu.Unlock()

	if changed {
		if err := s.backing.AppendTokenMutation(t); err != nil {
			s.logger.Error().Err(err).Msg("persist remote token merge failed")
		}
	} else {
		metrics.TokenValidationsTotal.WithLabelValues("conflict_ignored").Inc()
	}
	return changed
}

// mergeLocked applies the LWW-with-revoked-wins merge rule. Caller
// holds s.mu.
func (s *Store) mergeLocked(t clustertypes.Token) bool {
	cur, ok := s.tokens[t.ID]
	if !ok {
		s.tokens[t.ID] = t
		if t.Revoked {
			delete(s.limiter, t.ID)
		}
		return true
	}
	if t.Outranks(cur) {
		s.tokens[t.ID] = t
		if t.Revoked {
			delete(s.limiter, t.ID)
		}
		return true
	}
	return false
}

// TokenDeltasSince implements pkg/gossip's TokenSource: every token
// whose version is strictly newer than the peer's last-seen version.
func (s *Store) TokenDeltasSince(seen map[clustertypes.TokenID]uint64) []clustertypes.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []clustertypes.Token
	for id, t := range s.tokens {
		if t.Version > seen[id] {
			out = append(out, t)
		}
	}
	return out
}

// CompactExpired implements pkg/election's TokenCompactor: drop
// revoked tokens older than retention and rewrite tokens.log to the
// resulting snapshot.
func (s *Store) CompactExpired(retention time.Duration) (int, error) {
	now := time.Now()
	s.mu.Lock()
	kept := make([]clustertypes.Token, 0, len(s.tokens))
	dropped := 0
	for id, t := range s.tokens {
		if t.Revoked && now.Sub(t.CreatedAt) > retention {
			delete(s.tokens, id)
			delete(s.limiter, id)
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	s.refreshGauges()
	s.mu.Unlock()

	if dropped == 0 {
		return 0, nil
	}
	if err := s.backing.CompactTokenLog(kept); err != nil {
		return 0, fmt.Errorf("compact token log: %w", err)
	}
	return dropped, nil
}

func (s *Store) refreshGauges() {
	var revoked, live float64
	for _, t := range s.tokens {
		if t.Revoked {
			revoked++
		} else {
			live++
		}
	}
	metrics.TokensTotal.WithLabelValues("true").Set(revoked)
	metrics.TokensTotal.WithLabelValues("false").Set(live)
}

func materialize(id clustertypes.TokenID, mac []byte) string {
	return tokenPrefix + b32.EncodeToString(id[:]) + b32.EncodeToString(mac)
}

func parse(bearer string) (clustertypes.TokenID, []byte, error) {
	if !strings.HasPrefix(bearer, tokenPrefix) {
		return clustertypes.TokenID{}, nil, fmt.Errorf("missing prefix")
	}
	rest := bearer[len(tokenPrefix):]
	if len(rest) != idEncodedLen+macEncodedLen {
		return clustertypes.TokenID{}, nil, fmt.Errorf("wrong length")
	}

	idRaw, err := b32.DecodeString(rest[:idEncodedLen])
	if err != nil || len(idRaw) != 16 {
		return clustertypes.TokenID{}, nil, fmt.Errorf("bad id encoding")
	}
	macRaw, err := b32.DecodeString(rest[idEncodedLen:])
	if err != nil || len(macRaw) != macRawLen {
		return clustertypes.TokenID{}, nil, fmt.Errorf("bad mac encoding")
	}

	var id clustertypes.TokenID
	copy(id[:], idRaw)
	return id, macRaw, nil
}
