package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/cuemby/iffish/pkg/security"
	"github.com/cuemby/iffish/pkg/storage"
	"github.com/cuemby/iffish/pkg/tokenstore"
	"github.com/stretchr/testify/require"
)

type memBacking struct {
	seq int
}

func (m *memBacking) NodeIdentity() (clustertypes.NodeID, uint64, error) {
	return clustertypes.NewNodeID(), 0, nil
}
func (m *memBacking) SaveIncarnation(uint64) error { return nil }
func (m *memBacking) AppendTokenMutation(t clustertypes.Token) error {
	m.seq++
	return nil
}
func (m *memBacking) ReplayTokenLog() ([]storage.TokenMutation, error) { return nil, nil }
func (m *memBacking) CompactTokenLog([]clustertypes.Token) error       { return nil }
func (m *memBacking) Close() error                                     { return nil }

var _ storage.Store = (*memBacking)(nil)

type fakeDispatcher struct {
	result clustertypes.AnalysisResult
	err    error
}

func (f *fakeDispatcher) Submit(ctx context.Context, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
	return f.result, f.err
}

type fakePool struct{ m enginepool.Metrics }

func (f *fakePool) Metrics() enginepool.Metrics { return f.m }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	secrets, err := security.LoadClusterSecrets([]byte("cluster-secret-bytes"), []byte("token-secret-bytes"))
	require.NoError(t, err)
	tokens := tokenstore.New(secrets, &memBacking{}, 100, 100)
	_, bearer, err := tokens.Create("admin", nil)
	require.NoError(t, err)

	dir := directory.New(clustertypes.NewNodeID())
	disp := &fakeDispatcher{result: clustertypes.AnalysisResult{BestMove: "e2e4"}}
	pool := &fakePool{m: enginepool.Metrics{Idle: 2, Busy: 1}}

	s := NewServer(tokens, dir, disp, pool)
	return s, bearer
}

func doRequest(t *testing.T, s *Server, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/peers", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListTokens(t *testing.T) {
	s, bearer := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/tokens", bearer, createTokenRequest{Name: "worker-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/tokens", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tokens []tokenView `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tokens, 2) // admin + worker-1
}

func TestAnalyzeReturnsDispatcherResult(t *testing.T) {
	s, bearer := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/analyze", bearer, analyzeRequest{Position: "startpos", Depth: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "e2e4", resp.BestMove)
}

func TestAnalyzeRejectsMissingPosition(t *testing.T) {
	s, bearer := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/analyze", bearer, analyzeRequest{Depth: 10})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPoolMetricsReflectsEnginePool(t *testing.T) {
	s, bearer := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/pool", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m enginepool.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, 2, m.Idle)
	require.Equal(t, 1, m.Busy)
}
