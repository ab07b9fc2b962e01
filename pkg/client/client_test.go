package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTokenSendsBearerAndDecodesResponse(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(CreatedToken{ID: "abc", Bearer: "iff_abc123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "admin-token")
	out, err := c.CreateToken(context.Background(), "worker-1", 24)
	require.NoError(t, err)
	require.Equal(t, "abc", out.ID)
	require.Equal(t, "iff_abc123", out.Bearer)
	require.Equal(t, "Bearer admin-token", gotAuth)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/v1/tokens", gotPath)
}

func TestDoSurfacesAPIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(apiError{Error: "missing bearer token"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.ListPeers(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing bearer token")
}

func TestHealthzNoAuthHeader(t *testing.T) {
	var gotAuth string
	sawAuthHeader := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		sawAuthHeader = gotAuth != ""
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.Healthz(context.Background()))
	require.False(t, sawAuthHeader)
}
