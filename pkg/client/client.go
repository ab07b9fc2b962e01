package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one node's adminapi over HTTP.
type Client struct {
	baseURL string
	bearer  string
	http    *http.Client
}

// New builds a Client targeting addr (e.g. "http://127.0.0.1:7700").
// bearer may be empty for unauthenticated calls such as /healthz.
func New(addr, bearer string) *Client {
	return &Client{
		baseURL: addr,
		bearer:  bearer,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError mirrors adminapi's respondError body.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Healthz checks that the node's admin API is reachable.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// CreatedToken is the response from CreateToken.
type CreatedToken struct {
	ID     string `json:"id"`
	Bearer string `json:"bearer"`
}

// CreateToken mints a new bearer token. ttlHours of 0 means no expiry.
func (c *Client) CreateToken(ctx context.Context, name string, ttlHours float64) (CreatedToken, error) {
	var out CreatedToken
	err := c.do(ctx, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"name":      name,
		"ttl_hours": ttlHours,
	}, &out)
	return out, err
}

// TokenInfo describes one issued token.
type TokenInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// ListTokens returns every token known to the node.
func (c *Client) ListTokens(ctx context.Context) ([]TokenInfo, error) {
	var out struct {
		Tokens []TokenInfo `json:"tokens"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/tokens", nil, &out)
	return out.Tokens, err
}

// RevokeToken disables a token by id. It reports whether the token's
// revoked state actually changed.
func (c *Client) RevokeToken(ctx context.Context, id string) (bool, error) {
	var out struct {
		Revoked bool `json:"revoked"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/tokens/"+id, nil, &out)
	return out.Revoked, err
}

// PeerInfo describes one directory entry as seen by the target node.
type PeerInfo struct {
	NodeID          string    `json:"node_id"`
	State           string    `json:"state"`
	Incarnation     uint64    `json:"incarnation"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Endpoints       []string  `json:"endpoints"`
}

// ListPeers returns the target node's current directory snapshot.
func (c *Client) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	var out struct {
		Peers []PeerInfo `json:"peers"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/peers", nil, &out)
	return out.Peers, err
}

// PoolMetrics mirrors enginepool.Metrics for CLI display.
type PoolMetrics struct {
	Idle          int    `json:"Idle"`
	Busy          int    `json:"Busy"`
	Dead          int    `json:"Dead"`
	Quarantined   int    `json:"Quarantined"`
	RestartsTotal uint64 `json:"RestartsTotal"`
}

// PoolStatus returns the target node's engine pool metrics.
func (c *Client) PoolStatus(ctx context.Context) (PoolMetrics, error) {
	var out PoolMetrics
	err := c.do(ctx, http.MethodGet, "/v1/pool", nil, &out)
	return out, err
}

// AnalyzeResult mirrors adminapi's analyzeResponse.
type AnalyzeResult struct {
	BestMove     string   `json:"best_move"`
	PonderMove   string   `json:"ponder_move,omitempty"`
	ScoreCP      *int     `json:"score_cp,omitempty"`
	ScoreMate    *int     `json:"score_mate,omitempty"`
	DepthReached int      `json:"depth_reached"`
	PV           []string `json:"pv,omitempty"`
	Nodes        int64    `json:"nodes"`
	NPS          int64    `json:"nps"`
	ExecutedBy   string   `json:"executed_by"`
}

// Analyze submits a position for analysis and blocks for the result.
func (c *Client) Analyze(ctx context.Context, position string, depth, timeoutSec int) (AnalyzeResult, error) {
	var out AnalyzeResult
	err := c.do(ctx, http.MethodPost, "/v1/analyze", map[string]interface{}{
		"position":    position,
		"depth":       depth,
		"timeout_sec": timeoutSec,
	}, &out)
	return out, err
}
