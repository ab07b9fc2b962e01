package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTokenRequest struct {
	Name     string  `json:"name"`
	TTLHours float64 `json:"ttl_hours,omitempty"`
}

type createTokenResponse struct {
	ID     string `json:"id"`
	Bearer string `json:"bearer"`
}

// POST /v1/tokens
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	var ttl *time.Duration
	if req.TTLHours > 0 {
		d := time.Duration(req.TTLHours * float64(time.Hour))
		ttl = &d
	}

	tok, bearer, err := s.tokens.Create(req.Name, ttl)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create token", err)
		return
	}
	respondJSON(w, http.StatusCreated, createTokenResponse{ID: tok.ID.String(), Bearer: bearer})
}

type tokenView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// GET /v1/tokens
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	toks := s.tokens.List()
	views := make([]tokenView, 0, len(toks))
	for _, t := range toks {
		views = append(views, tokenView{
			ID:        t.ID.String(),
			Name:      t.Name,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
			Revoked:   t.Revoked,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tokens": views})
}

// DELETE /v1/tokens/{id}
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := clustertypes.ParseTokenID(idStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token id", err)
		return
	}

	changed, err := s.tokens.Revoke(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "token not found", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"revoked": changed})
}

type peerView struct {
	NodeID          string    `json:"node_id"`
	State           string    `json:"state"`
	Incarnation     uint64    `json:"incarnation"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Endpoints       []string  `json:"endpoints"`
}

// GET /v1/peers
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	recs := s.dir.Snapshot()
	views := make([]peerView, 0, len(recs))
	for _, p := range recs {
		endpoints := make([]string, 0, len(p.Endpoints))
		for _, e := range p.Endpoints {
			endpoints = append(endpoints, e.String())
		}
		views = append(views, peerView{
			NodeID:          p.NodeID.String(),
			State:           p.State.String(),
			Incarnation:     p.Incarnation,
			LastHeartbeatAt: p.LastHeartbeatAt,
			Endpoints:       endpoints,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"peers": views})
}

// GET /v1/pool
func (s *Server) handlePoolMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.pool.Metrics())
}

type analyzeRequest struct {
	Position   string `json:"position"`
	Depth      int    `json:"depth"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

type analyzeResponse struct {
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

// POST /v1/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Position == "" || req.Depth <= 0 {
		respondError(w, http.StatusBadRequest, "position and depth are required", nil)
		return
	}

	timeout := 30 * time.Second
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := s.disp.Submit(ctx, clustertypes.Request{
		RequestID: uuid.New().String(),
		Position:  req.Position,
		Depth:     req.Depth,
		Deadline:  time.Now().Add(timeout),
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, clustertypes.ErrOverloaded):
			status = http.StatusServiceUnavailable
		case errors.Is(err, clustertypes.ErrTimeout), errors.Is(err, clustertypes.ErrTimedOut):
			status = http.StatusGatewayTimeout
		}
		respondError(w, status, "analyze failed", err)
		return
	}

	respondJSON(w, http.StatusOK, analyzeResponse{
		BestMove:     res.BestMove,
		PonderMove:   res.PonderMove,
		ScoreCP:      res.ScoreCP,
		ScoreMate:    res.ScoreMate,
		DepthReached: res.DepthReached,
		PV:           res.PV,
		Nodes:        res.Nodes,
		NPS:          res.NPS,
		ExecutedBy:   res.ExecutedBy.String(),
	})
}
