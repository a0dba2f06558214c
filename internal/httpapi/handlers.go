package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/session"
	"github.com/ft-pong/pong-backend/internal/store"
	"github.com/ft-pong/pong-backend/internal/tournament"
)

// DataAPI is the slice of the store the REST surface needs.
type DataAPI interface {
	CreateMatch(ctx context.Context, mode engine.Mode, opts engine.Options, tournamentID *string) (string, error)
	CreatePlayers(ctx context.Context, matchID string, nicknames []string) error
	GetMatchResult(ctx context.Context, matchID string) (store.MatchResult, error)
}

type Handlers struct {
	Data        DataAPI
	Recorder    session.ResultRecorder
	Registry    *registry.Registry
	Tournaments *tournament.Coordinator
	Log         *zap.Logger
}

type createMatchRequest struct {
	Mode      string   `json:"mode"`
	Nicknames []string `json:"nicknames"`
	BallCount int      `json:"ball_count"`
	BallSpeed string   `json:"ball_speed"`
	WinScore  int      `json:"win_score"`
}

// CreateMatch is the explicit-creation path: a match row, its players, and a
// waiting session, all from one request. Matchmade games go through the
// queue instead.
func (h *Handlers) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	mode := engine.ModeDuel
	if req.Mode == string(engine.ModeFour) {
		mode = engine.ModeFour
	}
	if len(req.Nicknames) != engine.PlayerCount(mode) {
		http.Error(w, "nickname count does not match mode", http.StatusBadRequest)
		return
	}

	opts := engine.DefaultOptions()
	if req.BallCount > 0 {
		opts.BallCount = req.BallCount
	}
	if req.BallSpeed != "" {
		opts.BallSpeed = engine.BallSpeed(req.BallSpeed)
	}
	if req.WinScore > 0 {
		opts.WinScore = req.WinScore
	}

	matchID, err := h.Data.CreateMatch(r.Context(), mode, opts, nil)
	if err == nil {
		err = h.Data.CreatePlayers(r.Context(), matchID, req.Nicknames)
	}
	if err != nil {
		h.Log.Error("match creation failed", zap.Error(err))
		http.Error(w, "failed to create match", http.StatusInternalServerError)
		return
	}

	nicknames := make(map[int]string, len(req.Nicknames))
	for i, nick := range req.Nicknames {
		nicknames[i+1] = nick
	}
	roomKey := "game_" + matchID
	reply := make(chan *session.Session, 1)
	h.Registry.Inbox() <- registry.Create{
		Cfg: session.Config{
			MatchID:   matchID,
			RoomKey:   roomKey,
			Mode:      mode,
			Opts:      opts,
			Nicknames: nicknames,
			Recorder:  h.Recorder,
			Logger:    h.Log,
		},
		Reply: reply,
	}
	<-reply

	writeJSON(w, http.StatusCreated, map[string]string{
		"match_id": matchID,
		"room_key": roomKey,
	})
}

func (h *Handlers) GetMatchResult(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	result, err := h.Data.GetMatchResult(r.Context(), matchID)
	if errors.Is(err, store.ErrMatchNotFound) {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.Error("result lookup failed", zap.Error(err))
		http.Error(w, "failed to load result", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createTournamentRequest struct {
	Name      string   `json:"name"`
	Nicknames []string `json:"nicknames"`
	BallCount int      `json:"ball_count"`
	BallSpeed string   `json:"ball_speed"`
}

func (h *Handlers) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "Tournament"
	}

	opts := engine.DefaultOptions()
	if req.BallCount > 0 {
		opts.BallCount = req.BallCount
	}
	if req.BallSpeed != "" {
		opts.BallSpeed = engine.BallSpeed(req.BallSpeed)
	}

	view, err := h.Tournaments.Create(r.Context(), req.Name, req.Nicknames, opts)
	if errors.Is(err, tournament.ErrNeedFourPlayers) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.Log.Error("tournament creation failed", zap.Error(err))
		http.Error(w, "failed to create tournament", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handlers) GetTournament(w http.ResponseWriter, r *http.Request) {
	view, err := h.Tournaments.Get(chi.URLParam(r, "id"))
	if errors.Is(err, tournament.ErrNotFound) {
		http.Error(w, "tournament not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
