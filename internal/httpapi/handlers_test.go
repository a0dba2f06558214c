package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/matchmaking"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/store"
	"github.com/ft-pong/pong-backend/internal/tournament"
)

type fakeData struct {
	mu      sync.Mutex
	seq     int
	players map[string][]string
	results map[string]store.MatchResult
}

func newFakeData() *fakeData {
	return &fakeData{
		players: make(map[string][]string),
		results: make(map[string]store.MatchResult),
	}
}

func (f *fakeData) CreateMatch(_ context.Context, _ engine.Mode, _ engine.Options, _ *string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("m-%d", f.seq), nil
}

func (f *fakeData) CreatePlayers(_ context.Context, matchID string, nicknames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players[matchID] = nicknames
	return nil
}

func (f *fakeData) GetMatchResult(_ context.Context, matchID string) (store.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[matchID]
	if !ok {
		return store.MatchResult{}, store.ErrMatchNotFound
	}
	return res, nil
}

func (f *fakeData) CreateTournament(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("t-%d", f.seq), nil
}

func (f *fakeData) LinkTournamentMatch(_ context.Context, _, _, _ string, _ int) error {
	return nil
}

func (f *fakeData) SetTournamentStatus(_ context.Context, _, _ string) error {
	return nil
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *fakeData, *registry.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	data := newFakeData()
	reg := registry.New(ctx, nil)
	coord := tournament.New(tournament.Config{Store: data, Registry: reg})
	h := &Handlers{
		Data:        data,
		Registry:    reg,
		Tournaments: coord,
		Log:         zap.NewNop(),
	}
	q := matchmaking.New(ctx, matchmaking.Config{Store: data, Registry: reg})
	srv := httptest.NewServer(SetupRoutes(h, q, TokenAuthenticator{Token: token}, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, data, reg
}

func TestHealthzIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthGuardsTheAPI(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	resp, err := http.Get(srv.URL + "/matches/m-1/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/matches/m-1/result", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "authenticated request reaches the handler")

	// query-parameter fallback for browser WebSocket clients
	resp, err = http.Get(srv.URL + "/matches/m-1/result?token=secret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateMatchSpinsUpSession(t *testing.T) {
	srv, data, reg := newTestServer(t, "")

	body := `{"mode":"duel","nicknames":["alice","bob"],"win_score":5}`
	resp, err := http.Post(srv.URL+"/matches", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "game_"+out["match_id"], out["room_key"])
	assert.NotNil(t, reg.Lookup(out["room_key"]), "session not registered")

	data.mu.Lock()
	defer data.mu.Unlock()
	assert.Equal(t, []string{"alice", "bob"}, data.players[out["match_id"]])
}

func TestCreateMatchRejectsMismatchedNicknames(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	body := `{"mode":"four-player","nicknames":["only","three","names"]}`
	resp, err := http.Post(srv.URL+"/matches", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMatchResult(t *testing.T) {
	srv, data, _ := newTestServer(t, "")
	data.results["m-9"] = store.MatchResult{
		MatchID:    "m-9",
		WinnerSlot: 2,
	}

	resp, err := http.Get(srv.URL + "/matches/m-9/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got store.MatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got.WinnerSlot)

	resp, err = http.Get(srv.URL + "/matches/m-none/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTournamentEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/tournaments", "application/json",
		strings.NewReader(`{"name":"cup","nicknames":["a","b","c"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "three players cannot fill a bracket")

	resp, err = http.Post(srv.URL+"/tournaments", "application/json",
		strings.NewReader(`{"name":"cup","nicknames":["a","b","c","d"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created tournament.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.Matches, 3)

	getResp, err := http.Get(srv.URL + "/tournaments/" + created.ID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var fetched tournament.View
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&fetched))
	assert.Equal(t, created.ID, fetched.ID)

	missing, err := http.Get(srv.URL + "/tournaments/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
