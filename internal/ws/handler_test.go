package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/matchmaking"
	"github.com/ft-pong/pong-backend/internal/protocol"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/session"
)

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func wsSend(t *testing.T, ctx context.Context, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// wsRecv reads frames until one of the wanted type arrives, discarding the
// rest, the same way a real client routes by type.
func wsRecv(t *testing.T, ctx context.Context, conn *websocket.Conn, wantType string) protocol.ServerFrame {
	t.Helper()
	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(deadline)
		if err != nil {
			t.Fatalf("waiting for %q frame: %v", wantType, err)
		}
		f, err := protocol.DecodeServer(data)
		if err != nil {
			t.Fatalf("bad server frame: %v", err)
		}
		if f.Type == wantType {
			return f
		}
	}
}

type nullStore struct{}

func (nullStore) CreateMatch(_ context.Context, _ engine.Mode, _ engine.Options, _ *string) (string, error) {
	return "m-1", nil
}

func (nullStore) CreatePlayers(_ context.Context, _ string, _ []string) error {
	return nil
}

func TestMatchmakingSocket_PairsTwoClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(ctx, nil)
	q := matchmaking.New(ctx, matchmaking.Config{Store: nullStore{}, Registry: reg})
	srv := httptest.NewServer(MatchmakingHandler(q, zap.NewNop()))
	defer srv.Close()

	c1 := dial(t, ctx, srv.URL)
	c2 := dial(t, ctx, srv.URL)

	wsSend(t, ctx, c1, `{"type":"match_request","profile":{"username":"alice"}}`)
	wsSend(t, ctx, c2, `{"type":"match_request","profile":{"username":"bob"}}`)

	f1 := wsRecv(t, ctx, c1, protocol.TypeMatchFound)
	f2 := wsRecv(t, ctx, c2, protocol.TypeMatchFound)

	if f1.RoomKey == "" || f1.RoomKey != f2.RoomKey {
		t.Fatalf("room keys differ: %q vs %q", f1.RoomKey, f2.RoomKey)
	}
	if f1.PlayerNumber == f2.PlayerNumber {
		t.Fatalf("both clients got seat %d", f1.PlayerNumber)
	}
	if f1.Opponent == nil || f1.Opponent.Username != "bob" {
		t.Fatalf("first client's opponent: %+v", f1.Opponent)
	}
}

func TestGameSocket_JoinPlayAndObserve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(ctx, nil)
	reply := make(chan *session.Session, 1)
	reg.Inbox() <- registry.Create{
		Cfg: session.Config{
			MatchID:    "m-1",
			RoomKey:    "game_m-1",
			Mode:       engine.ModeDuel,
			Opts:       engine.DefaultOptions(),
			StartDelay: 10 * time.Millisecond,
			TickEvery:  5 * time.Millisecond,
		},
		Reply: reply,
	}
	<-reply

	srv := httptest.NewServer(GameHandler(reg, zap.NewNop()))
	defer srv.Close()

	c1 := dial(t, ctx, srv.URL)
	c2 := dial(t, ctx, srv.URL)

	wsSend(t, ctx, c1, `{"type":"join_game","room_key":"game_m-1","player_number":1}`)
	wsRecv(t, ctx, c1, protocol.TypePlayerJoined)
	wsRecv(t, ctx, c1, protocol.TypeGameStateUpdate)

	wsSend(t, ctx, c2, `{"type":"join_game","room_key":"game_m-1","player_number":2}`)
	wsRecv(t, ctx, c1, protocol.TypeGameStart)

	// the authoritative stream reaches both seats
	wsRecv(t, ctx, c1, protocol.TypeGameStateUpdate)
	wsRecv(t, ctx, c2, protocol.TypeGameStateUpdate)

	// a paddle move echoes to the opponent with the clamped position
	wsSend(t, ctx, c1, `{"type":"paddle_move","player_number":1,"position":9999}`)
	move := wsRecv(t, ctx, c2, protocol.TypePaddleMove)
	if move.PlayerNumber != 1 {
		t.Fatalf("paddle_move from seat %d", move.PlayerNumber)
	}
	if want := engine.TableHalfWidth - engine.PaddleHalfWidth; move.Position != want {
		t.Fatalf("paddle_move position %v, want clamped %v", move.Position, want)
	}

	// an interruption terminates the room for everyone
	wsSend(t, ctx, c2, `{"type":"game_interrupted","reason":"navigation"}`)
	got := wsRecv(t, ctx, c1, protocol.TypeInterrupted)
	if got.Reason != protocol.ReasonNavigation {
		t.Fatalf("interruption reason %q", got.Reason)
	}
}

func TestGameSocket_UnknownRoomAndBadFramesKeepConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(ctx, nil)
	srv := httptest.NewServer(GameHandler(reg, zap.NewNop()))
	defer srv.Close()

	c := dial(t, ctx, srv.URL)

	// garbage and unknown types are dropped without closing the socket
	wsSend(t, ctx, c, `{"type":`)
	wsSend(t, ctx, c, `{"type":"teleport"}`)

	wsSend(t, ctx, c, `{"type":"join_game","room_key":"game_nope","player_number":1}`)
	f := wsRecv(t, ctx, c, protocol.TypeError)
	if f.Text != "room not found" {
		t.Fatalf("error text %q", f.Text)
	}
}

func TestGameSocket_SeatConflict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(ctx, nil)
	reply := make(chan *session.Session, 1)
	reg.Inbox() <- registry.Create{
		Cfg: session.Config{
			MatchID: "m-1",
			RoomKey: "game_m-1",
			Mode:    engine.ModeDuel,
			Opts:    engine.DefaultOptions(),
		},
		Reply: reply,
	}
	<-reply

	srv := httptest.NewServer(GameHandler(reg, zap.NewNop()))
	defer srv.Close()

	c := dial(t, ctx, srv.URL)
	wsSend(t, ctx, c, `{"type":"join_game","room_key":"game_m-1","player_number":3}`)
	f := wsRecv(t, ctx, c, protocol.TypeError)
	if f.Text != "seat not available" {
		t.Fatalf("error text %q", f.Text)
	}
}
