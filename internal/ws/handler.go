package ws

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/matchmaking"
	"github.com/ft-pong/pong-backend/internal/protocol"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/session"
)

const writeTimeout = 3 * time.Second

// MatchmakingHandler services the waiting-room socket: match_request and
// cancel_matching in, match_found and match_status out.
func MatchmakingHandler(q *matchmaking.Queue, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := randID(8)
		out := make(chan protocol.ServerFrame, 8)
		log := logger.With(zap.String("client_id", clientID))

		// a vanished caller just loses its ticket, no error surfaced
		defer func() { q.Inbox() <- matchmaking.Cancel{ClientID: clientID} }()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out)

		for {
			frame, err := readFrame(r.Context(), conn, log)
			if err != nil {
				return
			}
			if frame == nil {
				continue // dropped frame, connection stays up
			}

			switch frame.Type {
			case protocol.TypeMatchRequest:
				profile := protocol.Profile{Username: "Unknown Player"}
				if frame.Profile != nil {
					profile = *frame.Profile
				}
				q.Inbox() <- matchmaking.Enqueue{
					ClientID: clientID,
					Profile:  profile,
					Mode:     engine.Mode(frame.Mode),
					Outbox:   out,
				}
			case protocol.TypeCancelMatching:
				q.Inbox() <- matchmaking.Cancel{ClientID: clientID}
			default:
				log.Warn("frame not valid on matchmaking socket", zap.String("type", frame.Type))
			}
		}
	}
}

// GameHandler services the per-match socket. The client announces itself with
// join_game and then streams paddle_move; the server streams authoritative
// state back until game_end or game_interrupted.
func GameHandler(reg *registry.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := randID(8)
		out := make(chan protocol.ServerFrame, 16)
		log := logger.With(zap.String("client_id", clientID))

		var joined *session.Session
		var playerNumber int
		defer func() {
			// transport-level disconnect unbinds the slot; the session
			// decides whether that eventually interrupts the match
			if joined != nil {
				select {
				case joined.Inbox() <- session.Leave{PlayerNumber: playerNumber, ClientID: clientID}:
				case <-joined.Done():
				}
			}
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out)

		for {
			frame, err := readFrame(r.Context(), conn, log)
			if err != nil {
				return
			}
			if frame == nil {
				continue
			}

			switch frame.Type {
			case protocol.TypeJoinGame:
				s := reg.Lookup(frame.RoomKey)
				if s == nil {
					sendDirect(out, protocol.ServerFrame{
						Type: protocol.TypeError,
						Text: "room not found",
					})
					continue
				}
				// the session may die between lookup and reply; selecting on
				// Done turns that into a denial instead of a wedged reader
				reply := make(chan error, 1)
				joinErr := session.ErrSessionOver
				select {
				case s.Inbox() <- session.Join{
					PlayerNumber: frame.PlayerNumber,
					ClientID:     clientID,
					Outbox:       out,
					Reply:        reply,
				}:
					select {
					case joinErr = <-reply:
					case <-s.Done():
					}
				case <-s.Done():
				}
				if joinErr != nil {
					text := "seat not available"
					if errors.Is(joinErr, session.ErrSessionOver) {
						text = "match already finished"
					}
					sendDirect(out, protocol.ServerFrame{Type: protocol.TypeError, Text: text})
					continue
				}
				joined = s
				playerNumber = frame.PlayerNumber

			case protocol.TypePaddleMove:
				if joined == nil || frame.PlayerNumber != playerNumber {
					continue // input for a slot this connection doesn't hold
				}
				select {
				case joined.Inbox() <- session.PaddleInput{
					PlayerNumber: playerNumber,
					Position:     frame.Position,
				}:
				case <-joined.Done():
				}

			case protocol.TypeInterrupted:
				if joined == nil {
					continue
				}
				select {
				case joined.Inbox() <- session.Interrupt{
					PlayerNumber: playerNumber,
					Reason:       frame.Reason,
				}:
				case <-joined.Done():
				}

			default:
				log.Warn("frame not valid on game socket", zap.String("type", frame.Type))
			}
		}
	}
}

// readFrame reads and decodes one client frame. A malformed or unknown frame
// returns (nil, nil): logged, dropped, connection kept alive.
func readFrame(ctx context.Context, conn *websocket.Conn, log *zap.Logger) (*protocol.ClientFrame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}

	frame, err := protocol.DecodeClient(data)
	if err != nil {
		log.Warn("dropping bad frame", zap.Error(err))
		return nil, nil
	}
	return &frame, nil
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan protocol.ServerFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-out:
			payload := protocol.EncodeServer(frame)
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
		}
	}
}

func sendDirect(out chan protocol.ServerFrame, f protocol.ServerFrame) {
	select {
	case out <- f:
	default:
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
