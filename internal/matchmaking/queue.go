// Package matchmaking pairs waiting connections into match sessions. The
// queue is a single-writer actor, so a ticket can be consumed by exactly one
// pairing even under concurrent requests.
package matchmaking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/protocol"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/session"
)

// MatchStore is the slice of the data API pairing depends on.
type MatchStore interface {
	CreateMatch(ctx context.Context, mode engine.Mode, opts engine.Options, tournamentID *string) (string, error)
	CreatePlayers(ctx context.Context, matchID string, nicknames []string) error
}

type Msg interface{ isQueueMsg() }

// Enqueue files a matchmaking ticket for a connection.
type Enqueue struct {
	ClientID string
	Profile  protocol.Profile
	Mode     engine.Mode
	Outbox   chan protocol.ServerFrame
}

// Cancel removes a caller's ticket if it is still waiting; no-op otherwise.
type Cancel struct{ ClientID string }

type Shutdown struct{}

func (Enqueue) isQueueMsg()  {}
func (Cancel) isQueueMsg()   {}
func (Shutdown) isQueueMsg() {}

// statusTick forces an immediate sweep, bypassing the ticker; tests use it to
// exercise expiry deterministically.
type statusTick struct{}

func (statusTick) isQueueMsg() {}

type ticket struct {
	clientID   string
	profile    protocol.Profile
	mode       engine.Mode
	outbox     chan protocol.ServerFrame
	enqueuedAt time.Time
}

type Config struct {
	Store    MatchStore
	Registry *registry.Registry
	Recorder session.ResultRecorder
	// TicketTimeout bounds how long a ticket may wait; 0 means the default.
	TicketTimeout time.Duration
	StatusEvery   time.Duration
	SessionGrace  time.Duration
	Logger        *zap.Logger
}

type Queue struct {
	cfg     Config
	inbox   chan Msg
	waiting map[engine.Mode][]*ticket
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func New(parent context.Context, cfg Config) *Queue {
	ctx, cancel := context.WithCancel(parent)
	if cfg.TicketTimeout <= 0 {
		cfg.TicketTimeout = 2 * time.Minute
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	q := &Queue{
		cfg:     cfg,
		inbox:   make(chan Msg, 64),
		waiting: make(map[engine.Mode][]*ticket),
		ctx:     ctx,
		cancel:  cancel,
		log:     cfg.Logger,
	}
	go q.loop()
	return q
}

func (q *Queue) Inbox() chan<- Msg { return q.inbox }

func (q *Queue) loop() {
	status := time.NewTicker(q.cfg.StatusEvery)
	defer status.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return

		case <-status.C:
			q.sweep()

		case m := <-q.inbox:
			switch msg := m.(type) {
			case Enqueue:
				q.enqueue(msg)
			case Cancel:
				q.remove(msg.ClientID)
			case statusTick:
				q.sweep()
			case Shutdown:
				q.cancel()
				return
			}
		}
	}
}

func (q *Queue) enqueue(msg Enqueue) {
	mode := msg.Mode
	if mode != engine.ModeFour {
		mode = engine.ModeDuel
	}
	// a second request from the same connection refreshes its ticket
	q.remove(msg.ClientID)

	q.waiting[mode] = append(q.waiting[mode], &ticket{
		clientID:   msg.ClientID,
		profile:    msg.Profile,
		mode:       mode,
		outbox:     msg.Outbox,
		enqueuedAt: time.Now(),
	})

	need := engine.PlayerCount(mode)
	if len(q.waiting[mode]) >= need {
		paired := q.waiting[mode][:need]
		q.waiting[mode] = append([]*ticket(nil), q.waiting[mode][need:]...)
		q.pair(mode, paired)
		return
	}

	q.send(q.waiting[mode][len(q.waiting[mode])-1], protocol.ServerFrame{
		Type: protocol.TypeMatchStatus,
		Text: "Waiting for opponent...",
	})
}

// pair creates the match record, spins up the session, and tells every
// participant where to go. Enqueue order decides player numbers.
func (q *Queue) pair(mode engine.Mode, tickets []*ticket) {
	ctx, cancelCtx := context.WithTimeout(q.ctx, 5*time.Second)
	defer cancelCtx()

	opts := engine.DefaultOptions()
	matchID, err := q.cfg.Store.CreateMatch(ctx, mode, opts, nil)
	if err == nil {
		nicknames := make([]string, len(tickets))
		for i, t := range tickets {
			nicknames[i] = t.profile.Username
		}
		err = q.cfg.Store.CreatePlayers(ctx, matchID, nicknames)
	}
	if err != nil {
		q.log.Error("match setup failed", zap.Error(err))
		for _, t := range tickets {
			q.send(t, protocol.ServerFrame{
				Type: protocol.TypeMatchStatus,
				Text: "Match setup failed, please search again",
			})
		}
		return
	}

	roomKey := "game_" + matchID
	nicknames := make(map[int]string, len(tickets))
	for i, t := range tickets {
		nicknames[i+1] = t.profile.Username
	}

	reply := make(chan *session.Session, 1)
	q.cfg.Registry.Inbox() <- registry.Create{
		Cfg: session.Config{
			MatchID:   matchID,
			RoomKey:   roomKey,
			Mode:      mode,
			Opts:      opts,
			Nicknames: nicknames,
			Grace:     q.cfg.SessionGrace,
			Recorder:  q.cfg.Recorder,
			Logger:    q.log,
		},
		Reply: reply,
	}
	<-reply

	q.log.Info("match paired",
		zap.String("match_id", matchID),
		zap.String("mode", string(mode)),
		zap.Int("players", len(tickets)))

	for i, t := range tickets {
		q.send(t, protocol.ServerFrame{
			Type:         protocol.TypeMatchFound,
			RoomKey:      roomKey,
			PlayerNumber: i + 1,
			Opponent:     q.opponentOf(tickets, i),
		})
	}
}

// opponentOf picks the profile shown on the "match found" screen: the facing
// player in a duel, the next seat around the table in four-player.
func (q *Queue) opponentOf(tickets []*ticket, i int) *protocol.Profile {
	other := tickets[(i+1)%len(tickets)]
	p := other.profile
	return &p
}

func (q *Queue) remove(clientID string) {
	for mode, tickets := range q.waiting {
		for i, t := range tickets {
			if t.clientID == clientID {
				q.waiting[mode] = append(tickets[:i:i], tickets[i+1:]...)
				return
			}
		}
	}
}

// sweep expires overdue tickets and sends periodic queue-depth updates.
func (q *Queue) sweep() {
	now := time.Now()
	for mode, tickets := range q.waiting {
		kept := tickets[:0]
		for _, t := range tickets {
			if now.Sub(t.enqueuedAt) >= q.cfg.TicketTimeout {
				q.send(t, protocol.ServerFrame{
					Type: protocol.TypeMatchStatus,
					Text: "Matchmaking timed out",
				})
				q.log.Info("ticket expired", zap.String("client_id", t.clientID))
				continue
			}
			kept = append(kept, t)
		}
		q.waiting[mode] = kept

		for _, t := range kept {
			q.send(t, protocol.ServerFrame{
				Type: protocol.TypeMatchStatus,
				Text: "Searching...",
			})
		}
	}
}

func (q *Queue) send(t *ticket, f protocol.ServerFrame) {
	// fire-and-forget: a full outbox drops the frame, and disconnects are
	// cleaned up by the Cancel the transport layer sends
	select {
	case t.outbox <- f:
	default:
	}
}
