package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/protocol"
)

var ErrSessionOver = errors.New("session reached a terminal state")
var ErrBadSlot = errors.New("player number not valid for this match")

// Status is the per-match lifecycle. Terminal states are final.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

const (
	tickInterval   = time.Second / 60
	startCountdown = 3 * time.Second
)

// ResultRecorder persists a finished match. Failures are logged and never
// block the session's state transition.
type ResultRecorder interface {
	RecordResult(ctx context.Context, matchID string, scores map[int]int, winner int) error
}

type Msg interface{ isSessionMsg() }

// Join binds a connection to a player slot. Rejoining the same slot before a
// terminal state rebinds it; after a terminal state the reply carries
// ErrSessionOver.
type Join struct {
	PlayerNumber int
	ClientID     string
	Outbox       chan protocol.ServerFrame
	Reply        chan error
}

func (Join) isSessionMsg() {}

type Leave struct {
	PlayerNumber int
	ClientID     string
}

func (Leave) isSessionMsg() {}

type PaddleInput struct {
	PlayerNumber int
	Position     float64
}

func (PaddleInput) isSessionMsg() {}

// Interrupt terminates the match immediately with a client-supplied reason.
type Interrupt struct {
	PlayerNumber int
	Reason       string
}

func (Interrupt) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// GetView reflects internal state without data races; used by tests and the
// tournament read path.
type GetView struct {
	Reply chan View
}

func (GetView) isSessionMsg() {}

type startGame struct{}

func (startGame) isSessionMsg() {}

type graceExpired struct{ gen int }

func (graceExpired) isSessionMsg() {}

type View struct {
	Status   Status
	Version  int
	NumBound int
	Scores   map[int]int
	Balls    []engine.Ball
	Winner   int
}

type slotBinding struct {
	clientID string
	outbox   chan protocol.ServerFrame
}

// Config carries everything a session needs at construction.
type Config struct {
	MatchID   string
	RoomKey   string
	Mode      engine.Mode
	Opts      engine.Options
	Nicknames map[int]string
	Grace     time.Duration

	// Initial overrides the fresh engine state; tests use it to start a
	// match mid-rally.
	Initial *engine.State
	// StartDelay and TickEvery default to the countdown and 60 Hz tick.
	StartDelay time.Duration
	TickEvery  time.Duration

	Recorder ResultRecorder
	// OnCompleted receives the final outcome directly so consumers (the
	// tournament coordinator) never depend on the best-effort write landing.
	OnCompleted func(matchID string, scores map[int]int, winner int)
	OnReclaim   func(roomKey string)
	Logger      *zap.Logger
}

type Session struct {
	cfg   Config
	inbox chan Msg

	state   engine.State
	status  Status
	version int
	slots   map[int]*slotBinding

	ticker    *time.Ticker
	graceGen  int
	reclaimed bool

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func New(parent context.Context, cfg Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = startCountdown
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = tickInterval
	}
	state := engine.NewState(cfg.Mode, cfg.Opts)
	if cfg.Initial != nil {
		state = *cfg.Initial
	}

	s := &Session{
		cfg:    cfg,
		inbox:  make(chan Msg, 64),
		state:  state,
		status: StatusWaiting,
		slots:  make(map[int]*slotBinding),
		ctx:    ctx,
		cancel: cancel,
		log: cfg.Logger.With(
			zap.String("match_id", cfg.MatchID),
			zap.String("room_key", cfg.RoomKey),
		),
	}
	// a room nobody ever joins must not squat its key forever
	s.maybeStartGrace()
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done closes once the actor has stopped serving its inbox. Callers must
// select on it when waiting for a reply, or a dead session wedges them.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) MatchID() string { return s.cfg.MatchID }
func (s *Session) RoomKey() string { return s.cfg.RoomKey }

func (s *Session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-s.tickC():
			s.tick()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.handleJoin(msg)

			case Leave:
				s.handleLeave(msg)

			case PaddleInput:
				s.handlePaddle(msg)

			case Interrupt:
				s.interrupt(msg.Reason)

			case startGame:
				s.start()

			case graceExpired:
				if msg.gen != s.graceGen || len(s.slots) > 0 {
					break // stale fire, or somebody came back
				}
				if s.status == StatusActive {
					s.interrupt(protocol.ReasonDisconnect)
				}
				s.shutdown()
				return

			case GetView:
				msg.Reply <- s.view()

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleJoin(msg Join) {
	if s.terminal() {
		msg.Reply <- ErrSessionOver
		return
	}
	if msg.PlayerNumber < 1 || msg.PlayerNumber > engine.PlayerCount(s.cfg.Mode) {
		msg.Reply <- ErrBadSlot
		return
	}

	// rebinding an occupied slot is the reconnection path; the newest
	// connection wins and any pending grace reclaim is cancelled
	s.slots[msg.PlayerNumber] = &slotBinding{clientID: msg.ClientID, outbox: msg.Outbox}
	s.graceGen++
	msg.Reply <- nil

	s.log.Info("player joined",
		zap.Int("player", msg.PlayerNumber),
		zap.Int("bound", len(s.slots)))

	s.broadcast(protocol.ServerFrame{
		Type:         protocol.TypePlayerJoined,
		RoomKey:      s.cfg.RoomKey,
		PlayerNumber: msg.PlayerNumber,
	})

	// the joiner gets the authoritative picture right away so a reconnect
	// renders without waiting for the next tick
	s.sendTo(msg.PlayerNumber, s.stateFrame())

	if s.status == StatusWaiting && len(s.slots) == engine.PlayerCount(s.cfg.Mode) {
		time.AfterFunc(s.cfg.StartDelay, func() {
			select {
			case s.inbox <- startGame{}:
			case <-s.ctx.Done():
			}
		})
	}
}

func (s *Session) start() {
	if s.status != StatusWaiting || len(s.slots) < engine.PlayerCount(s.cfg.Mode) {
		return
	}
	s.status = StatusActive
	s.ticker = time.NewTicker(s.cfg.TickEvery)
	s.broadcast(protocol.ServerFrame{Type: protocol.TypeGameStart})
	s.log.Info("match started", zap.String("mode", string(s.cfg.Mode)))
}

func (s *Session) handleLeave(msg Leave) {
	b, ok := s.slots[msg.PlayerNumber]
	if !ok || b.clientID != msg.ClientID {
		return // superseded by a rejoin; nothing to unbind
	}
	delete(s.slots, msg.PlayerNumber)
	s.log.Info("player unbound", zap.Int("player", msg.PlayerNumber))

	if len(s.slots) > 0 {
		return
	}
	if s.terminal() {
		s.shutdown()
		return
	}
	s.maybeStartGrace()
}

// maybeStartGrace arms the reclaim timer for an empty, non-terminal room. A
// join before expiry bumps the generation and the fire is discarded as stale.
func (s *Session) maybeStartGrace() {
	if len(s.slots) > 0 || s.terminal() {
		return
	}
	s.graceGen++
	gen := s.graceGen
	time.AfterFunc(s.cfg.Grace, func() {
		select {
		case s.inbox <- graceExpired{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) handlePaddle(msg PaddleInput) {
	if s.status != StatusActive {
		return
	}
	if _, ok := s.slots[msg.PlayerNumber]; !ok {
		return // input from an unbound slot is dropped
	}
	clamped, err := s.state.MovePaddle(msg.PlayerNumber, msg.Position)
	if err != nil {
		return
	}
	s.broadcastExcept(msg.PlayerNumber, protocol.ServerFrame{
		Type:         protocol.TypePaddleMove,
		PlayerNumber: msg.PlayerNumber,
		Position:     clamped,
	})
}

func (s *Session) tick() {
	if s.status != StatusActive {
		return
	}
	events, next := engine.Step(s.state)
	s.state = next
	s.broadcast(s.stateFrame())

	for _, ev := range events {
		if ev.Type != engine.EvtWin {
			continue
		}
		s.complete(ev.Slot)
		return
	}
}

func (s *Session) complete(winner int) {
	s.status = StatusCompleted
	s.stopTicker()
	s.broadcast(protocol.ServerFrame{
		Type:   protocol.TypeGameEnd,
		Winner: winner,
		Score:  protocol.ScoreMap(s.state.Scores),
	})
	s.log.Info("match completed", zap.Int("winner", winner))

	s.persistResult(winner)

	if s.cfg.OnCompleted != nil {
		scores := make(map[int]int, len(s.state.Scores))
		for slot, score := range s.state.Scores {
			scores[slot] = score
		}
		go s.cfg.OnCompleted(s.cfg.MatchID, scores, winner)
	}
	s.reclaim()
}

func (s *Session) interrupt(reason string) {
	if s.terminal() {
		return
	}
	s.status = StatusInterrupted
	s.stopTicker()
	s.broadcast(protocol.ServerFrame{
		Type:   protocol.TypeInterrupted,
		Reason: reason,
	})
	s.log.Warn("match interrupted", zap.String("reason", reason))

	s.reclaim()
}

// persistResult is best-effort: a write failure is logged and the outcome
// stands for gameplay purposes regardless.
func (s *Session) persistResult(winner int) {
	if s.cfg.Recorder == nil {
		return
	}
	scores := make(map[int]int, len(s.state.Scores))
	for slot, score := range s.state.Scores {
		scores[slot] = score
	}
	matchID := s.cfg.MatchID
	rec := s.cfg.Recorder
	log := s.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.RecordResult(ctx, matchID, scores, winner); err != nil {
			log.Warn("result persistence failed", zap.Error(err))
		}
	}()
}

func (s *Session) stateFrame() protocol.ServerFrame {
	balls := make([]protocol.BallState, len(s.state.Balls))
	for i, b := range s.state.Balls {
		balls[i] = protocol.BallState{X: b.X, Z: b.Z, VX: b.VX, VZ: b.VZ}
	}
	return protocol.ServerFrame{
		Type:  protocol.TypeGameStateUpdate,
		Balls: balls,
		Score: protocol.ScoreMap(s.state.Scores),
	}
}

func (s *Session) view() View {
	scores := make(map[int]int, len(s.state.Scores))
	for slot, score := range s.state.Scores {
		scores[slot] = score
	}
	balls := make([]engine.Ball, len(s.state.Balls))
	copy(balls, s.state.Balls)
	return View{
		Status:   s.status,
		Version:  s.version,
		NumBound: len(s.slots),
		Scores:   scores,
		Balls:    balls,
		Winner:   s.state.Winner,
	}
}

func (s *Session) terminal() bool {
	return s.status == StatusCompleted || s.status == StatusInterrupted
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) broadcast(f protocol.ServerFrame) {
	s.version++
	dropped := false
	for slot, b := range s.slots {
		select {
		case b.outbox <- f:
		default:
			// slow or dead client: unbind it rather than stall the room;
			// its connection may rejoin the slot later
			delete(s.slots, slot)
			dropped = true
		}
	}
	if dropped && len(s.slots) == 0 {
		s.maybeStartGrace()
	}
}

func (s *Session) broadcastExcept(skip int, f protocol.ServerFrame) {
	s.version++
	dropped := false
	for slot, b := range s.slots {
		if slot == skip {
			continue
		}
		select {
		case b.outbox <- f:
		default:
			delete(s.slots, slot)
			dropped = true
		}
	}
	if dropped && len(s.slots) == 0 {
		s.maybeStartGrace()
	}
}

func (s *Session) sendTo(slot int, f protocol.ServerFrame) {
	b, ok := s.slots[slot]
	if !ok {
		return
	}
	select {
	case b.outbox <- f:
	default:
	}
}

// reclaim hands the room key back to the registry exactly once. Every exit
// path must end up here, or the dead room stays routable.
func (s *Session) reclaim() {
	if s.reclaimed || s.cfg.OnReclaim == nil {
		return
	}
	s.reclaimed = true
	go s.cfg.OnReclaim(s.cfg.RoomKey)
}

func (s *Session) shutdown() {
	s.stopTicker()
	// outboxes are owned by their connections, never closed here
	clear(s.slots)
	s.reclaim()
	s.cancel()
}
