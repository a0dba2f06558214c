package engine

import (
	"errors"
	"math/rand"
)

var ErrMatchOver = errors.New("match already decided")
var ErrUnknownSlot = errors.New("unknown player slot")

type Mode string

const (
	ModeDuel Mode = "duel"
	ModeFour Mode = "four-player"
)

type BallSpeed string

const (
	SpeedSlow   BallSpeed = "slow"
	SpeedNormal BallSpeed = "normal"
	SpeedFast   BallSpeed = "fast"
)

func (s BallSpeed) multiplier() float64 {
	switch s {
	case SpeedSlow:
		return 0.7
	case SpeedFast:
		return 1.4
	default:
		return 1.0
	}
}

// Options are the per-match tunables carried over from match creation.
type Options struct {
	BallCount int
	BallSpeed BallSpeed
	WinScore  int
}

func DefaultOptions() Options {
	return Options{BallCount: 1, BallSpeed: SpeedNormal, WinScore: 3}
}

type Ball struct {
	X, Z   float64
	VX, VZ float64
	// Freeze holds the ball at center for this many ticks after a goal.
	Freeze int
}

type State struct {
	Mode    Mode
	Opts    Options
	Balls   []Ball
	Paddles map[int]float64
	Scores  map[int]int
	Winner  int // 0 until decided
	Done    bool
}

type EventType string

const (
	EvtGoal EventType = "Goal"
	EvtWin  EventType = "Win"
)

type Event struct {
	Type EventType
	Slot int
}

// deflectJitter is a hook so tests can make reflection deterministic.
var deflectJitter = func() float64 { return rand.Float64()*0.1 - 0.05 }

func NewState(mode Mode, opts Options) State {
	if opts.BallCount < 1 {
		opts.BallCount = 1
	}
	if opts.BallCount > 2 {
		opts.BallCount = 2
	}
	if opts.WinScore <= 0 {
		opts.WinScore = 3
	}

	s := State{
		Mode:    mode,
		Opts:    opts,
		Paddles: map[int]float64{},
		Scores:  map[int]int{},
	}
	for slot := 1; slot <= PlayerCount(mode); slot++ {
		lo, hi := paddleRange(mode, slot)
		s.Paddles[slot] = (lo + hi) / 2
		s.Scores[slot] = 0
	}

	mult := opts.BallSpeed.multiplier()
	for i := 0; i < opts.BallCount; i++ {
		dir := 1.0
		if i%2 == 1 {
			dir = -1.0
		}
		s.Balls = append(s.Balls, Ball{
			VX: ServeSpeedX * mult,
			VZ: dir * ServeSpeedZ * mult,
		})
	}
	return s
}

// MovePaddle clamps and applies one player's paddle position. The slot must
// exist for the state's mode.
func (s *State) MovePaddle(slot int, pos float64) (float64, error) {
	if s.Done {
		return 0, ErrMatchOver
	}
	if _, ok := s.Paddles[slot]; !ok {
		return 0, ErrUnknownSlot
	}
	clamped := ClampPaddle(s.Mode, slot, pos)
	s.Paddles[slot] = clamped
	return clamped, nil
}

// Step advances every ball one tick and reports goals and a win, if any.
// The state is the single source of truth; callers broadcast after each call.
func Step(s State) ([]Event, State) {
	if s.Done {
		return nil, s
	}

	var events []Event
	for i := range s.Balls {
		if ev := s.stepBall(&s.Balls[i]); ev != nil {
			events = append(events, *ev)
		}
	}

	// scan slots in order: if two slots reach the threshold on the same tick
	// (simultaneous goals in multi-ball), the lowest slot wins deterministically
	for slot := 1; slot <= PlayerCount(s.Mode); slot++ {
		if s.Scores[slot] >= s.Opts.WinScore {
			s.Winner = slot
			s.Done = true
			events = append(events, Event{Type: EvtWin, Slot: slot})
			break
		}
	}
	return events, s
}

func (s *State) stepBall(b *Ball) *Event {
	if b.Freeze > 0 {
		b.Freeze--
		return nil
	}

	b.X += b.VX
	b.Z += b.VZ

	// side walls reflect in every mode; position is corrected the same tick
	if b.X <= -TableHalfWidth {
		b.X = -TableHalfWidth
		b.VX = -b.VX
	} else if b.X >= TableHalfWidth {
		b.X = TableHalfWidth
		b.VX = -b.VX
	}

	// paddle reflection inside the goal band
	if b.Z >= PaddleDepth && b.Z <= GoalDepth && b.VZ > 0 {
		s.reflectOff(b, defenderAt(s.Mode, b.X, b.Z))
	} else if b.Z <= -PaddleDepth && b.Z >= -GoalDepth && b.VZ < 0 {
		s.reflectOff(b, defenderAt(s.Mode, b.X, b.Z))
	}

	// goal lines
	if b.Z > GoalDepth || b.Z < -GoalDepth {
		scorer := s.scorerFor(defenderAt(s.Mode, b.X, b.Z))
		s.Scores[scorer]++
		s.recenter(b)
		return &Event{Type: EvtGoal, Slot: scorer}
	}
	return nil
}

func (s *State) reflectOff(b *Ball, slot int) {
	paddle := s.Paddles[slot]
	if b.X < paddle-PaddleHalfWidth || b.X > paddle+PaddleHalfWidth {
		return
	}
	b.VZ = -b.VZ
	// angular deflection proportional to offset from paddle center
	b.VX = (b.X-paddle)/DeflectDivisor + deflectJitter()
}

func (s *State) scorerFor(defender int) int {
	if s.Mode == ModeFour {
		return quadOpponent(defender)
	}
	if defender == 1 {
		return 2
	}
	return 1
}

// recenter puts a conceded ball back at center, serving toward the side that
// just conceded: the serve direction is the inverse of the ball's travel.
func (s *State) recenter(b *Ball) {
	mult := s.Opts.BallSpeed.multiplier()
	dir := -1.0
	if b.VZ < 0 {
		dir = 1.0
	}
	b.X = 0
	b.Z = 0
	b.VX = (rand.Float64()*0.4 - 0.2) * mult
	b.VZ = dir * ServeSpeedZ * mult
	b.Freeze = serveFreezeTicks
}

// InBounds reports whether a ball sits inside the table's bounding box. Step
// keeps this true for every ball it returns.
func InBounds(b Ball) bool {
	return b.X >= -TableHalfWidth && b.X <= TableHalfWidth &&
		b.Z >= -GoalDepth && b.Z <= GoalDepth
}
