// Package tournament sequences dependent matches: two semifinals feed one
// final, with automatic winner propagation.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/engine"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/session"
)

var ErrNotFound = errors.New("tournament not found")
var ErrNeedFourPlayers = errors.New("a tournament needs exactly four nicknames")

// Status is a pure projection, recomputed on every query.
type Status string

const (
	StatusPreparing  Status = "preparing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	// StatusUnresolved marks a bracket whose semifinal ended in a tie: the
	// winner rule (strictly higher score) cannot pick, and the final is never
	// populated with a null player.
	StatusUnresolved Status = "unresolved"
)

// BracketStore is the slice of the data API the coordinator persists through.
type BracketStore interface {
	CreateTournament(ctx context.Context, name string) (string, error)
	CreateMatch(ctx context.Context, mode engine.Mode, opts engine.Options, tournamentID *string) (string, error)
	CreatePlayers(ctx context.Context, matchID string, nicknames []string) error
	LinkTournamentMatch(ctx context.Context, tournamentID, matchID, round string, number int) error
	SetTournamentStatus(ctx context.Context, tournamentID, status string) error
}

type outcome struct {
	scores map[int]int
	winner int
}

type matchRef struct {
	MatchID   string
	RoomKey   string
	Nicknames []string // index 0 = slot 1
}

type bracket struct {
	id         string
	name       string
	opts       engine.Options
	semifinals [2]matchRef
	final      matchRef
	results    map[string]outcome // matchID -> final outcome
	finalSet   bool
	unresolved bool
	winner     string // champion nickname, "" until the final completes
}

type Config struct {
	Store    BracketStore
	Registry *registry.Registry
	Recorder session.ResultRecorder
	Logger   *zap.Logger
}

type Coordinator struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	brackets map[string]*bracket
	byMatch  map[string]string // matchID -> tournamentID
}

func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		log:      cfg.Logger,
		brackets: make(map[string]*bracket),
		byMatch:  make(map[string]string),
	}
}

// Create builds the bracket: two semifinals (players 1v2, 3v4) in Waiting and
// a final placeholder whose players stay empty until both semifinals finish.
func (c *Coordinator) Create(ctx context.Context, name string, nicknames []string, opts engine.Options) (View, error) {
	if len(nicknames) != 4 {
		return View{}, ErrNeedFourPlayers
	}

	id, err := c.cfg.Store.CreateTournament(ctx, name)
	if err != nil {
		return View{}, fmt.Errorf("persist tournament: %w", err)
	}

	b := &bracket{
		id:      id,
		name:    name,
		opts:    opts,
		results: make(map[string]outcome),
	}

	pairs := [2][]string{
		{nicknames[0], nicknames[1]},
		{nicknames[2], nicknames[3]},
	}
	for i, pair := range pairs {
		ref, err := c.createMatch(ctx, b, "semifinal", i+1, pair)
		if err != nil {
			return View{}, err
		}
		b.semifinals[i] = ref
		c.spawnSession(b, ref)
	}

	// the final's players are populated lazily by winner propagation
	finalRef, err := c.createMatch(ctx, b, "final", 1, nil)
	if err != nil {
		return View{}, err
	}
	b.final = finalRef

	c.mu.Lock()
	c.brackets[id] = b
	for _, sf := range b.semifinals {
		c.byMatch[sf.MatchID] = id
	}
	c.byMatch[b.final.MatchID] = id
	c.mu.Unlock()

	c.log.Info("tournament created",
		zap.String("tournament_id", id),
		zap.String("name", name))
	return c.view(b), nil
}

func (c *Coordinator) createMatch(ctx context.Context, b *bracket, round string, number int, nicknames []string) (matchRef, error) {
	matchID, err := c.cfg.Store.CreateMatch(ctx, engine.ModeDuel, b.opts, &b.id)
	if err != nil {
		return matchRef{}, fmt.Errorf("create %s match: %w", round, err)
	}
	if len(nicknames) > 0 {
		if err := c.cfg.Store.CreatePlayers(ctx, matchID, nicknames); err != nil {
			return matchRef{}, fmt.Errorf("create %s players: %w", round, err)
		}
	}
	if err := c.cfg.Store.LinkTournamentMatch(ctx, b.id, matchID, round, number); err != nil {
		return matchRef{}, fmt.Errorf("link %s match: %w", round, err)
	}
	return matchRef{
		MatchID:   matchID,
		RoomKey:   "game_" + matchID,
		Nicknames: nicknames,
	}, nil
}

func (c *Coordinator) spawnSession(b *bracket, ref matchRef) {
	nicknames := make(map[int]string, len(ref.Nicknames))
	for i, nick := range ref.Nicknames {
		nicknames[i+1] = nick
	}
	reply := make(chan *session.Session, 1)
	c.cfg.Registry.Inbox() <- registry.Create{
		Cfg: session.Config{
			MatchID:     ref.MatchID,
			RoomKey:     ref.RoomKey,
			Mode:        engine.ModeDuel,
			Opts:        b.opts,
			Nicknames:   nicknames,
			Recorder:    c.cfg.Recorder,
			OnCompleted: c.OnMatchCompleted,
			Logger:      c.log,
		},
		Reply: reply,
	}
	<-reply
}

// OnMatchCompleted records one match's outcome and propagates winners. It is
// idempotent: replaying a completion changes nothing once the final is set.
func (c *Coordinator) OnMatchCompleted(matchID string, scores map[int]int, winner int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tid, ok := c.byMatch[matchID]
	if !ok {
		return
	}
	b := c.brackets[tid]

	if _, seen := b.results[matchID]; !seen {
		b.results[matchID] = outcome{scores: scores, winner: winner}
	}

	if matchID == b.final.MatchID {
		c.completeFinal(b)
		return
	}
	c.maybePopulateFinal(b)
}

// maybePopulateFinal runs the winner-propagation edge: once both semifinals
// are complete, the final's players are set exactly once.
func (c *Coordinator) maybePopulateFinal(b *bracket) {
	if b.finalSet || b.unresolved {
		return
	}

	winners := make([]string, 0, 2)
	for _, sf := range b.semifinals {
		res, done := b.results[sf.MatchID]
		if !done {
			return
		}
		slot, ok := strictWinner(res.scores)
		if !ok {
			b.unresolved = true
			c.log.Warn("semifinal tie, bracket needs manual resolution",
				zap.String("tournament_id", b.id),
				zap.String("match_id", sf.MatchID))
			return
		}
		winners = append(winners, sf.Nicknames[slot-1])
	}

	b.final.Nicknames = winners
	b.finalSet = true
	c.log.Info("final populated",
		zap.String("tournament_id", b.id),
		zap.Strings("finalists", winners))

	// persistence and session setup are side effects of an already-decided
	// propagation; do them off the lock path
	final := b.final
	bRef := b
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.cfg.Store.CreatePlayers(ctx, final.MatchID, final.Nicknames); err != nil {
			c.log.Warn("final players persistence failed", zap.Error(err))
		}
		if err := c.cfg.Store.SetTournamentStatus(ctx, bRef.id, "ongoing"); err != nil {
			c.log.Warn("tournament status persistence failed", zap.Error(err))
		}
		c.spawnSession(bRef, final)
	}()
}

func (c *Coordinator) completeFinal(b *bracket) {
	if b.winner != "" {
		return
	}
	res := b.results[b.final.MatchID]
	slot, ok := strictWinner(res.scores)
	if !ok || len(b.final.Nicknames) < slot {
		b.unresolved = true
		return
	}
	b.winner = b.final.Nicknames[slot-1]
	c.log.Info("tournament completed",
		zap.String("tournament_id", b.id),
		zap.String("champion", b.winner))

	id := b.id
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.cfg.Store.SetTournamentStatus(ctx, id, "finished"); err != nil {
			c.log.Warn("tournament status persistence failed", zap.Error(err))
		}
	}()
}

// strictWinner applies the bracket rule: strictly higher final score. A tie
// has no winner under this rule.
func strictWinner(scores map[int]int) (int, bool) {
	best, bestSlot, tied := -1, 0, false
	for slot, score := range scores {
		switch {
		case score > best:
			best, bestSlot, tied = score, slot, false
		case score == best:
			tied = true
		}
	}
	if tied || bestSlot == 0 {
		return 0, false
	}
	return bestSlot, true
}

// MatchView is one bracket slot in the read model.
type MatchView struct {
	MatchID   string   `json:"match_id"`
	RoomKey   string   `json:"room_key"`
	Round     string   `json:"round"`
	Nicknames []string `json:"nicknames"`
	Completed bool     `json:"completed"`
}

type View struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Status   Status      `json:"status"`
	Matches  []MatchView `json:"matches"`
	Champion string      `json:"champion,omitempty"`
}

// Get derives the current read model for one tournament.
func (c *Coordinator) Get(id string) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.brackets[id]
	if !ok {
		return View{}, ErrNotFound
	}
	return c.view(b), nil
}

// view must be called with the lock held.
func (c *Coordinator) view(b *bracket) View {
	v := View{
		ID:       b.id,
		Name:     b.name,
		Status:   c.status(b),
		Champion: b.winner,
	}
	for i, sf := range b.semifinals {
		_, done := b.results[sf.MatchID]
		v.Matches = append(v.Matches, MatchView{
			MatchID:   sf.MatchID,
			RoomKey:   sf.RoomKey,
			Round:     fmt.Sprintf("semifinal%d", i+1),
			Nicknames: sf.Nicknames,
			Completed: done,
		})
	}
	_, finalDone := b.results[b.final.MatchID]
	v.Matches = append(v.Matches, MatchView{
		MatchID:   b.final.MatchID,
		RoomKey:   b.final.RoomKey,
		Round:     "final",
		Nicknames: b.final.Nicknames,
		Completed: finalDone,
	})
	return v
}

// status derives Preparing | InProgress | Completed (plus Unresolved) from
// play state; nothing is stored.
func (c *Coordinator) status(b *bracket) Status {
	switch {
	case b.unresolved:
		return StatusUnresolved
	case b.winner != "":
		return StatusCompleted
	case len(b.results) > 0 || c.anyPlayersBound(b):
		return StatusInProgress
	default:
		return StatusPreparing
	}
}

func (c *Coordinator) anyPlayersBound(b *bracket) bool {
	if c.cfg.Registry == nil {
		return false
	}
	refs := []matchRef{b.semifinals[0], b.semifinals[1], b.final}
	for _, ref := range refs {
		s := c.cfg.Registry.Lookup(ref.RoomKey)
		if s == nil {
			continue
		}
		// a room reclaimed mid-query counts as empty rather than blocking
		reply := make(chan session.View, 1)
		select {
		case s.Inbox() <- session.GetView{Reply: reply}:
		case <-s.Done():
			continue
		}
		select {
		case v := <-reply:
			if v.NumBound > 0 {
				return true
			}
		case <-s.Done():
		}
	}
	return false
}
