// Package store is the request/response data layer the live-session
// subsystem persists through. Everything here is consumed as a black-box
// data operation; gameplay never depends on a write succeeding.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ft-pong/pong-backend/internal/engine"
)

var ErrMatchNotFound = errors.New("match not found")
var ErrTournamentNotFound = errors.New("tournament not found")

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&Match{}, &MatchPlayer{}, &MatchOptions{}, &Tournament{}, &TournamentMatch{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, log: logger}, nil
}

// NewWithDB wraps an existing gorm handle, skipping migration.
func NewWithDB(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, log: logger}
}

// CreateMatch persists a new match row and its options, returning the match id.
func (s *Store) CreateMatch(ctx context.Context, mode engine.Mode, opts engine.Options, tournamentID *string) (string, error) {
	match := Match{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		Mode:         string(mode),
		PlayedAt:     time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&match).Error; err != nil {
			return err
		}
		return tx.Create(&MatchOptions{
			ID:        uuid.NewString(),
			MatchID:   match.ID,
			BallCount: opts.BallCount,
			BallSpeed: string(opts.BallSpeed),
			WinScore:  opts.WinScore,
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("create match: %w", err)
	}
	return match.ID, nil
}

// CreatePlayers binds nicknames to slots 1..n of a match.
func (s *Store) CreatePlayers(ctx context.Context, matchID string, nicknames []string) error {
	players := make([]MatchPlayer, 0, len(nicknames))
	for i, nick := range nicknames {
		players = append(players, MatchPlayer{
			ID:           uuid.NewString(),
			MatchID:      matchID,
			Nickname:     nick,
			PlayerNumber: i + 1,
		})
	}
	if err := s.db.WithContext(ctx).Create(&players).Error; err != nil {
		return fmt.Errorf("create players: %w", err)
	}
	return nil
}

// RecordResult writes each slot's final score and the winning slot.
func (s *Store) RecordResult(ctx context.Context, matchID string, scores map[int]int, winner int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for slot, score := range scores {
			res := tx.Model(&MatchPlayer{}).
				Where("match_id = ? AND player_number = ?", matchID, slot).
				Update("score", score)
			if res.Error != nil {
				return res.Error
			}
		}
		res := tx.Model(&Match{}).Where("id = ?", matchID).Update("winner_slot", winner)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMatchNotFound
		}
		return nil
	})
}

// MatchResult is the post-game summary read path.
type MatchResult struct {
	MatchID    string        `json:"match_id"`
	Mode       string        `json:"mode"`
	WinnerSlot int           `json:"winner_slot"`
	Players    []MatchPlayer `json:"players"`
}

func (s *Store) GetMatchResult(ctx context.Context, matchID string) (MatchResult, error) {
	var match Match
	err := s.db.WithContext(ctx).Preload("Players").First(&match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MatchResult{}, ErrMatchNotFound
	}
	if err != nil {
		return MatchResult{}, fmt.Errorf("load match: %w", err)
	}
	return MatchResult{
		MatchID:    match.ID,
		Mode:       match.Mode,
		WinnerSlot: match.WinnerSlot,
		Players:    match.Players,
	}, nil
}

// GetMatchOptions loads the gameplay tunables recorded at match creation.
func (s *Store) GetMatchOptions(ctx context.Context, matchID string) (engine.Options, error) {
	var opts MatchOptions
	err := s.db.WithContext(ctx).First(&opts, "match_id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.DefaultOptions(), nil
	}
	if err != nil {
		return engine.Options{}, fmt.Errorf("load options: %w", err)
	}
	return engine.Options{
		BallCount: opts.BallCount,
		BallSpeed: engine.BallSpeed(opts.BallSpeed),
		WinScore:  opts.WinScore,
	}, nil
}

// CreateTournament persists the bracket header.
func (s *Store) CreateTournament(ctx context.Context, name string) (string, error) {
	t := Tournament{ID: uuid.NewString(), Name: name, Status: "pending"}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return "", fmt.Errorf("create tournament: %w", err)
	}
	return t.ID, nil
}

// LinkTournamentMatch places a match inside a tournament round.
func (s *Store) LinkTournamentMatch(ctx context.Context, tournamentID, matchID, round string, number int) error {
	link := TournamentMatch{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		MatchID:      matchID,
		Round:        round,
		MatchNumber:  number,
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return fmt.Errorf("link tournament match: %w", err)
	}
	return nil
}

// SetTournamentStatus updates the persisted bracket status.
func (s *Store) SetTournamentStatus(ctx context.Context, tournamentID, status string) error {
	res := s.db.WithContext(ctx).Model(&Tournament{}).
		Where("id = ?", tournamentID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTournamentNotFound
	}
	return nil
}
