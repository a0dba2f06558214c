package store

import "time"

// Match records one game instance, live or finished.
type Match struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	TournamentID *string   `gorm:"index" json:"tournament_id,omitempty"` // nil = casual match
	Mode         string    `gorm:"type:varchar(16);not null" json:"mode"`
	WinnerSlot   int       `gorm:"default:0" json:"winner_slot"` // 0 = undecided
	PlayedAt     time.Time `json:"played_at"`

	Players []MatchPlayer `gorm:"foreignKey:MatchID" json:"players,omitempty"`
	Options *MatchOptions `gorm:"foreignKey:MatchID" json:"options,omitempty"`
}

// MatchPlayer binds a nickname to a fixed player slot of one match.
type MatchPlayer struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID      string `gorm:"index;not null" json:"match_id"`
	Nickname     string `gorm:"type:varchar(255)" json:"nickname"`
	PlayerNumber int    `gorm:"not null" json:"player_number"`
	Score        int    `gorm:"default:0" json:"score"`
}

// MatchOptions carries per-match gameplay tunables.
type MatchOptions struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID   string `gorm:"uniqueIndex;not null" json:"match_id"`
	BallCount int    `gorm:"default:1" json:"ball_count"`
	BallSpeed string `gorm:"type:varchar(10);default:'normal'" json:"ball_speed"`
	WinScore  int    `gorm:"default:3" json:"win_score"`
}

// Tournament is the persisted bracket header.
type Tournament struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Status    string    `gorm:"type:varchar(16);default:'pending'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Matches []TournamentMatch `gorm:"foreignKey:TournamentID" json:"matches,omitempty"`
}

// TournamentMatch places one match inside a bracket.
type TournamentMatch struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	TournamentID string `gorm:"index;not null" json:"tournament_id"`
	MatchID      string `gorm:"index;not null" json:"match_id"`
	Round        string `gorm:"type:varchar(10);not null" json:"round"` // semifinal | final
	MatchNumber  int    `gorm:"not null" json:"match_number"`
}
