package models

import "time"

// Team is a squad inside a tournament. A team id narrows a chat scope to
// that team's private room.
type Team struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	Name         string    `json:"name" db:"name"`
	CaptainID    int       `json:"captain_id" db:"captain_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
