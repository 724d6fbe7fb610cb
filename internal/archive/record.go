// Package archive implements the Archiver (C7, §4.7): single-consumer
// persistence of completed-game records as portable-game-notation text to a
// snappy-compressed append-only stream, rotated per time-bounded segment.
package archive

import "time"

// MoveRecord is one applied half-move with optional clock telemetry.
type MoveRecord struct {
	UCI       string
	SAN       string // best-effort; empty when not computed
	ClockLeft time.Duration
}

// GameRecord is a completed game as handed to the Archiver by a Game Worker
// at the Closing transition (§4.4, §4.7).
type GameRecord struct {
	GameID      string
	Event       string
	Site        string
	Date        time.Time
	White       string
	Black       string
	Result      string // "1-0", "0-1", "1/2-1/2", "*"
	TimeControl string
	Variant     string
	Rated       bool
	Moves       []MoveRecord
}
