// Package engine implements the Engine Adapter (C2, §4.2): it spawns and
// supervises an engine subprocess, translates abstract move-request
// operations into the engine's line protocol, and enforces a deadline on
// each search.
package engine

import (
	"context"
	"time"
)

// Protocol names the engine dialect (§3 EngineSession, §6).
type Protocol string

const (
	ProtocolUCI    Protocol = "uci"
	ProtocolXBoard Protocol = "xboard"
	ProtocolPool   Protocol = "pool" // internal-engine dialect, §4.2 "MAY embed"
)

// Position is the current position descriptor carried by an EngineSession (§3).
type Position struct {
	InitialFEN string   // empty means the standard start position
	Moves      []string // applied coordinate-notation moves since InitialFEN
}

// TimeMode selects which field of Limits is authoritative (§4.2).
type TimeMode string

const (
	TimeModeClock    TimeMode = "clock"
	TimeModeMoveTime TimeMode = "movetime"
	TimeModeDepth    TimeMode = "depth"
	TimeModeNodes    TimeMode = "nodes"
)

// Limits is the search-limit record passed to Dialect.Search (§4.2). Exactly
// one mode is in effect per call; Mode selects which fields are meaningful.
type Limits struct {
	Mode TimeMode

	WhiteTimeLeft time.Duration
	BlackTimeLeft time.Duration
	WhiteInc      time.Duration
	BlackInc      time.Duration
	MovesToGo     int

	FixedDepth     int
	FixedNodes     int
	FixedMoveTime  time.Duration

	Ponder bool
}

// Dialect is the capability interface implemented by UCI, XBoard, and any
// internal dialect (Design Notes: "model as a capability interface"). An
// implementation conforming to this contract without a subprocess is
// externally identical to one that has one (§4.2).
type Dialect interface {
	// Handshake performs the protocol-specific identification exchange and
	// applies configured options.
	Handshake(ctx context.Context, options map[string]string) error
	// SetPosition updates the engine's notion of the current position.
	SetPosition(ctx context.Context, pos Position) error
	// Search blocks until the engine emits its best move or the deadline
	// derived from limits elapses.
	Search(ctx context.Context, limits Limits) (bestMove string, lastScoreCP *int, err error)
	// PonderHit informs the engine the ponder move was played (UCI only).
	PonderHit(ctx context.Context) error
	// StopPonder aborts an in-flight ponder search (UCI only).
	StopPonder(ctx context.Context) error
	// Quit sends a graceful-quit and releases dialect resources.
	Quit(ctx context.Context) error
}

// deadlineFor derives the per-search deadline per §4.2:
// min(configured-cap, remaining-clock × safety-fraction), floored at 100ms.
func deadlineFor(limits Limits, moveOverhead time.Duration, cap time.Duration, safetyFraction float64) time.Duration {
	const floor = 100 * time.Millisecond

	switch limits.Mode {
	case TimeModeMoveTime:
		d := limits.FixedMoveTime
		if cap > 0 && d > cap {
			d = cap
		}
		if d < floor {
			d = floor
		}
		return d
	case TimeModeDepth, TimeModeNodes:
		if cap > 0 {
			return cap
		}
		return floor
	default: // TimeModeClock
		remaining := limits.WhiteTimeLeft // caller passes the mover's own remaining time as WhiteTimeLeft
		remaining -= moveOverhead
		if remaining < 0 {
			remaining = 0
		}
		d := time.Duration(float64(remaining) * safetyFraction)
		if cap > 0 && (d > cap || d == 0) {
			d = cap
		}
		if d < floor {
			d = floor
		}
		return d
	}
}
