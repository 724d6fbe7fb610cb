package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/herohde/chessbot/internal/chessboterr"
	"github.com/herohde/chessbot/internal/logging"
)

// ErrEngineUnsupported is raised when neither UCI nor XBoard identifies
// itself within ProbeInterval (§4.2).
var ErrEngineUnsupported = errors.New("engine-unsupported")

// Config describes how to spawn and drive one engine instance (§4.2, §6).
type Config struct {
	Path           string
	Args           []string
	Dir            string
	Protocol       Protocol // "" triggers dialect auto-detection
	Options        map[string]string
	MoveOverheadMS int
	SearchCap      time.Duration // configured cap, §4.2

	// Dialect, when set, is used directly instead of spawning a subprocess —
	// the hook the internal-engine ("pool") dialect uses to plug a gRPC-backed
	// Dialect implementation into the same Adapter lifecycle as uci/xboard
	// (§4.2 "MAY embed an internal-engine dialect ... externally identical").
	Dialect Dialect
}

// Adapter is the Engine Adapter (C2). One instance is created per game and
// destroyed at game end or on crash; it is never shared across games (§3
// EngineSession lifecycle).
type Adapter struct {
	mu      sync.Mutex
	cfg     Config
	proc    *subprocess
	dialect Dialect
	logger  *logging.Logger
	failed  bool
	pos     Position
}

// New spawns the configured engine binary and performs dialect handshake
// (§4.2). If cfg.Protocol is empty, it probes UCI then XBoard.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logging.L()
	}
	if cfg.Protocol == ProtocolPool || cfg.Dialect != nil {
		if cfg.Dialect == nil {
			return nil, chessboterr.New(chessboterr.KindConfig, "engine.New", errors.New("pool protocol requires a pre-built Dialect"))
		}
		a := &Adapter{cfg: cfg, dialect: cfg.Dialect, logger: logger}
		if err := cfg.Dialect.Handshake(ctx, cfg.Options); err != nil {
			return nil, chessboterr.New(chessboterr.KindEngineProto, "pool", err)
		}
		return a, nil
	}

	if cfg.Path == "" {
		return nil, chessboterr.New(chessboterr.KindConfig, "engine.New", errors.New("engine path must not be empty"))
	}
	proc, err := spawn(ctx, cfg.Path, cfg.Args, cfg.Dir)
	if err != nil {
		return nil, chessboterr.New(chessboterr.KindEngineSpawn, cfg.Path, err)
	}

	a := &Adapter{cfg: cfg, proc: proc, logger: logger}

	dialect, err := a.detectDialect(ctx, proc)
	if err != nil {
		proc.kill()
		return nil, err
	}
	a.dialect = dialect

	if err := dialect.Handshake(ctx, cfg.Options); err != nil {
		proc.kill()
		return nil, chessboterr.New(chessboterr.KindEngineProto, cfg.Path, err)
	}
	return a, nil
}

func (a *Adapter) detectDialect(ctx context.Context, proc *subprocess) (Dialect, error) {
	searchCap := a.cfg.SearchCap

	switch a.cfg.Protocol {
	case ProtocolUCI:
		return newUCIDialect(proc, a.logger, a.cfg.MoveOverheadMS, searchCap), nil
	case ProtocolXBoard:
		return newXBoardDialect(proc, a.logger, a.cfg.MoveOverheadMS, searchCap), nil
	}

	// Auto-detection (§4.2): send the UCI probe; if a UCI identification
	// line appears within ProbeInterval, mode is UCI. Else send the XBoard
	// probe; if a feature line appears, mode is XBoard. Else raise
	// engine-unsupported.
	if err := proc.send("uci"); err != nil {
		return nil, chessboterr.New(chessboterr.KindEngineSpawn, a.cfg.Path, err)
	}
	if awaitPrefix(ctx, proc.lines, "id", ProbeInterval) {
		return newUCIDialect(proc, a.logger, a.cfg.MoveOverheadMS, searchCap), nil
	}

	if err := proc.send("xboard"); err != nil {
		return nil, chessboterr.New(chessboterr.KindEngineSpawn, a.cfg.Path, err)
	}
	if err := proc.send("protover 2"); err != nil {
		return nil, chessboterr.New(chessboterr.KindEngineSpawn, a.cfg.Path, err)
	}
	if awaitPrefix(ctx, proc.lines, "feature", ProbeInterval) {
		return newXBoardDialect(proc, a.logger, a.cfg.MoveOverheadMS, searchCap), nil
	}

	return nil, chessboterr.New(chessboterr.KindEngineSpawn, a.cfg.Path, ErrEngineUnsupported)
}

// awaitPrefix blocks until a line starting with prefix arrives on lines,
// the interval elapses, or ctx is done, returning whether the prefix matched.
func awaitPrefix(ctx context.Context, lines <-chan string, prefix string, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
				return true
			}
		}
	}
}

// SetPosition updates the engine's notion of the current position (§4.2).
func (a *Adapter) SetPosition(ctx context.Context, initialFEN string, moves []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed {
		return chessboterr.New(chessboterr.KindEngineDead, a.cfg.Path, errors.New("engine-dead"))
	}
	pos := Position{InitialFEN: initialFEN, Moves: append([]string(nil), moves...)}
	if err := a.dialect.SetPosition(ctx, pos); err != nil {
		a.failed = true
		return err
	}
	a.pos = pos
	return nil
}

// Search blocks until the engine emits its best move or the derived deadline
// elapses, in which case the adapter sends stop and reads the resulting
// best-move line (§4.2). Any read/write failure flips the adapter into a
// failed state; further operations raise engine-dead.
func (a *Adapter) Search(ctx context.Context, limits Limits) (string, *int, error) {
	a.mu.Lock()
	failed := a.failed
	dialect := a.dialect
	a.mu.Unlock()
	if failed {
		return "", nil, chessboterr.New(chessboterr.KindEngineDead, a.cfg.Path, errors.New("engine-dead"))
	}

	move, score, err := dialect.Search(ctx, limits)
	if err != nil {
		a.mu.Lock()
		a.failed = true
		a.mu.Unlock()
		return "", nil, err
	}
	return move, score, nil
}

// PonderHit informs the engine the ponder move was played (UCI only, §4.2).
func (a *Adapter) PonderHit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed {
		return chessboterr.New(chessboterr.KindEngineDead, a.cfg.Path, errors.New("engine-dead"))
	}
	return a.dialect.PonderHit(ctx)
}

// StopPonder aborts an in-flight ponder search (UCI only, §4.2).
func (a *Adapter) StopPonder(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed {
		return chessboterr.New(chessboterr.KindEngineDead, a.cfg.Path, errors.New("engine-dead"))
	}
	return a.dialect.StopPonder(ctx)
}

// Quit sends a graceful-quit, awaits exit up to 5s, then terminates forcibly (§4.2).
func (a *Adapter) Quit(ctx context.Context) error {
	a.mu.Lock()
	dialect := a.dialect
	proc := a.proc
	a.mu.Unlock()

	if dialect != nil {
		_ = dialect.Quit(ctx)
	}

	if proc == nil {
		// Pool dialect: no subprocess of our own to reap.
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- proc.wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		proc.kill()
		<-done
	}
	proc.logExit(a.logger, a.cfg.Path)
	return nil
}

// Failed reports whether the adapter has transitioned to the failed state.
func (a *Adapter) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// Position returns the engine's last-applied position descriptor, used by
// the Game Worker to replay moves onto a freshly restarted engine (§4.4
// Recovering state, §8 "after engine restart...").
func (a *Adapter) Position() (string, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos.InitialFEN, append([]string(nil), a.pos.Moves...)
}

// BadMoveError wraps a move the remote service rejected as illegal, surfaced
// to the Worker per §4.2 ("illegal moves ... are surfaced to the Worker as
// engine-bad-move").
func BadMoveError(move string, cause error) error {
	return chessboterr.New(chessboterr.KindEngineBadMove, move, fmt.Errorf("rejected move %s: %w", move, cause))
}
