package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/herohde/chessbot/internal/chessboterr"
	"github.com/herohde/chessbot/internal/logging"
)

// ProbeInterval bounds how long the handshake waits for a dialect's
// identification line before trying the next dialect (§4.2).
const ProbeInterval = 2 * time.Second

// uciDialect drives an engine subprocess speaking UCI (§6: "uci"; readiness
// "isready"/"readyok"; position via "position fen ... moves ..." or
// "position startpos moves ..."; search via "go" with limit flags; stop via
// "stop"; terminate via "quit"). Grounded on the line-oriented handshake this
// project's reference UCI driver speaks from the engine side
// (pkg/engine/uci), mirrored here from the controller side.
type uciDialect struct {
	proc           *subprocess
	logger         *logging.Logger
	moveOverheadMS int
	searchCap      time.Duration
	pondering      bool
}

func newUCIDialect(proc *subprocess, logger *logging.Logger, moveOverheadMS int, searchCap time.Duration) *uciDialect {
	return &uciDialect{proc: proc, logger: logger, moveOverheadMS: moveOverheadMS, searchCap: searchCap}
}

func (d *uciDialect) Handshake(ctx context.Context, options map[string]string) error {
	if err := d.proc.send("uci"); err != nil {
		return chessboterr.New(chessboterr.KindEngineSpawn, "uci", err)
	}
	if err := d.awaitLine(ctx, "uciok"); err != nil {
		return chessboterr.New(chessboterr.KindEngineSpawn, "uci", err)
	}
	for name, value := range options {
		if err := d.proc.send(fmt.Sprintf("setoption name %s value %s", name, value)); err != nil {
			return chessboterr.New(chessboterr.KindEngineProto, "setoption", err)
		}
	}
	if err := d.proc.send("isready"); err != nil {
		return chessboterr.New(chessboterr.KindEngineProto, "isready", err)
	}
	return d.awaitLine(ctx, "readyok")
}

func (d *uciDialect) SetPosition(ctx context.Context, pos Position) error {
	var b strings.Builder
	b.WriteString("position ")
	if pos.InitialFEN == "" {
		b.WriteString("startpos")
	} else {
		b.WriteString("fen ")
		b.WriteString(pos.InitialFEN)
	}
	if len(pos.Moves) > 0 {
		b.WriteString(" moves ")
		b.WriteString(strings.Join(pos.Moves, " "))
	}
	if err := d.proc.send(b.String()); err != nil {
		return chessboterr.New(chessboterr.KindEngineDead, "position", err)
	}
	return nil
}

func (d *uciDialect) Search(ctx context.Context, limits Limits) (string, *int, error) {
	cmd, deadline := d.goCommand(limits)

	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := d.proc.send(cmd); err != nil {
		return "", nil, chessboterr.New(chessboterr.KindEngineDead, "go", err)
	}

	var lastScore *int
	for {
		select {
		case <-searchCtx.Done():
			// Deadline elapsed: send stop and read the resulting bestmove (§4.2).
			_ = d.proc.send("stop")
			return d.awaitBestMove(ctx, lastScore)
		case line, ok := <-d.proc.lines:
			if !ok {
				return "", nil, chessboterr.New(chessboterr.KindEngineDead, "go", fmt.Errorf("engine stdout closed"))
			}
			if move, ok := parseBestMove(line); ok {
				return move, lastScore, nil
			}
			if score, ok := parseScoreCP(line); ok {
				lastScore = &score
			}
		}
	}
}

func (d *uciDialect) awaitBestMove(ctx context.Context, lastScore *int) (string, *int, error) {
	for {
		select {
		case <-ctx.Done():
			return "", nil, chessboterr.New(chessboterr.KindCancelled, "go", ctx.Err())
		case line, ok := <-d.proc.lines:
			if !ok {
				return "", nil, chessboterr.New(chessboterr.KindEngineDead, "go", fmt.Errorf("engine stdout closed"))
			}
			if move, ok := parseBestMove(line); ok {
				return move, lastScore, nil
			}
			if score, ok := parseScoreCP(line); ok {
				lastScore = &score
			}
		}
	}
}

func (d *uciDialect) goCommand(limits Limits) (string, time.Duration) {
	moveOverhead := time.Duration(d.moveOverheadMS) * time.Millisecond
	switch limits.Mode {
	case TimeModeMoveTime:
		deadline := deadlineFor(limits, moveOverhead, d.searchCap, 1.0)
		return fmt.Sprintf("go movetime %d", limits.FixedMoveTime.Milliseconds()), deadline
	case TimeModeDepth:
		return fmt.Sprintf("go depth %d", limits.FixedDepth), deadlineFor(limits, moveOverhead, d.searchCap, 1.0)
	case TimeModeNodes:
		return fmt.Sprintf("go nodes %d", limits.FixedNodes), deadlineFor(limits, moveOverhead, d.searchCap, 1.0)
	default:
		clockLimits := limits
		clockLimits.WhiteTimeLeft = limits.WhiteTimeLeft // deadlineFor reads WhiteTimeLeft as "mover's own remaining"
		deadline := deadlineFor(clockLimits, moveOverhead, d.searchCap, 0.05)
		var b strings.Builder
		fmt.Fprintf(&b, "go wtime %d btime %d winc %d binc %d",
			limits.WhiteTimeLeft.Milliseconds(), limits.BlackTimeLeft.Milliseconds(),
			limits.WhiteInc.Milliseconds(), limits.BlackInc.Milliseconds())
		if limits.MovesToGo > 0 {
			fmt.Fprintf(&b, " movestogo %d", limits.MovesToGo)
		}
		if limits.Ponder {
			b.WriteString(" ponder")
			d.pondering = true
		}
		return b.String(), deadline
	}
}

func (d *uciDialect) PonderHit(ctx context.Context) error {
	if !d.pondering {
		return nil
	}
	d.pondering = false
	if err := d.proc.send("ponderhit"); err != nil {
		return chessboterr.New(chessboterr.KindEngineDead, "ponderhit", err)
	}
	return nil
}

func (d *uciDialect) StopPonder(ctx context.Context) error {
	if !d.pondering {
		return nil
	}
	d.pondering = false
	if err := d.proc.send("stop"); err != nil {
		return chessboterr.New(chessboterr.KindEngineDead, "stop", err)
	}
	return nil
}

func (d *uciDialect) Quit(ctx context.Context) error {
	return d.proc.send("quit")
}

func (d *uciDialect) awaitLine(ctx context.Context, suffix string) error {
	deadline := time.NewTimer(ProbeInterval)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %q", suffix)
		case line, ok := <-d.proc.lines:
			if !ok {
				return fmt.Errorf("engine stdout closed waiting for %q", suffix)
			}
			if strings.HasPrefix(strings.TrimSpace(line), suffix) || strings.TrimSpace(line) == suffix {
				return nil
			}
		}
	}
}

func parseBestMove(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) >= 2 && fields[0] == "bestmove" {
		return fields[1], true
	}
	return "", false
}

func parseScoreCP(line string) (int, bool) {
	if !strings.HasPrefix(line, "info") || !strings.Contains(line, "score cp") {
		return 0, false
	}
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "cp" && i+1 < len(fields) {
			if v, err := strconv.Atoi(fields[i+1]); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
