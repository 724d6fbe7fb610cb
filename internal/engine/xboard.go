package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/herohde/chessbot/internal/chessboterr"
	"github.com/herohde/chessbot/internal/logging"
)

// xboardDialect drives an engine subprocess speaking the XBoard/CECP
// protocol, the alternative dialect named in §6. It implements the same
// Dialect contract as uciDialect; pondering is not supported.
type xboardDialect struct {
	proc           *subprocess
	logger         *logging.Logger
	moveOverheadMS int
	searchCap      time.Duration
}

func newXBoardDialect(proc *subprocess, logger *logging.Logger, moveOverheadMS int, searchCap time.Duration) *xboardDialect {
	return &xboardDialect{proc: proc, logger: logger, moveOverheadMS: moveOverheadMS, searchCap: searchCap}
}

func (d *xboardDialect) Handshake(ctx context.Context, options map[string]string) error {
	if err := d.proc.send("xboard"); err != nil {
		return chessboterr.New(chessboterr.KindEngineSpawn, "xboard", err)
	}
	if err := d.proc.send("protover 2"); err != nil {
		return chessboterr.New(chessboterr.KindEngineSpawn, "protover", err)
	}
	deadline := time.NewTimer(ProbeInterval)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for feature set")
		case line, ok := <-d.proc.lines:
			if !ok {
				return fmt.Errorf("engine stdout closed during handshake")
			}
			if strings.HasPrefix(line, "feature") && strings.Contains(line, "done=1") {
				for name, value := range options {
					_ = d.proc.send(fmt.Sprintf("option %s=%s", name, value))
				}
				return nil
			}
		}
	}
}

func (d *xboardDialect) SetPosition(ctx context.Context, pos Position) error {
	if err := d.proc.send("new"); err != nil {
		return chessboterr.New(chessboterr.KindEngineDead, "new", err)
	}
	if pos.InitialFEN != "" {
		if err := d.proc.send("setboard " + pos.InitialFEN); err != nil {
			return chessboterr.New(chessboterr.KindEngineDead, "setboard", err)
		}
	}
	for _, mv := range pos.Moves {
		if err := d.proc.send(mv); err != nil {
			return chessboterr.New(chessboterr.KindEngineDead, "move", err)
		}
	}
	return nil
}

func (d *xboardDialect) Search(ctx context.Context, limits Limits) (string, *int, error) {
	moveOverhead := time.Duration(d.moveOverheadMS) * time.Millisecond
	deadline := deadlineFor(limits, moveOverhead, d.searchCap, 0.05)

	if limits.Mode == TimeModeMoveTime {
		_ = d.proc.send(fmt.Sprintf("st %d", int(limits.FixedMoveTime.Seconds())))
	} else {
		_ = d.proc.send(fmt.Sprintf("level 0 %d %d", int(limits.WhiteTimeLeft.Minutes()), limits.WhiteInc.Seconds()))
	}
	if err := d.proc.send("go"); err != nil {
		return "", nil, chessboterr.New(chessboterr.KindEngineDead, "go", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		select {
		case <-searchCtx.Done():
			_ = d.proc.send("?")
			return d.awaitMove(ctx)
		case line, ok := <-d.proc.lines:
			if !ok {
				return "", nil, chessboterr.New(chessboterr.KindEngineDead, "go", fmt.Errorf("engine stdout closed"))
			}
			if mv, ok := parseXBoardMove(line); ok {
				return mv, nil, nil
			}
		}
	}
}

func (d *xboardDialect) awaitMove(ctx context.Context) (string, *int, error) {
	for {
		select {
		case <-ctx.Done():
			return "", nil, chessboterr.New(chessboterr.KindCancelled, "move", ctx.Err())
		case line, ok := <-d.proc.lines:
			if !ok {
				return "", nil, chessboterr.New(chessboterr.KindEngineDead, "move", fmt.Errorf("engine stdout closed"))
			}
			if mv, ok := parseXBoardMove(line); ok {
				return mv, nil, nil
			}
		}
	}
}

func (d *xboardDialect) PonderHit(ctx context.Context) error  { return nil }
func (d *xboardDialect) StopPonder(ctx context.Context) error { return nil }

func (d *xboardDialect) Quit(ctx context.Context) error {
	return d.proc.send("quit")
}

func parseXBoardMove(line string) (string, bool) {
	if strings.HasPrefix(line, "move ") {
		return strings.TrimSpace(strings.TrimPrefix(line, "move ")), true
	}
	return "", false
}
