// Package worker implements the Game Worker (C4, §4.4): one goroutine per
// active game, driving an EngineSession against a per-game stream through
// the Opening → Running → Recovering → Closing state machine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/herohde/chessbot/internal/archive"
	"github.com/herohde/chessbot/internal/chessboterr"
	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/engine"
	"github.com/herohde/chessbot/internal/logging"
	"github.com/herohde/chessbot/internal/remote"
)

// State names one node of the Game Worker's state machine (§4.4).
type State string

const (
	StateOpening    State = "opening"
	StateRunning    State = "running"
	StateRecovering State = "recovering"
	StateClosing    State = "closing"
)

// EngineFactory builds a fresh EngineSession, used both for the initial spawn
// and for the single restart attempt in Recovering (§4.4). Control wires this
// to either a subprocess-spawning closure or one that dials the engine pool.
type EngineFactory func(ctx context.Context) (*engine.Adapter, error)

// Worker drives one game end to end. It owns no state visible to other
// components besides what it reports through Done/State.
type Worker struct {
	gameID        string
	botName       string
	client        *remote.Client
	newEngine     EngineFactory
	archiver      *archive.Archiver
	draw          config.DrawConfig
	takeback      bool
	searchMode    engine.TimeMode
	fixedMoveTime time.Duration
	fixedDepth    int
	fixedNodes    int
	logger        *logging.Logger

	state       State
	stream      *remote.Stream
	eng         *engine.Adapter
	moves       []string
	color       string // "white" or "black"
	variant     string
	tc          remote.TimeControl
	rated       bool
	opponent    string
	lastScoreCP *int
	record      archive.GameRecord

	snapMu sync.Mutex
	snap   Snapshot
}

// Snapshot is a point-in-time, best-effort view of a Worker's state for the
// status endpoint (§6a); it trails the authoritative state by up to one
// state-machine transition and is never consulted by game logic itself.
type Snapshot struct {
	GameID string
	State  string
	Color  string
}

// Snapshot reports the worker's last-published state. Safe for concurrent
// use; called from the status HTTP handler's goroutine while Run drives the
// state machine on its own goroutine.
func (w *Worker) Snapshot() Snapshot {
	w.snapMu.Lock()
	defer w.snapMu.Unlock()
	return w.snap
}

func (w *Worker) publishSnapshot() {
	w.snapMu.Lock()
	w.snap = Snapshot{GameID: w.gameID, State: string(w.state), Color: w.color}
	w.snapMu.Unlock()
}

// Config bundles the dependencies a Worker needs, supplied by the Control Loop.
type Config struct {
	GameID    string
	BotName   string
	Client    *remote.Client
	NewEngine EngineFactory
	Archiver  *archive.Archiver
	Draw      config.DrawConfig
	Takeback  bool

	// SearchMode selects which Limits field deriveLimits populates as
	// authoritative (§4.2 "Exactly one limit mode is in effect per call").
	// An empty SearchMode defaults to engine.TimeModeClock, the only mode
	// that consults the game's own clock.
	SearchMode    engine.TimeMode
	FixedMoveTime time.Duration
	FixedDepth    int
	FixedNodes    int

	Logger *logging.Logger
}

// New constructs a Worker for one game. Run must be called to drive it.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	searchMode := cfg.SearchMode
	if searchMode == "" {
		searchMode = engine.TimeModeClock
	}
	return &Worker{
		gameID:        cfg.GameID,
		botName:       cfg.BotName,
		client:        cfg.Client,
		newEngine:     cfg.NewEngine,
		archiver:      cfg.Archiver,
		draw:          cfg.Draw,
		takeback:      cfg.Takeback,
		searchMode:    searchMode,
		fixedMoveTime: cfg.FixedMoveTime,
		fixedDepth:    cfg.FixedDepth,
		fixedNodes:    cfg.FixedNodes,
		logger:        logger.With(logging.GameID(cfg.GameID)),
		state:         StateOpening,
	}
}

// GameID returns the id of the game this Worker drives.
func (w *Worker) GameID() string {
	return w.gameID
}

// Run drives the worker through its state machine until the game ends or ctx
// is cancelled. It always returns nil; failures are logged. A failed stream
// open or an unreadable gameFull ends Run at once. A failed first engine
// start moves to Closing without a resignation; a failed engine restart or
// stream reopen moves to Closing after a resignation (§4.4).
func (w *Worker) Run(ctx context.Context) error {
	stream, err := w.client.StreamGame(ctx, w.gameID)
	if err != nil {
		w.logger.Error("open game stream failed", logging.ErrorFields(err)...)
		return nil
	}
	w.stream = stream
	defer func() {
		if w.stream != nil {
			w.stream.Close()
		}
	}()

	for {
		w.publishSnapshot()
		switch w.state {
		case StateOpening:
			if !w.runOpening(ctx) {
				return nil
			}
		case StateRunning:
			next, cont := w.runRunning(ctx)
			w.state = next
			if !cont {
				return nil
			}
		case StateRecovering:
			w.runRecovering(ctx)
		case StateClosing:
			w.runClosing(ctx)
			w.publishSnapshot()
			return nil
		}
	}
}

func (w *Worker) runOpening(ctx context.Context) bool {
	frame, ok := <-w.stream.Frames()
	if !ok || frame.Err != nil {
		w.logger.Error("game stream closed before gameFull", logging.ErrorFields(frame.Err)...)
		return false
	}

	var full remote.GameFull
	if err := json.Unmarshal(frame.Raw, &full); err != nil {
		w.logger.Error("decode gameFull failed", logging.ErrorFields(err)...)
		return false
	}

	w.variant = full.Variant
	w.tc = full.TimeControl
	w.rated = full.Rated
	w.color = w.resolveColor(full)
	w.opponent = w.opponentName(full)
	w.moves = splitMoves(full.State.Moves)

	eng, err := w.newEngine(ctx)
	if err != nil {
		w.logger.Error("engine start failed", logging.ErrorFields(err)...)
		w.state = StateClosing
		return true
	}
	w.eng = eng

	if err := w.eng.SetPosition(ctx, full.InitialFEN, w.moves); err != nil {
		w.logger.Error("initial setPosition failed", logging.ErrorFields(err)...)
		w.state = StateRecovering
		return true
	}

	w.record = archive.GameRecord{
		GameID:      w.gameID,
		Event:       fmt.Sprintf("%s game", categoryTitle(full.TimeControl.Category())),
		Site:        w.client.GameURL(w.gameID),
		Date:        time.Now(),
		White:       full.White.Name,
		Black:       full.Black.Name,
		TimeControl: fmt.Sprintf("%d+%d", full.TimeControl.Initial, full.TimeControl.Increment),
		Variant:     full.Variant,
		Rated:       full.Rated,
		Result:      "*",
	}

	if remote.IsTerminal(full.State.Status) {
		w.state = StateClosing
		return true
	}
	w.state = StateRunning
	return true
}

func (w *Worker) runRunning(ctx context.Context) (State, bool) {
	select {
	case <-ctx.Done():
		return StateClosing, true
	case frame, ok := <-w.stream.Frames():
		if !ok {
			return StateClosing, true
		}
		if frame.Err != nil {
			return w.handleStreamStall(ctx)
		}
		return w.handleFrame(ctx, frame)
	}
}

// handleStreamStall implements the §4.4 watchdog policy: "attempt to re-open
// the stream once; if that fails, transition to Closing and issue a resign".
func (w *Worker) handleStreamStall(ctx context.Context) (State, bool) {
	w.logger.Warn("game stream stalled, attempting one reopen")
	w.stream.Close()

	newStream, err := w.client.StreamGame(ctx, w.gameID)
	if err != nil {
		w.logger.Error("stream reopen failed, resigning", logging.ErrorFields(err)...)
		_ = w.client.ResignGame(ctx, w.gameID)
		return StateClosing, true
	}
	w.stream = newStream

	frame, ok := <-w.stream.Frames()
	if !ok || frame.Err != nil {
		w.logger.Error("reopened stream failed immediately, resigning")
		_ = w.client.ResignGame(ctx, w.gameID)
		return StateClosing, true
	}
	return w.handleFrame(ctx, frame)
}

type frameEnvelope struct {
	Type string `json:"type"`
}

func (w *Worker) handleFrame(ctx context.Context, frame remote.Frame) (State, bool) {
	var env frameEnvelope
	if err := json.Unmarshal(frame.Raw, &env); err != nil {
		w.logger.Warn("decode frame envelope failed", logging.ErrorFields(err)...)
		return StateRunning, true
	}

	switch env.Type {
	case "gameState":
		var state remote.GameState
		if err := json.Unmarshal(frame.Raw, &state); err != nil {
			w.logger.Warn("decode gameState failed", logging.ErrorFields(err)...)
			return StateRunning, true
		}
		return w.handleGameState(ctx, state)
	case "chatLine":
		var chat remote.ChatLine
		if err := json.Unmarshal(frame.Raw, &chat); err == nil {
			w.handleChat(ctx, chat)
		}
		return StateRunning, true
	case "opponentGone":
		var gone remote.OpponentGone
		if err := json.Unmarshal(frame.Raw, &gone); err == nil {
			w.logger.Info("opponent gone", logging.String("claim_in", fmt.Sprintf("%ds", gone.ClaimIn)))
		}
		return StateRunning, true
	default:
		return StateRunning, true
	}
}

func (w *Worker) handleGameState(ctx context.Context, state remote.GameState) (State, bool) {
	w.moves = splitMoves(state.Moves)

	if remote.IsTerminal(state.Status) {
		w.record.Result = resultFor(state.Status, state.Winner)
		return StateClosing, true
	}

	if w.shouldAcceptTakeback(state) {
		truncated := w.moves
		if len(truncated) > 0 {
			truncated = truncated[:len(truncated)-1]
		}
		_ = w.client.HandleTakeback(ctx, w.gameID, true)
		_ = w.eng.SetPosition(ctx, "", truncated)
		return StateRunning, true
	}

	if w.shouldAcceptDraw(state) {
		_ = w.client.HandleDrawOffer(ctx, w.gameID, true)
	}

	if !w.isOurTurn() {
		return StateRunning, true
	}

	if err := w.eng.SetPosition(ctx, "", w.moves); err != nil {
		w.logger.Warn("setPosition failed", logging.ErrorFields(err)...)
		if chessboterr.Is(err, chessboterr.KindEngineDead) {
			return StateRecovering, true
		}
		return StateRunning, true
	}

	limits := w.deriveLimits(state)
	move, score, err := w.eng.Search(ctx, limits)
	if err != nil {
		w.logger.Warn("search failed", logging.ErrorFields(err)...)
		if chessboterr.Is(err, chessboterr.KindEngineDead) {
			return StateRecovering, true
		}
		return StateRunning, true
	}
	w.lastScoreCP = score
	w.record.Moves = append(w.record.Moves, archive.MoveRecord{UCI: move, ClockLeft: w.ourClock(state)})

	offerDraw := w.shouldOfferDraw()
	if err := w.client.MakeMove(ctx, w.gameID, move, offerDraw); err != nil {
		if chessboterr.Is(err, chessboterr.KindProtocol) {
			// conflict: another read of the authoritative state will arrive
			// on the stream; do not resubmit blindly (§4.4).
			w.logger.Warn("move rejected, awaiting fresh state", logging.ErrorFields(err)...)
			return StateRunning, true
		}
		w.logger.Warn("move submission failed", logging.ErrorFields(err)...)
	}
	return StateRunning, true
}

func (w *Worker) runRecovering(ctx context.Context) {
	var initialFEN string
	var moves []string
	if w.eng != nil {
		initialFEN, moves = w.eng.Position()
		_ = w.eng.Quit(ctx)
	}
	if len(moves) == 0 {
		moves = w.moves
	}

	eng, err := w.newEngine(ctx)
	if err != nil {
		w.logger.Error("engine restart failed, resigning", logging.ErrorFields(err)...)
		_ = w.client.ResignGame(ctx, w.gameID)
		w.state = StateClosing
		return
	}
	if err := eng.SetPosition(ctx, initialFEN, moves); err != nil {
		w.logger.Error("engine restart reposition failed, resigning", logging.ErrorFields(err)...)
		_ = eng.Quit(ctx)
		_ = w.client.ResignGame(ctx, w.gameID)
		w.state = StateClosing
		return
	}
	w.eng = eng
	w.state = StateRunning
}

func (w *Worker) runClosing(ctx context.Context) {
	if w.eng != nil {
		quitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = w.eng.Quit(quitCtx)
		cancel()
	}
	if w.archiver != nil && len(w.record.Moves) > 0 {
		w.archiver.Enqueue(w.record)
	}
}

// handleChat answers well-known chat command words in either room and stays
// silent otherwise (§4.4).
func (w *Worker) handleChat(ctx context.Context, chat remote.ChatLine) {
	if strings.EqualFold(chat.Username, w.botName) {
		return
	}
	var reply string
	switch strings.ToLower(strings.TrimSpace(chat.Text)) {
	case "help":
		reply = "Commands: help, name, eval, ping"
	case "name":
		reply = w.botName
	case "eval":
		if w.lastScoreCP != nil {
			reply = fmt.Sprintf("%+d centipawns", *w.lastScoreCP)
		} else {
			reply = "no evaluation available yet"
		}
	case "ping":
		reply = "pong"
	default:
		return
	}
	_ = w.client.Chat(ctx, w.gameID, chat.Room, reply)
}

func (w *Worker) resolveColor(full remote.GameFull) string {
	if strings.EqualFold(full.White.Name, w.botName) {
		return "white"
	}
	return "black"
}

func (w *Worker) opponentName(full remote.GameFull) string {
	if w.color == "white" {
		return full.Black.Name
	}
	return full.White.Name
}

func (w *Worker) isOurTurn() bool {
	toMove := "white"
	if len(w.moves)%2 == 1 {
		toMove = "black"
	}
	return toMove == w.color
}

func (w *Worker) ourClock(state remote.GameState) time.Duration {
	if w.color == "white" {
		return time.Duration(state.WTime) * time.Millisecond
	}
	return time.Duration(state.BTime) * time.Millisecond
}

// deriveLimits builds the Limits passed to the engine's Search call. Exactly
// one mode is in effect, selected by w.searchMode (§4.2): clock mode derives
// limits from the live game clock; movetime/depth/nodes modes use the fixed
// operator-configured bound regardless of clock pressure, for engine-local
// testing or fixed-strength play independent of the opponent's clock.
func (w *Worker) deriveLimits(state remote.GameState) engine.Limits {
	switch w.searchMode {
	case engine.TimeModeMoveTime:
		return engine.Limits{Mode: engine.TimeModeMoveTime, FixedMoveTime: w.fixedMoveTime}
	case engine.TimeModeDepth:
		return engine.Limits{Mode: engine.TimeModeDepth, FixedDepth: w.fixedDepth}
	case engine.TimeModeNodes:
		return engine.Limits{Mode: engine.TimeModeNodes, FixedNodes: w.fixedNodes}
	default:
		ourTime := time.Duration(state.WTime) * time.Millisecond
		theirTime := time.Duration(state.BTime) * time.Millisecond
		ourInc := time.Duration(state.WInc) * time.Millisecond
		theirInc := time.Duration(state.BInc) * time.Millisecond
		if w.color == "black" {
			ourTime, theirTime = theirTime, ourTime
			ourInc, theirInc = theirInc, ourInc
		}
		return engine.Limits{
			Mode:          engine.TimeModeClock,
			WhiteTimeLeft: ourTime, // deadlineFor treats this as "mover's own remaining"
			BlackTimeLeft: theirTime,
			WhiteInc:      ourInc,
			BlackInc:      theirInc,
		}
	}
}

func (w *Worker) shouldOfferDraw() bool {
	return false // only accepting, never offering, per §4.4 scope
}

func (w *Worker) shouldAcceptDraw(state remote.GameState) bool {
	if !w.draw.Enabled {
		return false
	}
	offered := state.WhiteDrawOffer || state.BlackDrawOffer
	if !offered {
		return false
	}
	if len(w.moves) < w.draw.MinMoves {
		return false
	}
	if w.lastScoreCP == nil {
		return false
	}
	score := *w.lastScoreCP
	if score < 0 {
		score = -score
	}
	return score <= w.draw.ScoreWindowCP
}

// shouldAcceptTakeback reports whether a pending takeback request from the
// opponent should be accepted: takeback handling must be enabled, the
// opponent (not us) must be the one requesting it, and at least one move
// must exist to retract.
func (w *Worker) shouldAcceptTakeback(state remote.GameState) bool {
	if !w.takeback {
		return false
	}
	requestedByOpponent := state.BlackTakeback
	if w.color == "black" {
		requestedByOpponent = state.WhiteTakeback
	}
	if !requestedByOpponent {
		return false
	}
	return len(w.moves) > 0
}

func categoryTitle(category string) string {
	if category == "" {
		return "Casual"
	}
	return strings.ToUpper(category[:1]) + category[1:]
}

func resultFor(status, winner string) string {
	switch {
	case winner == "white":
		return "1-0"
	case winner == "black":
		return "0-1"
	case status == remote.StatusDraw || status == remote.StatusStalemate:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func splitMoves(moves string) []string {
	moves = strings.TrimSpace(moves)
	if moves == "" {
		return nil
	}
	return strings.Fields(moves)
}
