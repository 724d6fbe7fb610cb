// Package control implements the Control Loop (C5, §4.5): it owns the
// account-wide event stream, evaluates challenges through the Challenge
// Policy, and spawns/retires Game Workers, reconnecting with capped
// exponential backoff on stream failure (idempotent, game-id-keyed spawning
// absorbs the redelivered gameStart events a reconnect produces).
package control

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/herohde/chessbot/internal/archive"
	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/engine"
	"github.com/herohde/chessbot/internal/enginepool"
	"github.com/herohde/chessbot/internal/logging"
	"github.com/herohde/chessbot/internal/policy"
	"github.com/herohde/chessbot/internal/remote"
	"github.com/herohde/chessbot/internal/statusapi"
	"github.com/herohde/chessbot/internal/worker"
)

// StatusPublisher receives worker lifecycle transitions for the status
// WebSocket feed, satisfied by *statusapi.Hub; narrowed so this package does
// not otherwise depend on statusapi's HTTP surface.
type StatusPublisher interface {
	Publish(evt statusapi.Event)
}

// snapshotter is implemented by *worker.Worker; narrowed so fakes used in
// tests need not provide it. A worker that doesn't implement it (such as a
// test fake) is simply omitted from the /status snapshot.
type snapshotter interface {
	Snapshot() worker.Snapshot
}

// MatchmakerHook lets the Matchmaker (C6) observe outcomes of the outbound
// challenges it issues, delivered through the same event frames the Control
// Loop consumes (§4.5 "Await resolution via C5 callbacks"). Both methods key
// off a challenge/game identifier rather than an opponent name: the service
// is assumed to reuse the originating challenge's id as the resulting game's
// id (an Open Question resolved in this project's design notes), letting the
// Matchmaker match a gameStart back to the outbound challenge it issued
// without the Control Loop tracking opponent identities on its behalf.
type MatchmakerHook interface {
	NotifyGameStarted(gameID string)
	NotifyChallengeResolved(challengeID string, accepted bool)
}

// gameWorker is the subset of *worker.Worker the Control Loop depends on,
// narrowed to an interface so tests can substitute a fake without driving a
// real engine and stream.
type gameWorker interface {
	Run(ctx context.Context) error
}

// WorkerFactory builds a Worker for one accepted game. Control supplies the
// game id and an EngineFactory bound to that game.
type WorkerFactory func(gameID string, engineFactory worker.EngineFactory) gameWorker

// Config bundles Control Loop dependencies.
type Config struct {
	Client        *remote.Client
	Policy        *policy.Policy
	MaxGames      int
	PendingCap    int
	EngineConfig  engine.Config  // template; Path/Protocol/Options/etc, Dialect left nil (per-game)
	PoolAddr      string
	PoolSecret    string
	Archiver      *archive.Archiver
	BotName       string
	Draw          config.DrawConfig
	Takeback      bool
	SearchMode    engine.TimeMode
	FixedMoveTime time.Duration
	FixedDepth    int
	FixedNodes    int
	Logger        *logging.Logger
	NewWorker     WorkerFactory // optional override, primarily for tests
	Matchmaker    MatchmakerHook
	Status        StatusPublisher
}

// Control is the Control Loop (C5).
type Control struct {
	client        *remote.Client
	policy        *policy.Policy
	maxGames      int
	pendingCap    int
	engineCfg     engine.Config
	poolAddr      string
	poolSecret    string
	archiver      *archive.Archiver
	botName       string
	draw          config.DrawConfig
	takeback      bool
	searchMode    engine.TimeMode
	fixedMoveTime time.Duration
	fixedDepth    int
	fixedNodes    int
	logger        *logging.Logger
	newWorker     WorkerFactory
	matchmaker    MatchmakerHook
	status        StatusPublisher
	retry         remote.RetryPolicy

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	workers map[string]snapshotter
	pending []remote.Challenge
	wg      sync.WaitGroup
}

// New constructs a Control Loop from cfg.
func New(cfg Config) *Control {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	pendingCap := cfg.PendingCap
	if pendingCap <= 0 {
		pendingCap = 32
	}
	c := &Control{
		client:        cfg.Client,
		policy:        cfg.Policy,
		maxGames:      cfg.MaxGames,
		pendingCap:    pendingCap,
		engineCfg:     cfg.EngineConfig,
		poolAddr:      cfg.PoolAddr,
		poolSecret:    cfg.PoolSecret,
		archiver:      cfg.Archiver,
		botName:       cfg.BotName,
		draw:          cfg.Draw,
		takeback:      cfg.Takeback,
		searchMode:    cfg.SearchMode,
		fixedMoveTime: cfg.FixedMoveTime,
		fixedDepth:    cfg.FixedDepth,
		fixedNodes:    cfg.FixedNodes,
		logger:        logger,
		newWorker:     cfg.NewWorker,
		matchmaker:    cfg.Matchmaker,
		status:        cfg.Status,
		retry:         remote.DefaultRetryPolicy(),
		active:        make(map[string]context.CancelFunc),
		workers:       make(map[string]snapshotter),
	}
	if c.newWorker == nil {
		c.newWorker = c.defaultWorker
	}
	return c
}

// ActiveGameCount reports the number of currently running Game Workers, used
// by the Challenge Policy's Defer predicate (§4.3).
func (c *Control) ActiveGameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Snapshot implements statusapi.Snapshotter: one entry per active Game
// Worker that supports introspection.
func (c *Control) Snapshot() []statusapi.GameSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]statusapi.GameSnapshot, 0, len(c.workers))
	for gameID, w := range c.workers {
		s := w.Snapshot()
		out = append(out, statusapi.GameSnapshot{GameID: gameID, State: s.State, Color: s.Color})
	}
	return out
}

func (c *Control) publishStatus(evt statusapi.Event) {
	if c.status != nil {
		c.status.Publish(evt)
	}
}

// SetStatus wires a StatusPublisher after construction, letting main() build
// a *statusapi.Hub with this Control as its Snapshotter and then hand the
// same Control back its own publisher without a construction cycle.
func (c *Control) SetStatus(status StatusPublisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// SetMatchmaker wires the Matchmaker hook after construction, for the same
// reason as SetStatus: a *matchmaker.Matchmaker is built from this Control's
// ActiveGameCount, so it cannot be supplied through Config before New returns.
// Callers must wire it before Run starts consuming events.
func (c *Control) SetMatchmaker(mm MatchmakerHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchmaker = mm
}

// Run owns the account-wide event stream for the process lifetime,
// reconnecting on failure until ctx is cancelled (§4.5).
func (c *Control) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.wg.Wait()
			return nil
		}

		stream, err := c.client.StreamEvents(ctx)
		if err != nil {
			c.logger.Warn("event stream open failed, backing off", logging.ErrorFields(err)...)
			if !c.sleepBackoff(ctx, attempt) {
				c.wg.Wait()
				return nil
			}
			attempt++
			continue
		}
		attempt = 0
		c.consume(ctx, stream)
		stream.Close()

		if ctx.Err() != nil {
			c.wg.Wait()
			return nil
		}
		c.logger.Warn("event stream ended, reconnecting")
		if !c.sleepBackoff(ctx, attempt) {
			c.wg.Wait()
			return nil
		}
		attempt++
	}
}

func (c *Control) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := c.retry.Delay(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Control) consume(ctx context.Context, stream *remote.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				return
			}
			if frame.Err != nil {
				return
			}
			c.dispatch(ctx, frame.Raw)
		}
	}
}

func (c *Control) dispatch(ctx context.Context, raw []byte) {
	var env remote.EventFrame
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("decode event frame failed", logging.ErrorFields(err)...)
		return
	}

	switch env.Type {
	case "challenge":
		c.handleChallenge(ctx, env.Challenge)
	case "gameStart":
		c.handleGameStart(ctx, env.Game.ID)
	case "gameFinish":
		c.handleGameFinish(env.Game.ID)
	case "challengeCanceled", "challengeDeclined":
		if c.matchmaker != nil {
			c.matchmaker.NotifyChallengeResolved(env.Challenge.ID, false)
		}
	}
}

func (c *Control) handleChallenge(ctx context.Context, challenge remote.Challenge) {
	decision := c.policy.Evaluate(challenge, policy.State{ActiveGameCount: c.ActiveGameCount()})
	switch decision.Verdict {
	case policy.VerdictAccept:
		if err := c.client.AcceptChallenge(ctx, challenge.ID); err != nil {
			c.logger.Warn("accept challenge failed", append(logging.ErrorFields(err), logging.String("challenge_id", challenge.ID))...)
		}
	case policy.VerdictDecline:
		if err := c.client.DeclineChallenge(ctx, challenge.ID, string(decision.Code)); err != nil {
			c.logger.Warn("decline challenge failed", append(logging.ErrorFields(err), logging.String("challenge_id", challenge.ID))...)
		}
	case policy.VerdictDefer:
		c.mu.Lock()
		if len(c.pending) >= c.pendingCap {
			c.pending = c.pending[1:] // drop from head when full (§4.5)
		}
		c.pending = append(c.pending, challenge)
		c.mu.Unlock()
	}
}

func (c *Control) handleGameStart(ctx context.Context, gameID string) {
	if gameID == "" {
		return
	}
	c.mu.Lock()
	if _, exists := c.active[gameID]; exists {
		c.mu.Unlock()
		return // idempotent spawn: redelivered gameStart after reconnect (§4.5)
	}
	if len(c.active) >= c.maxGames {
		c.mu.Unlock()
		if err := c.client.AbortGame(ctx, gameID); err != nil {
			c.logger.Warn("abort game failed", append(logging.ErrorFields(err), logging.GameID(gameID))...)
		}
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.active[gameID] = cancel
	c.mu.Unlock()

	if c.matchmaker != nil {
		c.matchmaker.NotifyGameStarted(gameID)
	}
	c.publishStatus(statusapi.Event{Type: "gameStart", GameID: gameID, Timestamp: time.Now()})

	engineFactory := c.engineFactoryFor(gameID)
	w := c.newWorker(gameID, engineFactory)

	c.mu.Lock()
	if sp, ok := w.(snapshotter); ok {
		c.workers[gameID] = sp
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.active, gameID)
			delete(c.workers, gameID)
			c.mu.Unlock()
			c.publishStatus(statusapi.Event{Type: "gameFinish", GameID: gameID, Timestamp: time.Now()})
		}()
		_ = w.Run(workerCtx)
	}()
}

func (c *Control) handleGameFinish(gameID string) {
	c.mu.Lock()
	cancel, ok := c.active[gameID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	c.pumpPending()
}

// pumpPending re-evaluates the deferred-challenge queue now that a slot may
// have freed up (§4.5 "the Control Loop will re-evaluate later").
func (c *Control) pumpPending() {
	c.mu.Lock()
	if len(c.pending) == 0 || len(c.active) >= c.maxGames {
		c.mu.Unlock()
		return
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	ctx := context.Background()
	c.handleChallenge(ctx, next)
}

// engineFactoryFor builds the EngineFactory a Worker uses for gameID: a pool
// dialect dial when the template targets the pool protocol (one gRPC session
// per game, keyed by game id, per §4.2), else a fresh subprocess spawn from
// the template config.
func (c *Control) engineFactoryFor(gameID string) worker.EngineFactory {
	return func(ctx context.Context) (*engine.Adapter, error) {
		cfg := c.engineCfg
		if cfg.Protocol == engine.ProtocolPool {
			dialect, err := enginepool.Dial(ctx, c.poolAddr, c.poolSecret, gameID)
			if err != nil {
				return nil, err
			}
			cfg.Dialect = dialect
		}
		return engine.New(ctx, cfg, c.logger)
	}
}

func (c *Control) defaultWorker(gameID string, engineFactory worker.EngineFactory) gameWorker {
	return worker.New(worker.Config{
		GameID:        gameID,
		BotName:       c.botName,
		Client:        c.client,
		NewEngine:     engineFactory,
		Archiver:      c.archiver,
		Draw:          c.draw,
		Takeback:      c.takeback,
		SearchMode:    c.searchMode,
		FixedMoveTime: c.fixedMoveTime,
		FixedDepth:    c.fixedDepth,
		FixedNodes:    c.fixedNodes,
		Logger:        c.logger,
	})
}
