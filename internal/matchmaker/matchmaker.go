// Package matchmaker implements the Matchmaker (C6, §4.6): on each poll
// interval, when a worker slot is free and no outbound challenge is already
// outstanding, it draws an opponent biased toward recent inactivity, issues
// one outbound challenge, and awaits resolution through Control Loop
// callbacks before the next cycle.
package matchmaker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/logging"
	"github.com/herohde/chessbot/internal/remote"
)

// Challenger issues outbound challenges, satisfied by *remote.Client;
// narrowed to the one method this package actually calls. Current load is
// read through Config.ActiveGames instead.
type Challenger interface {
	CreateChallenge(ctx context.Context, opponent string, params map[string]string) (remote.Challenge, error)
}

// Matchmaker is the Matchmaker (C6).
type Matchmaker struct {
	client         Challenger
	cfg            config.MatchmakingConfig
	activeGames    func() int
	maxGames       int
	logger         *logging.Logger
	rnd            *rand.Rand
	clock          func() time.Time

	mu             sync.Mutex
	cooldownUntil  map[string]time.Time
	lastChallenged map[string]time.Time
	outstandingID  string
	resolution     chan bool
}

// Config bundles Matchmaker dependencies.
type Config struct {
	Client      Challenger
	Matchmaking config.MatchmakingConfig
	MaxGames    int
	ActiveGames func() int // current worker-slot usage, e.g. (*control.Control).ActiveGameCount
	Logger      *logging.Logger
}

// New constructs a Matchmaker from cfg.
func New(cfg Config) *Matchmaker {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Matchmaker{
		client:         cfg.Client,
		cfg:            cfg.Matchmaking,
		activeGames:    cfg.ActiveGames,
		maxGames:       cfg.MaxGames,
		logger:         logger,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:          time.Now,
		cooldownUntil:  make(map[string]time.Time),
		lastChallenged: make(map[string]time.Time),
	}
}

// Run wakes every PollInterval until ctx is cancelled (§4.6).
func (m *Matchmaker) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Matchmaker) cycle(ctx context.Context) {
	if m.activeGames != nil && m.activeGames() >= m.maxGames {
		return
	}

	m.mu.Lock()
	if m.outstandingID != "" {
		m.mu.Unlock()
		return // a prior challenge is still awaiting resolution
	}
	opponent := m.pickOpponentLocked()
	if opponent == "" {
		m.mu.Unlock()
		m.logger.Debug("matchmaker found no eligible opponent")
		return
	}
	m.lastChallenged[opponent] = m.clock()
	resolution := make(chan bool, 1)
	m.resolution = resolution
	m.mu.Unlock()

	params := map[string]string{
		"variant":     m.cfg.Variant,
		"timeControl": m.cfg.TimeControl,
	}
	challenge, err := m.client.CreateChallenge(ctx, opponent, params)
	if err != nil {
		m.logger.Warn("create challenge failed", append([]logging.Field{logging.String("opponent", opponent)}, logging.ErrorFields(err)...)...)
		m.clearOutstanding()
		return
	}

	m.mu.Lock()
	m.outstandingID = challenge.ID
	m.mu.Unlock()

	m.awaitResolution(ctx, opponent, resolution)
}

func (m *Matchmaker) awaitResolution(ctx context.Context, opponent string, resolution <-chan bool) {
	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		m.clearOutstanding()
	case accepted := <-resolution:
		m.clearOutstanding()
		if !accepted {
			m.coolDown(opponent)
		}
	case <-timer.C:
		m.logger.Info("matchmaker challenge timed out", logging.String("opponent", opponent))
		m.clearOutstanding()
		m.coolDown(opponent)
	}
}

func (m *Matchmaker) coolDown(opponent string) {
	cooldown := m.cfg.Cooldown
	if cooldown <= 0 {
		cooldown = config.DefaultMatchmakerCooldown
	}
	m.mu.Lock()
	m.cooldownUntil[opponent] = m.clock().Add(cooldown)
	m.mu.Unlock()
}

func (m *Matchmaker) clearOutstanding() {
	m.mu.Lock()
	m.outstandingID = ""
	m.resolution = nil
	m.mu.Unlock()
}

// pickOpponentLocked draws from the configured pool, excluding anyone still
// in cooldown, biased toward whoever was challenged longest ago (§4.6
// "biased to recent inactivity"). Callers must hold m.mu.
func (m *Matchmaker) pickOpponentLocked() string {
	now := m.clock()
	var eligible []string
	for _, candidate := range m.cfg.Opponents {
		if until, ok := m.cooldownUntil[candidate]; ok && now.Before(until) {
			continue
		}
		eligible = append(eligible, candidate)
	}
	if len(eligible) == 0 {
		return ""
	}

	oldest := eligible[0]
	oldestAt := m.lastChallenged[oldest]
	for _, candidate := range eligible[1:] {
		if m.lastChallenged[candidate].Before(oldestAt) {
			oldest = candidate
			oldestAt = m.lastChallenged[candidate]
		}
	}

	// Among opponents tied for "never challenged" (the common case at
	// startup), draw uniformly rather than always picking the first listed.
	var neverChallenged []string
	for _, candidate := range eligible {
		if m.lastChallenged[candidate].IsZero() {
			neverChallenged = append(neverChallenged, candidate)
		}
	}
	if len(neverChallenged) > 0 {
		return neverChallenged[m.rnd.Intn(len(neverChallenged))]
	}
	return oldest
}

// NotifyGameStarted implements control.MatchmakerHook: a gameStart whose id
// matches the outstanding challenge resolves it as accepted.
func (m *Matchmaker) NotifyGameStarted(gameID string) {
	m.mu.Lock()
	if m.outstandingID == "" || gameID != m.outstandingID {
		m.mu.Unlock()
		return
	}
	ch := m.resolution
	m.mu.Unlock()
	if ch != nil {
		select {
		case ch <- true:
		default:
		}
	}
}

// NotifyChallengeResolved implements control.MatchmakerHook: a decline or
// cancellation of the outstanding challenge resolves it as rejected.
func (m *Matchmaker) NotifyChallengeResolved(challengeID string, accepted bool) {
	m.mu.Lock()
	if m.outstandingID == "" || challengeID != m.outstandingID {
		m.mu.Unlock()
		return
	}
	ch := m.resolution
	m.mu.Unlock()
	if ch != nil {
		select {
		case ch <- accepted:
		default:
		}
	}
}
