package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/engine"
	"github.com/herohde/chessbot/internal/logging"
	"github.com/herohde/chessbot/internal/policy"
	"github.com/herohde/chessbot/internal/remote"
	"github.com/herohde/chessbot/internal/statusapi"
	"github.com/herohde/chessbot/internal/worker"
)

type fakeStatusPublisher struct {
	mu     sync.Mutex
	events []statusapi.Event
}

func (f *fakeStatusPublisher) Publish(evt statusapi.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeStatusPublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func permissiveChallengeConfig() config.ChallengeConfig {
	return config.ChallengeConfig{
		Variants:            []string{"standard"},
		TimeControls:        []string{"blitz"},
		MinInitial:          0,
		MaxInitial:          99999,
		MinIncrement:        0,
		MaxIncrement:        999,
		Modes:               []string{"rated", "casual"},
		AcceptBot:           true,
		AllowArbitraryStart: true,
	}
}

func blitzChallenge(name string) remote.Challenge {
	return remote.Challenge{
		ID:          name,
		Challenger:  remote.Challenger{Name: name},
		Variant:     "standard",
		TimeControl: remote.TimeControl{Initial: 300, Increment: 3},
		Rated:       true,
	}
}

type fakeWorker struct {
	started chan struct{}
	release chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (w *fakeWorker) Run(ctx context.Context) error {
	select {
	case w.started <- struct{}{}:
	default:
	}
	select {
	case <-w.release:
	case <-ctx.Done():
	}
	return nil
}

func TestHandleGameStartIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fw := newFakeWorker()

	c := New(Config{
		MaxGames: 2,
		Logger:   logging.NewTestLogger(),
		NewWorker: func(gameID string, engineFactory worker.EngineFactory) gameWorker {
			mu.Lock()
			calls++
			mu.Unlock()
			return fw
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.handleGameStart(ctx, "game-1")
	c.handleGameStart(ctx, "game-1") // redelivered on reconnect: must not double-spawn

	select {
	case <-fw.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started")
	}

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("NewWorker called %d times, want 1", got)
	}
	if c.ActiveGameCount() != 1 {
		t.Fatalf("ActiveGameCount() = %d, want 1", c.ActiveGameCount())
	}

	close(fw.release)
	waitForActiveCount(t, c, 0)
}

func TestHandleGameStartAbortsWhenAtCapacity(t *testing.T) {
	var abortedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		abortedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := remote.New(server.URL, "token", time.Second, time.Second)
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}

	c := New(Config{
		Client:   client,
		MaxGames: 0,
		Logger:   logging.NewTestLogger(),
		NewWorker: func(gameID string, engineFactory worker.EngineFactory) gameWorker {
			t.Fatal("worker should not be spawned at capacity")
			return nil
		},
	})

	c.handleGameStart(context.Background(), "game-1")

	if abortedPath == "" {
		t.Fatal("expected an abort request, got none")
	}
	if c.ActiveGameCount() != 0 {
		t.Fatalf("ActiveGameCount() = %d, want 0", c.ActiveGameCount())
	}
}

func TestHandleChallengeDispatchesByVerdict(t *testing.T) {
	var acceptedID, declinedID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/accept"):
			acceptedID = r.URL.Path
		case strings.Contains(r.URL.Path, "/decline"):
			declinedID = r.URL.Path
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := remote.New(server.URL, "token", time.Second, time.Second)
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}

	acceptPolicy := policy.New(permissiveChallengeConfig(), 10)
	c := New(Config{Client: client, Policy: acceptPolicy, MaxGames: 10, Logger: logging.NewTestLogger()})
	c.handleChallenge(context.Background(), blitzChallenge("alice"))
	if acceptedID == "" {
		t.Fatal("expected an accept request for a policy-compliant challenge")
	}

	declineCfg := permissiveChallengeConfig()
	declineCfg.Variants = []string{"chess960"} // blitzChallenge is "standard", so every challenge fails predicate 2
	declinePolicy := policy.New(declineCfg, 10)
	c2 := New(Config{Client: client, Policy: declinePolicy, MaxGames: 10, Logger: logging.NewTestLogger()})
	c2.handleChallenge(context.Background(), blitzChallenge("bob"))
	if declinedID == "" {
		t.Fatal("expected a decline request for a policy-rejected challenge")
	}
}

func TestPendingQueueDropsFromHeadWhenFull(t *testing.T) {
	deferPolicy := policy.New(permissiveChallengeConfig(), 0) // cap 0: every compliant challenge defers
	c := New(Config{Policy: deferPolicy, PendingCap: 2, MaxGames: 0, Logger: logging.NewTestLogger()})

	c.handleChallenge(context.Background(), blitzChallenge("alice"))
	c.handleChallenge(context.Background(), blitzChallenge("bob"))
	c.handleChallenge(context.Background(), blitzChallenge("carol"))

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(c.pending))
	}
	if c.pending[0].Challenger.Name != "bob" || c.pending[1].Challenger.Name != "carol" {
		t.Fatalf("pending = %+v, want [bob carol]", c.pending)
	}
}

func TestEngineFactoryForSubprocessConfig(t *testing.T) {
	c := New(Config{
		EngineConfig: engine.Config{Path: "/bin/false"},
		Logger:       logging.NewTestLogger(),
	})
	factory := c.engineFactoryFor("game-1")
	if factory == nil {
		t.Fatal("expected a non-nil EngineFactory")
	}
	// No spawn is attempted here; the test checks only that a non-pool
	// Protocol leaves the subprocess template without a pre-set Dialect.
	if c.engineCfg.Dialect != nil {
		t.Fatal("subprocess template must not carry a pre-set Dialect")
	}
}

func TestHandleGameStartPublishesStatusEvents(t *testing.T) {
	fw := newFakeWorker()
	status := &fakeStatusPublisher{}

	c := New(Config{
		MaxGames: 2,
		Logger:   logging.NewTestLogger(),
		Status:   status,
		NewWorker: func(gameID string, engineFactory worker.EngineFactory) gameWorker {
			return fw
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.handleGameStart(ctx, "game-1")
	select {
	case <-fw.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started")
	}

	close(fw.release)
	waitForActiveCount(t, c, 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(status.types()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := status.types()
	if len(got) != 2 || got[0] != "gameStart" || got[1] != "gameFinish" {
		t.Fatalf("published events = %v, want [gameStart gameFinish]", got)
	}
}

// snapshotWorker is a fakeWorker that also implements snapshotter, the way
// *worker.Worker does, without driving a real engine/stream.
type snapshotWorker struct {
	*fakeWorker
	snap worker.Snapshot
}

func (w *snapshotWorker) Snapshot() worker.Snapshot { return w.snap }

func TestSnapshotReportsActiveWorkers(t *testing.T) {
	sw := &snapshotWorker{fakeWorker: newFakeWorker(), snap: worker.Snapshot{GameID: "game-1", State: "running", Color: "white"}}

	c := New(Config{
		MaxGames: 2,
		Logger:   logging.NewTestLogger(),
		NewWorker: func(gameID string, engineFactory worker.EngineFactory) gameWorker {
			return sw
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.handleGameStart(ctx, "game-1")

	select {
	case <-sw.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started")
	}

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].GameID != "game-1" || snap[0].State != "running" {
		t.Fatalf("Snapshot() = %+v, want one entry for game-1/running", snap)
	}

	close(sw.release)
	waitForActiveCount(t, c, 0)
}

func waitForActiveCount(t *testing.T, c *Control, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.ActiveGameCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ActiveGameCount() never reached %d, stuck at %d", want, c.ActiveGameCount())
}
