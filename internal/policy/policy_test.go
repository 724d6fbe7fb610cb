package policy

import (
	"testing"

	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/remote"
)

func baseConfig() config.ChallengeConfig {
	return config.ChallengeConfig{
		Variants:     []string{"standard"},
		TimeControls: []string{"bullet", "blitz", "rapid"},
		MinInitial:   0,
		MaxInitial:   10800,
		MinIncrement: 0,
		MaxIncrement: 180,
		Modes:        []string{"rated", "casual"},
		AcceptBot:    true,
		OnlyBot:      false,
		BlockList:    []string{"spammer"},
	}
}

func baseChallenge() remote.Challenge {
	return remote.Challenge{
		Challenger:  remote.Challenger{Name: "alice", Bot: false},
		Variant:     "standard",
		TimeControl: remote.TimeControl{Initial: 300, Increment: 2},
		Rated:       true,
	}
}

func TestEvaluateAcceptsWithinBounds(t *testing.T) {
	p := New(baseConfig(), 4)
	got := p.Evaluate(baseChallenge(), State{ActiveGameCount: 0})
	if got.Verdict != VerdictAccept {
		t.Fatalf("got %+v, want accept", got)
	}
}

func TestEvaluateBlockList(t *testing.T) {
	p := New(baseConfig(), 4)
	c := baseChallenge()
	c.Challenger.Name = "spammer"
	got := p.Evaluate(c, State{})
	if got.Verdict != VerdictDecline || got.Code != DeclineGeneric {
		t.Fatalf("got %+v, want decline(generic)", got)
	}
}

func TestEvaluateOrderPrefersEarlierPredicate(t *testing.T) {
	// A blocked challenger using an unsupported variant should still decline
	// with the block-list code, since it is evaluated first (§4.3 order).
	p := New(baseConfig(), 4)
	c := baseChallenge()
	c.Challenger.Name = "spammer"
	c.Variant = "chess960"
	got := p.Evaluate(c, State{})
	if got.Code != DeclineGeneric {
		t.Fatalf("got code %q, want generic (block-list evaluated first)", got.Code)
	}
}

func TestEvaluateVariant(t *testing.T) {
	p := New(baseConfig(), 4)
	c := baseChallenge()
	c.Variant = "chess960"
	got := p.Evaluate(c, State{})
	if got.Code != DeclineVariant {
		t.Fatalf("got %+v, want decline(variant)", got)
	}
}

func TestEvaluateTimeControlCategory(t *testing.T) {
	p := New(baseConfig(), 4)
	c := baseChallenge()
	c.TimeControl = remote.TimeControl{Type: "correspondence", CorrespondenceDay: 3}
	got := p.Evaluate(c, State{})
	if got.Code != DeclineTimeControl {
		t.Fatalf("got %+v, want decline(timeControl)", got)
	}
}

func TestEvaluateTooFastInitial(t *testing.T) {
	cfg := baseConfig()
	cfg.MinInitial = 60
	p := New(cfg, 4)
	c := baseChallenge()
	c.TimeControl.Initial = 30
	got := p.Evaluate(c, State{})
	if got.Code != DeclineTooFast {
		t.Fatalf("got %+v, want decline(tooFast)", got)
	}
}

func TestEvaluateTooSlowInitial(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxInitial = 600
	p := New(cfg, 4)
	c := baseChallenge()
	c.TimeControl.Initial = 1200
	got := p.Evaluate(c, State{})
	if got.Code != DeclineTooSlow {
		t.Fatalf("got %+v, want decline(tooSlow)", got)
	}
}

func TestEvaluateRatedPreference(t *testing.T) {
	cfg := baseConfig()
	cfg.Modes = []string{"casual"}
	p := New(cfg, 4)
	c := baseChallenge()
	c.Rated = true
	got := p.Evaluate(c, State{})
	if got.Code != DeclineRated {
		t.Fatalf("got %+v, want decline(rated)", got)
	}
}

func TestEvaluateCasualPreference(t *testing.T) {
	cfg := baseConfig()
	cfg.Modes = []string{"rated"}
	p := New(cfg, 4)
	c := baseChallenge()
	c.Rated = false
	got := p.Evaluate(c, State{})
	if got.Code != DeclineCasual {
		t.Fatalf("got %+v, want decline(casual)", got)
	}
}

func TestEvaluateStandardStart(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowArbitraryStart = false
	p := New(cfg, 4)
	c := baseChallenge()
	c.InitialFEN = "4k3/8/8/8/8/8/8/4K3 w - - 0 1"
	got := p.Evaluate(c, State{})
	if got.Code != DeclineStandard {
		t.Fatalf("got %+v, want decline(standard)", got)
	}
}

func TestEvaluateOnlyBot(t *testing.T) {
	cfg := baseConfig()
	cfg.OnlyBot = true
	p := New(cfg, 4)
	c := baseChallenge()
	c.Challenger.Bot = false
	got := p.Evaluate(c, State{})
	if got.Code != DeclineOnlyBot {
		t.Fatalf("got %+v, want decline(onlyBot)", got)
	}
}

func TestEvaluateNoBot(t *testing.T) {
	cfg := baseConfig()
	cfg.AcceptBot = false
	p := New(cfg, 4)
	c := baseChallenge()
	c.Challenger.Bot = true
	got := p.Evaluate(c, State{})
	if got.Code != DeclineNoBot {
		t.Fatalf("got %+v, want decline(noBot)", got)
	}
}

func TestEvaluateDefersWhenCapReached(t *testing.T) {
	p := New(baseConfig(), 2)
	got := p.Evaluate(baseChallenge(), State{ActiveGameCount: 2})
	if got.Verdict != VerdictDefer {
		t.Fatalf("got %+v, want defer", got)
	}
}
