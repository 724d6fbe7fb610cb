// Package policy implements the Challenge Policy (C3): a pure, deterministic
// predicate chain over a challenge and the current account state — range and
// membership checks evaluated in a fixed order, the first failure winning.
package policy

import (
	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/remote"
)

// Verdict is the outcome of evaluating a challenge against policy.
type Verdict string

const (
	VerdictAccept  Verdict = "accept"
	VerdictDecline Verdict = "decline"
	VerdictDefer   Verdict = "defer"
)

// DeclineCode names the first failing predicate (§4.3).
type DeclineCode string

const (
	DeclineGeneric     DeclineCode = "generic"
	DeclineVariant     DeclineCode = "variant"
	DeclineTimeControl DeclineCode = "timeControl"
	DeclineTooFast     DeclineCode = "tooFast"
	DeclineTooSlow     DeclineCode = "tooSlow"
	DeclineRated       DeclineCode = "rated"
	DeclineCasual      DeclineCode = "casual"
	DeclineStandard    DeclineCode = "standard"
	DeclineOnlyBot     DeclineCode = "onlyBot"
	DeclineNoBot       DeclineCode = "noBot"
)

// Decision is the result of evaluating one challenge.
type Decision struct {
	Verdict Verdict
	Code    DeclineCode // meaningful only when Verdict == VerdictDecline
}

// State is the snapshot of account-wide state the policy consults (§4.3):
// "Pure and deterministic given configuration and a snapshot of current
// state (active-game-count, currently-challenging-user, block-list)".
type State struct {
	ActiveGameCount      int
	CurrentlyChallenging string
}

// Policy evaluates challenges against a fixed configuration. It holds no
// mutable state of its own; State is supplied per call.
type Policy struct {
	cfg config.ChallengeConfig
	cap int
}

// New builds a Policy from the challenge configuration and the worker-slot cap.
func New(cfg config.ChallengeConfig, maxGames int) *Policy {
	return &Policy{cfg: cfg, cap: maxGames}
}

// Evaluate applies the ordered predicate chain to challenge and returns the
// first failing predicate's decision, or Accept if all pass, or Defer if
// every predicate passes but the worker-slot cap is currently exhausted.
func (p *Policy) Evaluate(challenge remote.Challenge, state State) Decision {
	if reason, ok := p.firstFailure(challenge); !ok {
		return Decision{Verdict: VerdictDecline, Code: reason}
	}

	if state.ActiveGameCount >= p.cap {
		return Decision{Verdict: VerdictDefer}
	}

	return Decision{Verdict: VerdictAccept}
}

// firstFailure runs the eight §4.3 predicates in order, returning the first
// DeclineCode that fails along with ok=false, or ok=true if all pass.
func (p *Policy) firstFailure(c remote.Challenge) (DeclineCode, bool) {
	if p.inBlockList(c.Challenger.Name) {
		return DeclineGeneric, false
	}
	if !contains(p.cfg.Variants, c.Variant) {
		return DeclineVariant, false
	}
	if !contains(p.cfg.TimeControls, c.TimeControl.Category()) {
		return DeclineTimeControl, false
	}
	if c.TimeControl.Initial < p.cfg.MinInitial {
		return DeclineTooFast, false
	}
	if c.TimeControl.Initial > p.cfg.MaxInitial {
		return DeclineTooSlow, false
	}
	if c.TimeControl.Increment < p.cfg.MinIncrement {
		return DeclineTooFast, false
	}
	if c.TimeControl.Increment > p.cfg.MaxIncrement {
		return DeclineTooSlow, false
	}
	if c.Rated && !contains(p.cfg.Modes, "rated") {
		return DeclineRated, false
	}
	if !c.Rated && !contains(p.cfg.Modes, "casual") {
		return DeclineCasual, false
	}
	if !c.IsStandardStart() && !p.cfg.AllowsArbitraryStart() {
		return DeclineStandard, false
	}
	if p.cfg.OnlyBot && !c.Challenger.Bot {
		return DeclineOnlyBot, false
	}
	if !p.cfg.AcceptBot && c.Challenger.Bot {
		return DeclineNoBot, false
	}
	return "", true
}

func (p *Policy) inBlockList(name string) bool {
	for _, blocked := range p.cfg.BlockList {
		if blocked == name {
			return true
		}
	}
	return false
}

func contains(set []string, value string) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}
