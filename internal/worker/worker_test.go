package worker

import (
	"testing"
	"time"

	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/engine"
	"github.com/herohde/chessbot/internal/remote"
)

func TestResolveColorMatchesWhiteByName(t *testing.T) {
	w := &Worker{botName: "chessbot"}
	full := remote.GameFull{White: remote.Challenger{Name: "chessbot"}, Black: remote.Challenger{Name: "opponent"}}
	if got := w.resolveColor(full); got != "white" {
		t.Fatalf("got %q, want white", got)
	}
}

func TestResolveColorDefaultsToBlack(t *testing.T) {
	w := &Worker{botName: "chessbot"}
	full := remote.GameFull{White: remote.Challenger{Name: "someone-else"}, Black: remote.Challenger{Name: "chessbot"}}
	if got := w.resolveColor(full); got != "black" {
		t.Fatalf("got %q, want black", got)
	}
}

func TestIsOurTurnParity(t *testing.T) {
	w := &Worker{color: "white"}
	w.moves = nil
	if !w.isOurTurn() {
		t.Fatal("white should move first with zero moves played")
	}
	w.moves = []string{"e2e4"}
	if w.isOurTurn() {
		t.Fatal("white should not move again immediately after its own move")
	}

	w.color = "black"
	if !w.isOurTurn() {
		t.Fatal("black should move after one ply")
	}
}

func TestSplitMovesHandlesEmptyAndPopulated(t *testing.T) {
	if got := splitMoves(""); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	got := splitMoves("e2e4 e7e5 g1f3")
	want := []string{"e2e4", "e7e5", "g1f3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResultForUsesWinnerField(t *testing.T) {
	cases := []struct {
		status, winner, want string
	}{
		{remote.StatusMate, "white", "1-0"},
		{remote.StatusResign, "black", "0-1"},
		{remote.StatusDraw, "", "1/2-1/2"},
		{remote.StatusStalemate, "", "1/2-1/2"},
		{remote.StatusAborted, "", "*"},
	}
	for _, c := range cases {
		if got := resultFor(c.status, c.winner); got != c.want {
			t.Fatalf("resultFor(%q, %q) = %q, want %q", c.status, c.winner, got, c.want)
		}
	}
}

func TestShouldAcceptDrawRequiresScoreWindow(t *testing.T) {
	w := &Worker{draw: config.DrawConfig{Enabled: true, ScoreWindowCP: 20, MinMoves: 0}}
	state := remote.GameState{WhiteDrawOffer: true}

	if w.shouldAcceptDraw(state) {
		t.Fatal("should not accept without a known score")
	}
	score := 15
	w.lastScoreCP = &score
	if !w.shouldAcceptDraw(state) {
		t.Fatal("should accept a near-zero score within the window")
	}
	wide := 500
	w.lastScoreCP = &wide
	if w.shouldAcceptDraw(state) {
		t.Fatal("should not accept a decisive score outside the window")
	}
}

func TestShouldAcceptDrawRequiresOffer(t *testing.T) {
	w := &Worker{draw: config.DrawConfig{Enabled: true, ScoreWindowCP: 20}}
	score := 0
	w.lastScoreCP = &score
	if w.shouldAcceptDraw(remote.GameState{}) {
		t.Fatal("should not accept when neither side offered a draw")
	}
}

func TestShouldAcceptTakebackRequiresEnabledAndOpponentRequest(t *testing.T) {
	w := &Worker{takeback: true, color: "white"}
	w.moves = []string{"e2e4"}

	if w.shouldAcceptTakeback(remote.GameState{}) {
		t.Fatal("should not accept when no takeback was requested")
	}
	if w.shouldAcceptTakeback(remote.GameState{WhiteTakeback: true}) {
		t.Fatal("should not accept our own takeback request")
	}
	if !w.shouldAcceptTakeback(remote.GameState{BlackTakeback: true}) {
		t.Fatal("should accept the opponent's takeback request")
	}

	w.takeback = false
	if w.shouldAcceptTakeback(remote.GameState{BlackTakeback: true}) {
		t.Fatal("should not accept when takeback handling is disabled")
	}
}

func TestShouldAcceptTakebackRequiresAMoveToRetract(t *testing.T) {
	w := &Worker{takeback: true, color: "black"}
	w.moves = nil
	if w.shouldAcceptTakeback(remote.GameState{WhiteTakeback: true}) {
		t.Fatal("should not accept a takeback with no move played yet")
	}
}

func TestDeriveLimitsDefaultsToClockMode(t *testing.T) {
	w := &Worker{color: "white"}
	state := remote.GameState{WTime: 60000, BTime: 45000, WInc: 2000, BInc: 1000}
	limits := w.deriveLimits(state)
	if limits.Mode != engine.TimeModeClock {
		t.Fatalf("Mode = %v, want clock", limits.Mode)
	}
	if limits.WhiteTimeLeft != 60*time.Second || limits.BlackTimeLeft != 45*time.Second {
		t.Fatalf("clock limits = %+v, want 60s/45s", limits)
	}
}

func TestDeriveLimitsHonorsFixedSearchMode(t *testing.T) {
	cases := []struct {
		mode engine.TimeMode
		w    *Worker
		want engine.Limits
	}{
		{engine.TimeModeMoveTime, &Worker{searchMode: engine.TimeModeMoveTime, fixedMoveTime: 3 * time.Second}, engine.Limits{Mode: engine.TimeModeMoveTime, FixedMoveTime: 3 * time.Second}},
		{engine.TimeModeDepth, &Worker{searchMode: engine.TimeModeDepth, fixedDepth: 14}, engine.Limits{Mode: engine.TimeModeDepth, FixedDepth: 14}},
		{engine.TimeModeNodes, &Worker{searchMode: engine.TimeModeNodes, fixedNodes: 500000}, engine.Limits{Mode: engine.TimeModeNodes, FixedNodes: 500000}},
	}
	for _, c := range cases {
		got := c.w.deriveLimits(remote.GameState{})
		if got != c.want {
			t.Fatalf("deriveLimits() with mode %v = %+v, want %+v", c.mode, got, c.want)
		}
	}
}
