package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(server.URL, "token", time.Second, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestAcceptAndDeclineChallengeHitExpectedPaths(t *testing.T) {
	var gotPath, gotReason string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotReason = body["reason"]
		w.WriteHeader(http.StatusOK)
	})

	if err := client.AcceptChallenge(context.Background(), "chal-1"); err != nil {
		t.Fatalf("AcceptChallenge: %v", err)
	}
	if gotPath != "/api/challenge/chal-1/accept" {
		t.Fatalf("path = %q, want accept path", gotPath)
	}

	if err := client.DeclineChallenge(context.Background(), "chal-2", "tooFast"); err != nil {
		t.Fatalf("DeclineChallenge: %v", err)
	}
	if gotPath != "/api/challenge/chal-2/decline" || gotReason != "tooFast" {
		t.Fatalf("path/reason = %q/%q, want decline path with reason tooFast", gotPath, gotReason)
	}
}

func TestMakeMoveAppendsDrawOfferQuery(t *testing.T) {
	var gotPath, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	})

	if err := client.MakeMove(context.Background(), "game-1", "e2e4", true); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if gotPath != "/api/bot/game/game-1/move/e2e4" || gotQuery != "offeringDraw=true" {
		t.Fatalf("path/query = %q?%q, want move path with draw-offer query", gotPath, gotQuery)
	}
}

func TestCreateChallengeDecodesResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Challenge{ID: "chal-9", Variant: "standard"})
	})

	got, err := client.CreateChallenge(context.Background(), "bob", map[string]string{"variant": "standard"})
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if got.ID != "chal-9" {
		t.Fatalf("ID = %q, want chal-9", got.ID)
	}
}

func TestHandleDrawOfferAndTakebackEncodeAcceptReject(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	client.HandleDrawOffer(context.Background(), "g1", true)
	client.HandleDrawOffer(context.Background(), "g1", false)
	client.HandleTakeback(context.Background(), "g1", true)

	want := []string{
		"/api/bot/game/g1/draw/yes",
		"/api/bot/game/g1/draw/no",
		"/api/bot/game/g1/takeback/yes",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestProfileDecodesAccountIdentity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Profile{ID: "bot-1", Title: "BOT"})
	})

	got, err := client.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if got.Title != "BOT" {
		t.Fatalf("Title = %q, want BOT", got.Title)
	}
}

func TestGameURLJoinsBaseAndGameID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	url := client.GameURL("game-1")
	if url == "" {
		t.Fatal("GameURL returned empty string")
	}
}
