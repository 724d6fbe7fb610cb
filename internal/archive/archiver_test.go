package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
)

func TestFormatPGNIncludesTagsAndClock(t *testing.T) {
	rec := GameRecord{
		Event:       "Rated Blitz game",
		Site:        "https://example.test/abcd1234",
		Date:        time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		White:       "chessbot",
		Black:       "opponent",
		Result:      "1-0",
		TimeControl: "300+2",
		Variant:     "Standard",
		Rated:       true,
		Moves: []MoveRecord{
			{UCI: "e2e4", ClockLeft: 300 * time.Second},
			{UCI: "e7e5", ClockLeft: 298 * time.Second},
		},
	}
	pgn := FormatPGN(rec)

	for _, want := range []string{
		`[Event "Rated Blitz game"]`,
		`[White "chessbot"]`,
		`[Result "1-0"]`,
		"1. e2e4", "e7e5",
		"[%clk 0:05:00]",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestArchiverWritesAndRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := New(dir, time.Hour, true, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.now = func() time.Time { return fakeNow }

	a.Enqueue(GameRecord{GameID: "g1", Result: "1-0", Date: fakeNow})

	// Wait until the consumer has written g1 before moving the clock, so the
	// two records land in separate segments.
	deadline := time.Now().Add(time.Second)
	for {
		a.mu.Lock()
		written := len(a.pending) == 0 && a.current != nil
		if written {
			fakeNow = fakeNow.Add(2 * time.Hour) // force rotation on next write
		}
		a.mu.Unlock()
		if written {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first record was not written in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.Enqueue(GameRecord{GameID: "g2", Result: "0-1", Date: fakeNow})

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d segment files, want 2 (one per rotation): %v", len(entries), entries)
	}

	for _, e := range entries {
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("open segment: %v", err)
		}
		r := snappy.NewReader(f)
		buf := make([]byte, 4096)
		n, _ := r.Read(buf)
		f.Close()
		if n == 0 {
			t.Fatalf("segment %s is empty", e.Name())
		}
	}
}
