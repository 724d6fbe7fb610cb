package chessboterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewReturnsNilForNilErr(t *testing.T) {
	if err := New(KindTransport, "ctx", nil); err != nil {
		t.Fatalf("New(..., nil) = %v, want nil", err)
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	base := errors.New("dial refused")
	err := New(KindTransport, "stream", base)
	wrapped := fmt.Errorf("consume: %w", err)

	if !Is(wrapped, KindTransport) {
		t.Fatal("Is(wrapped, KindTransport) = false, want true")
	}
	if Is(wrapped, KindEngineDead) {
		t.Fatal("Is(wrapped, KindEngineDead) = true, want false")
	}
}

func TestUnwrapReachesUnderlyingError(t *testing.T) {
	base := errors.New("boom")
	err := New(KindEngineDead, "game-1", base)

	if !errors.Is(err, base) {
		t.Fatal("errors.Is(err, base) = false, want true")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if got := KindOf(errors.New("unrelated")); got != KindInternal {
		t.Fatalf("KindOf(plain error) = %q, want %q", got, KindInternal)
	}
	if got := KindOf(New(KindAuth, "", errors.New("x"))); got != KindAuth {
		t.Fatalf("KindOf(auth error) = %q, want %q", got, KindAuth)
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := New(KindProtocol, "game-42", errors.New("bad frame"))
	want := "protocol [game-42]: bad frame"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	noCtx := New(KindProtocol, "", errors.New("bad frame"))
	if noCtx.Error() != "protocol: bad frame" {
		t.Fatalf("Error() = %q, want %q", noCtx.Error(), "protocol: bad frame")
	}
}
