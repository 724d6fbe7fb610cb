package config

import (
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHESSBOT_TOKEN", "CHESSBOT_BASE_URL", "CHESSBOT_MAX_GAMES",
		"CHESSBOT_ENGINE_PATH", "CHESSBOT_ENGINE_PROTOCOL", "CHESSBOT_ENGINE_POOL_ADDR",
		"CHESSBOT_ENGINE_POOL_SECRET", "CHESSBOT_CHALLENGE_MIN_INITIAL", "CHESSBOT_REQUEST_TIMEOUT",
		"CHESSBOT_ENGINE_TIME_MODE", "CHESSBOT_ENGINE_FIXED_MOVE_TIME", "CHESSBOT_ENGINE_FIXED_DEPTH",
		"CHESSBOT_ENGINE_FIXED_NODES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHESSBOT_ENGINE_PATH", "/usr/bin/stockfish")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no token should error")
	}
}

func TestLoadRequiresEnginePathUnlessPool(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHESSBOT_TOKEN", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no engine path and non-pool protocol should error")
	}
}

func TestLoadPoolProtocolRequiresAddrAndSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHESSBOT_TOKEN", "secret")
	t.Setenv("CHESSBOT_ENGINE_PROTOCOL", "pool")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with protocol=pool but no pool addr/secret should error")
	}

	t.Setenv("CHESSBOT_ENGINE_POOL_ADDR", "engines.internal:9443")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with a pool addr but no pool secret should still error")
	}

	t.Setenv("CHESSBOT_ENGINE_POOL_SECRET", "shh")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want success once addr+secret are set", err)
	}
	if cfg.Engine.PoolAddr != "engines.internal:9443" || cfg.Engine.PoolSecret != "shh" {
		t.Fatalf("Engine = %+v, want pool addr/secret threaded through", cfg.Engine)
	}
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHESSBOT_TOKEN", "secret")
	t.Setenv("CHESSBOT_ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("CHESSBOT_MAX_GAMES", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.MaxGames != 9 {
		t.Fatalf("MaxGames = %d, want 9", cfg.MaxGames)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q, want default %q", cfg.BaseURL, DefaultBaseURL)
	}
	if len(cfg.Challenge.Variants) == 0 || cfg.Challenge.Variants[0] != "standard" {
		t.Fatalf("Challenge.Variants = %v, want default [standard]", cfg.Challenge.Variants)
	}
}

func TestLoadRejectsInvalidMaxGames(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHESSBOT_TOKEN", "secret")
	t.Setenv("CHESSBOT_ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("CHESSBOT_MAX_GAMES", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with a non-numeric CHESSBOT_MAX_GAMES should error")
	}
}

func TestLoadValidatesTimeModeAgainstItsFixedLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHESSBOT_TOKEN", "secret")
	t.Setenv("CHESSBOT_ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("CHESSBOT_ENGINE_TIME_MODE", "nonsense")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with an unrecognized time mode should error")
	}

	t.Setenv("CHESSBOT_ENGINE_TIME_MODE", "depth")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with time-mode=depth but no fixed depth should error")
	}

	t.Setenv("CHESSBOT_ENGINE_FIXED_DEPTH", "12")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want success once a fixed depth is set", err)
	}
	if cfg.Engine.TimeMode != "depth" || cfg.Engine.FixedDepth != 12 {
		t.Fatalf("Engine = %+v, want TimeMode=depth FixedDepth=12", cfg.Engine)
	}
}

func TestParseMapSplitsKeyValuePairs(t *testing.T) {
	got := parseMap("Hash=256, Threads=4")
	if got["Hash"] != "256" || got["Threads"] != "4" {
		t.Fatalf("parseMap = %+v, want Hash=256 Threads=4", got)
	}
}
