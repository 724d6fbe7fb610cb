// Package config loads chessbot runtime configuration from environment
// variables, applying defaults and returning descriptive errors for invalid
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the remote service base URL when none is configured.
	DefaultBaseURL = "https://lichess.org"
	// DefaultMaxGames bounds concurrent Game Workers.
	DefaultMaxGames = 4
	// DefaultRequestTimeout is the deadline applied to outbound requests (§5).
	DefaultRequestTimeout = 15 * time.Second
	// DefaultStreamIdleTimeout is the stream watchdog interval (§4.1, §5).
	DefaultStreamIdleTimeout = 60 * time.Second
	// DefaultSearchDeadlineFloor is the minimum search deadline (§8 boundary case).
	DefaultSearchDeadlineFloor = 100 * time.Millisecond
	// DefaultMoveOverheadMS is the safety margin deducted from the clock.
	DefaultMoveOverheadMS = 300
	// DefaultDrainInterval bounds graceful shutdown (§5).
	DefaultDrainInterval = 30 * time.Second
	// DefaultMatchmakerPollInterval is how often the matchmaker wakes (§4.6).
	DefaultMatchmakerPollInterval = 60 * time.Second
	// DefaultMatchmakerTimeout bounds how long a matchmaker challenge waits for gameStart (§4.6).
	DefaultMatchmakerTimeout = 90 * time.Second
	// DefaultMatchmakerCooldown is the opponent cooldown window after decline/timeout (§4.6).
	DefaultMatchmakerCooldown = time.Hour
	// DefaultPendingChallengeCap bounds the deferred-challenge queue (§4.5).
	DefaultPendingChallengeCap = 32

	// DefaultLogLevel controls verbosity for chessbot logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "chessbot.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultArchiveSegmentRotate bounds how often the archiver rotates its
	// compressed segment (§ domain stack, C7).
	DefaultArchiveSegmentRotate = 24 * time.Hour
)

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// EngineConfig captures subprocess spawn, handshake, and search parameters (§4.2, §6).
type EngineConfig struct {
	Path           string
	Args           []string
	Protocol       string // "uci", "xboard", or "pool"
	Options        map[string]string
	TimeMode       string // "clock", "movetime", "depth", "nodes"
	MoveOverheadMS int
	FixedMoveTime  time.Duration
	FixedDepth     int
	FixedNodes     int
	PoolAddr       string
	PoolSecret     string
}

// ChallengeConfig captures C3's policy bounds (§4.3, §6).
type ChallengeConfig struct {
	Variants     []string
	TimeControls []string
	MinInitial   int
	MaxInitial   int
	MinIncrement int
	MaxIncrement int
	Modes        []string // subset of {rated, casual}
	AcceptBot    bool
	OnlyBot      bool
	AllowArbitraryStart bool
	BlockList    []string
}

// AllowsArbitraryStart reports whether challenges starting from a non-standard
// position are accepted (§4.3 predicate 7).
func (c ChallengeConfig) AllowsArbitraryStart() bool {
	return c.AllowArbitraryStart
}

// MatchmakingConfig captures C6's behaviour (§4.6, §6).
type MatchmakingConfig struct {
	Enabled      bool
	Variant      string
	TimeControl  string
	Opponents    []string
	PollInterval time.Duration
	Timeout      time.Duration
	Cooldown     time.Duration
}

// DrawConfig captures C4's draw-offer acceptance policy (§4.4, §6).
type DrawConfig struct {
	Enabled       bool
	ScoreWindowCP int
	MinMoves      int
}

// ArchiveConfig captures C7's sink and rotation behaviour.
type ArchiveConfig struct {
	Path          string
	SegmentRotate time.Duration
	Compress      bool
}

// Config captures all runtime tunables for the chessbot process.
type Config struct {
	Token               string
	BaseURL             string
	MaxGames            int
	RequestTimeout      time.Duration
	StreamIdleTimeout   time.Duration
	DrainInterval       time.Duration
	PendingChallengeCap int

	Engine      EngineConfig
	Challenge   ChallengeConfig
	Matchmaking MatchmakingConfig
	Draw        DrawConfig
	Takeback    bool
	Archive     ArchiveConfig
	Logging     LoggingConfig
	StatusAddr  string
	StatusAuthSecret string
}

// Load reads chessbot configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Token:               strings.TrimSpace(os.Getenv("CHESSBOT_TOKEN")),
		BaseURL:             getString("CHESSBOT_BASE_URL", DefaultBaseURL),
		MaxGames:            DefaultMaxGames,
		RequestTimeout:      DefaultRequestTimeout,
		StreamIdleTimeout:   DefaultStreamIdleTimeout,
		DrainInterval:       DefaultDrainInterval,
		PendingChallengeCap: DefaultPendingChallengeCap,
		Engine: EngineConfig{
			Path:           strings.TrimSpace(os.Getenv("CHESSBOT_ENGINE_PATH")),
			Args:           parseList(os.Getenv("CHESSBOT_ENGINE_ARGS")),
			Protocol:       getString("CHESSBOT_ENGINE_PROTOCOL", "uci"),
			Options:        parseMap(os.Getenv("CHESSBOT_ENGINE_OPTIONS")),
			TimeMode:       getString("CHESSBOT_ENGINE_TIME_MODE", "clock"),
			MoveOverheadMS: DefaultMoveOverheadMS,
			PoolAddr:       strings.TrimSpace(os.Getenv("CHESSBOT_ENGINE_POOL_ADDR")),
			PoolSecret:     strings.TrimSpace(os.Getenv("CHESSBOT_ENGINE_POOL_SECRET")),
		},
		Challenge: ChallengeConfig{
			Variants:     defaultOrList(os.Getenv("CHESSBOT_CHALLENGE_VARIANTS"), []string{"standard"}),
			TimeControls: defaultOrList(os.Getenv("CHESSBOT_CHALLENGE_TIME_CONTROLS"), []string{"bullet", "blitz", "rapid"}),
			MinInitial:   0,
			MaxInitial:   10800,
			MinIncrement: 0,
			MaxIncrement: 180,
			Modes:        defaultOrList(os.Getenv("CHESSBOT_CHALLENGE_MODES"), []string{"rated", "casual"}),
			AcceptBot:    true,
			OnlyBot:      false,
			AllowArbitraryStart: getBoolDefault("CHESSBOT_CHALLENGE_ALLOW_ARBITRARY_START", false),
			BlockList:    parseList(os.Getenv("CHESSBOT_CHALLENGE_BLOCK_LIST")),
		},
		Matchmaking: MatchmakingConfig{
			Enabled:      getBoolDefault("CHESSBOT_MATCHMAKING_ENABLED", false),
			Variant:      getString("CHESSBOT_MATCHMAKING_VARIANT", "standard"),
			TimeControl:  getString("CHESSBOT_MATCHMAKING_TIME_CONTROL", "blitz"),
			Opponents:    parseList(os.Getenv("CHESSBOT_MATCHMAKING_OPPONENTS")),
			PollInterval: DefaultMatchmakerPollInterval,
			Timeout:      DefaultMatchmakerTimeout,
			Cooldown:     DefaultMatchmakerCooldown,
		},
		Draw: DrawConfig{
			Enabled:       getBoolDefault("CHESSBOT_DRAW_ENABLED", false),
			ScoreWindowCP: 20,
			MinMoves:      0,
		},
		Takeback: getBoolDefault("CHESSBOT_TAKEBACK_ENABLED", false),
		Archive: ArchiveConfig{
			Path:          getString("CHESSBOT_ARCHIVE_PATH", "archive/games.pgn"),
			SegmentRotate: DefaultArchiveSegmentRotate,
			Compress:      getBoolDefault("CHESSBOT_ARCHIVE_COMPRESS", true),
		},
		Logging: LoggingConfig{
			Level:      getString("CHESSBOT_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("CHESSBOT_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   getBoolDefault("CHESSBOT_LOG_COMPRESS", DefaultLogCompress),
		},
		StatusAddr:       strings.TrimSpace(os.Getenv("CHESSBOT_STATUS_ADDR")),
		StatusAuthSecret: strings.TrimSpace(os.Getenv("CHESSBOT_STATUS_AUTH_SECRET")),
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_MAX_GAMES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_MAX_GAMES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxGames = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_REQUEST_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_REQUEST_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.RequestTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_STREAM_IDLE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_STREAM_IDLE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.StreamIdleTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_CHALLENGE_MIN_INITIAL")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_CHALLENGE_MIN_INITIAL must be a non-negative integer, got %q", raw))
		} else {
			cfg.Challenge.MinInitial = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_CHALLENGE_MAX_INITIAL")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_CHALLENGE_MAX_INITIAL must be a non-negative integer, got %q", raw))
		} else {
			cfg.Challenge.MaxInitial = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_CHALLENGE_MIN_INCREMENT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_CHALLENGE_MIN_INCREMENT must be a non-negative integer, got %q", raw))
		} else {
			cfg.Challenge.MinIncrement = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_CHALLENGE_MAX_INCREMENT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_CHALLENGE_MAX_INCREMENT must be a non-negative integer, got %q", raw))
		} else {
			cfg.Challenge.MaxIncrement = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_CHALLENGE_ONLY_BOT")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHESSBOT_CHALLENGE_ONLY_BOT must be a boolean value, got %q", raw))
		} else {
			cfg.Challenge.OnlyBot = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_CHALLENGE_ACCEPT_BOT")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHESSBOT_CHALLENGE_ACCEPT_BOT must be a boolean value, got %q", raw))
		} else {
			cfg.Challenge.AcceptBot = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_DRAW_SCORE_WINDOW_CP")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_DRAW_SCORE_WINDOW_CP must be a non-negative integer, got %q", raw))
		} else {
			cfg.Draw.ScoreWindowCP = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_ARCHIVE_SEGMENT_ROTATE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_ARCHIVE_SEGMENT_ROTATE must be a positive duration, got %q", raw))
		} else {
			cfg.Archive.SegmentRotate = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_ENGINE_FIXED_MOVE_TIME")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_ENGINE_FIXED_MOVE_TIME must be a positive duration, got %q", raw))
		} else {
			cfg.Engine.FixedMoveTime = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_ENGINE_FIXED_DEPTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_ENGINE_FIXED_DEPTH must be a positive integer, got %q", raw))
		} else {
			cfg.Engine.FixedDepth = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHESSBOT_ENGINE_FIXED_NODES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHESSBOT_ENGINE_FIXED_NODES must be a positive integer, got %q", raw))
		} else {
			cfg.Engine.FixedNodes = value
		}
	}

	switch cfg.Engine.TimeMode {
	case "clock", "movetime", "depth", "nodes":
	default:
		problems = append(problems, fmt.Sprintf("CHESSBOT_ENGINE_TIME_MODE must be one of clock, movetime, depth, nodes, got %q", cfg.Engine.TimeMode))
	}
	if cfg.Engine.TimeMode == "movetime" && cfg.Engine.FixedMoveTime <= 0 {
		problems = append(problems, "CHESSBOT_ENGINE_FIXED_MOVE_TIME must be set when CHESSBOT_ENGINE_TIME_MODE=movetime")
	}
	if cfg.Engine.TimeMode == "depth" && cfg.Engine.FixedDepth <= 0 {
		problems = append(problems, "CHESSBOT_ENGINE_FIXED_DEPTH must be set when CHESSBOT_ENGINE_TIME_MODE=depth")
	}
	if cfg.Engine.TimeMode == "nodes" && cfg.Engine.FixedNodes <= 0 {
		problems = append(problems, "CHESSBOT_ENGINE_FIXED_NODES must be set when CHESSBOT_ENGINE_TIME_MODE=nodes")
	}

	if cfg.Engine.Path == "" && cfg.Engine.Protocol != "pool" {
		problems = append(problems, "CHESSBOT_ENGINE_PATH must be set unless CHESSBOT_ENGINE_PROTOCOL=pool")
	}
	if cfg.Engine.Protocol == "pool" && cfg.Engine.PoolAddr == "" {
		problems = append(problems, "CHESSBOT_ENGINE_POOL_ADDR must be set when CHESSBOT_ENGINE_PROTOCOL=pool")
	}
	if cfg.Engine.Protocol == "pool" && cfg.Engine.PoolSecret == "" {
		problems = append(problems, "CHESSBOT_ENGINE_POOL_SECRET must be set when CHESSBOT_ENGINE_PROTOCOL=pool")
	}
	if cfg.Token == "" {
		problems = append(problems, "CHESSBOT_TOKEN must be set")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getBoolDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}

func defaultOrList(raw string, fallback []string) []string {
	if values := parseList(raw); len(values) > 0 {
		return values
	}
	return fallback
}

// parseMap decodes a "key=value,key2=value2" string into a map, used for
// engine.options (§6).
func parseMap(raw string) map[string]string {
	values := map[string]string{}
	for _, part := range parseList(raw) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		values[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return values
}
