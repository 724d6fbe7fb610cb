package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/herohde/chessbot/internal/archive"
	"github.com/herohde/chessbot/internal/auth"
	"github.com/herohde/chessbot/internal/config"
	"github.com/herohde/chessbot/internal/control"
	"github.com/herohde/chessbot/internal/engine"
	"github.com/herohde/chessbot/internal/logging"
	"github.com/herohde/chessbot/internal/matchmaker"
	"github.com/herohde/chessbot/internal/policy"
	"github.com/herohde/chessbot/internal/remote"
	"github.com/herohde/chessbot/internal/statusapi"
)

// botAccountTitle is the remote service's marker for accounts registered as
// bots (§6); the process refuses to run under any other account.
const botAccountTitle = "BOT"

// Exit codes (§6): 0 normal shutdown, 1 configuration error, 2 auth failure,
// 3 unsupported engine protocol, 4 account is not a registered bot account.
const (
	exitOK = iota
	exitConfigError
	exitAuthFailure
	exitEngineUnsupported
	exitNotBotAccount
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(exitConfigError)
	}
	logging.ReplaceGlobals(logger)
	defer func() {
		_ = logger.Sync()
	}()

	switch cfg.Engine.Protocol {
	case string(engine.ProtocolUCI), string(engine.ProtocolXBoard), string(engine.ProtocolPool):
	default:
		logger.Error("unsupported engine protocol", logging.String("protocol", cfg.Engine.Protocol))
		os.Exit(exitEngineUnsupported)
	}

	client, err := remote.New(cfg.BaseURL, cfg.Token, cfg.RequestTimeout, cfg.StreamIdleTimeout)
	if err != nil {
		logger.Error("failed to construct remote client", logging.ErrorFields(err)...)
		os.Exit(exitConfigError)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	profile, err := client.Profile(startupCtx)
	cancelStartup()
	if err != nil {
		logger.Error("failed to fetch account profile", logging.ErrorFields(err)...)
		os.Exit(exitAuthFailure)
	}
	if profile.Title != botAccountTitle {
		logger.Error("account is not a registered bot account", logging.String("accountId", profile.ID), logging.String("title", profile.Title))
		os.Exit(exitNotBotAccount)
	}
	logger.Info("authenticated as bot account", logging.String("accountId", profile.ID))

	archiver, err := archive.New(cfg.Archive.Path, cfg.Archive.SegmentRotate, cfg.Archive.Compress, logger.With(logging.String("component", "archive")))
	if err != nil {
		logger.Error("failed to construct archiver", logging.ErrorFields(err)...)
		os.Exit(exitConfigError)
	}
	defer func() {
		if err := archiver.Close(); err != nil {
			logger.Warn("archiver close failed", logging.ErrorFields(err)...)
		}
	}()

	pol := policy.New(cfg.Challenge, cfg.MaxGames)

	engineCfg := engine.Config{
		Path:           cfg.Engine.Path,
		Args:           cfg.Engine.Args,
		Protocol:       engine.Protocol(cfg.Engine.Protocol),
		Options:        cfg.Engine.Options,
		MoveOverheadMS: cfg.Engine.MoveOverheadMS,
		SearchCap:      cfg.Engine.FixedMoveTime,
	}

	ctrl := control.New(control.Config{
		Client:        client,
		Policy:        pol,
		MaxGames:      cfg.MaxGames,
		PendingCap:    cfg.PendingChallengeCap,
		EngineConfig:  engineCfg,
		PoolAddr:      cfg.Engine.PoolAddr,
		PoolSecret:    cfg.Engine.PoolSecret,
		Archiver:      archiver,
		BotName:       profile.ID,
		Draw:          cfg.Draw,
		Takeback:      cfg.Takeback,
		SearchMode:    engine.TimeMode(cfg.Engine.TimeMode),
		FixedMoveTime: cfg.Engine.FixedMoveTime,
		FixedDepth:    cfg.Engine.FixedDepth,
		FixedNodes:    cfg.Engine.FixedNodes,
		Logger:        logger.With(logging.String("component", "control")),
	})

	var statusServer *http.Server
	if cfg.StatusAddr != "" {
		hub := statusapi.NewHub(ctrl, logger.With(logging.String("component", "status")))
		ctrl.SetStatus(hub)
		if cfg.StatusAuthSecret != "" {
			verifier, err := auth.NewHMACTokenVerifier(cfg.StatusAuthSecret, 30*time.Second)
			if err != nil {
				logger.Error("failed to construct status auth verifier", logging.ErrorFields(err)...)
				os.Exit(exitConfigError)
			}
			hub.SetAuth(verifier)
		}

		statusServer = &http.Server{Addr: cfg.StatusAddr, Handler: hub.Handler()}
		go func() {
			logger.Info("status endpoint listening", logging.String("address", cfg.StatusAddr))
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server terminated", logging.ErrorFields(err)...)
			}
		}()
	}

	var mm *matchmaker.Matchmaker
	if cfg.Matchmaking.Enabled {
		mm = matchmaker.New(matchmaker.Config{
			Client:      client,
			Matchmaking: cfg.Matchmaking,
			MaxGames:    cfg.MaxGames,
			ActiveGames: ctrl.ActiveGameCount,
			Logger:      logger.With(logging.String("component", "matchmaker")),
		})
		ctrl.SetMatchmaker(mm)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown signal received, draining")
		cancelRun()
	}()

	var mmDone chan struct{}
	if mm != nil {
		mmDone = make(chan struct{})
		go func() {
			defer close(mmDone)
			if err := mm.Run(runCtx); err != nil {
				logger.Warn("matchmaker terminated", logging.ErrorFields(err)...)
			}
		}()
	}

	if err := ctrl.Run(runCtx); err != nil {
		logger.Error("control loop terminated", logging.ErrorFields(err)...)
	}

	if mmDone != nil {
		<-mmDone
	}

	if statusServer != nil {
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.DrainInterval)
		if err := statusServer.Shutdown(drainCtx); err != nil {
			logger.Warn("status server shutdown failed", logging.ErrorFields(err)...)
		}
		cancelDrain()
	}

	logger.Info("chessbot exiting")
}
