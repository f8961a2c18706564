package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apiPkg "github.com/astarch-code/shiftdesk/internal/api"
	"github.com/astarch-code/shiftdesk/internal/audit"
	"github.com/astarch-code/shiftdesk/internal/catalog"
	"github.com/astarch-code/shiftdesk/internal/config"
	"github.com/astarch-code/shiftdesk/internal/logbuf"
	"github.com/astarch-code/shiftdesk/internal/notify"
	"github.com/astarch-code/shiftdesk/internal/participant"
	"github.com/astarch-code/shiftdesk/internal/session"
	"github.com/astarch-code/shiftdesk/internal/sim"
	"github.com/astarch-code/shiftdesk/internal/survey"
	"github.com/astarch-code/shiftdesk/internal/transport/ws"
	"github.com/astarch-code/shiftdesk/internal/tuning"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("shiftdeskd starting", "addr", cfg.Addr())

	// 1. Simulation parameters and content
	tun, err := tuning.Load(cfg.TuningFile)
	if err != nil {
		logger.Error("failed to load tuning", "path", cfg.TuningFile, "error", err)
		os.Exit(1)
	}
	cat, err := catalog.Load(cfg.CatalogDir, logger.With("component", "catalog"))
	if err != nil {
		logger.Error("failed to load catalog", "dir", cfg.CatalogDir, "error", err)
		os.Exit(1)
	}
	surveys, err := survey.Load(cfg.SurveyDir, logger.With("component", "survey"))
	if err != nil {
		logger.Error("failed to load surveys", "dir", cfg.SurveyDir, "error", err)
		os.Exit(1)
	}

	// 2. Stores
	os.MkdirAll(cfg.DataDir, 0o755)
	participants, err := participant.NewStore(cfg.DataDir+"/participants.db", logger.With("component", "participants"))
	if err != nil {
		logger.Error("failed to open participant store", "error", err)
		os.Exit(1)
	}
	defer participants.Close()

	auditLog, err := audit.NewSQLiteLogger(cfg.DataDir+"/actions.db", logger.With("component", "audit"))
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	responses, err := survey.NewStore(auditLog.DB())
	if err != nil {
		logger.Error("failed to open survey store", "error", err)
		os.Exit(1)
	}

	archiver, err := audit.NewArchiver(cfg.ArchiveDir, logger.With("component", "archive"))
	if err != nil {
		logger.Error("failed to set up archive dir", "error", err)
		os.Exit(1)
	}

	// 3. Engine wiring
	var notifier sim.Notifier
	if cfg.Slack != nil {
		notifier = notify.NewSlack(cfg.Slack.Token, cfg.Slack.Channel, logger.With("component", "slack"))
		logger.Info("slack notifier enabled", "channel", cfg.Slack.Channel)
	}

	reg := session.NewRegistry(logger.With("component", "registry"))
	hub := ws.NewHub(logger.With("component", "hub"))
	engine := sim.NewEngine(sim.Options{
		Registry:  reg,
		Catalog:   cat,
		Tuning:    tun,
		Broadcast: hub,
		Audit:     auditLog,
		Archiver:  archiver,
		Notifier:  notifier,
		Logger:    logger.With("component", "engine"),
	})

	lookup := func(id string) (protocol.Parity, error) {
		p, err := participants.Get(id)
		if err != nil {
			return "", err
		}
		return p.Parity, nil
	}
	wsHandler := ws.NewHandler(hub, engine, lookup, cfg.Server.AllowedOrigins,
		logger.With("component", "ws"))

	// 4. API server
	apiSrv := apiPkg.NewServer(engine, participants, surveys, responses, reg, wsHandler,
		apiPkg.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			AdminKey:       cfg.AdminKey,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		logger.With("component", "api"), logBuf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("server started", "port", cfg.Server.Port)

	// 5. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("shiftdeskd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
