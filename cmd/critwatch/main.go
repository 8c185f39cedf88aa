// CLAUDE:SUMMARY CLI entry point for critwatch — attaches to a live chat page and runs the crit decoration engine.
// Command critwatch is the crit decoration daemon.
//
// Usage:
//
//	critwatch -config critwatch.yaml        # full config: host, style, admin, audit
//	critwatch -url https://chat.example/c   # quick attach with defaults
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/critlab/critwatch/audit"
	"github.com/critlab/critwatch/critkeeper"
	"github.com/critlab/critwatch/dbopen"
	"github.com/critlab/critwatch/hostdom/rodtree"
)

func main() {
	configPath := flag.String("config", "", "path to critwatch.yaml config file")
	singleURL := flag.String("url", "", "attach to a single chat URL with default settings")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *singleURL); err != nil {
		logger.Error("critwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL string) error {
	var cfg *critkeeper.Config
	switch {
	case configPath != "":
		loaded, err := critkeeper.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	case singleURL != "":
		cfg = &critkeeper.Config{Host: critkeeper.HostConfig{URL: singleURL}}
	default:
		fmt.Fprintln(os.Stderr, "usage: critwatch -config <file> | -url <url>")
		os.Exit(1)
	}

	if cfg.Host.URL == "" {
		return fmt.Errorf("no host url configured")
	}

	// Browser and host tree.
	mgr := rodtree.NewManager(rodtree.BrowserConfig{
		Remote:   cfg.Host.Remote,
		Headless: cfg.Host.Headless,
		Logger:   logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	defer mgr.Close()

	page, err := mgr.OpenTab(ctx, cfg.Host.URL)
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}

	tree, err := rodtree.Attach(ctx, page, rodtree.Config{
		MessageClass:     cfg.Host.MessageClass,
		ContentClass:     cfg.Host.ContentClass,
		AuthorClass:      cfg.Host.AuthorClass,
		ChannelListClass: cfg.Host.ChannelListClass,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer tree.Stop()

	// Keeper.
	keeper, err := critkeeper.New(tree, cfg, logger)
	if err != nil {
		return fmt.Errorf("keeper: %w", err)
	}

	if cfg.Audit.DBPath != "" {
		db, err := dbopen.Open(cfg.Audit.DBPath, dbopen.WithSchema(audit.Schema), dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		defer db.Close()
		if err := audit.Cleanup(ctx, db, cfg.Audit.RetentionDays); err != nil {
			logger.Warn("critwatch: audit cleanup", "error", err)
		}
		keeper.SetAuditor(audit.NewLogger(db))
	}

	if err := keeper.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer keeper.Stop()

	// Admin surface.
	if cfg.Admin.Addr != "" {
		srv := &http.Server{Addr: cfg.Admin.Addr, Handler: keeper.Handler()}
		go func() {
			logger.Info("critwatch: admin listening", "addr", cfg.Admin.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("critwatch: admin server", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	<-ctx.Done()
	return nil
}
