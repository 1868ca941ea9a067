// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doufen-org/graveyard/internal/api"
	"github.com/doufen-org/graveyard/internal/config"
	"github.com/doufen-org/graveyard/internal/logging"
	"github.com/doufen-org/graveyard/internal/scheduler"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/supervisor"
	"github.com/doufen-org/graveyard/internal/websocket"
	"github.com/doufen-org/graveyard/internal/worker"
)

const version = "0.1.0"

var (
	flagPort    int
	flagSave    string
	flagCache   string
	flagLog     string
	flagDebug   bool
	flagVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "graveyard",
	Short: "Back up a Douban account into a local archive",
	Long: `graveyard crawls the personal data of a Douban account (interests,
statuses, notes, albums, likes, relations) into a local SQLite archive
with full change history, and serves a local web UI to drive it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagVersion {
			fmt.Fprintln(cmd.OutOrStdout(), "graveyard "+version)
			return nil
		}
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "HTTP listen port (default 8398)")
	rootCmd.Flags().StringVarP(&flagSave, "save", "s", "", "database file path")
	rootCmd.Flags().StringVarP(&flagCache, "cache", "c", "", "attachment cache directory")
	rootCmd.Flags().StringVarP(&flagLog, "log", "l", "", "log directory")
	rootCmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "verbose console logging")
	rootCmd.Flags().BoolVarP(&flagVersion, "version", "v", false, "print version and exit")

	rootCmd.AddCommand(workerCmd)
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// loadConfig layers CLI flags over the file/env configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagSave != "" {
		cfg.Storage.DBPath = flagSave
	}
	if flagCache != "" {
		cfg.Storage.CacheDir = flagCache
	}
	if flagLog != "" {
		cfg.Storage.LogDir = flagLog
	}
	if flagDebug {
		cfg.Server.Debug = true
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Storage.LogDir,
	}
	if cfg.Server.Debug {
		logCfg.Level = "debug"
		logCfg.Format = "console"
	}
	logging.Init(logCfg)
	log := logging.Logger()

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := websocket.NewHub()
	sched := scheduler.New(scheduler.Config{
		Store: st,
		Hub:   hub,
		Log:   log,
		Child: worker.ChildConfig{
			StorePath: cfg.Storage.DBPath,
			CacheDir:  cfg.Storage.CacheDir,
			LogDir:    cfg.Storage.LogDir,
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		// Another instance is almost certainly holding the port.
		return &exitError{code: 2, err: fmt.Errorf("cannot listen on %s: %w", addr, err)}
	}

	handler := api.NewHandler(st, sched, hub, log)
	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.AddMessagingService(supervisor.ServiceFunc(hub.RunWithContext))
	tree.AddAPIService(&supervisor.HTTPService{
		Server:   &http.Server{Handler: handler.Router()},
		Listener: listener,
		Log:      log,
	})

	log.Info().Str("addr", addr).Str("db", cfg.Storage.DBPath).Msg("graveyard started")
	err = tree.Serve(ctx)

	if sched.Running() {
		if stopErr := sched.StopWorkers(); stopErr != nil {
			log.Warn().Err(stopErr).Msg("stopping workers on shutdown")
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
