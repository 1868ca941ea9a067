// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/doufen-org/graveyard/internal/logging"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/worker"
)

var (
	workerSave  string
	workerCache string
	workerLog   string
	workerProxy string
)

// workerCmd is the re-executed child process. The scheduler launches
// `graveyard worker` with a command stream on stdin and reads events
// from stdout; stderr carries JSON log lines forwarded to subscribers.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "json", Dir: workerLog})
		log := logging.With().Str("component", "worker").Logger()

		st, err := store.Open(workerSave)
		if err != nil {
			return err
		}
		defer st.Close()

		return worker.Loop(cmd.Context(), worker.LoopConfig{
			Store:    st,
			Proxy:    workerProxy,
			CacheDir: workerCache,
			Log:      log,
		}, os.Stdin, os.Stdout)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerSave, "save", "", "database file path")
	workerCmd.Flags().StringVar(&workerCache, "cache", "", "attachment cache directory")
	workerCmd.Flags().StringVar(&workerLog, "log", "", "log directory")
	workerCmd.Flags().StringVar(&workerProxy, "proxy", "", "outbound proxy URL")
	_ = workerCmd.MarkFlagRequired("save")
}
