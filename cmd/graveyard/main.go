// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(signalContext()); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, exit.Error())
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code. A busy listen port
// exits 2 so a second instance is distinguishable from a crash.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
