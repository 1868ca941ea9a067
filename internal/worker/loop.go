// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package worker

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/doufen-org/graveyard/internal/metrics"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/task"
)

// heartbeatInterval is the child's liveness beacon period.
const heartbeatInterval = time.Second

// LoopConfig configures one child process run.
type LoopConfig struct {
	Store    *store.Store
	Proxy    string
	CacheDir string
	Log      zerolog.Logger

	// Options adjust each task's runtime Context (tests point the
	// fetchers at local servers).
	Options []task.Option
}

// Loop is the child process body: announce readiness, heartbeat every
// second while idle, and execute dispatched tasks one at a time until
// the parent says quit or closes stdin.
func Loop(ctx context.Context, cfg LoopConfig, in io.Reader, out io.Writer) error {
	emitter := NewEmitter(out)

	commands := make(chan Command, 16)
	go func() { _ = ReadCommands(in, commands) }()

	settings := task.LoadSettings(ctx, cfg.Store)
	settings.Proxy = cfg.Proxy
	settings.CacheDir = cfg.CacheDir

	if err := emitter.Emit(Event{Type: EventReady}); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	type result struct {
		spec Spec
		err  error
	}
	var running bool
	var pending []Spec
	done := make(chan result, 1)
	var seq int64

	execute := func(spec Spec) {
		running = true
		_ = emitter.Emit(Event{Type: EventWorking, Task: &spec})
		go func() {
			err := task.Execute(ctx, cfg.Store, spec.Name, spec.AccountID,
				settings, cfg.Log, cfg.Options...)
			done <- result{spec: spec, err: err}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			// The heartbeat is the idle beacon; a running task proves
			// liveness through its own working/done events.
			if running {
				continue
			}
			seq++
			if err := emitter.Emit(Event{Type: EventHeartbeat, Seq: seq}); err != nil {
				return err
			}

		case res := <-done:
			running = false
			if res.err != nil {
				metrics.TaskResults.WithLabelValues(res.spec.Name, "error").Inc()
				cfg.Log.Error().Err(res.err).Stringer("task", res.spec).Msg("task failed")
				if err := emitter.Emit(Event{
					Type: EventError, Task: &res.spec, Message: res.err.Error(),
				}); err != nil {
					return err
				}
			} else {
				metrics.TaskResults.WithLabelValues(res.spec.Name, "done").Inc()
				if err := emitter.Emit(Event{Type: EventDone, Task: &res.spec}); err != nil {
					return err
				}
			}
			if len(pending) > 0 {
				next := pending[0]
				pending = pending[1:]
				execute(next)
			}

		case cmd, ok := <-commands:
			if !ok || cmd.Action == ActionQuit {
				if running {
					// Let the in-flight task finish; its transaction is
					// not worth aborting for an orderly shutdown.
					res := <-done
					if res.err == nil {
						_ = emitter.Emit(Event{Type: EventDone, Task: &res.spec})
					} else {
						_ = emitter.Emit(Event{
							Type: EventError, Task: &res.spec, Message: res.err.Error(),
						})
					}
				}
				return nil
			}
			if cmd.Action == ActionTask && cmd.Task != nil {
				if running {
					pending = append(pending, *cmd.Task)
				} else {
					execute(*cmd.Task)
				}
			}
		}
	}
}
