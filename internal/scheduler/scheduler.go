// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package scheduler queues backup tasks and feeds a fleet of worker
// processes.
//
// One primary worker runs over the account session directly; each
// configured proxy gets its own worker, so request pacing stays
// per-egress. The queue is a FIFO deque with true deduplication (an
// equal task already queued or running is rejected) and a priority
// head for user-initiated runs. Stopping the fleet requeues in-flight
// tasks at the head so a restart resumes where it left off.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/doufen-org/graveyard/internal/metrics"
	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/task"
	"github.com/doufen-org/graveyard/internal/worker"
)

// Broadcaster receives progress events for fanout to subscribers.
type Broadcaster interface {
	Broadcast(models.Progress)
}

var (
	// ErrRunning reports StartWorkers on a running fleet.
	ErrRunning = errors.New("scheduler: workers already running")

	// ErrStopped reports StopWorkers on an idle fleet.
	ErrStopped = errors.New("scheduler: workers not running")
)

// Config wires the scheduler's collaborators.
type Config struct {
	Store *store.Store
	Hub   Broadcaster
	Log   zerolog.Logger

	// Child configures the re-executed worker binary.
	Child worker.ChildConfig

	// NewStarter overrides the launch strategy; tests run the loop
	// in-process. nil means re-exec.
	NewStarter func(proxy string) worker.Starter
}

// WorkerStatus is one fleet member's externally visible state.
type WorkerStatus struct {
	ID            string    `json:"id"`
	Proxy         string    `json:"proxy,omitempty"`
	State         string    `json:"state"`
	Current       string    `json:"current,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Scheduler owns the task queue and the worker fleet.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	queue   []worker.Spec
	fleet   []*worker.Process
	running bool
	drains  sync.WaitGroup
}

// New builds an idle scheduler with an empty queue.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// AddTask enqueues a task unless an equal one is already queued or
// running. priority pushes it to the head of the queue. Reports whether
// the task was accepted.
func (s *Scheduler) AddTask(spec worker.Spec, priority bool) (bool, error) {
	if _, err := task.New(spec.Name, spec.AccountID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containsLocked(spec) {
		return false, nil
	}
	if priority {
		s.queue = append([]worker.Spec{spec}, s.queue...)
	} else {
		s.queue = append(s.queue, spec)
	}
	metrics.QueueDepth.Set(float64(len(s.queue)))

	// Wake any idle running worker.
	for _, p := range s.fleet {
		if p.State() == worker.StateRunning && p.Current() == nil {
			if next, ok := s.popLocked(); ok {
				if err := p.Dispatch(next); err != nil {
					s.requeueHeadLocked(next)
				}
			}
			break
		}
	}
	return true, nil
}

// containsLocked reports whether an equal task is queued or in flight.
func (s *Scheduler) containsLocked(spec worker.Spec) bool {
	for _, q := range s.queue {
		if q == spec {
			return true
		}
	}
	for _, p := range s.fleet {
		if cur := p.Current(); cur != nil && *cur == spec {
			return true
		}
	}
	return false
}

func (s *Scheduler) popLocked() (worker.Spec, bool) {
	if len(s.queue) == 0 {
		return worker.Spec{}, false
	}
	spec := s.queue[0]
	s.queue = s.queue[1:]
	metrics.QueueDepth.Set(float64(len(s.queue)))
	return spec, true
}

func (s *Scheduler) requeueHeadLocked(spec worker.Spec) {
	s.queue = append([]worker.Spec{spec}, s.queue...)
	metrics.QueueDepth.Set(float64(len(s.queue)))
}

// StartWorkers launches the fleet: one primary worker plus one per
// configured proxy.
func (s *Scheduler) StartWorkers(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.mu.Unlock()

	proxies := append([]string{""}, s.cfg.Store.Proxies(ctx)...)
	var fleet []*worker.Process
	for _, proxy := range proxies {
		p := worker.NewProcess(s.newStarter(proxy), proxy, s.cfg.Log)
		if err := p.Start(ctx); err != nil {
			s.cfg.Log.Error().Err(err).Str("proxy", proxy).Msg("worker failed to start")
			continue
		}
		fleet = append(fleet, p)
		s.drains.Add(1)
		go s.drain(p)
	}
	if len(fleet) == 0 {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("scheduler: no worker started")
	}

	s.mu.Lock()
	s.fleet = fleet
	s.mu.Unlock()
	metrics.WorkersRunning.Set(float64(len(fleet)))
	s.cfg.Log.Info().Int("workers", len(fleet)).Msg("worker fleet started")
	return nil
}

func (s *Scheduler) newStarter(proxy string) worker.Starter {
	if s.cfg.NewStarter != nil {
		return s.cfg.NewStarter(proxy)
	}
	child := s.cfg.Child
	child.Proxy = proxy
	return &worker.ExecStarter{Config: child, Log: s.cfg.Log}
}

// StopWorkers shuts the fleet down, requeueing in-flight tasks at the
// head so the next start resumes them first.
func (s *Scheduler) StopWorkers() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrStopped
	}
	s.running = false
	fleet := s.fleet
	s.fleet = nil
	for _, p := range fleet {
		if cur := p.Current(); cur != nil && !s.containsLocked(*cur) {
			s.requeueHeadLocked(*cur)
		}
	}
	s.mu.Unlock()

	for _, p := range fleet {
		if p.State() == worker.StateRunning {
			if err := p.Stop(); err != nil {
				s.cfg.Log.Warn().Err(err).Msg("worker stop failed")
			}
		}
	}
	s.drains.Wait()
	metrics.WorkersRunning.Set(0)
	s.cfg.Log.Info().Msg("worker fleet stopped")
	return nil
}

// Running reports whether the fleet is up.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// QueueLen returns the number of queued tasks.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Queue returns a snapshot of the queued tasks, head first.
func (s *Scheduler) Queue() []worker.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]worker.Spec, len(s.queue))
	copy(out, s.queue)
	return out
}

// Status reports every fleet member.
func (s *Scheduler) Status() []WorkerStatus {
	s.mu.Lock()
	fleet := s.fleet
	s.mu.Unlock()

	out := make([]WorkerStatus, 0, len(fleet))
	for _, p := range fleet {
		ws := WorkerStatus{
			ID:            p.ID.String(),
			Proxy:         p.Proxy,
			State:         p.State().String(),
			LastHeartbeat: p.LastHeartbeat(),
		}
		if cur := p.Current(); cur != nil {
			ws.Current = cur.String()
		} else if p.State() == worker.StateRunning {
			// Alive but idle.
			ws.State = "suspended"
		}
		out = append(out, ws)
	}
	return out
}

// drain consumes one worker's event stream until it closes, keeping
// the handle's bookkeeping current, feeding it queued tasks, and
// fanning progress out to subscribers.
func (s *Scheduler) drain(p *worker.Process) {
	defer s.drains.Done()
	sender := p.ID.String()[:8]
	for ev := range p.Events() {
		p.Observe(ev)

		switch ev.Type {
		case worker.EventReady, worker.EventDone, worker.EventError:
			s.broadcast(sender, p.Proxy, ev)
			s.feed(p)
		case worker.EventWorking:
			s.broadcast(sender, p.Proxy, ev)
		case worker.EventLog:
			if s.cfg.Hub != nil {
				s.cfg.Hub.Broadcast(models.Progress{
					Sender:  "logger",
					Src:     sender,
					Message: ev.Message,
					Level:   ev.Level,
				})
			}
		}
	}
}

func (s *Scheduler) broadcast(sender, proxy string, ev worker.Event) {
	if s.cfg.Hub == nil {
		return
	}
	progress := models.Progress{
		Sender:  "worker",
		Src:     proxy,
		Event:   ev.Type,
		Message: ev.Message,
	}
	if sender != "" {
		if progress.Src == "" {
			progress.Src = sender
		}
	}
	if ev.Task != nil {
		progress.Target = ev.Task.String()
	}
	s.cfg.Hub.Broadcast(progress)
}

// feed hands the queue head to an idle worker.
func (s *Scheduler) feed(p *worker.Process) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	next, ok := s.popLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := p.Dispatch(next); err != nil {
		s.cfg.Log.Warn().Err(err).Stringer("task", next).Msg("dispatch failed, requeueing")
		s.mu.Lock()
		s.requeueHeadLocked(next)
		s.mu.Unlock()
	}
}
