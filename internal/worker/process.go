// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a worker process's lifecycle position.
type State int

const (
	StatePending State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrState reports an illegal lifecycle transition.
var ErrState = errors.New("worker: illegal state transition")

// stopGrace is how long Stop waits for an orderly quit before killing
// the child.
const stopGrace = 30 * time.Second

// Starter launches the worker body and hands back its pipe ends.
// The exec implementation re-runs this binary; tests run the loop
// in-process over io.Pipe.
type Starter interface {
	Start(ctx context.Context) (stdin io.WriteCloser, events <-chan Event, wait func() error, err error)
}

// ChildConfig is what the re-executed child needs on its command line.
type ChildConfig struct {
	StorePath string
	CacheDir  string
	LogDir    string
	Proxy     string
}

// ExecStarter launches `<self> worker ...` as a child process.
type ExecStarter struct {
	Config ChildConfig
	Log    zerolog.Logger
}

func (s *ExecStarter) Start(ctx context.Context) (io.WriteCloser, <-chan Event, func() error, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("worker: resolve executable: %w", err)
	}
	args := []string{"worker", "--save", s.Config.StorePath, "--cache", s.Config.CacheDir}
	if s.Config.LogDir != "" {
		args = append(args, "--log", s.Config.LogDir)
	}
	if s.Config.Proxy != "" {
		args = append(args, "--proxy", s.Config.Proxy)
	}

	cmd := exec.CommandContext(ctx, self, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("worker: start child: %w", err)
	}

	// stdout carries the event protocol; stderr carries the child's JSON
	// log records, forwarded as log events. The channel closes once both
	// streams hit EOF.
	events := make(chan Event, 64)
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		if err := decodeEvents(stdout, events); err != nil {
			s.Log.Warn().Err(err).Msg("worker event stream broke")
		}
	}()
	go func() {
		defer pumps.Done()
		ForwardLogs(stderr, events)
	}()
	go func() {
		pumps.Wait()
		close(events)
	}()
	return stdin, events, cmd.Wait, nil
}

// ForwardLogs turns a stream of child log lines into log events. Lines
// are zerolog JSON records; anything that does not decode (a panic
// trace, say) is forwarded verbatim at error level.
func ForwardLogs(r io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(line, &rec); err != nil || rec.Message == "" {
			out <- Event{Type: EventLog, Level: "error", Message: string(line)}
			continue
		}
		out <- Event{Type: EventLog, Level: rec.Level, Message: rec.Message}
	}
}

// Process is the parent-side handle of one worker.
type Process struct {
	ID    uuid.UUID
	Proxy string

	starter Starter
	log     zerolog.Logger

	mu       sync.Mutex
	state    State
	current  *Spec
	lastBeat time.Time
	stdin    io.WriteCloser
	events   <-chan Event
	wait     func() error
	exited   chan struct{}
}

// NewProcess builds a Pending worker bound to a launch strategy.
func NewProcess(starter Starter, proxy string, log zerolog.Logger) *Process {
	id := uuid.New()
	return &Process{
		ID:      id,
		Proxy:   proxy,
		starter: starter,
		log:     log.With().Str("worker", id.String()[:8]).Logger(),
	}
}

// State returns the current lifecycle position.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Current returns the task being executed, nil when idle.
func (p *Process) Current() *Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	spec := *p.current
	return &spec
}

// LastHeartbeat returns when the child last proved liveness.
func (p *Process) LastHeartbeat() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBeat
}

// Start launches the child. Only a Pending worker can start.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrState, p.state)
	}
	p.mu.Unlock()

	stdin, events, wait, err := p.starter.Start(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.state = StateRunning
	p.stdin = stdin
	p.events = events
	p.wait = wait
	p.lastBeat = time.Now()
	p.exited = make(chan struct{})
	p.mu.Unlock()

	go func() {
		if wait != nil {
			if err := wait(); err != nil {
				p.log.Warn().Err(err).Msg("worker exited abnormally")
			}
		}
		p.mu.Lock()
		p.state = StateTerminated
		close(p.exited)
		p.mu.Unlock()
	}()

	p.log.Info().Str("proxy", p.Proxy).Msg("worker started")
	return nil
}

// Events exposes the child's event stream. The scheduler drains it and
// tracks the working/done transitions through Observe.
func (p *Process) Events() <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

// Observe folds an event into the handle's bookkeeping.
func (p *Process) Observe(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case EventHeartbeat:
		p.lastBeat = time.Now()
	case EventWorking:
		p.current = ev.Task
	case EventDone, EventError:
		p.current = nil
	}
}

// Dispatch sends a task to the child. Only a Running worker accepts
// work.
func (p *Process) Dispatch(spec Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return fmt.Errorf("%w: dispatch in %s", ErrState, p.state)
	}
	return p.send(Command{Action: ActionTask, Task: &spec})
}

// Stop asks the child to quit and waits for it, killing after a grace
// period. Only a Running worker can stop.
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", ErrState, p.state)
	}
	_ = p.send(Command{Action: ActionQuit})
	stdin := p.stdin
	exited := p.exited
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if exited != nil {
		select {
		case <-exited:
		case <-time.After(stopGrace):
			p.log.Warn().Msg("worker ignored quit, abandoning")
		}
	}

	p.mu.Lock()
	p.state = StateTerminated
	p.current = nil
	p.mu.Unlock()
	p.log.Info().Msg("worker stopped")
	return nil
}

// Reset returns a Terminated worker to Pending so it can start again.
func (p *Process) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateTerminated {
		return fmt.Errorf("%w: reset from %s", ErrState, p.state)
	}
	p.state = StatePending
	p.current = nil
	p.stdin = nil
	p.events = nil
	p.wait = nil
	p.exited = nil
	return nil
}

// send writes one command line. Callers hold p.mu.
func (p *Process) send(cmd Command) error {
	if p.stdin == nil {
		return fmt.Errorf("worker: no stdin pipe")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = p.stdin.Write(data)
	return err
}
