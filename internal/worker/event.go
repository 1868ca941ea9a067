// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package worker runs backup tasks in child OS processes.
//
// The parent and each child speak newline-delimited JSON over the
// child's stdin and stdout. Commands flow down (run this task, quit);
// events flow up (ready, working, done, error, a 1s heartbeat, and
// forwarded log lines). Process isolation means a crashed or wedged
// task never takes the parent down; the store file is the only shared
// state.
package worker

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// Spec names one task dispatch: which job, for which account.
type Spec struct {
	Name      string `json:"name"`
	AccountID int64  `json:"account_id"`
}

func (s Spec) String() string {
	return fmt.Sprintf("%s#%d", s.Name, s.AccountID)
}

// Command is a parent-to-child message.
type Command struct {
	Action string `json:"action"` // "task" or "quit"
	Task   *Spec  `json:"task,omitempty"`
}

// Command actions.
const (
	ActionTask = "task"
	ActionQuit = "quit"
)

// Event is a child-to-parent message.
type Event struct {
	Type    string `json:"type"`
	Task    *Spec  `json:"task,omitempty"`
	Seq     int64  `json:"seq,omitempty"`     // heartbeat sequence, from 1
	Level   string `json:"level,omitempty"`   // log events
	Message string `json:"message,omitempty"` // error and log events
}

// Event types.
const (
	EventReady     = "ready"
	EventWorking   = "working"
	EventDone      = "done"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
	EventLog       = "log"
)

// Emitter serializes events onto one writer. The loop's heartbeat
// ticker and the task goroutine share it.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter wraps w. The encoder terminates each event with a newline.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Emit writes one event. Write errors are returned so the loop can shut
// down when the parent is gone.
func (e *Emitter) Emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(ev)
}

// ReadEvents decodes events from r until EOF, delivering them to out.
// out is closed on return.
func ReadEvents(r io.Reader, out chan<- Event) error {
	defer close(out)
	return decodeEvents(r, out)
}

// decodeEvents is ReadEvents without the close, for callers feeding out
// from more than one stream.
func decodeEvents(r io.Reader, out chan<- Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Stray writes on stdout (a panicking dependency, say) must
			// not kill the event stream.
			continue
		}
		out <- ev
	}
	return scanner.Err()
}

// ReadCommands decodes commands from r until EOF, delivering them to
// out. out is closed on return.
func ReadCommands(r io.Reader, out chan<- Command) error {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			continue
		}
		out <- cmd
	}
	return scanner.Err()
}
