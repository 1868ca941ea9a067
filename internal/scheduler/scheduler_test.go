// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/task"
	"github.com/doufen-org/graveyard/internal/worker"
)

// pipeStarter runs the worker loop in-process, as the worker package's
// own tests do.
type pipeStarter struct {
	cfg worker.LoopConfig
}

func (s *pipeStarter) Start(ctx context.Context) (io.WriteCloser, <-chan worker.Event, func() error, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := worker.Loop(ctx, s.cfg, inR, outW)
		_ = outW.Close()
		errCh <- err
	}()
	events := make(chan worker.Event, 64)
	go func() { _ = worker.ReadEvents(outR, events) }()
	return inW, events, func() error { return <-errCh }, nil
}

// recordingHub captures broadcast progress events.
type recordingHub struct {
	mu     sync.Mutex
	events []models.Progress
	seen   chan models.Progress
}

func newRecordingHub() *recordingHub {
	return &recordingHub{seen: make(chan models.Progress, 64)}
}

func (h *recordingHub) Broadcast(p models.Progress) {
	h.mu.Lock()
	h.events = append(h.events, p)
	h.mu.Unlock()
	select {
	case h.seen <- p:
	default:
	}
}

func (h *recordingHub) waitFor(t *testing.T, event string) models.Progress {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case p := <-h.seen:
			if p.Event == event {
				return p
			}
		case <-deadline:
			t.Fatalf("no %q progress within deadline", event)
		}
	}
}

func openSchedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "graveyard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func backupServer(t *testing.T, block <-chan struct{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/user/alice", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"42","uid":"alice","name":"alice"}`)
	})
	empty := func(w http.ResponseWriter, r *http.Request) {
		if block != nil {
			<-block
		}
		fmt.Fprint(w, `<html><body><ul class="user-list"></ul></body></html>`)
	}
	mux.HandleFunc("/people/alice/contacts", empty)
	mux.HandleFunc("/people/alice/rev_contacts", empty)
	mux.HandleFunc("/contacts/blacklist", empty)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newScheduler(t *testing.T, s *store.Store, srv *httptest.Server, hub Broadcaster) *Scheduler {
	t.Helper()
	return New(Config{
		Store: s,
		Hub:   hub,
		Log:   zerolog.Nop(),
		NewStarter: func(proxy string) worker.Starter {
			return &pipeStarter{cfg: worker.LoopConfig{
				Store: s,
				Proxy: proxy,
				Log:   zerolog.Nop(),
				Options: []task.Option{func(tc *task.Context) {
					tc.BaseURL = srv.URL + "/"
					tc.APIURL = srv.URL + "/"
					tc.MobileURL = srv.URL + "/"
				}},
			}}
		},
	})
}

func TestAddTaskDedupAndPriority(t *testing.T) {
	sched := New(Config{Log: zerolog.Nop()})

	ok, err := sched.AddTask(worker.Spec{Name: task.NameBroadcast, AccountID: 1}, false)
	if err != nil || !ok {
		t.Fatalf("first add: ok=%v err=%v", ok, err)
	}
	ok, err = sched.AddTask(worker.Spec{Name: task.NameBroadcast, AccountID: 1}, false)
	if err != nil || ok {
		t.Fatal("duplicate must be rejected")
	}
	if ok, _ := sched.AddTask(worker.Spec{Name: task.NameBroadcast, AccountID: 2}, false); !ok {
		t.Fatal("same job for another account is not a duplicate")
	}
	if ok, _ := sched.AddTask(worker.Spec{Name: task.NameLike, AccountID: 1}, true); !ok {
		t.Fatal("priority add rejected")
	}
	if _, err := sched.AddTask(worker.Spec{Name: "bogus", AccountID: 1}, false); err == nil {
		t.Fatal("unknown task name must error")
	}

	queue := sched.Queue()
	if len(queue) != 3 {
		t.Fatalf("queue = %v", queue)
	}
	if queue[0].Name != task.NameLike {
		t.Fatalf("priority task not at head: %v", queue)
	}
}

func TestFleetExecutesQueue(t *testing.T) {
	s := openSchedStore(t)
	srv := backupServer(t, nil)
	ctx := context.Background()
	accountID, _ := s.CreateAccount(ctx, "alice", "dbcl2=test")

	hub := newRecordingHub()
	sched := newScheduler(t, s, srv, hub)

	if _, err := sched.AddTask(worker.Spec{Name: task.NameFollowingFollower, AccountID: accountID}, false); err != nil {
		t.Fatal(err)
	}
	if err := sched.StartWorkers(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sched.StartWorkers(ctx); err != ErrRunning {
		t.Fatalf("second start = %v, want ErrRunning", err)
	}

	hub.waitFor(t, worker.EventWorking)
	done := hub.waitFor(t, worker.EventDone)
	if done.Target == "" {
		t.Fatal("done progress names no task")
	}
	if sched.QueueLen() != 0 {
		t.Fatalf("queue = %d after completion", sched.QueueLen())
	}

	status := sched.Status()
	if len(status) != 1 {
		t.Fatalf("fleet size = %d, want 1 (no proxies configured)", len(status))
	}

	if err := sched.StopWorkers(); err != nil {
		t.Fatal(err)
	}
	if err := sched.StopWorkers(); err != ErrStopped {
		t.Fatalf("second stop = %v, want ErrStopped", err)
	}
}

func TestProxyFleetSize(t *testing.T) {
	s := openSchedStore(t)
	srv := backupServer(t, nil)
	ctx := context.Background()

	if err := s.SetSettingJSON(ctx, store.SettingProxies,
		[]string{"http://127.0.0.1:18080", "http://127.0.0.1:18081"}); err != nil {
		t.Fatal(err)
	}

	sched := newScheduler(t, s, srv, nil)
	if err := sched.StartWorkers(ctx); err != nil {
		t.Fatal(err)
	}
	defer sched.StopWorkers()

	if got := len(sched.Status()); got != 3 {
		t.Fatalf("fleet size = %d, want primary + 2 proxies", got)
	}
}

// scriptedStarter replays a fixed event stream, standing in for a
// child whose log records were forwarded off its stderr.
type scriptedStarter struct {
	events []worker.Event
}

func (s *scriptedStarter) Start(ctx context.Context) (io.WriteCloser, <-chan worker.Event, func() error, error) {
	_, inW := io.Pipe()
	out := make(chan worker.Event, len(s.events))
	for _, ev := range s.events {
		out <- ev
	}
	close(out)
	return inW, out, nil, nil
}

func TestDrainForwardsWorkerLogs(t *testing.T) {
	s := openSchedStore(t)
	ctx := context.Background()

	hub := newRecordingHub()
	sched := New(Config{
		Store: s,
		Hub:   hub,
		Log:   zerolog.Nop(),
		NewStarter: func(proxy string) worker.Starter {
			return &scriptedStarter{events: []worker.Event{
				{Type: worker.EventReady},
				{Type: worker.EventLog, Level: "warn", Message: "rate limited"},
			}}
		},
	})
	if err := sched.StartWorkers(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case p := <-hub.seen:
			if p.Sender != "logger" {
				continue
			}
			if p.Message != "rate limited" || p.Level != "warn" {
				t.Fatalf("forwarded log = %+v", p)
			}
			if p.Src == "" {
				t.Fatal("forwarded log names no worker")
			}
			return
		case <-deadline:
			t.Fatal("worker log never reached the hub")
		}
	}
}

func TestStopRequeuesInFlightTask(t *testing.T) {
	s := openSchedStore(t)
	block := make(chan struct{})
	srv := backupServer(t, block)
	ctx := context.Background()
	accountID, _ := s.CreateAccount(ctx, "alice", "dbcl2=test")

	hub := newRecordingHub()
	sched := newScheduler(t, s, srv, hub)

	spec := worker.Spec{Name: task.NameFollowingFollower, AccountID: accountID}
	if _, err := sched.AddTask(spec, false); err != nil {
		t.Fatal(err)
	}
	if err := sched.StartWorkers(ctx); err != nil {
		t.Fatal(err)
	}
	hub.waitFor(t, worker.EventWorking)

	stopped := make(chan error, 1)
	go func() { stopped <- sched.StopWorkers() }()
	time.Sleep(100 * time.Millisecond)
	close(block)
	if err := <-stopped; err != nil {
		t.Fatal(err)
	}

	queue := sched.Queue()
	if len(queue) != 1 || queue[0] != spec {
		t.Fatalf("in-flight task not requeued, queue = %v", queue)
	}
}
