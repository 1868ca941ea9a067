// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/scheduler"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/task"
	"github.com/doufen-org/graveyard/internal/websocket"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "graveyard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sched := scheduler.New(scheduler.Config{Store: s, Log: zerolog.Nop()})
	return NewHandler(s, sched, websocket.NewHub(), zerolog.Nop()), s
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody[map[string]string](t, rec); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestAddTasksCrossProduct(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()
	first, _ := s.CreateAccount(ctx, "alice", "dbcl2=a")
	second, _ := s.CreateAccount(ctx, "bob", "dbcl2=b")

	rec := doRequest(t, h, http.MethodPost, "/api/tasks", addTasksRequest{
		Tasks:    []string{task.NameBroadcast, task.NameNote},
		Accounts: []int64{first, second},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[addTasksResponse](t, rec)
	if resp.Queued != 4 || resp.Duplicates != 0 {
		t.Fatalf("resp = %+v", resp)
	}

	// Same submission again is all duplicates.
	rec = doRequest(t, h, http.MethodPost, "/api/tasks", addTasksRequest{
		Tasks:    []string{task.NameBroadcast, task.NameNote},
		Accounts: []int64{first, second},
	})
	resp = decodeBody[addTasksResponse](t, rec)
	if resp.Queued != 0 || resp.Duplicates != 4 {
		t.Fatalf("resp = %+v", resp)
	}
	if h.Sched.QueueLen() != 4 {
		t.Fatalf("queue = %d", h.Sched.QueueLen())
	}
}

func TestAddTasksValidation(t *testing.T) {
	h, s := newTestHandler(t)
	id, _ := s.CreateAccount(context.Background(), "alice", "dbcl2=a")

	cases := []struct {
		name string
		req  addTasksRequest
	}{
		{"unknown task", addTasksRequest{Tasks: []string{"bogus"}, Accounts: []int64{id}}},
		{"unknown account", addTasksRequest{Tasks: []string{task.NameLike}, Accounts: []int64{9999}}},
		{"empty tasks", addTasksRequest{Accounts: []int64{id}}},
		{"empty accounts", addTasksRequest{Tasks: []string{task.NameLike}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/tasks", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
	if h.Sched.QueueLen() != 0 {
		t.Fatalf("rejected requests must queue nothing, queue = %d", h.Sched.QueueLen())
	}
}

func TestWorkersEndpointIdle(t *testing.T) {
	h, s := newTestHandler(t)
	id, _ := s.CreateAccount(context.Background(), "alice", "dbcl2=a")
	doRequest(t, h, http.MethodPost, "/api/tasks", addTasksRequest{
		Tasks:    []string{task.NameLike},
		Accounts: []int64{id},
	})

	rec := doRequest(t, h, http.MethodGet, "/api/workers", nil)
	resp := decodeBody[workersResponse](t, rec)
	if resp.Running {
		t.Fatal("fleet reported running before start")
	}
	if len(resp.Queue) != 1 || !strings.HasPrefix(resp.Queue[0], task.NameLike) {
		t.Fatalf("queue = %v", resp.Queue)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/workers/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stop while idle = %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/settings", nil)
	defaults := decodeBody[map[string]any](t, rec)
	if got := defaults[store.SettingRequestsPerMinute]; got != float64(60) {
		t.Fatalf("default rpm = %v", got)
	}
	if got := defaults[store.SettingImageLocalCache]; got != false {
		t.Fatalf("default image cache = %v", got)
	}

	rec = doRequest(t, h, http.MethodPut, "/api/settings", map[string]any{
		store.SettingRequestsPerMinute: 30,
		store.SettingImageLocalCache:   true,
		store.SettingProxies:           []string{"http://127.0.0.1:18080"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[map[string]any](t, rec)
	if updated[store.SettingRequestsPerMinute] != float64(30) {
		t.Fatalf("rpm = %v", updated[store.SettingRequestsPerMinute])
	}
	if updated[store.SettingImageLocalCache] != true {
		t.Fatalf("image cache = %v", updated[store.SettingImageLocalCache])
	}
	proxies, _ := updated[store.SettingProxies].([]any)
	if len(proxies) != 1 {
		t.Fatalf("proxies = %v", updated[store.SettingProxies])
	}
}

func TestSettingsRejectsBadValues(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown key", map[string]any{"worker.unknown": 1}},
		{"negative int", map[string]any{store.SettingRequestsPerMinute: -5}},
		{"fractional int", map[string]any{store.SettingRequestsPerMinute: 1.5}},
		{"string for bool", map[string]any{store.SettingImageLocalCache: "yes"}},
		{"empty proxy entry", map[string]any{store.SettingProxies: []string{""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPut, "/api/settings", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAccountLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)

	// The first account is activated automatically.
	rec := doRequest(t, h, http.MethodPost, "/api/accounts", createAccountRequest{
		Name: "alice", Session: "dbcl2=secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[models.Account](t, rec)
	if !first.IsActivated {
		t.Fatal("first account not activated")
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatal("session cookie leaked in response")
	}

	rec = doRequest(t, h, http.MethodPost, "/api/accounts", createAccountRequest{
		Name: "bob", Session: "dbcl2=other",
	})
	second := decodeBody[models.Account](t, rec)
	if second.IsActivated {
		t.Fatal("second account must not steal activation")
	}

	rec = doRequest(t, h, http.MethodPost, "/api/accounts/"+strconv.FormatInt(second.ID, 10)+"/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[models.Account](t, rec); !got.IsActivated {
		t.Fatal("activation not reflected")
	}

	rec = doRequest(t, h, http.MethodGet, "/api/accounts", nil)
	accounts := decodeBody[[]models.Account](t, rec)
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d", len(accounts))
	}
	if accounts[0].IsActivated || !accounts[1].IsActivated {
		t.Fatalf("activation flags wrong: %+v", accounts)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/accounts/999/activate", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("activate missing = %d", rec.Code)
	}
}

func TestCreateAccountRequiresSessionCookie(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/api/accounts", createAccountRequest{
		Name: "alice", Session: "not-a-cookie",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
