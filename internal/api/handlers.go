// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/doufen-org/graveyard/internal/scheduler"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/task"
	"github.com/doufen-org/graveyard/internal/worker"
)

// addTasksRequest queues the cross product of tasks and accounts.
type addTasksRequest struct {
	Tasks    []string `json:"tasks"`
	Accounts []int64  `json:"accounts"`
	Priority bool     `json:"priority"`
}

type addTasksResponse struct {
	Queued     int      `json:"queued"`
	Duplicates int      `json:"duplicates"`
	Names      []string `json:"names"`
}

// AddTasks enqueues backup tasks. Unknown task names and accounts are
// rejected before anything is queued.
func (h *Handler) AddTasks(w http.ResponseWriter, r *http.Request) {
	var req addTasksRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if len(req.Tasks) == 0 || len(req.Accounts) == 0 {
		respondError(w, http.StatusBadRequest, "tasks and accounts must be non-empty")
		return
	}
	for _, name := range req.Tasks {
		if _, err := task.New(name, 1); err != nil {
			respondError(w, http.StatusBadRequest, "unknown task: "+name)
			return
		}
	}
	for _, id := range req.Accounts {
		if _, err := h.Store.GetAccount(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusBadRequest, "unknown account: "+strconv.FormatInt(id, 10))
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	resp := addTasksResponse{Names: []string{}}
	for _, id := range req.Accounts {
		for _, name := range req.Tasks {
			spec := worker.Spec{Name: name, AccountID: id}
			ok, err := h.Sched.AddTask(spec, req.Priority)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if ok {
				resp.Queued++
				resp.Names = append(resp.Names, spec.String())
			} else {
				resp.Duplicates++
			}
		}
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// workersResponse reports the fleet and the waiting queue.
type workersResponse struct {
	Running bool                     `json:"running"`
	Workers []scheduler.WorkerStatus `json:"workers"`
	Queue   []string                 `json:"queue"`
}

// Workers reports fleet status and queued tasks.
func (h *Handler) Workers(w http.ResponseWriter, r *http.Request) {
	queue := h.Sched.Queue()
	names := make([]string, 0, len(queue))
	for _, spec := range queue {
		names = append(names, spec.String())
	}
	respondJSON(w, http.StatusOK, workersResponse{
		Running: h.Sched.Running(),
		Workers: h.Sched.Status(),
		Queue:   names,
	})
}

// StartWorkers brings the fleet up.
func (h *Handler) StartWorkers(w http.ResponseWriter, r *http.Request) {
	if err := h.Sched.StartWorkers(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"workers": len(h.Sched.Status())})
}

// StopWorkers shuts the fleet down, requeueing in-flight tasks.
func (h *Handler) StopWorkers(w http.ResponseWriter, r *http.Request) {
	if err := h.Sched.StopWorkers(); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"queued": h.Sched.QueueLen()})
}

// settingKind drives coercion between the JSON surface and the string
// KV underneath.
type settingKind int

const (
	kindInt settingKind = iota
	kindBool
	kindStringList
)

var settingSchema = map[string]settingKind{
	store.SettingRequestsPerMinute:       kindInt,
	store.SettingLocalObjectDuration:     kindInt,
	store.SettingBroadcastActiveDuration: kindInt,
	store.SettingBroadcastIncremental:    kindBool,
	store.SettingImageLocalCache:         kindBool,
	store.SettingProxies:                 kindStringList,
}

// GetSettings returns every crawler setting, typed, with defaults
// filled in for absent keys.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{
		store.SettingRequestsPerMinute:       h.Store.SettingInt(ctx, store.SettingRequestsPerMinute, store.DefaultRequestsPerMinute),
		store.SettingLocalObjectDuration:     h.Store.SettingInt(ctx, store.SettingLocalObjectDuration, store.DefaultLocalObjectDuration),
		store.SettingBroadcastActiveDuration: h.Store.SettingInt(ctx, store.SettingBroadcastActiveDuration, store.DefaultBroadcastActiveDuration),
		store.SettingBroadcastIncremental:    h.Store.SettingBool(ctx, store.SettingBroadcastIncremental, false),
		store.SettingImageLocalCache:         h.Store.SettingBool(ctx, store.SettingImageLocalCache, false),
		store.SettingProxies:                 h.Store.Proxies(ctx),
	}
	respondJSON(w, http.StatusOK, out)
}

// PutSettings updates a partial set of crawler settings. Values are
// validated and coerced per key; one bad key rejects the whole request.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	for key, value := range req {
		kind, ok := settingSchema[key]
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown setting: "+key)
			return
		}
		if err := h.putSetting(r, key, kind, value); err != nil {
			respondError(w, http.StatusBadRequest, key+": "+err.Error())
			return
		}
	}
	h.GetSettings(w, r)
}

func (h *Handler) putSetting(r *http.Request, key string, kind settingKind, value any) error {
	ctx := r.Context()
	switch kind {
	case kindInt:
		n, ok := value.(float64)
		if !ok || n != float64(int64(n)) || n < 1 {
			return errors.New("expects a positive integer")
		}
		return h.Store.SetSetting(ctx, key, strconv.FormatInt(int64(n), 10))
	case kindBool:
		b, ok := value.(bool)
		if !ok {
			return errors.New("expects a boolean")
		}
		return h.Store.SetSettingBool(ctx, key, b)
	case kindStringList:
		items, ok := value.([]any)
		if !ok {
			return errors.New("expects a list of strings")
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return errors.New("expects a list of non-empty strings")
			}
			list = append(list, s)
		}
		return h.Store.SetSettingJSON(ctx, key, list)
	}
	return errors.New("unhandled setting kind")
}

// ListAccounts returns every stored login session. Session cookies are
// never serialized.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

type createAccountRequest struct {
	Name    string `json:"name"`
	Session string `json:"session"`
}

// CreateAccount records a new login session and activates it when it is
// the first one.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if req.Name == "" || !strings.Contains(req.Session, "dbcl2=") {
		respondError(w, http.StatusBadRequest, "name and a dbcl2 session cookie are required")
		return
	}

	ctx := r.Context()
	existing, err := h.Store.ListAccounts(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	id, err := h.Store.CreateAccount(ctx, req.Name, req.Session)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(existing) == 0 {
		if err := h.Store.ActivateAccount(ctx, id); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	account, err := h.Store.GetAccount(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

// ActivateAccount makes one account the active session.
func (h *Handler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed account id")
		return
	}
	if err := h.Store.ActivateAccount(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no such account")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	account, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, account)
}
