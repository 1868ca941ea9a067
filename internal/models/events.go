// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package models

// Progress is the JSON event pushed verbatim to every WebSocket
// subscriber. Sender is "worker" for lifecycle events and "logger" for
// forwarded worker log records.
type Progress struct {
	Sender  string `json:"sender"`
	Src     string `json:"src,omitempty"`
	Event   string `json:"event,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`
}

// Progress event names.
const (
	EventReady   = "ready"
	EventWorking = "working"
	EventDone    = "done"
	EventError   = "error"
)
