// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package websocket pushes live backup progress to the web UI.
//
// The Hub receives models.Progress events from the scheduler and fans
// them out to every connected client as JSON frames. Events are
// best-effort: a full hub channel or a stalled client drops frames
// rather than slowing the workers down. Clients send nothing of
// substance; their read side only services the ping/pong keepalive.
package websocket
