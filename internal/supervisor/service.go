// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// ServiceFunc adapts a plain function to suture.Service.
type ServiceFunc func(ctx context.Context) error

// Serve implements suture.Service.
func (f ServiceFunc) Serve(ctx context.Context) error { return f(ctx) }

// HTTPService runs an http.Server over a pre-bound listener. Binding
// happens before supervision so a busy port fails process startup
// instead of looping in restart backoff.
type HTTPService struct {
	Server   *http.Server
	Listener net.Listener
	Log      zerolog.Logger
}

// Serve implements suture.Service. Context cancellation triggers a
// graceful shutdown bounded by the supervisor's timeout.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Server.Serve(s.Listener) }()

	select {
	case <-ctx.Done():
		s.Log.Info().Msg("http server shutting down")
		if err := s.Server.Shutdown(context.Background()); err != nil {
			s.Log.Warn().Err(err).Msg("http shutdown")
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	}
}
