package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Start serves until Shutdown is called.
func (s *GoChatApp) Start() error {
	s.log.Info("starting server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}

	return nil
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
