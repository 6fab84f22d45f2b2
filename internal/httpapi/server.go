package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
)

// Server runs the API with access logging, panic recovery and graceful
// shutdown.
type Server struct {
	api  *API
	http *http.Server
}

// NewServer builds the server on the given listen address.
func NewServer(api *API, addr string) *Server {
	h := handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, api.Router()))
	if api.metrics != nil {
		h = api.metrics.WrapHandler("api", h)
	}
	return &Server{
		api: api,
		http: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.api.log.Info("http_listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
