// Package api provides the read-only diagnostics HTTP API.
//
// It exposes the registry's device and scene state, the LAN host
// liveness table and the current transport mode, for dashboards and
// for poking at a live bridge.
//
// The server follows the same lifecycle pattern as the other
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the slice of the device registry the API reads.
type Registry interface {
	Device(deviceNo string) (*registry.Device, bool)
	Devices() []*registry.Device
	Scene(sceneNo string) (*registry.Scene, bool)
	Scenes() []*registry.Scene
	Hosts() []string
	Connected() bool
}

// HostStatus reports LAN host liveness.
type HostStatus interface {
	IsOnline(sequence string) bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry Registry
	Hosts    HostStatus
	Version  string
}

// Server is the diagnostics HTTP server.
type Server struct {
	cfg      config.APIConfig
	log      *logging.Logger
	registry Registry
	hosts    HostStatus
	version  string
	started  time.Time
	server   *http.Server
}

// New creates an API server. It is not listening until Start().
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	return &Server{
		cfg:      deps.Config,
		log:      deps.Logger.With("component", "api"),
		registry: deps.Registry,
		hosts:    deps.Hosts,
		version:  deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("api server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.log.Info("api server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}
