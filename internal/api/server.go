package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/nerrad567/eufy-bridge/internal/auth"
	"github.com/nerrad567/eufy-bridge/internal/bridge"
	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the orchestrator the API drives.
// *bridge.Bridge implements it.
type Bridge interface {
	Health() bridge.HealthReport
	Dispatch(ctx context.Context, serial string, kind transport.Kind, param int) (transport.Ack, error)
	Refresh(ctx context.Context) (int, error)
}

// Directory is the device view served by the API. *device.Directory
// implements it.
type Directory interface {
	ListAll() []device.Record
	Snapshot(serial string) (device.Record, error)
	Subscribe() *device.Subscription
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Bridge    Bridge
	Directory Directory
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bridge    Bridge
	directory Directory
	auth      *auth.Authenticator
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	tickets  *ticketStore
	limiters cmap.ConcurrentMap[string, *clientLimiter]
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge, directory)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("device directory is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		directory: deps.Directory,
		version:   deps.Version,
		startTime: time.Now(),
		auth: auth.NewAuthenticator(deps.Security.AdminPasswordHash, deps.Security.JWT.Secret,
			time.Duration(deps.Security.JWT.AccessTokenTTL)*time.Minute),
		hub:      NewHub(deps.WS, deps.Logger),
		tickets:  newTicketStore(),
		limiters: cmap.New[*clientLimiter](),
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, streams Directory changes to it and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context bounding the background goroutines
//
// Returns:
//   - error: If the listener cannot be opened (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = ln

	go s.hub.Run(srvCtx)
	go s.streamDirectory(srvCtx)
	go s.cleanupLoop(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// cleanupLoop drops expired WebSocket tickets and idle rate limiters.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.cleanExpired(now)
			s.pruneLimiters(now)
		}
	}
}
