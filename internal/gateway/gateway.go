// ABOUTME: Gateway orchestrator wiring credentials, sessions, auth and push together
// ABOUTME: Manages the HTTP server lifecycle, background sweeps and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/seaward/pushgate/internal/authflow"
	"github.com/seaward/pushgate/internal/config"
	"github.com/seaward/pushgate/internal/credstore"
	"github.com/seaward/pushgate/internal/gate"
	"github.com/seaward/pushgate/internal/push"
	"github.com/seaward/pushgate/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Gateway assembles the pushgate server components: credential store,
// session store, auth method, push registry and the HTTP routes gluing
// them together.
type Gateway struct {
	config   *config.Config
	logger   *slog.Logger
	users    credstore.Store
	sessions *session.Store
	registry *push.Registry
	monitor  *push.Monitor
	gate     *gate.Gate
	method   authflow.Method
	webauthn *authflow.WebAuthnAuthenticator

	mux        *http.ServeMux
	httpServer *http.Server

	// cancelBackground stops the monitor and sweep goroutines.
	cancelBackground context.CancelFunc
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	users, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	g := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		users:    users,
		sessions: session.New(cfg.Session.TTL, logger),
	}

	if err := g.buildMethod(); err != nil {
		return nil, err
	}

	policy, err := push.ParseOverflowPolicy(cfg.Push.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	g.registry = push.NewRegistry(cfg.Push.QueueCapacity, policy, logger)
	g.monitor = push.NewMonitor(g.registry, cfg.Push.PingInterval, logger)

	tokenPolicy, err := gate.ParseTokenPolicy(cfg.Push.TokenPolicy)
	if err != nil {
		return nil, err
	}

	var bearer *gate.Bearer
	if cfg.Auth.JWTSecret != "" {
		bearer = gate.NewBearer([]byte(cfg.Auth.JWTSecret))
	}

	var router authflow.ResponseRouter
	if g.webauthn != nil {
		router = g.webauthn
	}

	g.gate = gate.New(g.sessions, g.method, g.registry, gate.Options{
		Users:  users,
		Router: router,
		Bearer: bearer,
		Cookies: gate.CookiePolicy{
			Name:   cfg.Session.CookieName,
			Path:   cfg.Session.CookiePath,
			Domain: cfg.Session.CookieDomain,
			TTL:    cfg.Session.TTL,
		},
		TokenPolicy: tokenPolicy,
		PromoteRole: cfg.Push.PromoteRole,
		Logger:      logger,
	})

	g.mux = http.NewServeMux()
	g.mux.HandleFunc("/auth/login", g.gate.HandleLogin)
	g.mux.HandleFunc("/auth/logout", g.gate.HandleLogout)
	g.mux.HandleFunc("/ws", g.gate.HandlePromote)
	g.mux.HandleFunc("/health", g.handleHealth)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           g.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (credstore.Store, error) {
	switch cfg.Users.Backend {
	case "sqlite":
		return credstore.NewSQLiteStore(cfg.Users.Path, cfg.Users.MaxAttempts, logger)
	default: // "file"
		return credstore.NewFileStore(cfg.Users.Path, cfg.Users.MaxAttempts, logger)
	}
}

// inertMethod claims no message, so HTTP logins are refused as
// non-authentication traffic. Used for "none" and for "webauthn", where
// ceremonies run through the response router instead of the login endpoint.
type inertMethod struct{}

func (inertMethod) ProcessMessage(client string, raw []byte) *authflow.Response {
	return nil
}

func (g *Gateway) buildMethod() error {
	cfg := g.config
	switch cfg.Auth.Method {
	case "", "shared":
		g.method = authflow.NewSharedSecret(g.users, cfg.Auth.MaxFailed, cfg.Auth.PendingTimeout, g.logger)
	case "always":
		g.method = authflow.AlwaysAccept{}
	case "none":
		g.method = inertMethod{}
	case "webauthn":
		wa, err := authflow.NewWebAuthn(cfg.Auth.RPDisplayName, cfg.Auth.RPID, cfg.Auth.RPOrigins, g.logger)
		if err != nil {
			return fmt.Errorf("initializing webauthn: %w", err)
		}
		if cfg.Auth.CredentialsDB != "" {
			if err := wa.LoadFrom(cfg.Auth.CredentialsDB); err != nil {
				return fmt.Errorf("loading webauthn credentials: %w", err)
			}
		}
		g.webauthn = wa
		// Ceremonies run in-band over promoted sockets; the HTTP login
		// endpoint has nothing to accept.
		g.method = inertMethod{}
	default:
		return fmt.Errorf("unknown auth.method %q", cfg.Auth.Method)
	}
	return nil
}

// Mux exposes the route table so embedding applications can mount their own
// handlers, typically wrapped in Gate().RequireSession.
func (g *Gateway) Mux() *http.ServeMux { return g.mux }

// Gate returns the route-glue layer.
func (g *Gateway) Gate() *gate.Gate { return g.gate }

// Registry returns the push connection registry.
func (g *Gateway) Registry() *push.Registry { return g.registry }

// Users returns the credential store.
func (g *Gateway) Users() credstore.Store { return g.users }

// Authenticator returns the WebAuthn authenticator, or nil when auth.method
// is not "webauthn".
func (g *Gateway) Authenticator() *authflow.WebAuthnAuthenticator { return g.webauthn }

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down gracefully. Returns nil on a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.Addr, err)
	}

	g.startBackground()
	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startBackground launches the liveness monitor and the expiry sweeps.
func (g *Gateway) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancelBackground = cancel

	go g.monitor.Run(ctx)

	sweep := g.config.Session.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	g.sessions.StartSweep(ctx, sweep)

	if ss, ok := g.method.(*authflow.SharedSecret); ok {
		ss.StartSweep(ctx, sweep)
	}
}

func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", g.config.Server.CertFile != "")
		var err error
		if g.config.Server.CertFile != "" {
			err = g.httpServer.ServeTLS(ln, g.config.Server.CertFile, g.config.Server.KeyFile)
		} else {
			err = g.httpServer.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, background goroutines and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.cancelBackground != nil {
		g.cancelBackground()
	}

	if g.webauthn != nil && g.config.Auth.CredentialsDB != "" {
		if err := g.webauthn.SaveTo(g.config.Auth.CredentialsDB); err != nil {
			errs = append(errs, fmt.Errorf("saving webauthn credentials: %w", err))
		}
	}

	if closer, ok := g.users.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
