// ABOUTME: HTTP glue between the auth method, the session store and the push registry
// ABOUTME: Login converts Accept into a session; middleware rotates the cookie per request

package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/seaward/pushgate/internal/authflow"
	"github.com/seaward/pushgate/internal/credstore"
	"github.com/seaward/pushgate/internal/push"
	"github.com/seaward/pushgate/internal/session"
)

// maxLoginBody bounds how much of a login request we are willing to read.
const maxLoginBody = 64 << 10

// Identity is what the middleware hands to protected handlers.
type Identity struct {
	UID   string
	Roles []string
}

type contextKey string

const identityContextKey contextKey = "gate_identity"

// IdentityFromContext returns the authenticated identity installed by the
// middleware, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok
}

// Options configures a Gate beyond its three required collaborators.
type Options struct {
	// Users resolves roles for accepted logins. Optional; without it
	// sessions are issued with no roles.
	Users credstore.Store

	// Router receives raw in-socket messages that the Method did not
	// claim, e.g. WebAuthn ceremony responses. Optional.
	Router authflow.ResponseRouter

	// Bearer enables Authorization-header JWTs on protected routes. Optional.
	Bearer *Bearer

	Cookies     CookiePolicy
	TokenPolicy TokenPolicy

	// PromoteRole gates WebSocket promotion; empty admits any session.
	PromoteRole string

	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(*http.Request) bool

	Logger *slog.Logger
}

// Gate wires the authentication flow onto HTTP routes and promotes
// authenticated requests to push-capable WebSocket connections.
type Gate struct {
	sessions *session.Store
	method   authflow.Method
	registry *push.Registry

	users       credstore.Store
	router      authflow.ResponseRouter
	bearer      *Bearer
	cookies     CookiePolicy
	tokenPolicy TokenPolicy
	promoteRole string
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// New creates a Gate. sessions, method and registry are required.
func New(sessions *session.Store, method authflow.Method, registry *push.Registry, opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions:    sessions,
		method:      method,
		registry:    registry,
		users:       opts.Users,
		router:      opts.Router,
		bearer:      opts.Bearer,
		cookies:     opts.Cookies,
		tokenPolicy: opts.TokenPolicy,
		promoteRole: opts.PromoteRole,
		upgrader:    websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		logger:      logger.With("component", "gate"),
	}
}

// clientKey identifies the client across requests of one login exchange.
// The port is stripped: keep-alive connections and reconnects from the
// same host must land on the same pending-auth slot.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleLogin drives one step of the active auth method. Accept issues a
// session and sets the cookie; Challenge asks the client to continue; Reject
// is terminal for this attempt.
func (g *Gate) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxLoginBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	resp := g.method.ProcessMessage(clientKey(r), raw)
	if resp == nil {
		http.Error(w, "not an authentication message", http.StatusBadRequest)
		return
	}

	switch resp.Kind {
	case authflow.KindAccept:
		token, err := g.sessions.Issue(r.RemoteAddr, resp.UID, g.rolesFor(resp.UID))
		if err != nil {
			g.logger.Error("session issue failed", "uid", resp.UID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		g.cookies.Set(w, r, token)
		g.writeResponse(w, http.StatusOK, resp)

	case authflow.KindChallenge:
		g.writeResponse(w, http.StatusAccepted, resp)

	case authflow.KindReject:
		g.writeResponse(w, http.StatusUnauthorized, resp)

	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (g *Gate) rolesFor(uid string) []string {
	if g.users == nil {
		return nil
	}
	rec, ok := g.users.Lookup(uid)
	if !ok {
		return nil
	}
	return rec.Roles
}

func (g *Gate) writeResponse(w http.ResponseWriter, status int, resp *authflow.Response) {
	ct := resp.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	if len(resp.Payload) > 0 {
		w.Write(resp.Payload) //nolint:errcheck
	}
}

// RequireSession protects a route with any live session.
func (g *Gate) RequireSession(next http.Handler) http.Handler {
	return g.RequireRole("", next)
}

// RequireRole protects a route, requiring the session (or bearer token) to
// carry the given role. On every cookie-authenticated request the token is
// consumed and a fresh one is set; replaying an old cookie fails.
func (g *Gate) RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok && g.bearer != nil {
			g.serveBearer(w, r, next, role, token)
			return
		}

		token, ok := g.cookies.Read(r)
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		rot, err := g.sessions.Rotate(token, role)
		if err != nil {
			g.rejectSession(w, r, err)
			return
		}

		g.cookies.Set(w, r, rot.Token)
		ctx := context.WithValue(r.Context(), identityContextKey, &Identity{UID: rot.UID, Roles: rot.Roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) serveBearer(w http.ResponseWriter, r *http.Request, next http.Handler, role, token string) {
	uid, roles, err := g.bearer.Verify(token)
	if err != nil {
		g.logger.Warn("bearer token rejected", "error", err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if !hasRole(roles, role) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ctx := context.WithValue(r.Context(), identityContextKey, &Identity{UID: uid, Roles: roles})
	next.ServeHTTP(w, r.WithContext(ctx))
}

func hasRole(roles []string, required string) bool {
	if required == "" {
		return true
	}
	for _, role := range roles {
		if role == required {
			return true
		}
	}
	return false
}

// rejectSession maps a session error to a response. An insufficient role is
// the one failure that leaves the token live, so the cookie stays.
func (g *Gate) rejectSession(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrInsufficientRole) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.cookies.Clear(w, r)
	http.Error(w, "authentication required", http.StatusUnauthorized)
}

// HandleLogout revokes the session behind the request's cookie and clears
// it. A missing or already-revoked token is not an error.
func (g *Gate) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := g.cookies.Read(r); ok {
		if uid, revoked := g.sessions.Revoke(token); revoked {
			g.logger.Info("logged out", "uid", uid)
		}
	}
	g.cookies.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// PromptReauth pushes a startAuth prompt to a connected client, asking it to
// run the auth exchange again over the open socket.
func (g *Gate) PromptReauth(remoteAddr, uid string) error {
	return g.registry.PushTo(remoteAddr, authflow.StartAuthMessage(uid))
}
