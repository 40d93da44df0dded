// ABOUTME: Promotes an authenticated HTTP request to a push-capable WebSocket
// ABOUTME: Token check happens before the upgrade; a rejected cookie never gets a socket

package gate

import (
	"fmt"
	"net/http"
)

// TokenPolicy selects how promotion treats the session token.
type TokenPolicy int

const (
	// RotatePerRequest consumes the token and hands back a fresh cookie on
	// the upgrade response.
	RotatePerRequest TokenPolicy = iota
	// MatchOnly checks the token without consuming it.
	MatchOnly
)

func (p TokenPolicy) String() string {
	switch p {
	case RotatePerRequest:
		return "rotate"
	case MatchOnly:
		return "matchOnly"
	default:
		return "unknown"
	}
}

// ParseTokenPolicy converts a config string into a policy.
func ParseTokenPolicy(s string) (TokenPolicy, error) {
	switch s {
	case "rotate", "":
		return RotatePerRequest, nil
	case "matchOnly":
		return MatchOnly, nil
	default:
		return 0, fmt.Errorf("unknown token policy %q", s)
	}
}

// HandlePromote validates the session cookie and, on success, upgrades the
// request to a WebSocket registered in the push registry. The socket is not
// re-checked during its lifetime; re-auth happens in-band via startAuth.
func (g *Gate) HandlePromote(w http.ResponseWriter, r *http.Request) {
	token, ok := g.cookies.Read(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var uid string
	responseHeader := http.Header{}

	switch g.tokenPolicy {
	case MatchOnly:
		matched, err := g.sessions.MatchOnly(token, g.promoteRole)
		if err != nil {
			g.rejectSession(w, r, err)
			return
		}
		uid = matched

	default: // RotatePerRequest
		rot, err := g.sessions.Rotate(token, g.promoteRole)
		if err != nil {
			g.rejectSession(w, r, err)
			return
		}
		uid = rot.UID
		responseHeader.Add("Set-Cookie", g.cookies.cookie(r, rot.Token).String())
	}

	ws, err := g.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// Upgrade already wrote the HTTP error. The rotated token (if any)
		// went out with it, so the client is not locked out.
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn, err := g.registry.Register(ws.RemoteAddr().String(), uid)
	if err != nil {
		g.logger.Warn("push registration failed", "remote", ws.RemoteAddr(), "error", err)
		ws.Close()
		return
	}

	g.logger.Info("connection promoted", "remote", ws.RemoteAddr(), "uid", uid)
	go g.serve(ws, conn)
}
