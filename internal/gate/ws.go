// ABOUTME: Per-socket read and write pumps bridging gorilla/websocket and the push queue
// ABOUTME: Writer drains the queue; reader feeds auth flow and the client-message hook

package gate

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seaward/pushgate/internal/authflow"
	"github.com/seaward/pushgate/internal/push"
)

const (
	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second

	// readWait is the idle backstop. The liveness monitor's pings flow
	// through the queue, and each pong (or data frame) extends this, so a
	// healthy connection never hits it.
	readWait = 90 * time.Second
)

// serve runs both pumps and tears everything down when either exits.
func (g *Gate) serve(ws *websocket.Conn, conn *push.Connection) {
	addr := conn.RemoteAddr()
	ctx, cancel := context.WithCancel(context.Background())

	go g.writePump(ctx, ws, conn)
	g.readPump(ws, conn)

	cancel()
	g.registry.Remove(addr)
	if closer, ok := g.method.(authflow.ClientCloser); ok {
		closer.ClientClosed(addr)
	}
	if closer, ok := g.router.(authflow.ClientCloser); ok {
		closer.ClientClosed(addr)
	}
	ws.Close()
}

func (g *Gate) writePump(ctx context.Context, ws *websocket.Conn, conn *push.Connection) {
	for {
		msg, ok := conn.Queue().Next(ctx)
		if !ok {
			// Queue closed or promotion torn down. Say goodbye if the
			// socket is still up and let the reader unblock.
			deadline := time.Now().Add(writeWait)
			ws.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			ws.Close()
			return
		}

		ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		messageType := websocket.TextMessage
		if msg.Ping {
			messageType = websocket.PingMessage
		}
		if err := ws.WriteMessage(messageType, msg.Data); err != nil {
			g.logger.Debug("websocket write failed", "remote", conn.RemoteAddr(), "error", err)
			ws.Close()
			return
		}
	}
}

func (g *Gate) readPump(ws *websocket.Conn, conn *push.Connection) {
	addr := conn.RemoteAddr()

	ws.SetReadDeadline(time.Now().Add(readWait)) //nolint:errcheck
	ws.SetPongHandler(func(string) error {
		g.registry.MarkPong(addr)
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				g.logger.Warn("websocket read failed", "remote", addr, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readWait)) //nolint:errcheck
		g.routeInbound(addr, conn.UID(), raw)
	}
}

// routeInbound gives the auth layer first refusal on every inbound message;
// whatever it does not claim goes to the application hook. A malformed
// message never closes the socket.
func (g *Gate) routeInbound(addr, uid string, raw []byte) {
	if resp := g.method.ProcessMessage(addr, raw); resp != nil {
		if err := g.registry.PushTo(addr, resp.Payload); err != nil {
			g.logger.Debug("auth reply dropped", "remote", addr, "error", err)
		}
		return
	}
	if g.router != nil && g.router.HandleClientResponse(uid, raw) {
		return
	}
	g.registry.HandleClientMessage(addr, raw)
}
