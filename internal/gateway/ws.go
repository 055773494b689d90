// ABOUTME: WebSocket transport for the RPC protocol: one client per connection.
// ABOUTME: Requests dispatch concurrently; writes are serialized per connection.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/hearth-gateway/internal/bridge"
	"github.com/2389/hearth-gateway/internal/protocol"
)

// writeTimeout bounds a single frame write; a peer that cannot drain one
// frame in this window is considered gone.
const writeTimeout = 10 * time.Second

// client is one live RPC connection. Frames are read sequentially and
// dispatched on their own goroutines so a blocking wait does not stall the
// connection; all writes funnel through send under the write mutex.
type client struct {
	ws         *websocket.Conn
	remoteAddr string
	gw         *Gateway
	logger     *slog.Logger

	writeMu sync.Mutex

	nodeMu sync.Mutex
	node   *bridge.Connection
}

// send writes a response frame. Write errors close the connection; the
// read loop notices and tears the client down.
func (c *client) send(resp *protocol.Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, resp); err != nil {
		c.logger.Debug("response write failed", "error", err)
		c.ws.Close(websocket.StatusInternalError, "write failed")
	}
}

// sendPush writes a push frame.
func (c *client) sendPush(push *protocol.Push) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, push); err != nil {
		c.logger.Debug("push write failed", "error", err)
	}
}

// SendInvoke implements bridge.Sender: invocations reach the device as
// push frames on its authenticated connection.
func (c *client) SendInvoke(push *protocol.InvokePush) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, &protocol.Push{Event: protocol.MethodNodeInvoke, Payload: push})
}

// remoteIP returns the peer address used for pairing announcements.
func (c *client) remoteIP() string {
	return c.remoteAddr
}

// attachNode marks this connection as an authenticated device channel.
func (c *client) attachNode(conn *bridge.Connection) {
	c.nodeMu.Lock()
	defer c.nodeMu.Unlock()
	c.node = conn
}

// nodeConn returns the attached device connection, if any.
func (c *client) nodeConn() *bridge.Connection {
	c.nodeMu.Lock()
	defer c.nodeMu.Unlock()
	return c.node
}

// handleWS upgrades an HTTP request into an RPC connection and serves it
// until the peer disconnects or the gateway shuts down.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &client{
		ws:         ws,
		remoteAddr: r.RemoteAddr,
		gw:         g,
		logger:     g.logger.With("component", "ws-client", "remote_addr", r.RemoteAddr),
	}
	g.logger.Debug("client connected", "remote_addr", r.RemoteAddr)
	defer func() {
		if conn := c.nodeConn(); conn != nil {
			g.bridge.Unregister(conn)
		}
		ws.Close(websocket.StatusNormalClosure, "")
		g.logger.Debug("client disconnected", "remote_addr", r.RemoteAddr)
	}()

	ctx, cancel := context.WithCancel(g.baseCtx)
	defer cancel()

	// Forward broadcast pushes for the life of the connection.
	subID, pushes := g.broadcaster.Subscribe()
	defer g.broadcaster.Unsubscribe(subID)
	go func() {
		for {
			select {
			case push, ok := <-pushes:
				if !ok {
					return
				}
				c.sendPush(push)
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var req protocol.Request
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		// Dispatch on its own goroutine: waits and invokes may block for
		// their full timeout while other frames keep flowing.
		go func(req protocol.Request) {
			c.send(g.dispatch(ctx, c, &req))
		}(req)
	}
}
