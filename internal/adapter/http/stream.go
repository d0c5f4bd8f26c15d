package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/hub"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Operators never send payloads; only control frames are expected.
	maxMessageSize = 512
)

type hello struct {
	Type domain.EventType `json:"type"`
	Name string           `json:"name"`
	Role domain.Role      `json:"role"`
}

func helloFor(caller domain.Caller) hello {
	return hello{Type: domain.EventHello, Name: caller.Name, Role: caller.Role}
}

// stream serves hub events as server-sent events. The session ends when the
// client goes away or the hub drops the subscription; clients resync by
// listing posts.
func (a *API) stream(c *gin.Context) {
	caller := callerFrom(c)
	ctx := c.Request.Context()

	sub, err := a.svc.Subscribe(ctx, caller)
	if err != nil {
		a.fail(c, err, "stream unavailable")
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Render(-1, sse.Event{Event: string(domain.EventHello), Data: helloFor(caller)})
	c.Writer.Flush()

	ticker := time.NewTicker(a.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				a.logStreamEnd("sse", sub)
				return
			}
			c.Render(-1, sse.Event{
				Id:    strconv.FormatUint(ev.Seq, 10),
				Event: string(ev.Type),
				Data:  ev,
			})
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// serveWS serves the same events over a websocket connection.
func (a *API) serveWS(c *gin.Context) {
	caller := callerFrom(c)

	// Hijacked connections outlive the request context, so the session
	// gets its own, cancelled when the read pump sees the peer leave.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	sub, err := a.svc.Subscribe(ctx, caller)
	if err != nil {
		a.fail(c, err, "stream unavailable")
		return
	}
	defer sub.Close()

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	go readPump(conn, cancel)
	a.writePump(ctx, conn, sub, caller)
}

func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // deadline errors surface on read
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *API) writePump(ctx context.Context, conn *websocket.Conn, sub *hub.Subscription, caller domain.Caller) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}
	closeWith := func(code int, reason string) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	}

	if err := write(helloFor(caller)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure, "")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				a.logStreamEnd("websocket", sub)
				code := websocket.CloseGoingAway
				if errors.Is(sub.Err(), hub.ErrSlowSubscriber) {
					code = websocket.CloseTryAgainLater
				}
				closeWith(code, "resync")
				return
			}
			if err := write(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *API) logStreamEnd(transport string, sub *hub.Subscription) {
	a.logger.Info("stream closed by hub", "transport", transport, "reason", sub.Err())
}
