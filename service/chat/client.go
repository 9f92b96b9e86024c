package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"fieldgate/logger"
	"fieldgate/module/identity"
	"fieldgate/module/model"
	"fieldgate/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSlowClient = errors.New("send queue full")
)

// ConnConf carries the keepalive and queue limits of one connection.
type ConnConf struct {
	SendQueue    int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
}

func (c *ConnConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 2
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
}

// Client is one authenticated WebSocket session. One reader goroutine (the
// HTTP handler) and one writer goroutine touch the socket; everybody else goes
// through the send queue.
type Client struct {
	ConnID    string
	who       *identity.Identity
	ws        *websocket.Conn
	conf      ConnConf
	createdAt time.Time

	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closing     chan struct{}
	closeReason string
	writerDone  chan struct{}

	log *zap.Logger
}

// NewClient binds a verified identity to a socket. ws may be nil in tests,
// in which case queued frames are read from Outbox.
func NewClient(parent context.Context, connID string, who *identity.Identity, ws *websocket.Conn, conf ConnConf) *Client {
	conf.norm()
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		ConnID:     connID,
		who:        who,
		ws:         ws,
		conf:       conf,
		createdAt:  time.Now(),
		send:       make(chan []byte, conf.SendQueue),
		ctx:        ctx,
		cancel:     cancel,
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		log: logger.With(
			zap.String("conn", connID),
			zap.String("user", who.ID),
			zap.String("kind", string(who.Kind)),
		),
	}
}

func (c *Client) Identity() *identity.Identity { return c.who }

// Context is cancelled when the connection goes away; per-connection tasks
// (the invalidation poller) run under it.
func (c *Client) Context() context.Context { return c.ctx }

func (c *Client) Logger() *zap.Logger { return c.log }

func (c *Client) Outbox() <-chan []byte { return c.send }

// Reply queues ev for this connection only.
func (c *Client) Reply(ev model.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

// enqueue never blocks: a client that cannot keep up is dropped.
func (c *Client) enqueue(b []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.log.Warn("[WS] send queue full, dropping slow client", zap.Int("queue", cap(c.send)))
		c.Close("slow_consumer")
		return ErrSlowClient
	}
}

// Close asks the writer to flush what is queued, send a close frame and shut
// the socket. Safe to call many times from any goroutine.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closing)
		if c.ws == nil {
			c.cancel()
		}
	})
}

func (c *Client) Closed() <-chan struct{} { return c.closing }

// writePump is the only writer of the socket: business frames first, then
// the periodic ping.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		c.cancel()
		close(c.writerDone)
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				c.log.Info("[WS] write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.conf.WriteWait)); err != nil {
				c.log.Info("[WS] ping failed", zap.Error(err))
				return
			}

		case <-c.closing:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason),
				time.Now().Add(c.conf.WriteWait))
			return

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) write(payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// flush drains whatever is already queued, e.g. the force-logout notice.
func (c *Client) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump feeds inbound frames to handle until the peer goes away or the
// connection is closed locally.
func (c *Client) readPump(handle func(model.Frame)) {
	c.ws.SetReadLimit(c.conf.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.log.Info("[WS] peer closed")
			} else {
				c.log.Debug("[WS] read ended", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			c.log.Info("[WS] bad frame", zap.ByteString("sample", sample), zap.Int("len", len(data)))
			_ = c.Reply(model.NewEvent(model.EvError, model.ErrorPayload{Message: "malformed frame", Code: errs.CodeBadRequest}))
			continue
		}
		handle(f)
	}
}
