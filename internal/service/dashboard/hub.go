package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// frame 一帧快照，version 用来丢弃比客户端已有更旧的帧
type frame struct {
	version uint64
	data    []byte
}

// hub 管理所有 websocket 连接，只在 run 的 goroutine 中修改 clients
type hub struct {
	logger     *zap.Logger
	current    func() (frame, error)
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan frame
	done       chan struct{}
}

func newHub(current func() (frame, error), logger *zap.Logger) *hub {
	return &hub{
		logger:     logger,
		current:    current,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan frame, 4),
		done:       make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			// 新连接先收到当前快照
			if f, err := h.current(); err == nil {
				c.version = f.version
				c.send <- f.data
			}
			h.logger.Debug("dashboard client connected", zap.String("remote", c.id), zap.Int("total", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("dashboard client disconnected", zap.String("remote", c.id), zap.Int("total", len(h.clients)))
			}
		case f := <-h.broadcast:
			for c := range h.clients {
				if f.version <= c.version {
					continue
				}
				select {
				case c.send <- f.data:
					c.version = f.version
				default:
					// 客户端太慢，断开
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// join 注册成功返回 true，hub 已退出返回 false
func (h *hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) publish(f frame) {
	select {
	case h.broadcast <- f:
	case <-h.done:
	}
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
	id   string
	// 已发送的最新版本，只在 hub.run 中访问
	version uint64
}

// readPump 只用来感知连接断开和处理 pong
func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("dashboard client read failed", zap.String("remote", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func newUpgrader(allowed func(origin string) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed(origin)
		},
	}
}
