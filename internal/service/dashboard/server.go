// Package dashboard 只读的状态投影：HTTP 快照、websocket 推送和退出信号
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KNICEX/kryptobot/internal/schedule"
	"github.com/KNICEX/kryptobot/pkg/clock"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var _ schedule.Task = (*Server)(nil)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      Config
	provider SnapshotProvider
	clock    clock.Clock
	logger   *zap.Logger

	router   *mux.Router
	hub      *hub
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

type Option func(s *Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(provider SnapshotProvider, cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = def.PushInterval
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	s := &Server{
		cfg:      cfg,
		provider: provider,
		clock:    clock.Real,
		logger:   zap.NewNop(),
		router:   mux.NewRouter(),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.currentFrame, s.logger)
	s.upgrader = newUpgrader(s.originAllowed)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/quit", s.handleQuit).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Message: r.URL.Path})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Message: r.Method})
	})
}

// Handler 带 CORS 的路由
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Quit 收到退出请求后关闭，只关闭一次
func (s *Server) Quit() <-chan struct{} {
	return s.quit
}

func (s *Server) Name() string {
	return "dashboard"
}

// Run 启动 HTTP 服务和推送循环，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", s.cfg.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.start(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("dashboard listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("dashboard shutdown", zap.Error(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard serve: %w", err)
	}
}

// start 启动 hub 和推送循环，随 ctx 退出
func (s *Server) start(ctx context.Context) {
	go s.hub.run(ctx)
	go s.pushLoop(ctx)
}

// pushLoop 每个推送周期检查一次版本号，变化时广播最新快照
func (s *Server) pushLoop(ctx context.Context) {
	last := s.provider.Version()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.PushInterval):
		}
		if v := s.provider.Version(); v == last {
			continue
		}
		f, err := s.currentFrame()
		if err != nil {
			s.logger.Error("marshal snapshot", zap.Error(err))
			continue
		}
		last = f.version
		s.hub.publish(f)
	}
}

func (s *Server) currentFrame() (frame, error) {
	snap := s.provider.Snapshot()
	data, err := json.Marshal(toSnapshotView(snap))
	if err != nil {
		return frame{}, err
	}
	return frame{version: snap.Version, data: data}, nil
}

func (s *Server) originAllowed(origin string) bool {
	return lo.Contains(s.cfg.AllowedOrigins, "*") || lo.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, toSnapshotView(s.provider.Snapshot()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	s.quitOnce.Do(func() {
		s.logger.Info("quit requested from dashboard", zap.String("remote", r.RemoteAddr))
		close(s.quit)
	})
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "quitting"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("dashboard websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   conn.RemoteAddr().String(),
	}
	if !s.hub.join(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
