// Package gateway exposes a running rich presence client to local tools:
// a small REST API, a WebSocket that streams desktop client events and
// accepts presence commands, and the Prometheus scrape endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"discord-rpc/internal/domain"
	gwmw "discord-rpc/internal/infra/middleware"
)

// ErrMethodNotFound is returned for WebSocket requests naming no handler.
var ErrMethodNotFound = errors.New("gateway: method not found")

// RPCHandler handles a single WebSocket method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithRateLimit throttles the REST API per remote host.
func WithRateLimit(cfg gwmw.RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// WithVersion sets the version reported by the status endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the presence gateway.
type Server struct {
	presence       Presence
	clients        sync.Map // connID (uint64) -> *clientConn
	auth           Authenticator
	handlersMu     sync.RWMutex
	handlers       map[string]RPCHandler
	logger         *slog.Logger
	addr           string
	version        string
	metricsHandler http.Handler
	rateLimit      gwmw.RateLimitConfig
	limiter        func(http.Handler) http.Handler
	stopLimiter    context.CancelFunc
	stats          Stats
	startTime      time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
	nextID    atomic.Uint64
}

// NewServer creates a gateway for presence listening on addr.
func NewServer(presence Presence, auth Authenticator, addr string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		presence:  presence,
		auth:      auth,
		handlers:  make(map[string]RPCHandler),
		logger:    logger,
		addr:      addr,
		version:   "dev",
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	var limiterCtx context.Context
	limiterCtx, s.stopLimiter = context.WithCancel(context.Background())
	s.limiter = gwmw.RateLimit(limiterCtx, s.rateLimit)
	registerPresenceHandlers(s)
	return s
}

// RegisterHandler adds a WebSocket method handler. Safe to call
// concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(gwmw.SecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/ws", s.handleUpgrade)
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(s.limiter)
			r.Get("/status", s.handleStatus)
			r.Put("/activity", s.handleSetActivity)
			r.Delete("/activity", s.handleClearActivity)
		})
	})
	return r
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	unsub := s.presence.OnEvent("", func(_ context.Context, n domain.Notification) {
		payload, err := json.Marshal(n)
		if err != nil {
			return
		}
		s.stats.EventsReceived.Add(1)
		s.broadcast(Frame{Type: FrameTypeEvent, Payload: payload})
	})

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.unsubAll = unsub
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every WebSocket and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub, srv := s.unsubAll, s.httpSrv
	s.unsubAll = nil
	s.mu.Unlock()

	s.stopLimiter()
	if unsub != nil {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

type clientKey struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, info)))
	})
}

func clientFrom(ctx context.Context) *ClientInfo {
	if info, ok := ctx.Value(clientKey{}).(*ClientInfo); ok {
		return info
	}
	return &ClientInfo{Name: "unknown"}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	info := clientFrom(r.Context())
	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   info,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", info.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.stats.EventsDropped.Add(1)
			s.logger.Warn("gateway: dropped event for slow client", "client", cc.info.Name)
		}
		return true
	})
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()

	s.stats.Requests.Add(1)
	if !ok {
		s.sendResponse(cc, req.ID, nil, fmt.Errorf("%w: %q", ErrMethodNotFound, req.Method))
		return
	}
	result, err := handler(ctx, cc.info, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		s.stats.RequestErrors.Add(1)
		resp.Error = err.Error()
		resp.Code = errorCode(err)
	}
	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("gateway: dropped response for slow client", "frame_id", id)
	}
}
