package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config tunes client sessions. Idle timeout and ping interval come from
// the room per member.
type Config struct {
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxMessageSize int64
	// MessagesPerSecond limits inbound commands per session; zero disables it.
	MessagesPerSecond float64
	Burst             int
	// MaxThrottle is the longest a command waits for the limiter. A client
	// that needs more is closed with a protocol error.
	MaxThrottle time.Duration
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  64,
		MaxMessageSize: 64 * 1024,
		MaxThrottle:    time.Second,
	}
}

type WebSocketServer struct {
	signalling ports.SignallingService
	upgrader   websocket.Upgrader
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session

	logger *zap.SugaredLogger
}

var _ ports.SignalHandler = (*WebSocketServer)(nil)

func NewWebSocketServer(signalling ports.SignallingService, cfg Config, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketServer{
		signalling: signalling,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// RegisterRoutes mounts the client endpoint.
func (s *WebSocketServer) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/:room_id/:member_id/:credentials", s.HandleWebSocket)
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket authorizes the member, upgrades the connection and serves
// the session until it closes.
func (s *WebSocketServer) HandleWebSocket(c *gin.Context) {
	room := domain.RoomID(c.Param("room_id"))
	member := domain.MemberID(c.Param("member_id"))
	credentials := c.Param("credentials")

	settings, err := s.signalling.Authorize(c.Request.Context(), room, member, credentials)
	if err != nil {
		status := authorizeStatus(err)
		s.logger.Infow("Rejected websocket connection",
			"room_id", room,
			"member_id", member,
			"status", status,
			"error", err,
		)
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "room_id", room, "member_id", member, "error", err)
		return
	}

	session := newSession(utils.GenerateSessionID(), room, member, conn, s.signalling, settings, s.cfg, s.logger)
	if !s.track(session) {
		session.writeClose(domain.CloseNormal)
		_ = conn.Close()
		return
	}
	defer s.untrack(session)

	if err := s.signalling.ConnectionEstablished(s.ctx, room, member, session); err != nil {
		s.logger.Warnw("Failed to bind session", "room_id", room, "member_id", member, "error", err)
		session.writeClose(domain.CloseNormal)
		_ = conn.Close()
		return
	}

	s.logger.Infow("Member connected via WebSocket",
		"room_id", room,
		"member_id", member,
		"session_id", session.SessionID(),
	)
	session.run(s.ctx)
}

func authorizeStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrMemberNotExists):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *WebSocketServer) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[session.SessionID()] = session
	s.wg.Add(1)
	return true
}

func (s *WebSocketServer) untrack(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session.SessionID())
	s.mu.Unlock()
	s.wg.Done()
}

// Sessions returns the number of open sessions.
func (s *WebSocketServer) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for them until ctx ends.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
