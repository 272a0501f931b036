package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/tracing"
	"medea/pkg/utils"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errProtocol = errors.New("protocol error")

// maxLoggedFrame bounds how much of a bad frame ends up in the log.
const maxLoggedFrame = 128

// Session is one client WebSocket bound to a member. It implements
// ports.RpcConnection: the room pushes events into it and closes it.
type Session struct {
	id         string
	room       domain.RoomID
	member     domain.MemberID
	conn       *websocket.Conn
	signalling ports.SignallingService
	settings   ports.RpcSettings
	cfg        Config
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	send     chan []byte
	closeReq chan domain.CloseReason
	activity chan struct{}
	readErr  chan error

	closeOnce sync.Once
	done      chan struct{}
}

var _ ports.RpcConnection = (*Session)(nil)

func newSession(
	id string,
	room domain.RoomID,
	member domain.MemberID,
	conn *websocket.Conn,
	signalling ports.SignallingService,
	settings ports.RpcSettings,
	cfg Config,
	logger *zap.SugaredLogger,
) *Session {
	var limiter *rate.Limiter
	if cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst)
	}
	return &Session{
		id:         id,
		room:       room,
		member:     member,
		conn:       conn,
		signalling: signalling,
		settings:   settings,
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger.With("room_id", room, "member_id", member, "session_id", id),
		send:       make(chan []byte, cfg.SendQueueSize),
		closeReq:   make(chan domain.CloseReason, 1),
		activity:   make(chan struct{}, 1),
		readErr:    make(chan error, 1),
		done:       make(chan struct{}),
	}
}

func (s *Session) SessionID() string {
	return s.id
}

// SendEvent queues event for the writer. It fails when the queue is full or
// the session is gone.
func (s *Session) SendEvent(event domain.Event) error {
	data, err := domain.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	return s.enqueue(data)
}

func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: session closed", domain.ErrUnableToSendEvent)
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue is full", domain.ErrUnableToSendEvent)
	}
}

// Close asks the writer to close the socket. Only the first reason counts.
func (s *Session) Close(reason domain.CloseReason) {
	select {
	case s.closeReq <- reason:
	default:
	}
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run serves the session until the socket is closed. It reports the close
// to the room after Done is closed.
func (s *Session) run(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	go s.readPump(ctx)

	reason := s.writePump(ctx)

	s.closeOnce.Do(func() { close(s.done) })
	_ = s.conn.Close()

	s.logger.Infow("Session closed", "reason", reason)
	s.signalling.ConnectionClosed(s.room, s.member, s, reason)
}

// writePump owns every write to the socket and decides how the session ends.
func (s *Session) writePump(ctx context.Context) domain.ClosedReason {
	idle := time.NewTimer(s.settings.IdleTimeout)
	defer idle.Stop()

	var pings <-chan time.Time
	if s.settings.PingInterval > 0 {
		ticker := time.NewTicker(s.settings.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.logger.Infow("Failed to write message", "error", err)
				return domain.ClosedDisconnect
			}

		case <-s.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.settings.IdleTimeout)

		case <-idle.C:
			s.logger.Infow("Session idle, closing", "idle_timeout", s.settings.IdleTimeout)
			s.writeClose(domain.CloseIdle)
			return domain.ClosedIdle

		case <-pings:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("Failed to send ping", "error", err)
				return domain.ClosedDisconnect
			}

		case reason := <-s.closeReq:
			s.writeClose(reason)
			return domain.ClosedByServer

		case err := <-s.readErr:
			if errors.Is(err, errProtocol) {
				s.logger.Warnw("Closing session on protocol error", "error", err)
				s.writeClose(domain.CloseProtocolError)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infow("Unexpected session close", "error", err)
			}
			return domain.ClosedDisconnect

		case <-ctx.Done():
			s.writeClose(domain.CloseNormal)
			return domain.ClosedByServer
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) writeClose(reason domain.CloseReason) {
	msg := websocket.FormatCloseMessage(reason.Code(), reason.String())
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
}

func (s *Session) readPump(ctx context.Context) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		if messageType != websocket.TextMessage {
			s.logger.Debugw("Ignoring non-text frame", "type", messageType, "size", len(data))
			continue
		}
		s.touch()

		if err := s.handleMessage(ctx, data); err != nil {
			s.fail(err)
			return
		}
	}
}

// throttle delays the next command until the limiter admits it. Commands are
// never dropped: signalling would stall on a lost SDP or candidate.
func (s *Session) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	r := s.limiter.Reserve()
	delay := r.Delay()
	if !r.OK() || delay > s.cfg.MaxThrottle {
		r.Cancel()
		return fmt.Errorf("%w: command rate limit exceeded", errProtocol)
	}
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (s *Session) fail(err error) {
	select {
	case s.readErr <- err:
	default:
	}
}

func (s *Session) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Session) handleMessage(ctx context.Context, data []byte) error {
	msg, err := domain.ParseClientMessage(data)
	if err != nil {
		return fmt.Errorf("%w: %v (frame %q)", errProtocol, err, utils.TruncateString(string(data), maxLoggedFrame))
	}

	if msg.Ping != nil {
		pong, err := domain.EncodePong(*msg.Ping)
		if err != nil {
			return err
		}
		if err := s.enqueue(pong); err != nil {
			s.logger.Warnw("Failed to queue pong", "ping", *msg.Ping, "error", err)
		}
		return nil
	}

	cmd := msg.Command
	if err := s.throttle(ctx); err != nil {
		return fmt.Errorf("%s for peer %d: %w", cmd.CommandName(), cmd.Peer(), err)
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, cmd.CommandName(), string(s.room), string(s.member))
	defer span.End()

	if err := s.signalling.SendCommand(ctx, s.room, s.member, cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Infow("Command failed",
			"command", cmd.CommandName(),
			"peer_id", cmd.Peer(),
			"error", err,
		)
	}
	return nil
}
