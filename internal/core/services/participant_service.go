package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/utils"

	"go.uber.org/zap"
)

// RpcDefaults are the connection timings used when a member spec leaves them unset.
type RpcDefaults struct {
	IdleTimeout      time.Duration
	ReconnectTimeout time.Duration
	PingInterval     time.Duration
}

type closeOutcome int

const (
	// closeIgnored: the connection was already replaced or dropped.
	closeIgnored closeOutcome = iota
	// closePending: the member may reconnect until its reconnect timer fires.
	closePending
	// closeFinal: the member is gone and its peers must be removed.
	closeFinal
)

type participant struct {
	spec       *domain.MemberSpec
	conn       ports.RpcConnection
	joined     bool
	lastClosed domain.ClosedReason
	reconnect  *time.Timer
	generation uint64
}

func (p *participant) stopTimer() {
	if p.reconnect != nil {
		p.reconnect.Stop()
		p.reconnect = nil
	}
}

// participantService keeps the member roster of one room with their live
// connections and reconnect timers. Only the room actor calls it.
type participantService struct {
	room     domain.RoomID
	members  map[domain.MemberID]*participant
	defaults RpcDefaults
	// expired is called from a timer goroutine and must only post to the room.
	expired func(member domain.MemberID, generation uint64)
	logger  *zap.SugaredLogger
}

func newParticipantService(
	room domain.RoomID,
	defaults RpcDefaults,
	expired func(member domain.MemberID, generation uint64),
	logger *zap.SugaredLogger,
) *participantService {
	return &participantService{
		room:     room,
		members:  make(map[domain.MemberID]*participant),
		defaults: defaults,
		expired:  expired,
		logger:   logger,
	}
}

func (s *participantService) Insert(spec *domain.MemberSpec) error {
	if _, ok := s.members[spec.ID]; ok {
		return domain.NewElementError(domain.ErrMemberExists, domain.MemberURI(s.room, spec.ID))
	}
	s.members[spec.ID] = &participant{spec: spec}
	return nil
}

// Remove drops a member from the roster, closing its connection.
// It reports whether the member had joined.
func (s *participantService) Remove(id domain.MemberID) bool {
	p, ok := s.members[id]
	if !ok {
		return false
	}
	p.stopTimer()
	if p.conn != nil {
		p.conn.Close(domain.CloseNormal)
	}
	delete(s.members, id)
	return p.joined
}

func (s *participantService) Spec(id domain.MemberID) (*domain.MemberSpec, bool) {
	p, ok := s.members[id]
	if !ok {
		return nil, false
	}
	return p.spec, true
}

func (s *participantService) Authorize(id domain.MemberID, credential string) (ports.RpcSettings, error) {
	p, ok := s.members[id]
	if !ok {
		return ports.RpcSettings{}, domain.ErrMemberNotExists
	}
	if !p.spec.Credential.Verify(credential) {
		return ports.RpcSettings{}, domain.ErrInvalidCredentials
	}
	return ports.RpcSettings{
		IdleTimeout:  s.IdleTimeout(id),
		PingInterval: s.PingInterval(id),
	}, nil
}

// ConnectionEstablished binds conn to the member, replacing any previous
// connection. fresh is false when the member comes back within its
// reconnect window or replaces a live connection.
func (s *participantService) ConnectionEstablished(id domain.MemberID, conn ports.RpcConnection) (fresh bool, err error) {
	p, ok := s.members[id]
	if !ok {
		return false, domain.ErrMemberNotExists
	}

	if p.conn != nil && p.conn != conn {
		s.logger.Infow("Replacing member connection",
			"room_id", s.room,
			"member_id", id,
			"old_session", p.conn.SessionID(),
			"new_session", conn.SessionID(),
		)
		p.conn.Close(domain.CloseReplaced)
	}
	p.stopTimer()
	p.generation++

	fresh = !p.joined
	p.conn = conn
	p.joined = true
	return fresh, nil
}

// ConnectionClosed handles a transport that went away.
func (s *participantService) ConnectionClosed(id domain.MemberID, conn ports.RpcConnection, reason domain.ClosedReason) closeOutcome {
	p, ok := s.members[id]
	if !ok || p.conn == nil || p.conn != conn {
		return closeIgnored
	}
	p.conn = nil
	p.lastClosed = reason

	if !reason.Reconnectable() {
		return closeFinal
	}
	s.startReconnectTimer(id, p)
	return closePending
}

// ConnectionLost closes the member's connection after a failed send and starts
// the reconnect window. It reports whether a connection was dropped.
func (s *participantService) ConnectionLost(id domain.MemberID) bool {
	p, ok := s.members[id]
	if !ok || p.conn == nil {
		return false
	}
	p.conn.Close(domain.CloseNormal)
	p.conn = nil
	p.lastClosed = domain.ClosedLost
	s.startReconnectTimer(id, p)
	return true
}

func (s *participantService) startReconnectTimer(id domain.MemberID, p *participant) {
	p.stopTimer()
	p.generation++
	generation := p.generation
	timeout := s.ReconnectTimeout(id)

	s.logger.Debugw("Reconnect window started",
		"room_id", s.room,
		"member_id", id,
		"timeout", timeout,
		"reason", p.lastClosed,
	)
	p.reconnect = time.AfterFunc(timeout, func() {
		s.expired(id, generation)
	})
}

// ReconnectExpired validates a reconnect timer expiry. It returns the reason
// the member was last disconnected and true when the member must be finalized.
func (s *participantService) ReconnectExpired(id domain.MemberID, generation uint64) (domain.ClosedReason, bool) {
	p, ok := s.members[id]
	if !ok || p.generation != generation || p.conn != nil || !p.joined {
		return 0, false
	}
	p.reconnect = nil
	return p.lastClosed, true
}

// Finalize forgets the member's session. It reports whether the member had joined.
func (s *participantService) Finalize(id domain.MemberID) bool {
	p, ok := s.members[id]
	if !ok {
		return false
	}
	p.stopTimer()
	p.conn = nil
	joined := p.joined
	p.joined = false
	return joined
}

func (s *participantService) SendEvent(id domain.MemberID, event domain.Event) error {
	p, ok := s.members[id]
	if !ok || p.conn == nil {
		return fmt.Errorf("send %s to %s: %w", event.EventName(), id, domain.ErrConnectionNotExist)
	}
	if err := p.conn.SendEvent(event); err != nil {
		return fmt.Errorf("send %s to %s: %w", event.EventName(), id, err)
	}
	return nil
}

func (s *participantService) IsConnected(id domain.MemberID) bool {
	p, ok := s.members[id]
	return ok && p.conn != nil
}

// Joined returns the members that joined and were not finalized yet.
func (s *participantService) Joined() []domain.MemberID {
	var out []domain.MemberID
	for id, p := range s.members {
		if p.joined {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *participantService) LiveConnections() int {
	n := 0
	for _, p := range s.members {
		if p.conn != nil {
			n++
		}
	}
	return n
}

func (s *participantService) IdleTimeout(id domain.MemberID) time.Duration {
	if p, ok := s.members[id]; ok {
		return utils.DurationOr(p.spec.IdleTimeout, s.defaults.IdleTimeout)
	}
	return s.defaults.IdleTimeout
}

func (s *participantService) ReconnectTimeout(id domain.MemberID) time.Duration {
	if p, ok := s.members[id]; ok {
		return utils.DurationOr(p.spec.ReconnectTimeout, s.defaults.ReconnectTimeout)
	}
	return s.defaults.ReconnectTimeout
}

func (s *participantService) PingInterval(id domain.MemberID) time.Duration {
	if p, ok := s.members[id]; ok {
		return utils.DurationOr(p.spec.PingInterval, s.defaults.PingInterval)
	}
	return s.defaults.PingInterval
}

// DropConnections closes every live connection with Normal, cancels all
// reconnect timers and waits until the transports report closed or ctx ends.
// It returns the members that had joined.
func (s *participantService) DropConnections(ctx context.Context) []domain.MemberID {
	joined := s.Joined()

	var pending []<-chan struct{}
	for _, p := range s.members {
		p.stopTimer()
		p.generation++
		if p.conn != nil {
			p.conn.Close(domain.CloseNormal)
			pending = append(pending, p.conn.Done())
			p.conn = nil
		}
		p.joined = false
	}

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warnw("Timed out waiting for connections to close",
				"room_id", s.room,
				"pending", len(pending),
			)
			return joined
		}
	}
	return joined
}
