package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	defaultMailboxSize  = 64
	defaultDropTimeout  = 2 * time.Second
	eventPublishTimeout = 5 * time.Second
)

// RoomConfig holds the per-process settings every room is started with.
type RoomConfig struct {
	Rpc         RpcDefaults
	IceServers  []webrtc.ICEServer
	ForceRelay  bool
	MailboxSize int
	// DropTimeout bounds the wait for client acks when a room closes.
	DropTimeout time.Duration
}

// RoomDeps are the collaborators of a room. Only Peers is required.
type RoomDeps struct {
	Peers     ports.PeerRepository
	Callbacks ports.CallbackSender
	Events    ports.RoomEventPublisher
	Metrics   ports.SignallingMetrics
	// OnClosed runs on the room goroutine once the room has shut down.
	OnClosed func(id domain.RoomID)
}

// Room is the single writer of one room's state. Every public method is a
// message to the room goroutine; state is never touched from outside it.
type Room struct {
	id           domain.RoomID
	spec         *domain.RoomSpec
	peers        ports.PeerRepository
	participants *participantService
	cfg          RoomConfig
	deps         RoomDeps
	logger       *zap.SugaredLogger

	mailbox chan message
	// self holds messages the room sent to itself; they run before the mailbox.
	self   []message
	done   chan struct{}
	closed bool
}

type message interface{}

type reply[T any] struct {
	value T
	err   error
}

// NewRoom validates spec and starts the room goroutine.
func NewRoom(spec *domain.RoomSpec, cfg RoomConfig, deps RoomDeps, logger *zap.SugaredLogger) (*Room, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if deps.Peers == nil {
		return nil, fmt.Errorf("room %s: peer repository is required", spec.ID)
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.DropTimeout <= 0 {
		cfg.DropTimeout = defaultDropTimeout
	}

	r := &Room{
		id:      spec.ID,
		spec:    spec.Clone(),
		peers:   deps.Peers,
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("room_id", spec.ID),
		mailbox: make(chan message, cfg.MailboxSize),
		done:    make(chan struct{}),
	}
	r.participants = newParticipantService(r.id, cfg.Rpc, r.postReconnectTimeout, r.logger)
	for _, id := range r.spec.MemberIDs() {
		if err := r.participants.Insert(r.spec.Members[id]); err != nil {
			return nil, err
		}
	}

	deps.Metrics.RoomStarted()
	go r.run()

	r.logger.Infow("Room started", "members", len(r.spec.Members))
	return r, nil
}

func (r *Room) ID() domain.RoomID {
	return r.id
}

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) run() {
	defer close(r.done)
	for !r.closed {
		var msg message
		if len(r.self) > 0 {
			msg, r.self = r.self[0], r.self[1:]
		} else {
			msg = <-r.mailbox
		}
		r.handle(msg)
	}
}

func (r *Room) handle(msg message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("Room handler panicked, closing room",
				"message", fmt.Sprintf("%T", msg),
				"panic", rec,
			)
			if !r.closed {
				r.shutdown()
			}
		}
	}()

	switch m := msg.(type) {
	case authorizeMsg:
		r.handleAuthorize(m)
	case connectionEstablishedMsg:
		r.handleConnectionEstablished(m)
	case connectPeersMsg:
		r.handleConnectPeers(m)
	case commandMsg:
		r.handleCommand(m)
	case connectionClosedMsg:
		r.handleConnectionClosed(m)
	case reconnectTimeoutMsg:
		r.handleReconnectTimeout(m)
	case createMemberMsg:
		r.handleCreateMember(m)
	case createEndpointMsg:
		r.handleCreateEndpoint(m)
	case deleteMemberMsg:
		r.handleDeleteMember(m)
	case deleteEndpointMsg:
		r.handleDeleteEndpoint(m)
	case serializeMsg:
		r.handleSerialize(m)
	case applyMsg:
		r.handleApply(m)
	case closeMsg:
		r.handleClose(m)
	default:
		r.logger.Errorw("Unknown room message", "message", fmt.Sprintf("%T", msg))
	}
}

// enqueue schedules msg on this room after the current handler.
func (r *Room) enqueue(msg message) {
	r.self = append(r.self, msg)
}

func (r *Room) post(ctx context.Context, msg message) error {
	select {
	case r.mailbox <- msg:
		return nil
	case <-r.done:
		return domain.NewElementError(domain.ErrRoomClosed, domain.RoomURI(r.id))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ask posts a message built around a reply channel and waits for the answer.
func ask[T any](ctx context.Context, r *Room, build func(chan<- reply[T]) message) (T, error) {
	var zero T
	ch := make(chan reply[T], 1)
	if err := r.post(ctx, build(ch)); err != nil {
		return zero, err
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-r.done:
		select {
		case res := <-ch:
			return res.value, res.err
		default:
			return zero, domain.NewElementError(domain.ErrRoomClosed, domain.RoomURI(r.id))
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func respond[T any](ch chan<- reply[T], value T, err error) {
	if ch != nil {
		ch <- reply[T]{value: value, err: err}
	}
}

func (r *Room) postReconnectTimeout(member domain.MemberID, generation uint64) {
	_ = r.post(context.Background(), reconnectTimeoutMsg{member: member, generation: generation})
}

// Close shuts the room down and waits until it has.
func (r *Room) Close(ctx context.Context) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return closeMsg{reply: ch}
	})
	if err != nil && isRoomClosed(err) {
		return nil
	}
	if err != nil {
		return err
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type closeMsg struct {
	reply chan<- reply[struct{}]
}

func (r *Room) handleClose(m closeMsg) {
	r.shutdown()
	respond(m.reply, struct{}{}, nil)
}

// shutdown drops every connection, clears peers and cancels timers.
func (r *Room) shutdown() {
	r.logger.Infow("Closing room",
		"connections", r.participants.LiveConnections(),
		"peers", r.peers.Len(),
	)

	live := r.participants.LiveConnections()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DropTimeout)
	joined := r.participants.DropConnections(ctx)
	cancel()

	for i := 0; i < live; i++ {
		r.deps.Metrics.ConnectionClosed(domain.ClosedByServer)
	}
	for _, member := range joined {
		r.memberLeft(member, domain.LeaveServerShutdown)
	}

	if n := r.peers.Len(); n > 0 {
		r.peers.Clear()
		r.deps.Metrics.PeersRemoved(n)
	}

	r.closed = true
	r.self = nil
	r.deps.Metrics.RoomClosed()
	if r.deps.OnClosed != nil {
		r.deps.OnClosed(r.id)
	}
	r.logger.Infow("Room closed")
}

// fatal logs err and schedules the room close.
func (r *Room) fatal(err error, keysAndValues ...interface{}) {
	r.logger.Errorw("Unrecoverable room error, closing room",
		append([]interface{}{"error", err}, keysAndValues...)...)
	r.enqueue(closeMsg{})
}

func (r *Room) publishEvent(name string, fn func(ctx context.Context) error) {
	if r.deps.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Warnw("Failed to publish room event", "event", name, "error", err)
		}
	}()
}

func isRoomClosed(err error) bool {
	return err != nil && errors.Is(err, domain.ErrRoomClosed)
}

type noopMetrics struct{}

func (noopMetrics) RoomStarted()                            {}
func (noopMetrics) RoomClosed()                             {}
func (noopMetrics) ConnectionOpened()                       {}
func (noopMetrics) ConnectionClosed(domain.ClosedReason)    {}
func (noopMetrics) PeersCreated(int)                        {}
func (noopMetrics) PeersRemoved(int)                        {}
func (noopMetrics) CommandHandled(string, error)            {}
func (noopMetrics) CallbackSent(domain.CallbackKind, error) {}
