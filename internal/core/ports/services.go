package ports

import (
	"context"
	"time"

	"medea/internal/core/domain"
)

// RpcConnection is a live client transport bound to one member.
type RpcConnection interface {
	SessionID() string
	// SendEvent queues an event; it never blocks the caller.
	SendEvent(event domain.Event) error
	// Close asks the transport to close with reason; Done is closed once it has.
	Close(reason domain.CloseReason)
	Done() <-chan struct{}
}

// RpcSettings are the per-member connection timings resolved by the room.
type RpcSettings struct {
	IdleTimeout  time.Duration
	PingInterval time.Duration
}

// SignallingService is what a client session talks to.
type SignallingService interface {
	Authorize(ctx context.Context, room domain.RoomID, member domain.MemberID, credential string) (RpcSettings, error)
	ConnectionEstablished(ctx context.Context, room domain.RoomID, member domain.MemberID, conn RpcConnection) error
	SendCommand(ctx context.Context, room domain.RoomID, member domain.MemberID, cmd domain.Command) error
	ConnectionClosed(room domain.RoomID, member domain.MemberID, conn RpcConnection, reason domain.ClosedReason)
}

// Sids maps member ids to their client connect urls.
type Sids map[domain.MemberID]string

// ControlService is the control plane over every room of the process.
type ControlService interface {
	CreateRoom(ctx context.Context, spec *domain.RoomSpec) (Sids, error)
	CreateMember(ctx context.Context, room domain.RoomID, spec *domain.MemberSpec) (Sids, error)
	CreateEndpoint(ctx context.Context, uri domain.LocalURI, endpoint *domain.EndpointElement) error
	Apply(ctx context.Context, spec *domain.RoomSpec) (Sids, error)
	Delete(ctx context.Context, uris []domain.LocalURI) error
	Get(ctx context.Context, uris []domain.LocalURI) (map[string]domain.Element, error)
}

// CallbackSender delivers on_join / on_leave requests without blocking.
type CallbackSender interface {
	Send(url string, req domain.CallbackRequest)
}

// RoomEventPublisher announces room lifecycle changes to other processes.
type RoomEventPublisher interface {
	RoomStarted(ctx context.Context, room domain.RoomID) error
	RoomClosed(ctx context.Context, room domain.RoomID) error
	MemberJoined(ctx context.Context, member domain.LocalURI) error
	MemberLeft(ctx context.Context, member domain.LocalURI, reason domain.OnLeaveReason) error
}

// SignallingMetrics is the subset of the collector used by the core.
type SignallingMetrics interface {
	RoomStarted()
	RoomClosed()
	ConnectionOpened()
	ConnectionClosed(reason domain.ClosedReason)
	PeersCreated(n int)
	PeersRemoved(n int)
	CommandHandled(command string, err error)
	CallbackSent(kind domain.CallbackKind, err error)
}

// CallbackTransport delivers one callback request to a url of a scheme it serves.
type CallbackTransport interface {
	Deliver(ctx context.Context, url string, req domain.CallbackRequest) error
}

// RoomOwnership makes a room id unique across processes sharing a backend.
type RoomOwnership interface {
	// Claim fails with domain.ErrRoomAlreadyExists when another process owns room.
	Claim(ctx context.Context, room domain.RoomID) error
	Release(ctx context.Context, room domain.RoomID) error
}
