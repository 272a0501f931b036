package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RoomServiceConfig configures a RoomService.
type RoomServiceConfig struct {
	// PublicURL is the client facing base url used to build sids, e.g. "wss://example.com".
	PublicURL string
	Room      RoomConfig
}

// RoomService owns every room of the process. It serves both the control
// plane and the client sessions.
type RoomService struct {
	cfg       RoomServiceConfig
	registry  *RoomRegistry
	newPeers  func() ports.PeerRepository
	callbacks ports.CallbackSender
	events    ports.RoomEventPublisher
	metrics   ports.SignallingMetrics
	ownership ports.RoomOwnership
	logger    *zap.SugaredLogger
}

var (
	_ ports.ControlService    = (*RoomService)(nil)
	_ ports.SignallingService = (*RoomService)(nil)
)

// NewRoomService creates a room service. callbacks, events and metrics may be nil.
func NewRoomService(
	cfg RoomServiceConfig,
	registry *RoomRegistry,
	newPeers func() ports.PeerRepository,
	callbacks ports.CallbackSender,
	events ports.RoomEventPublisher,
	metrics ports.SignallingMetrics,
	logger *zap.SugaredLogger,
) *RoomService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RoomService{
		cfg:       cfg,
		registry:  registry,
		newPeers:  newPeers,
		callbacks: callbacks,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// UseOwnership makes CreateRoom claim room ids through o. Call it before serving.
func (s *RoomService) UseOwnership(o ports.RoomOwnership) {
	s.ownership = o
}

func (s *RoomService) room(id domain.RoomID) (*Room, error) {
	room, ok := s.registry.Get(id)
	if !ok {
		return nil, domain.NewElementError(domain.ErrRoomNotFound, domain.RoomURI(id))
	}
	return room, nil
}

// RoomIDs lists running rooms.
func (s *RoomService) RoomIDs() []domain.RoomID {
	return s.registry.IDs()
}

// Sid builds the connect url of a member. Hashed credentials cannot be
// embedded, the client appends its own.
func (s *RoomService) Sid(room domain.RoomID, member *domain.MemberSpec) string {
	base := fmt.Sprintf("%s/ws/%s/%s", strings.TrimRight(s.cfg.PublicURL, "/"), room, member.ID)
	if member.Credential.Kind == domain.CredentialHash {
		return base
	}
	return base + "/" + member.Credential.Value
}

func (s *RoomService) sids(spec *domain.RoomSpec) ports.Sids {
	sids := make(ports.Sids, len(spec.Members))
	for id, member := range spec.Members {
		sids[id] = s.Sid(spec.ID, member)
	}
	return sids
}

// CreateRoom starts a room. It fails with ErrRoomAlreadyExists if the id is taken.
func (s *RoomService) CreateRoom(ctx context.Context, spec *domain.RoomSpec) (ports.Sids, error) {
	ctx, span := tracing.TraceControlOperation(ctx, "create_room", domain.RoomURI(spec.ID).Fid())
	defer span.End()

	if _, ok := s.registry.Get(spec.ID); ok {
		return nil, domain.NewElementError(domain.ErrRoomAlreadyExists, domain.RoomURI(spec.ID))
	}
	if s.ownership != nil {
		if err := s.ownership.Claim(ctx, spec.ID); err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
	}

	var room *Room
	deps := RoomDeps{
		Peers:     s.newPeers(),
		Callbacks: s.callbacks,
		Events:    s.events,
		Metrics:   s.metrics,
		OnClosed: func(id domain.RoomID) {
			s.roomClosed(id, room)
		},
	}
	room, err := NewRoom(spec, s.cfg.Room, deps, s.logger)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.release(ctx, spec.ID)
		return nil, err
	}
	if err := s.registry.Insert(room); err != nil {
		_ = room.Close(ctx)
		return nil, err
	}

	if s.events != nil {
		if err := s.events.RoomStarted(ctx, spec.ID); err != nil {
			s.logger.Warnw("Failed to publish room started", "room_id", spec.ID, "error", err)
		}
	}
	return s.sids(spec), nil
}

// roomClosed runs on the room goroutine, so the claim is gone before Close
// returns and the id can be created again right away.
func (s *RoomService) roomClosed(id domain.RoomID, room *Room) {
	if !s.registry.Remove(id, room) {
		// The room never made it into the registry; CreateRoom cleans up.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	s.release(ctx, id)
	cancel()
	if s.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		defer cancel()
		if err := s.events.RoomClosed(ctx, id); err != nil {
			s.logger.Warnw("Failed to publish room closed", "room_id", id, "error", err)
		}
	}()
}

func (s *RoomService) release(ctx context.Context, id domain.RoomID) {
	if s.ownership == nil {
		return
	}
	if err := s.ownership.Release(ctx, id); err != nil {
		s.logger.Warnw("Failed to release room", "room_id", id, "error", err)
	}
}

// DeleteRoom closes the room and drops it from the registry.
func (s *RoomService) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	room, err := s.room(id)
	if err != nil {
		return err
	}
	if err := room.Close(ctx); err != nil {
		return fmt.Errorf("close room %s: %w", id, err)
	}
	s.registry.Remove(id, room)
	return nil
}

func (s *RoomService) CreateMember(ctx context.Context, roomID domain.RoomID, spec *domain.MemberSpec) (ports.Sids, error) {
	ctx, span := tracing.TraceControlOperation(ctx, "create_member", domain.MemberURI(roomID, spec.ID).Fid())
	defer span.End()

	room, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	if err := room.CreateMember(ctx, spec); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return ports.Sids{spec.ID: s.Sid(roomID, spec)}, nil
}

func (s *RoomService) CreateEndpoint(ctx context.Context, uri domain.LocalURI, endpoint *domain.EndpointElement) error {
	ctx, span := tracing.TraceControlOperation(ctx, "create_endpoint", uri.Fid())
	defer span.End()

	if uri.Kind() != domain.KindEndpoint {
		return domain.NewElementError(domain.ErrInvalidFid, uri)
	}
	room, err := s.room(uri.Room)
	if err != nil {
		return err
	}
	if err := room.CreateEndpoint(ctx, uri.Member, uri.Endpoint, endpoint); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

// Apply creates the room or reconciles a running one with spec.
func (s *RoomService) Apply(ctx context.Context, spec *domain.RoomSpec) (ports.Sids, error) {
	room, ok := s.registry.Get(spec.ID)
	if !ok {
		return s.CreateRoom(ctx, spec)
	}

	ctx, span := tracing.TraceControlOperation(ctx, "apply", domain.RoomURI(spec.ID).Fid())
	defer span.End()

	applied, err := room.Apply(ctx, spec)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return s.sids(applied), nil
}

// Delete removes rooms, members and endpoints. Every room must exist;
// missing members and endpoints of an existing room are ignored.
func (s *RoomService) Delete(ctx context.Context, uris []domain.LocalURI) error {
	ctx, span := tracing.TraceControlOperation(ctx, "delete", fmt.Sprintf("%d elements", len(uris)))
	defer span.End()

	rooms := make(map[domain.RoomID]*Room)
	for _, uri := range uris {
		room, err := s.room(uri.Room)
		if err != nil {
			return err
		}
		rooms[uri.Room] = room
	}

	deletedRooms := make(map[domain.RoomID]bool)
	for _, uri := range uris {
		if uri.Kind() == domain.KindRoom && !deletedRooms[uri.Room] {
			if err := s.DeleteRoom(ctx, uri.Room); err != nil {
				return err
			}
			deletedRooms[uri.Room] = true
		}
	}

	for _, uri := range uris {
		if deletedRooms[uri.Room] {
			continue
		}
		room := rooms[uri.Room]
		var err error
		switch uri.Kind() {
		case domain.KindMember:
			err = room.DeleteMember(ctx, uri.Member)
		case domain.KindEndpoint:
			err = room.DeleteEndpoint(ctx, uri.Member, uri.Endpoint)
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			return err
		}
	}
	return nil
}

// Get serializes the requested elements keyed by local uri. No uris means every room.
func (s *RoomService) Get(ctx context.Context, uris []domain.LocalURI) (map[string]domain.Element, error) {
	if len(uris) == 0 {
		for _, id := range s.registry.IDs() {
			uris = append(uris, domain.RoomURI(id))
		}
	}

	var (
		mu  sync.Mutex
		out = make(map[string]domain.Element, len(uris))
	)
	rooms := make([]*Room, len(uris))
	for i, uri := range uris {
		room, err := s.room(uri.Room)
		if err != nil {
			return nil, err
		}
		rooms[i] = room
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range uris {
		uri := uri
		room := rooms[i]
		g.Go(func() error {
			el, err := room.Serialize(gctx, uri)
			if err != nil {
				return err
			}
			mu.Lock()
			out[uri.String()] = el
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RoomService) Authorize(ctx context.Context, roomID domain.RoomID, member domain.MemberID, credential string) (ports.RpcSettings, error) {
	room, err := s.room(roomID)
	if err != nil {
		return ports.RpcSettings{}, err
	}
	return room.Authorize(ctx, member, credential)
}

func (s *RoomService) ConnectionEstablished(ctx context.Context, roomID domain.RoomID, member domain.MemberID, conn ports.RpcConnection) error {
	room, err := s.room(roomID)
	if err != nil {
		return err
	}
	return room.ConnectionEstablished(ctx, member, conn)
}

func (s *RoomService) SendCommand(ctx context.Context, roomID domain.RoomID, member domain.MemberID, cmd domain.Command) error {
	ctx, span := tracing.TraceRoomCommand(ctx, cmd.CommandName(), string(roomID), string(member), uint32(cmd.Peer()))
	defer span.End()

	room, err := s.room(roomID)
	if err != nil {
		return err
	}
	if err := room.SendCommand(ctx, member, cmd); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

func (s *RoomService) ConnectionClosed(roomID domain.RoomID, member domain.MemberID, conn ports.RpcConnection, reason domain.ClosedReason) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return
	}
	room.ConnectionClosed(member, conn, reason)
}

// Shutdown closes every room concurrently.
func (s *RoomService) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range s.registry.IDs() {
		room, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			return room.Close(gctx)
		})
	}
	return g.Wait()
}
