package distributed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/distributed"

	"go.uber.org/zap"
)

const defaultOwnershipTTL = 30 * time.Second

// RoomOwnership claims room ids in redis so that instances sharing it never
// run the same room twice. Claims are renewed while the room runs.
type RoomOwnership struct {
	locks      *distributed.LockManager
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	held map[domain.RoomID]*distributed.DistributedLock
}

var _ ports.RoomOwnership = (*RoomOwnership)(nil)

func NewRoomOwnership(client distributed.Client, prefix, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *RoomOwnership {
	if ttl <= 0 {
		ttl = defaultOwnershipTTL
	}
	return &RoomOwnership{
		locks:      distributed.NewLockManager(client, prefix),
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
		held:       make(map[domain.RoomID]*distributed.DistributedLock),
	}
}

func (o *RoomOwnership) Claim(ctx context.Context, room domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.held[room]; ok {
		return domain.NewElementError(domain.ErrRoomAlreadyExists, domain.RoomURI(room))
	}

	lock := o.locks.NewLock(string(room), o.instanceID, o.ttl)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("claim room %s: %w", room, err)
	}
	if !acquired {
		owner, _ := distributed.Holder(ctx, o.locks.Client(), lock.Key())
		o.logger.Infow("Room is owned by another instance", "room_id", room, "owner", owner)
		return domain.NewElementError(domain.ErrRoomAlreadyExists, domain.RoomURI(room))
	}

	o.held[room] = lock
	o.logger.Debugw("Room claimed", "room_id", room, "instance_id", o.instanceID)
	return nil
}

// Release drops the claim; unknown rooms are ignored.
func (o *RoomOwnership) Release(ctx context.Context, room domain.RoomID) error {
	o.mu.Lock()
	lock, ok := o.held[room]
	delete(o.held, room)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if err := lock.Unlock(ctx); err != nil {
		return fmt.Errorf("release room %s: %w", room, err)
	}
	return nil
}

// Owner returns the instance currently holding room, empty when unclaimed.
func (o *RoomOwnership) Owner(ctx context.Context, room domain.RoomID) (string, error) {
	return distributed.Holder(ctx, o.locks.Client(), o.locks.Key(string(room)))
}

// Held lists the rooms claimed by this instance.
func (o *RoomOwnership) Held() []domain.RoomID {
	o.mu.Lock()
	defer o.mu.Unlock()
	rooms := make([]domain.RoomID, 0, len(o.held))
	for room := range o.held {
		rooms = append(rooms, room)
	}
	return rooms
}
