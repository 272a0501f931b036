package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventRoomStarted  EventType = "room.started"
	EventRoomClosed   EventType = "room.closed"
	EventMemberJoined EventType = "member.joined"
	EventMemberLeft   EventType = "member.left"
)

// Event is a room lifecycle change announced to other instances.
type Event struct {
	Type       EventType            `json:"type"`
	InstanceID string               `json:"instance_id"`
	Timestamp  time.Time            `json:"timestamp"`
	RoomID     domain.RoomID        `json:"room_id"`
	MemberID   domain.MemberID      `json:"member_id,omitempty"`
	Reason     domain.OnLeaveReason `json:"reason,omitempty"`
	Payload    json.RawMessage      `json:"payload,omitempty"`
}

// Publisher is the part of a redis client the bus writes through.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventBus publishes room events over redis pub/sub and lets other
// components publish raw payloads on arbitrary channels.
type EventBus struct {
	client     Publisher
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	now        func() time.Time
}

var _ ports.RoomEventPublisher = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus(
	client Publisher,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
		now:        time.Now,
	}
}

// Channel returns the channel room events go to.
func (eb *EventBus) Channel() string {
	return eb.channel
}

// Encode stamps the event with this instance and marshals it.
func (eb *EventBus) Encode(event *Event) ([]byte, error) {
	event.InstanceID = eb.instanceID
	event.Timestamp = eb.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	data, err := eb.Encode(event)
	if err != nil {
		return err
	}
	if err := eb.PublishRaw(ctx, eb.channel, data); err != nil {
		return err
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room_id", event.RoomID,
		"member_id", event.MemberID,
	)
	return nil
}

// PublishRaw publishes an already encoded payload.
func (eb *EventBus) PublishRaw(ctx context.Context, channel string, payload []byte) error {
	if err := eb.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers events of other instances to handler until ctx ends.
func (eb *EventBus) Subscribe(ctx context.Context, client *redis.Client, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (eb *EventBus) RoomStarted(ctx context.Context, room domain.RoomID) error {
	return eb.Publish(ctx, &Event{Type: EventRoomStarted, RoomID: room})
}

func (eb *EventBus) RoomClosed(ctx context.Context, room domain.RoomID) error {
	return eb.Publish(ctx, &Event{Type: EventRoomClosed, RoomID: room})
}

func (eb *EventBus) MemberJoined(ctx context.Context, member domain.LocalURI) error {
	return eb.Publish(ctx, &Event{
		Type:     EventMemberJoined,
		RoomID:   member.Room,
		MemberID: member.Member,
	})
}

func (eb *EventBus) MemberLeft(ctx context.Context, member domain.LocalURI, reason domain.OnLeaveReason) error {
	return eb.Publish(ctx, &Event{
		Type:     EventMemberLeft,
		RoomID:   member.Room,
		MemberID: member.Member,
		Reason:   reason,
	})
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
