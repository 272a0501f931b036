package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/retry"
)

// RawPublisher publishes an encoded payload on a channel.
type RawPublisher interface {
	PublishRaw(ctx context.Context, channel string, payload []byte) error
}

// RedisTransport publishes callback requests on the channel named by the
// url, e.g. redis://room-callbacks.
type RedisTransport struct {
	publisher RawPublisher
}

var _ ports.CallbackTransport = (*RedisTransport)(nil)

func NewRedisTransport(publisher RawPublisher) *RedisTransport {
	return &RedisTransport{publisher: publisher}
}

func (t *RedisTransport) Deliver(ctx context.Context, rawURL string, req domain.CallbackRequest) error {
	channel, err := Channel(rawURL)
	if err != nil {
		return retry.Permanent(err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal callback: %w", err))
	}
	return t.publisher.PublishRaw(ctx, channel, payload)
}

// Channel extracts the pub/sub channel of a redis:// callback url.
func Channel(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}
	channel := u.Host + strings.TrimRight(u.Path, "/")
	if u.Scheme != "redis" || channel == "" {
		return "", fmt.Errorf("invalid redis callback url %q", rawURL)
	}
	return channel, nil
}
