package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medea/internal/core/domain"
	"medea/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errSendFailed = errors.New("socket buffer is full")

type fakeConn struct {
	id   string
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	events  []domain.Event
	closed  []domain.CloseReason
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, done: make(chan struct{})}
}

func (c *fakeConn) SessionID() string { return c.id }

func (c *fakeConn) SendEvent(event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close(reason domain.CloseReason) {
	c.mu.Lock()
	c.closed = append(c.closed, reason)
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *fakeConn) CloseReasons() []domain.CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CloseReason(nil), c.closed...)
}

// lastEvent returns the last event sent to c as T.
func lastEvent[T domain.Event](t *testing.T, c *fakeConn) T {
	t.Helper()
	events := c.Events()
	require.NotEmpty(t, events, "no events sent to %s", c.id)
	ev, ok := events[len(events)-1].(T)
	require.True(t, ok, "last event of %s is %T", c.id, events[len(events)-1])
	return ev
}

type sentCallback struct {
	url string
	req domain.CallbackRequest
}

type fakeCallbacks struct {
	mu   sync.Mutex
	sent []sentCallback
}

func (f *fakeCallbacks) Send(url string, req domain.CallbackRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCallback{url: url, req: req})
}

func (f *fakeCallbacks) Sent() []sentCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCallback(nil), f.sent...)
}

func (f *fakeCallbacks) kinds() []string {
	var out []string
	for _, s := range f.Sent() {
		kind := string(s.req.Event.Kind)
		if s.req.Event.Reason != "" {
			kind += ":" + string(s.req.Event.Reason)
		}
		out = append(out, s.req.Fid+" "+kind)
	}
	return out
}

const (
	callerPass    = "caller-pass"
	responderPass = "responder-pass"
)

// pubSubSpec is a room where caller publishes and responder plays it.
func pubSubSpec(t *testing.T) *domain.RoomSpec {
	t.Helper()
	spec := domain.NewRoomSpec("room")

	caller := domain.NewMemberSpec("caller", domain.PlainCredential(callerPass))
	caller.OnJoin = "http://callbacks.local/join"
	caller.OnLeave = "http://callbacks.local/leave"
	require.NoError(t, caller.AddPublish(&domain.PublishEndpointSpec{ID: "publish", P2P: domain.P2PAlways}))

	responder := domain.NewMemberSpec("responder", domain.PlainCredential(responderPass))
	responder.OnJoin = "http://callbacks.local/join"
	responder.OnLeave = "http://callbacks.local/leave"
	require.NoError(t, responder.AddPlay(&domain.PlayEndpointSpec{
		ID:  "play",
		Src: domain.EndpointURI("room", "caller", "publish"),
	}))

	require.NoError(t, spec.AddMember(caller))
	require.NoError(t, spec.AddMember(responder))
	return spec
}

func testRoomConfig() RoomConfig {
	return RoomConfig{
		Rpc: RpcDefaults{
			IdleTimeout:      time.Second,
			ReconnectTimeout: time.Minute,
			PingInterval:     time.Second,
		},
		DropTimeout: 100 * time.Millisecond,
	}
}

type roomFixture struct {
	room      *Room
	callbacks *fakeCallbacks
	metrics   *recordingMetrics
}

func startRoom(t *testing.T, spec *domain.RoomSpec, cfg RoomConfig) *roomFixture {
	t.Helper()
	f := &roomFixture{callbacks: &fakeCallbacks{}, metrics: &recordingMetrics{}}
	room, err := NewRoom(spec, cfg, RoomDeps{
		Peers:     memory.NewMemoryPeerRepository(),
		Callbacks: f.callbacks,
		Metrics:   f.metrics,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	f.room = room
	t.Cleanup(func() {
		_ = room.Close(context.Background())
	})
	return f
}

// settle waits until the room has handled everything queued so far.
func (f *roomFixture) settle(t *testing.T) {
	t.Helper()
	_, err := f.room.Serialize(context.Background(), domain.RoomURI(f.room.ID()))
	require.NoError(t, err)
}

func (f *roomFixture) connect(t *testing.T, member domain.MemberID, credential string) *fakeConn {
	t.Helper()
	ctx := context.Background()
	_, err := f.room.Authorize(ctx, member, credential)
	require.NoError(t, err)

	conn := newFakeConn(string(member) + "-" + time.Now().Format("150405.000000000"))
	require.NoError(t, f.room.ConnectionEstablished(ctx, member, conn))
	f.settle(t)
	return conn
}

func (f *roomFixture) command(member domain.MemberID, cmd domain.Command) error {
	return f.room.SendCommand(context.Background(), member, cmd)
}
