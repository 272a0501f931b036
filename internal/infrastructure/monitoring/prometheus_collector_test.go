package monitoring

import (
	"errors"
	"testing"

	"medea/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_Rooms(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.RoomStarted()
	c.RoomStarted()
	c.RoomClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.roomsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.roomsStarted))
}

func TestPrometheusCollector_ConnectionsAndPeers(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed(domain.ClosedIdle)
	c.PeersCreated(4)
	c.PeersRemoved(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsClosed.WithLabelValues("Idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.peersActive))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.peersCreated))
}

func TestPrometheusCollector_CommandsAndCallbacks(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.CommandHandled("MakeSdpOffer", nil)
	c.CommandHandled("MakeSdpOffer", domain.ErrWrongState)
	c.CallbackSent(domain.CallbackOnJoin, nil)
	c.CallbackSent(domain.CallbackOnLeave, errors.New("timeout"))
	c.BreakerStateChanged("callbacks.local", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("MakeSdpOffer", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("MakeSdpOffer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callbacks.WithLabelValues(string(domain.CallbackOnJoin), "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callbacks.WithLabelValues(string(domain.CallbackOnLeave), "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callbacksState.WithLabelValues("callbacks.local")))

	c.BreakerStateChanged("callbacks.local", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.callbacksState.WithLabelValues("callbacks.local")))
}

func TestPrometheusCollector_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)
	c.RoomStarted()
	c.CommandHandled("SetIceCandidate", nil)

	count, err := testutil.GatherAndCount(reg, "medea_rooms_active", "medea_commands_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}
