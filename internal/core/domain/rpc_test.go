package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"ping":33}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Ping)
		assert.Equal(t, uint64(33), *msg.Ping)
		assert.Nil(t, msg.Command)
	})

	t.Run("offer", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"command":"MakeSdpOffer","peer_id":1,"sdp_offer":"v=0"}`))
		require.NoError(t, err)
		assert.Equal(t, MakeSdpOffer{PeerID: 1, SdpOffer: "v=0"}, msg.Command)
	})

	t.Run("answer", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"command":"MakeSdpAnswer","peer_id":2,"sdp_answer":"v=0"}`))
		require.NoError(t, err)
		assert.Equal(t, MakeSdpAnswer{PeerID: 2, SdpAnswer: "v=0"}, msg.Command)
	})

	t.Run("candidate", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(
			`{"command":"SetIceCandidate","peer_id":1,"candidate":{"candidate":"c1","sdp_m_line_index":0,"sdp_mid":null}}`))
		require.NoError(t, err)
		cmd, ok := msg.Command.(SetIceCandidate)
		require.True(t, ok)
		assert.Equal(t, PeerID(1), cmd.Peer())
		assert.Equal(t, "c1", cmd.Candidate.Candidate)
		require.NotNil(t, cmd.Candidate.SdpMLineIndex)
		assert.Equal(t, uint16(0), *cmd.Candidate.SdpMLineIndex)
		assert.Nil(t, cmd.Candidate.SdpMid)
	})

	for _, raw := range []string{`not json`, `{}`, `{"command":"Teleport","peer_id":1}`, `{"command":"MakeSdpOffer","peer_id":"x"}`} {
		_, err := ParseClientMessage([]byte(raw))
		assert.Error(t, err, raw)
	}

	_, err := ParseClientMessage([]byte(`{"command":"Teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestEncodeEvent(t *testing.T) {
	data, err := EncodeEvent(PeerCreated{
		PeerID: 1,
		Tracks: []Track{{ID: 1, MediaType: MediaAudio, Direction: DirectionSend, Receivers: []MemberID{"callee"}}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event":"PeerCreated","peer_id":1,"sdp_offer":null,"ice_servers":null,"force_relay":false,
		"tracks":[{"id":1,"media_type":"Audio","direction":"Send","receivers":["callee"],"mid":null,"is_muted":false}]
	}`, string(data))

	data, err = EncodeEvent(PeersRemoved{PeerIDs: []PeerID{2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"PeersRemoved","peer_ids":[2]}`, string(data))
}

func TestServerMessage_RoundTrip(t *testing.T) {
	offer := "v=0"
	events := []Event{
		PeerCreated{
			PeerID:     2,
			SdpOffer:   &offer,
			Tracks:     []Track{{ID: 1, MediaType: MediaVideo, Direction: DirectionRecv, Sender: "caller"}},
			ForceRelay: true,
		},
		SdpAnswerMade{PeerID: 1, SdpAnswer: "v=0"},
		IceCandidateDiscovered{PeerID: 2, Candidate: IceCandidate{Candidate: "c"}},
		PeersRemoved{PeerIDs: []PeerID{1, 2}},
	}

	for _, ev := range events {
		t.Run(ev.EventName(), func(t *testing.T) {
			data, err := EncodeEvent(ev)
			require.NoError(t, err)
			msg, err := ParseServerMessage(data)
			require.NoError(t, err)
			assert.Equal(t, ev, msg.Event)
		})
	}
}

func TestPingPong(t *testing.T) {
	data, err := EncodePong(42)
	require.NoError(t, err)
	msg, err := ParseServerMessage(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Pong)
	assert.Equal(t, uint64(42), *msg.Pong)

	data, err = EncodePing(7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ping":7}`, string(data))
}

func TestEncodeCommand(t *testing.T) {
	data, err := EncodeCommand(MakeSdpAnswer{PeerID: 2, SdpAnswer: "v=0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"MakeSdpAnswer","peer_id":2,"sdp_answer":"v=0"}`, string(data))
}

func TestReasons(t *testing.T) {
	assert.Equal(t, CloseCodeNormal, CloseIdle.Code())
	assert.Equal(t, CloseCodeNormal, CloseReplaced.Code())
	assert.Equal(t, CloseCodeProtocolError, CloseProtocolError.Code())
	assert.Equal(t, "Replaced", CloseReplaced.String())

	assert.Equal(t, LeaveDisconnected, ClosedDisconnect.LeaveReason())
	assert.Equal(t, LeaveLostConnection, ClosedIdle.LeaveReason())
	assert.Equal(t, LeaveLostConnection, ClosedLost.LeaveReason())
	assert.Equal(t, LeaveServerShutdown, ClosedByServer.LeaveReason())
	assert.False(t, ClosedByServer.Reconnectable())
	assert.True(t, ClosedIdle.Reconnectable())
}

func TestCallbackRequest(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	join := NewOnJoin(MemberURI("r", "caller"), at)
	assert.Equal(t, "r/caller", join.Fid)
	assert.Equal(t, "2024-01-02T03:04:05Z", join.At)
	assert.Equal(t, CallbackOnJoin, join.Event.Kind)

	leave := NewOnLeave(MemberURI("r", "caller"), LeaveLostConnection, at)
	assert.Equal(t, CallbackOnLeave, leave.Event.Kind)
	assert.Equal(t, LeaveLostConnection, leave.Event.Reason)
}
