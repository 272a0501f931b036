package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

const roomYAML = `
kind: Room
id: r
pipeline:
  caller:
    kind: Member
    credentials:
      plain: test
    on_join: "http://127.0.0.1:9099/callbacks"
    idle_timeout: 2s
    pipeline:
      pub:
        kind: WebRtcPublishEndpoint
        p2p: Always
  callee:
    kind: Member
    credentials:
      plain: test
    reconnect_timeout: 5s
    pipeline:
      play:
        kind: WebRtcPlayEndpoint
        src: "local://r/caller/pub"
`

func TestRoomElement_ToSpec(t *testing.T) {
	var el RoomElement
	require.NoError(t, yaml.Unmarshal([]byte(roomYAML), &el))

	spec, err := el.ToSpec("")
	require.NoError(t, err)

	assert.Equal(t, RoomID("r"), spec.ID)
	require.Len(t, spec.Members, 2)

	caller := spec.Members["caller"]
	assert.True(t, caller.Credential.Verify("test"))
	assert.Equal(t, 2*time.Second, caller.IdleTimeout)
	assert.Equal(t, "http://127.0.0.1:9099/callbacks", caller.OnJoin)
	assert.Equal(t, P2PAlways, caller.Publish["pub"].P2P)

	callee := spec.Members["callee"]
	assert.Equal(t, 5*time.Second, callee.ReconnectTimeout)
	assert.Equal(t, EndpointURI("r", "caller", "pub"), callee.Play["play"].Src)
}

func TestRoomElement_RoundTrip(t *testing.T) {
	var el RoomElement
	require.NoError(t, yaml.Unmarshal([]byte(roomYAML), &el))
	spec, err := el.ToSpec("r")
	require.NoError(t, err)

	back, err := NewRoomElement(spec).ToSpec("r")
	require.NoError(t, err)
	assert.Equal(t, spec, back)
}

func TestRoomElement_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"wrong kind", `{"kind":"Member","pipeline":{}}`},
		{"id mismatch", `{"kind":"Room","id":"other","pipeline":{}}`},
		{"negative duration", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"idle_timeout":"-1s","pipeline":{}}}}`},
		{"bad duration", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"ping_interval":"soon","pipeline":{}}}}`},
		{"empty credentials", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{},"pipeline":{}}}}`},
		{"both credentials", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x","hash":"y"},"pipeline":{}}}}`},
		{"unknown endpoint kind", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"pipeline":{"e":{"kind":"Relay"}}}}}`},
		{"unresolved play", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"pipeline":{"e":{"kind":"WebRtcPlayEndpoint","src":"local://r/x/y"}}}}}`},
		{"publish id mismatch", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"pipeline":{"e":{"kind":"WebRtcPublishEndpoint","id":"other"}}}}}`},
		{"play id mismatch", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"pipeline":{"p":{"kind":"WebRtcPublishEndpoint"},"e":{"kind":"WebRtcPlayEndpoint","id":"other","src":"local://r/m/p"}}}}}`},
		{"bad play src", `{"kind":"Room","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"pipeline":{"e":{"kind":"WebRtcPlayEndpoint","src":"r/x/y"}}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var el RoomElement
			require.NoError(t, json.Unmarshal([]byte(tt.json), &el))
			_, err := el.ToSpec("r")
			assert.ErrorIs(t, err, ErrBadRoomSpec)
		})
	}
}

func TestEndpointElement_MatchingID(t *testing.T) {
	el := EndpointElement{Kind: ElementPublish, ID: "pub"}

	pub, err := el.ToPublish("pub")
	require.NoError(t, err)
	assert.Equal(t, EndpointID("pub"), pub.ID)

	pub, err = el.ToPublish("")
	require.NoError(t, err)
	assert.Equal(t, EndpointID("pub"), pub.ID)

	_, err = el.ToPublish("other")
	assert.ErrorIs(t, err, ErrBadRoomSpec)
}

func TestMemberElement_GeneratesCredential(t *testing.T) {
	el := MemberElement{Kind: ElementMember}
	m, err := el.ToSpec("m")
	require.NoError(t, err)

	assert.Equal(t, CredentialPlain, m.Credential.Kind)
	assert.Len(t, m.Credential.Value, CredentialLength)
}

func TestElement_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Element{Endpoint: NewPublishElement(&PublishEndpointSpec{ID: "pub", P2P: P2PNever})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"WebRtcPublishEndpoint","id":"pub","p2p":"Never"}`, string(data))

	data, err = json.Marshal(Element{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
