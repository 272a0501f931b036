package turn

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICEServers(t *testing.T) {
	servers, err := ICEServers(Config{Host: "turn.example.com", Port: 3478, User: "medea", Pass: "secret", TLS: true})
	require.NoError(t, err)
	require.Len(t, servers, 1)

	assert.Equal(t, []string{
		"turn:turn.example.com:3478?transport=udp",
		"turn:turn.example.com:3478?transport=tcp",
		"turns:turn.example.com:3478?transport=tcp",
	}, servers[0].URLs)
	assert.Equal(t, "medea", servers[0].Username)
	assert.Equal(t, "secret", servers[0].Credential)
	assert.Equal(t, webrtc.ICECredentialTypePassword, servers[0].CredentialType)
}

func TestICEServers_IPv6Host(t *testing.T) {
	servers, err := ICEServers(Config{Host: "::1", Port: 3478, User: "u", Pass: "p"})
	require.NoError(t, err)
	assert.Equal(t, "turn:[::1]:3478?transport=udp", servers[0].URLs[0])
}

func TestICEServers_Disabled(t *testing.T) {
	servers, err := ICEServers(Config{})
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestICEServers_Invalid(t *testing.T) {
	_, err := ICEServers(Config{Host: "turn.example.com", Port: 0})
	assert.Error(t, err)

	_, err = ICEServers(Config{Host: "turn.example.com", Port: 3478})
	assert.Error(t, err, "turn urls need credentials")
}
