package turn

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/webrtc/v3"
)

// Config is a static TURN server with long-term credentials.
type Config struct {
	Host string
	Port int
	User string
	Pass string
	// TLS adds a turns: url next to the plain one.
	TLS bool
}

func (c Config) Enabled() bool {
	return c.Host != ""
}

// ICEServers returns the ICE servers every PeerCreated carries. It is empty
// when no TURN host is configured.
func ICEServers(c Config) ([]webrtc.ICEServer, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("invalid turn port %d", c.Port)
	}
	if c.User == "" || c.Pass == "" {
		return nil, fmt.Errorf("turn server %s needs a user and a password", c.Host)
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	urls := []string{
		"turn:" + addr + "?transport=udp",
		"turn:" + addr + "?transport=tcp",
	}
	if c.TLS {
		urls = append(urls, "turns:"+addr+"?transport=tcp")
	}

	return []webrtc.ICEServer{{
		URLs:           urls,
		Username:       c.User,
		Credential:     c.Pass,
		CredentialType: webrtc.ICECredentialTypePassword,
	}}, nil
}
