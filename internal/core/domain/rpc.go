package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// IceCandidate is relayed verbatim between members.
type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SdpMLineIndex *uint16 `json:"sdp_m_line_index"`
	SdpMid        *string `json:"sdp_mid"`
}

// Event is a server to client message.
type Event interface {
	EventName() string
}

type PeerCreated struct {
	PeerID     PeerID             `json:"peer_id"`
	SdpOffer   *string            `json:"sdp_offer"`
	Tracks     []Track            `json:"tracks"`
	IceServers []webrtc.ICEServer `json:"ice_servers"`
	ForceRelay bool               `json:"force_relay"`
}

type SdpAnswerMade struct {
	PeerID    PeerID `json:"peer_id"`
	SdpAnswer string `json:"sdp_answer"`
}

type IceCandidateDiscovered struct {
	PeerID    PeerID       `json:"peer_id"`
	Candidate IceCandidate `json:"candidate"`
}

type PeersRemoved struct {
	PeerIDs []PeerID `json:"peer_ids"`
}

func (PeerCreated) EventName() string            { return "PeerCreated" }
func (SdpAnswerMade) EventName() string          { return "SdpAnswerMade" }
func (IceCandidateDiscovered) EventName() string { return "IceCandidateDiscovered" }
func (PeersRemoved) EventName() string           { return "PeersRemoved" }

// Command is a client to server message addressed to one of the member's peers.
type Command interface {
	CommandName() string
	Peer() PeerID
}

type MakeSdpOffer struct {
	PeerID   PeerID `json:"peer_id"`
	SdpOffer string `json:"sdp_offer"`
}

type MakeSdpAnswer struct {
	PeerID    PeerID `json:"peer_id"`
	SdpAnswer string `json:"sdp_answer"`
}

type SetIceCandidate struct {
	PeerID    PeerID       `json:"peer_id"`
	Candidate IceCandidate `json:"candidate"`
}

func (MakeSdpOffer) CommandName() string    { return "MakeSdpOffer" }
func (MakeSdpAnswer) CommandName() string   { return "MakeSdpAnswer" }
func (SetIceCandidate) CommandName() string { return "SetIceCandidate" }

func (c MakeSdpOffer) Peer() PeerID    { return c.PeerID }
func (c MakeSdpAnswer) Peer() PeerID   { return c.PeerID }
func (c SetIceCandidate) Peer() PeerID { return c.PeerID }

// ClientMessage is one decoded inbound frame: either a ping or a command.
type ClientMessage struct {
	Ping    *uint64
	Command Command
}

// ServerMessage is one decoded outbound frame: either a pong or an event.
type ServerMessage struct {
	Pong  *uint64
	Event Event
}

// ParseClientMessage decodes {"ping":n} or a "command"-tagged object.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var head struct {
		Ping    *uint64 `json:"ping"`
		Command string  `json:"command"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed client message: %w", err)
	}
	if head.Ping != nil {
		return ClientMessage{Ping: head.Ping}, nil
	}

	var cmd Command
	var err error
	switch head.Command {
	case "MakeSdpOffer":
		var c MakeSdpOffer
		err = json.Unmarshal(data, &c)
		cmd = c
	case "MakeSdpAnswer":
		var c MakeSdpAnswer
		err = json.Unmarshal(data, &c)
		cmd = c
	case "SetIceCandidate":
		var c SetIceCandidate
		err = json.Unmarshal(data, &c)
		cmd = c
	case "":
		return ClientMessage{}, fmt.Errorf("%w: message is neither ping nor command", ErrUnknownCommand)
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownCommand, head.Command)
	}
	if err != nil {
		return ClientMessage{}, fmt.Errorf("malformed %s: %w", head.Command, err)
	}
	return ClientMessage{Command: cmd}, nil
}

// ParseServerMessage decodes {"pong":n} or an "event"-tagged object.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	var head struct {
		Pong  *uint64 `json:"pong"`
		Event string  `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ServerMessage{}, fmt.Errorf("malformed server message: %w", err)
	}
	if head.Pong != nil {
		return ServerMessage{Pong: head.Pong}, nil
	}

	var ev Event
	var err error
	switch head.Event {
	case "PeerCreated":
		var e PeerCreated
		err = json.Unmarshal(data, &e)
		ev = e
	case "SdpAnswerMade":
		var e SdpAnswerMade
		err = json.Unmarshal(data, &e)
		ev = e
	case "IceCandidateDiscovered":
		var e IceCandidateDiscovered
		err = json.Unmarshal(data, &e)
		ev = e
	case "PeersRemoved":
		var e PeersRemoved
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return ServerMessage{}, fmt.Errorf("unknown event %q", head.Event)
	}
	if err != nil {
		return ServerMessage{}, fmt.Errorf("malformed %s: %w", head.Event, err)
	}
	return ServerMessage{Event: ev}, nil
}

func EncodeEvent(e Event) ([]byte, error) {
	return encodeTagged("event", e.EventName(), e)
}

func EncodeCommand(c Command) ([]byte, error) {
	return encodeTagged("command", c.CommandName(), c)
}

func EncodePing(n uint64) ([]byte, error) {
	return json.Marshal(map[string]uint64{"ping": n})
}

func EncodePong(n uint64) ([]byte, error) {
	return json.Marshal(map[string]uint64{"pong": n})
}

func encodeTagged(tag, name string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields[tag], _ = json.Marshal(name)
	return json.Marshal(fields)
}

// CloseReason is what the server tells the client when it closes the socket.
type CloseReason int

const (
	// CloseNormal is a server side close, e.g. room shutdown.
	CloseNormal CloseReason = iota
	// CloseReplaced is sent to a connection superseded by a new one.
	CloseReplaced
	// CloseIdle is sent when no frame arrived within the idle timeout.
	CloseIdle
	// CloseProtocolError is sent after an undecodable frame.
	CloseProtocolError
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "Normal"
	case CloseReplaced:
		return "Replaced"
	case CloseIdle:
		return "Idle"
	case CloseProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// WebSocket close codes sent with each reason.
const (
	CloseCodeNormal        = 1000
	CloseCodeProtocolError = 1002
)

func (r CloseReason) Code() int {
	if r == CloseProtocolError {
		return CloseCodeProtocolError
	}
	return CloseCodeNormal
}

// ClosedReason is why a member connection went away, as reported to the room.
type ClosedReason int

const (
	// ClosedDisconnect: the client closed the socket or it dropped.
	ClosedDisconnect ClosedReason = iota
	// ClosedIdle: the idle watchdog fired.
	ClosedIdle
	// ClosedLost: an event could not be delivered.
	ClosedLost
	// ClosedByServer: final, no reconnect window.
	ClosedByServer
)

func (r ClosedReason) String() string {
	switch r {
	case ClosedDisconnect:
		return "Disconnect"
	case ClosedIdle:
		return "Idle"
	case ClosedLost:
		return "Lost"
	case ClosedByServer:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Reconnectable reports whether the member gets a reconnect window.
func (r ClosedReason) Reconnectable() bool {
	return r != ClosedByServer
}

// LeaveReason maps a closed reason onto the OnLeave callback reason.
func (r ClosedReason) LeaveReason() OnLeaveReason {
	switch r {
	case ClosedDisconnect:
		return LeaveDisconnected
	case ClosedIdle, ClosedLost:
		return LeaveLostConnection
	default:
		return LeaveServerShutdown
	}
}
