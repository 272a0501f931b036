package domain

import (
	"encoding/json"
	"time"
)

// Kinds of serialized elements.
const (
	ElementRoom    = "Room"
	ElementMember  = "Member"
	ElementPublish = "WebRtcPublishEndpoint"
	ElementPlay    = "WebRtcPlayEndpoint"
)

// CredentialElement holds exactly one of Plain or Hash.
type CredentialElement struct {
	Plain string `json:"plain,omitempty" yaml:"plain,omitempty"`
	Hash  string `json:"hash,omitempty" yaml:"hash,omitempty"`
}

type EndpointElement struct {
	Kind       string `json:"kind" yaml:"kind"`
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	P2P        string `json:"p2p,omitempty" yaml:"p2p,omitempty"`
	Src        string `json:"src,omitempty" yaml:"src,omitempty"`
	ForceRelay bool   `json:"force_relay,omitempty" yaml:"force_relay,omitempty"`
}

type MemberElement struct {
	Kind             string                      `json:"kind" yaml:"kind"`
	ID               string                      `json:"id,omitempty" yaml:"id,omitempty"`
	Credentials      *CredentialElement          `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	OnJoin           string                      `json:"on_join,omitempty" yaml:"on_join,omitempty"`
	OnLeave          string                      `json:"on_leave,omitempty" yaml:"on_leave,omitempty"`
	IdleTimeout      string                      `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	ReconnectTimeout string                      `json:"reconnect_timeout,omitempty" yaml:"reconnect_timeout,omitempty"`
	PingInterval     string                      `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
	Pipeline         map[string]*EndpointElement `json:"pipeline" yaml:"pipeline"`
}

type RoomElement struct {
	Kind     string                    `json:"kind" yaml:"kind"`
	ID       string                    `json:"id,omitempty" yaml:"id,omitempty"`
	Pipeline map[string]*MemberElement `json:"pipeline" yaml:"pipeline"`
}

// Element is one node of a Get response; exactly one field is set.
type Element struct {
	Room     *RoomElement
	Member   *MemberElement
	Endpoint *EndpointElement
}

func (e Element) MarshalJSON() ([]byte, error) {
	switch {
	case e.Room != nil:
		return json.Marshal(e.Room)
	case e.Member != nil:
		return json.Marshal(e.Member)
	case e.Endpoint != nil:
		return json.Marshal(e.Endpoint)
	default:
		return []byte("null"), nil
	}
}

// ToSpec parses and validates a room element. id wins over an empty e.ID.
func (e *RoomElement) ToSpec(id RoomID) (*RoomSpec, error) {
	if e.Kind != "" && e.Kind != ElementRoom {
		return nil, BadSpecf("expected kind %s, got %q", ElementRoom, e.Kind)
	}
	if e.ID != "" {
		if id != "" && RoomID(e.ID) != id {
			return nil, BadSpecf("room id %q does not match %q", e.ID, id)
		}
		id = RoomID(e.ID)
	}

	spec := NewRoomSpec(id)
	for memberID, me := range e.Pipeline {
		if me == nil {
			return nil, BadSpecf("member %q is empty", memberID)
		}
		m, err := me.ToSpec(MemberID(memberID))
		if err != nil {
			return nil, err
		}
		if err := spec.AddMember(m); err != nil {
			return nil, err
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// ToSpec parses a member element. Play sources are resolved by the room.
func (e *MemberElement) ToSpec(id MemberID) (*MemberSpec, error) {
	if e.Kind != "" && e.Kind != ElementMember {
		return nil, BadSpecf("expected kind %s, got %q", ElementMember, e.Kind)
	}
	if e.ID != "" {
		if id != "" && MemberID(e.ID) != id {
			return nil, BadSpecf("member id %q does not match %q", e.ID, id)
		}
		id = MemberID(e.ID)
	}

	credential, err := e.Credentials.toCredential()
	if err != nil {
		return nil, BadSpecf("member %q: %v", id, err)
	}
	m := NewMemberSpec(id, credential)
	m.OnJoin = e.OnJoin
	m.OnLeave = e.OnLeave

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"idle_timeout", e.IdleTimeout, &m.IdleTimeout},
		{"reconnect_timeout", e.ReconnectTimeout, &m.ReconnectTimeout},
		{"ping_interval", e.PingInterval, &m.PingInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, BadSpecf("member %q: invalid %s %q", id, d.name, d.raw)
		}
		if v < 0 {
			return nil, BadSpecf("member %q: %s must not be negative", id, d.name)
		}
		*d.dst = v
	}

	for endpointID, ee := range e.Pipeline {
		if ee == nil {
			return nil, BadSpecf("endpoint %q of member %q is empty", endpointID, id)
		}
		if err := ee.AddTo(m, EndpointID(endpointID)); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *CredentialElement) toCredential() (Credential, error) {
	if c == nil {
		return GenerateCredential(), nil
	}
	switch {
	case c.Plain != "" && c.Hash != "":
		return Credential{}, BadSpecf("credentials must be either plain or hash")
	case c.Plain != "":
		return PlainCredential(c.Plain), nil
	case c.Hash != "":
		return HashCredential(c.Hash), nil
	default:
		return Credential{}, BadSpecf("credentials must not be empty")
	}
}

// ToPublish parses a publish endpoint element.
func (e *EndpointElement) ToPublish(id EndpointID) (*PublishEndpointSpec, error) {
	if e.Kind != ElementPublish {
		return nil, BadSpecf("endpoint %q: expected kind %s, got %q", id, ElementPublish, e.Kind)
	}
	id, err := e.resolveID(id)
	if err != nil {
		return nil, err
	}
	p2p := P2PMode(e.P2P)
	if p2p == "" {
		p2p = P2PAlways
	}
	if !p2p.valid() {
		return nil, BadSpecf("endpoint %q has unknown p2p mode %q", id, e.P2P)
	}
	return &PublishEndpointSpec{ID: id, P2P: p2p, ForceRelay: e.ForceRelay}, nil
}

// ToPlay parses a play endpoint element.
func (e *EndpointElement) ToPlay(id EndpointID) (*PlayEndpointSpec, error) {
	if e.Kind != ElementPlay {
		return nil, BadSpecf("endpoint %q: expected kind %s, got %q", id, ElementPlay, e.Kind)
	}
	id, err := e.resolveID(id)
	if err != nil {
		return nil, err
	}
	src, err := ParseLocalURI(e.Src)
	if err != nil {
		return nil, BadSpecf("endpoint %q: %v", id, err)
	}
	return &PlayEndpointSpec{ID: id, Src: src, ForceRelay: e.ForceRelay}, nil
}

// resolveID reconciles the endpoint's own id with the key it is stored under.
func (e *EndpointElement) resolveID(id EndpointID) (EndpointID, error) {
	switch {
	case e.ID == "":
		return id, nil
	case id == "":
		return EndpointID(e.ID), nil
	case EndpointID(e.ID) != id:
		return "", BadSpecf("endpoint id %q does not match %q", e.ID, id)
	}
	return id, nil
}

// AddTo parses the endpoint and adds it to m under id.
func (e *EndpointElement) AddTo(m *MemberSpec, id EndpointID) error {
	switch e.Kind {
	case ElementPublish:
		pub, err := e.ToPublish(id)
		if err != nil {
			return err
		}
		return m.AddPublish(pub)
	case ElementPlay:
		play, err := e.ToPlay(id)
		if err != nil {
			return err
		}
		return m.AddPlay(play)
	default:
		return BadSpecf("endpoint %q has unknown kind %q", id, e.Kind)
	}
}

func NewRoomElement(spec *RoomSpec) *RoomElement {
	e := &RoomElement{
		Kind:     ElementRoom,
		ID:       string(spec.ID),
		Pipeline: make(map[string]*MemberElement, len(spec.Members)),
	}
	for id, m := range spec.Members {
		e.Pipeline[string(id)] = NewMemberElement(m)
	}
	return e
}

func NewMemberElement(m *MemberSpec) *MemberElement {
	e := &MemberElement{
		Kind:             ElementMember,
		ID:               string(m.ID),
		OnJoin:           m.OnJoin,
		OnLeave:          m.OnLeave,
		IdleTimeout:      formatDuration(m.IdleTimeout),
		ReconnectTimeout: formatDuration(m.ReconnectTimeout),
		PingInterval:     formatDuration(m.PingInterval),
		Pipeline:         make(map[string]*EndpointElement, len(m.Publish)+len(m.Play)),
	}
	if m.Credential.Kind == CredentialHash {
		e.Credentials = &CredentialElement{Hash: m.Credential.Value}
	} else {
		e.Credentials = &CredentialElement{Plain: m.Credential.Value}
	}
	for id, pub := range m.Publish {
		e.Pipeline[string(id)] = NewPublishElement(pub)
	}
	for id, play := range m.Play {
		e.Pipeline[string(id)] = NewPlayElement(play)
	}
	return e
}

func NewPublishElement(e *PublishEndpointSpec) *EndpointElement {
	return &EndpointElement{
		Kind:       ElementPublish,
		ID:         string(e.ID),
		P2P:        string(e.P2P),
		ForceRelay: e.ForceRelay,
	}
}

func NewPlayElement(e *PlayEndpointSpec) *EndpointElement {
	return &EndpointElement{
		Kind:       ElementPlay,
		ID:         string(e.ID),
		Src:        e.Src.String(),
		ForceRelay: e.ForceRelay,
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
