package domain

import (
	"sort"
	"time"

	"medea/pkg/validation"
)

// P2PMode is the peer-to-peer policy of a publish endpoint. Direct peer
// connections are the only transport, so IfPossible behaves like Always and
// Never publishes nothing to its players.
type P2PMode string

const (
	P2PAlways     P2PMode = "Always"
	P2PNever      P2PMode = "Never"
	P2PIfPossible P2PMode = "IfPossible"
)

func (m P2PMode) valid() bool {
	switch m {
	case P2PAlways, P2PNever, P2PIfPossible:
		return true
	}
	return false
}

type PublishEndpointSpec struct {
	ID         EndpointID
	P2P        P2PMode
	ForceRelay bool
}

type PlayEndpointSpec struct {
	ID         EndpointID
	Src        LocalURI
	ForceRelay bool
}

// MemberSpec is the static description of a member. Zero timeouts mean
// "use the server default".
type MemberSpec struct {
	ID               MemberID
	Credential       Credential
	Publish          map[EndpointID]*PublishEndpointSpec
	Play             map[EndpointID]*PlayEndpointSpec
	OnJoin           string
	OnLeave          string
	IdleTimeout      time.Duration
	ReconnectTimeout time.Duration
	PingInterval     time.Duration
}

func NewMemberSpec(id MemberID, credential Credential) *MemberSpec {
	return &MemberSpec{
		ID:         id,
		Credential: credential,
		Publish:    make(map[EndpointID]*PublishEndpointSpec),
		Play:       make(map[EndpointID]*PlayEndpointSpec),
	}
}

// HasEndpoint reports whether id is taken by a publish or a play endpoint.
func (m *MemberSpec) HasEndpoint(id EndpointID) bool {
	if _, ok := m.Publish[id]; ok {
		return true
	}
	_, ok := m.Play[id]
	return ok
}

func (m *MemberSpec) AddPublish(e *PublishEndpointSpec) error {
	if m.HasEndpoint(e.ID) {
		return BadSpecf("duplicate endpoint %q in member %q", e.ID, m.ID)
	}
	m.Publish[e.ID] = e
	return nil
}

func (m *MemberSpec) AddPlay(e *PlayEndpointSpec) error {
	if m.HasEndpoint(e.ID) {
		return BadSpecf("duplicate endpoint %q in member %q", e.ID, m.ID)
	}
	m.Play[e.ID] = e
	return nil
}

// Validate checks the member in isolation: ids, credentials, timeouts and callbacks.
func (m *MemberSpec) Validate() error {
	if err := validation.ValidateElementID("member", string(m.ID)); err != nil {
		return BadSpecf("%v", err)
	}
	if m.Credential.IsZero() {
		return BadSpecf("member %q has an empty credential", m.ID)
	}
	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"idle_timeout", m.IdleTimeout},
		{"reconnect_timeout", m.ReconnectTimeout},
		{"ping_interval", m.PingInterval},
	}
	for _, t := range timeouts {
		if err := validation.ValidateNonNegativeDuration(t.value, t.name); err != nil {
			return BadSpecf("member %q: %v", m.ID, err)
		}
	}
	for _, cb := range []string{m.OnJoin, m.OnLeave} {
		if cb == "" {
			continue
		}
		if err := validation.ValidateCallbackURL(cb); err != nil {
			return BadSpecf("member %q: %v", m.ID, err)
		}
	}
	for id, e := range m.Publish {
		if err := validation.ValidateElementID("endpoint", string(id)); err != nil {
			return BadSpecf("%v", err)
		}
		if !e.P2P.valid() {
			return BadSpecf("endpoint %q has unknown p2p mode %q", id, e.P2P)
		}
	}
	for id := range m.Play {
		if err := validation.ValidateElementID("endpoint", string(id)); err != nil {
			return BadSpecf("%v", err)
		}
	}
	return nil
}

func (m *MemberSpec) Clone() *MemberSpec {
	c := *m
	c.Publish = make(map[EndpointID]*PublishEndpointSpec, len(m.Publish))
	for id, e := range m.Publish {
		ec := *e
		c.Publish[id] = &ec
	}
	c.Play = make(map[EndpointID]*PlayEndpointSpec, len(m.Play))
	for id, e := range m.Play {
		ec := *e
		c.Play[id] = &ec
	}
	return &c
}

// RoomSpec is the static description of a room.
type RoomSpec struct {
	ID      RoomID
	Members map[MemberID]*MemberSpec
}

func NewRoomSpec(id RoomID) *RoomSpec {
	return &RoomSpec{ID: id, Members: make(map[MemberID]*MemberSpec)}
}

func (r *RoomSpec) AddMember(m *MemberSpec) error {
	if _, ok := r.Members[m.ID]; ok {
		return BadSpecf("duplicate member %q in room %q", m.ID, r.ID)
	}
	r.Members[m.ID] = m
	return nil
}

func (r *RoomSpec) Member(id MemberID) (*MemberSpec, bool) {
	m, ok := r.Members[id]
	return m, ok
}

// MemberIDs returns member ids in a stable order.
func (r *RoomSpec) MemberIDs() []MemberID {
	ids := make([]MemberID, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}
	sortMemberIDs(ids)
	return ids
}

// Validate checks every member and that each play source resolves inside this room.
func (r *RoomSpec) Validate() error {
	if err := validation.ValidateElementID("room", string(r.ID)); err != nil {
		return BadSpecf("%v", err)
	}
	for _, id := range r.MemberIDs() {
		if err := r.ValidateMember(r.Members[id]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMember checks m against the room, m may not be inserted yet.
func (r *RoomSpec) ValidateMember(m *MemberSpec) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for id, play := range m.Play {
		if err := r.resolvePlay(m, play); err != nil {
			return BadSpecf("play endpoint %q of member %q: %v", id, m.ID, err)
		}
	}
	return nil
}

func (r *RoomSpec) resolvePlay(owner *MemberSpec, play *PlayEndpointSpec) error {
	src := play.Src
	if src.Kind() != KindEndpoint {
		return BadSpecf("src %s does not point to an endpoint", src)
	}
	if src.Room != r.ID {
		return BadSpecf("src %s points to another room", src)
	}
	publisher, ok := r.Members[src.Member]
	if !ok && src.Member == owner.ID {
		publisher = owner
		ok = true
	}
	if !ok {
		return BadSpecf("src %s points to unknown member", src)
	}
	if _, ok := publisher.Publish[src.Endpoint]; !ok {
		return BadSpecf("src %s points to unknown publish endpoint", src)
	}
	return nil
}

// Publishes reports whether from has a publish endpoint played by to.
func (r *RoomSpec) Publishes(from, to MemberID) bool {
	if from == to {
		return false
	}
	receiver, ok := r.Members[to]
	if !ok {
		return false
	}
	for _, play := range receiver.Play {
		if play.Src.Member == from && r.PeerToPeer(play) {
			return true
		}
	}
	return false
}

// PeerToPeer reports whether play is served by a direct connection to its source.
func (r *RoomSpec) PeerToPeer(play *PlayEndpointSpec) bool {
	publisher, ok := r.Members[play.Src.Member]
	if !ok {
		return false
	}
	pub, ok := publisher.Publish[play.Src.Endpoint]
	return ok && pub.P2P != P2PNever
}

// Receivers returns members playing any of member's publish endpoints.
func (r *RoomSpec) Receivers(member MemberID) []MemberID {
	var out []MemberID
	for _, id := range r.MemberIDs() {
		if r.Publishes(member, id) {
			out = append(out, id)
		}
	}
	return out
}

// Senders returns members whose publish endpoints member plays.
func (r *RoomSpec) Senders(member MemberID) []MemberID {
	var out []MemberID
	for _, id := range r.MemberIDs() {
		if r.Publishes(id, member) {
			out = append(out, id)
		}
	}
	return out
}

// Partners returns every member that has an endpoint relationship with member.
func (r *RoomSpec) Partners(member MemberID) []MemberID {
	seen := make(map[MemberID]struct{})
	var out []MemberID
	for _, id := range append(r.Receivers(member), r.Senders(member)...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortMemberIDs(out)
	return out
}

// DependsOnEndpoint returns the partners whose relationship with member goes
// through the given endpoint: players of a publish endpoint or the source of a play.
func (r *RoomSpec) DependsOnEndpoint(member MemberID, endpoint EndpointID) []MemberID {
	m, ok := r.Members[member]
	if !ok {
		return nil
	}
	if play, ok := m.Play[endpoint]; ok {
		if play.Src.Member == member {
			return nil
		}
		return []MemberID{play.Src.Member}
	}
	if _, ok := m.Publish[endpoint]; !ok {
		return nil
	}
	src := EndpointURI(r.ID, member, endpoint)
	var out []MemberID
	for _, id := range r.MemberIDs() {
		if id == member {
			continue
		}
		for _, play := range r.Members[id].Play {
			if play.Src == src {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// ForceRelay reports whether media between the two members must be relayed.
func (r *RoomSpec) ForceRelay(a, b MemberID) bool {
	for _, pair := range [][2]MemberID{{a, b}, {b, a}} {
		publisher, receiver := pair[0], pair[1]
		rm, ok := r.Members[receiver]
		if !ok {
			continue
		}
		for _, play := range rm.Play {
			if play.Src.Member != publisher {
				continue
			}
			if play.ForceRelay {
				return true
			}
			if pm, ok := r.Members[publisher]; ok {
				if pub, ok := pm.Publish[play.Src.Endpoint]; ok && pub.ForceRelay {
					return true
				}
			}
		}
	}
	return false
}

// RemoveMember deletes the member and every play endpoint sourced from it.
func (r *RoomSpec) RemoveMember(id MemberID) bool {
	m, ok := r.Members[id]
	if !ok {
		return false
	}
	for endpoint := range m.Publish {
		r.removeSinks(EndpointURI(r.ID, id, endpoint))
	}
	delete(r.Members, id)
	return true
}

// RemoveEndpoint deletes an endpoint. Removing a publish endpoint removes its sinks.
func (r *RoomSpec) RemoveEndpoint(member MemberID, endpoint EndpointID) bool {
	m, ok := r.Members[member]
	if !ok {
		return false
	}
	if _, ok := m.Play[endpoint]; ok {
		delete(m.Play, endpoint)
		return true
	}
	if _, ok := m.Publish[endpoint]; ok {
		delete(m.Publish, endpoint)
		r.removeSinks(EndpointURI(r.ID, member, endpoint))
		return true
	}
	return false
}

func (r *RoomSpec) removeSinks(src LocalURI) {
	for _, m := range r.Members {
		for id, play := range m.Play {
			if play.Src == src {
				delete(m.Play, id)
			}
		}
	}
}

func (r *RoomSpec) Clone() *RoomSpec {
	c := NewRoomSpec(r.ID)
	for id, m := range r.Members {
		c.Members[id] = m.Clone()
	}
	return c
}

func sortMemberIDs(ids []MemberID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
