package services

import (
	"context"
	"reflect"

	"medea/internal/core/domain"
)

type createMemberMsg struct {
	spec  *domain.MemberSpec
	reply chan<- reply[struct{}]
}

type createEndpointMsg struct {
	member   domain.MemberID
	endpoint domain.EndpointID
	element  *domain.EndpointElement
	reply    chan<- reply[struct{}]
}

type deleteMemberMsg struct {
	member domain.MemberID
	reply  chan<- reply[struct{}]
}

type deleteEndpointMsg struct {
	member   domain.MemberID
	endpoint domain.EndpointID
	reply    chan<- reply[struct{}]
}

type serializeMsg struct {
	uri   domain.LocalURI
	reply chan<- reply[domain.Element]
}

type applyMsg struct {
	spec  *domain.RoomSpec
	reply chan<- reply[*domain.RoomSpec]
}

func (r *Room) CreateMember(ctx context.Context, spec *domain.MemberSpec) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return createMemberMsg{spec: spec.Clone(), reply: ch}
	})
	return err
}

func (r *Room) CreateEndpoint(ctx context.Context, member domain.MemberID, endpoint domain.EndpointID, element *domain.EndpointElement) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return createEndpointMsg{member: member, endpoint: endpoint, element: element, reply: ch}
	})
	return err
}

// DeleteMember is a no-op for an unknown member.
func (r *Room) DeleteMember(ctx context.Context, member domain.MemberID) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return deleteMemberMsg{member: member, reply: ch}
	})
	return err
}

// DeleteEndpoint is a no-op for an unknown member or endpoint.
func (r *Room) DeleteEndpoint(ctx context.Context, member domain.MemberID, endpoint domain.EndpointID) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return deleteEndpointMsg{member: member, endpoint: endpoint, reply: ch}
	})
	return err
}

// Serialize returns the element tree rooted at uri.
func (r *Room) Serialize(ctx context.Context, uri domain.LocalURI) (domain.Element, error) {
	return ask(ctx, r, func(ch chan<- reply[domain.Element]) message {
		return serializeMsg{uri: uri, reply: ch}
	})
}

// Apply reconciles the room with spec and returns the resulting spec.
func (r *Room) Apply(ctx context.Context, spec *domain.RoomSpec) (*domain.RoomSpec, error) {
	return ask(ctx, r, func(ch chan<- reply[*domain.RoomSpec]) message {
		return applyMsg{spec: spec, reply: ch}
	})
}

func (r *Room) handleCreateMember(m createMemberMsg) {
	if _, ok := r.spec.Member(m.spec.ID); ok {
		respond(m.reply, struct{}{}, domain.NewElementError(domain.ErrMemberExists, domain.MemberURI(r.id, m.spec.ID)))
		return
	}
	if err := r.spec.ValidateMember(m.spec); err != nil {
		respond(m.reply, struct{}{}, err)
		return
	}
	if err := r.participants.Insert(m.spec); err != nil {
		respond(m.reply, struct{}{}, err)
		return
	}
	r.spec.Members[m.spec.ID] = m.spec

	r.logger.Infow("Member created", "member_id", m.spec.ID)
	respond(m.reply, struct{}{}, nil)
}

func (r *Room) handleCreateEndpoint(m createEndpointMsg) {
	member, ok := r.spec.Member(m.member)
	if !ok {
		respond(m.reply, struct{}{}, domain.NewElementError(domain.ErrMemberNotFound, domain.MemberURI(r.id, m.member)))
		return
	}
	if member.HasEndpoint(m.endpoint) {
		respond(m.reply, struct{}{}, domain.NewElementError(domain.ErrEndpointExists, domain.EndpointURI(r.id, m.member, m.endpoint)))
		return
	}

	candidate := member.Clone()
	if err := m.element.AddTo(candidate, m.endpoint); err != nil {
		respond(m.reply, struct{}{}, err)
		return
	}
	if err := r.spec.ValidateMember(candidate); err != nil {
		respond(m.reply, struct{}{}, err)
		return
	}
	if pub, ok := candidate.Publish[m.endpoint]; ok {
		member.Publish[m.endpoint] = pub
	} else {
		member.Play[m.endpoint] = candidate.Play[m.endpoint]
	}
	respond(m.reply, struct{}{}, nil)

	r.logger.Infow("Endpoint created", "member_id", m.member, "endpoint_id", m.endpoint)
	r.rebuildPairs(m.member, r.spec.DependsOnEndpoint(m.member, m.endpoint))
}

func (r *Room) handleDeleteMember(m deleteMemberMsg) {
	r.removeMember(m.member)
	respond(m.reply, struct{}{}, nil)
}

// removeMember tears down the member's peers, closes its connection and
// drops it from the room spec together with the play endpoints sourced from it.
func (r *Room) removeMember(member domain.MemberID) {
	if _, ok := r.spec.Member(member); !ok {
		return
	}

	r.notifyPeersRemoved(r.peers.RemovePeersByMember(member), member)
	connected := r.participants.IsConnected(member)
	if r.participants.Remove(member) {
		r.memberLeft(member, domain.LeaveServerShutdown)
	}
	if connected {
		r.deps.Metrics.ConnectionClosed(domain.ClosedByServer)
	}
	r.spec.RemoveMember(member)

	r.logger.Infow("Member deleted", "member_id", member)
}

func (r *Room) handleDeleteEndpoint(m deleteEndpointMsg) {
	member, ok := r.spec.Member(m.member)
	if !ok || !member.HasEndpoint(m.endpoint) {
		respond(m.reply, struct{}{}, nil)
		return
	}

	partners := r.spec.DependsOnEndpoint(m.member, m.endpoint)
	r.spec.RemoveEndpoint(m.member, m.endpoint)
	respond(m.reply, struct{}{}, nil)

	r.logger.Infow("Endpoint deleted", "member_id", m.member, "endpoint_id", m.endpoint)
	r.rebuildPairs(m.member, partners)
}

// rebuildPairs drops the pairs between member and partners, then connects
// member again with every connected partner it still has.
func (r *Room) rebuildPairs(member domain.MemberID, partners []domain.MemberID) {
	for _, partner := range partners {
		if p, ok := r.peers.PeerByMembers(member, partner); ok {
			r.notifyPeersRemoved(r.peers.RemovePeers(p.ID()), "")
		}
	}
	if r.participants.IsConnected(member) {
		r.connectAvailablePartners(member)
	}
}

func (r *Room) handleSerialize(m serializeMsg) {
	el, err := r.serialize(m.uri)
	respond(m.reply, el, err)
}

func (r *Room) serialize(uri domain.LocalURI) (domain.Element, error) {
	if uri.Kind() == domain.KindRoom {
		return domain.Element{Room: domain.NewRoomElement(r.spec)}, nil
	}

	member, ok := r.spec.Member(uri.Member)
	if !ok {
		return domain.Element{}, domain.NewElementError(domain.ErrMemberNotFound, domain.MemberURI(r.id, uri.Member))
	}
	if uri.Kind() == domain.KindMember {
		return domain.Element{Member: domain.NewMemberElement(member)}, nil
	}

	if pub, ok := member.Publish[uri.Endpoint]; ok {
		return domain.Element{Endpoint: domain.NewPublishElement(pub)}, nil
	}
	if play, ok := member.Play[uri.Endpoint]; ok {
		return domain.Element{Endpoint: domain.NewPlayElement(play)}, nil
	}
	return domain.Element{}, domain.NewElementError(domain.ErrEndpointNotFound, uri)
}

// handleApply makes the room match spec: extra members are deleted, missing
// ones created and changed ones recreated. Unchanged members keep their
// connections and peers.
func (r *Room) handleApply(m applyMsg) {
	if m.spec.ID != r.id {
		respond(m.reply, nil, domain.BadSpecf("room id %q does not match %q", m.spec.ID, r.id))
		return
	}
	if err := m.spec.Validate(); err != nil {
		respond(m.reply, nil, err)
		return
	}
	desired := m.spec.Clone()

	var kept []domain.MemberID
	for _, id := range r.spec.MemberIDs() {
		want, ok := desired.Members[id]
		if ok && sameMember(r.spec.Members[id], want) {
			kept = append(kept, id)
			continue
		}
		r.removeMember(id)
	}

	for _, id := range desired.MemberIDs() {
		if _, ok := r.spec.Members[id]; ok {
			continue
		}
		spec := desired.Members[id]
		if err := r.participants.Insert(spec); err != nil {
			r.fatal(err, "member_id", id)
			respond(m.reply, nil, err)
			return
		}
		r.spec.Members[id] = spec
		r.logger.Infow("Member created", "member_id", id)
	}

	// Recreating a publisher removed the sinks of kept members.
	for _, id := range kept {
		live := r.spec.Members[id]
		for endpoint, play := range desired.Members[id].Play {
			live.Play[endpoint] = play
		}
	}

	respond(m.reply, r.spec.Clone(), nil)
}

func sameMember(a, b *domain.MemberSpec) bool {
	return reflect.DeepEqual(domain.NewMemberElement(a), domain.NewMemberElement(b))
}
