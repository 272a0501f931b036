// Package peer holds the SDP negotiation state machine of a single peer.
//
// Every state is its own type and a transition is a method that consumes the
// old state and returns the next one, so an off-graph transition does not compile:
//
//	New ──Start──▶ WaitLocalSdp ──SetLocalSDP──▶ WaitRemoteSdp ──SetRemoteSDP──▶ Stable
//	New ──SetRemoteSDP──▶ WaitLocalHaveRemote ──SetLocalSDP──▶ Stable
//
// Peers reference their partner by id only.
package peer

import (
	"medea/internal/core/domain"
)

// State is a label for logs and metrics. Behaviour switches on the Go type.
type State string

const (
	StateNew                 State = "New"
	StateWaitLocalSdp        State = "WaitLocalSdp"
	StateWaitRemoteSdp       State = "WaitRemoteSdp"
	StateWaitLocalHaveRemote State = "WaitLocalHaveRemote"
	StateStable              State = "Stable"
)

// StateMachine is implemented by the five state types only.
type StateMachine interface {
	ID() domain.PeerID
	MemberID() domain.MemberID
	PartnerPeerID() domain.PeerID
	PartnerMemberID() domain.MemberID
	Tracks() []domain.Track
	IsSender() bool
	LocalSDP() *string
	RemoteSDP() *string
	IceCandidates() []domain.IceCandidate
	State() State

	sealed()
}

type peerContext struct {
	id            domain.PeerID
	member        domain.MemberID
	partnerPeer   domain.PeerID
	partnerMember domain.MemberID
	tracks        []domain.Track
	localSDP      *string
	remoteSDP     *string
	candidates    []domain.IceCandidate
}

type peer struct {
	ctx *peerContext
}

func (p peer) ID() domain.PeerID                { return p.ctx.id }
func (p peer) MemberID() domain.MemberID        { return p.ctx.member }
func (p peer) PartnerPeerID() domain.PeerID     { return p.ctx.partnerPeer }
func (p peer) PartnerMemberID() domain.MemberID { return p.ctx.partnerMember }
func (p peer) LocalSDP() *string                { return p.ctx.localSDP }
func (p peer) RemoteSDP() *string               { return p.ctx.remoteSDP }
func (p peer) sealed()                          {}

// Tracks returns a copy of the track list.
func (p peer) Tracks() []domain.Track {
	out := make([]domain.Track, len(p.ctx.tracks))
	copy(out, p.ctx.tracks)
	return out
}

// IsSender reports whether the peer has at least one Send track.
func (p peer) IsSender() bool {
	for _, t := range p.ctx.tracks {
		if t.Direction == domain.DirectionSend {
			return true
		}
	}
	return false
}

func (p peer) IceCandidates() []domain.IceCandidate {
	out := make([]domain.IceCandidate, len(p.ctx.candidates))
	copy(out, p.ctx.candidates)
	return out
}

// negotiating is shared by every state past New.
type negotiating struct {
	peer
}

// AddIceCandidate buffers a candidate that is relayed to the partner's owner.
func (p negotiating) AddIceCandidate(c domain.IceCandidate) {
	p.ctx.candidates = append(p.ctx.candidates, c)
}

type New struct{ peer }

type WaitLocalSdp struct{ negotiating }

type WaitRemoteSdp struct{ negotiating }

type WaitLocalHaveRemote struct{ negotiating }

type Stable struct{ negotiating }

func (*New) State() State                 { return StateNew }
func (*WaitLocalSdp) State() State        { return StateWaitLocalSdp }
func (*WaitRemoteSdp) State() State       { return StateWaitRemoteSdp }
func (*WaitLocalHaveRemote) State() State { return StateWaitLocalHaveRemote }
func (*Stable) State() State              { return StateStable }

// NewPeer creates a peer in the New state.
func NewPeer(id domain.PeerID, member domain.MemberID, partnerID domain.PeerID, partnerMember domain.MemberID, tracks []domain.Track) *New {
	return &New{peer{ctx: &peerContext{
		id:            id,
		member:        member,
		partnerPeer:   partnerID,
		partnerMember: partnerMember,
		tracks:        tracks,
	}}}
}

// Start marks the peer as the offerer of its pair.
func (p *New) Start() *WaitLocalSdp {
	return &WaitLocalSdp{negotiating{p.peer}}
}

// SetRemoteSDP records the partner's offer.
func (p *New) SetRemoteSDP(offer string) *WaitLocalHaveRemote {
	p.ctx.remoteSDP = &offer
	return &WaitLocalHaveRemote{negotiating{p.peer}}
}

// SetLocalSDP records the offer produced by the client.
func (p *WaitLocalSdp) SetLocalSDP(offer string) *WaitRemoteSdp {
	p.ctx.localSDP = &offer
	return &WaitRemoteSdp{p.negotiating}
}

// SetLocalSDP records the answer produced by the client.
func (p *WaitLocalHaveRemote) SetLocalSDP(answer string) *Stable {
	p.ctx.localSDP = &answer
	return &Stable{p.negotiating}
}

// SetRemoteSDP records the partner's answer.
func (p *WaitRemoteSdp) SetRemoteSDP(answer string) *Stable {
	p.ctx.remoteSDP = &answer
	return &Stable{p.negotiating}
}

// IceCandidateAdder is implemented by every state except New.
type IceCandidateAdder interface {
	StateMachine
	AddIceCandidate(c domain.IceCandidate)
}

// Expect asserts sm is in state T, otherwise it returns a WrongStateError.
// T must be one of the state pointer types.
func Expect[T StateMachine](sm StateMachine) (T, error) {
	p, ok := sm.(T)
	if !ok {
		var want T
		return want, &domain.WrongStateError{
			PeerID:   sm.ID(),
			Expected: string(want.State()),
			Actual:   string(sm.State()),
		}
	}
	return p, nil
}

// SelectOfferer picks the peer that creates the first offer: the one that
// sends media, or the lower id when both do.
func SelectOfferer(a, b *New) (offerer, answerer *New, err error) {
	aSends, bSends := a.IsSender(), b.IsSender()
	switch {
	case aSends && bSends:
		if a.ID() < b.ID() {
			return a, b, nil
		}
		return b, a, nil
	case aSends:
		return a, b, nil
	case bSends:
		return b, a, nil
	default:
		return nil, nil, domain.ErrNoSender
	}
}
