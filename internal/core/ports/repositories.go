package ports

import (
	"medea/internal/core/domain"
	"medea/internal/core/domain/peer"
)

// PeerRepository owns every peer of one room. It is not synchronized: the
// room actor is its only user.
type PeerRepository interface {
	// CreatePeers builds and stores a New pair. first sends firstToSecond
	// media to second and second sends secondToFirst media back.
	CreatePeers(first, second domain.MemberID, firstToSecond, secondToFirst []domain.MediaType) (*peer.New, *peer.New)
	Add(p peer.StateMachine)
	Get(id domain.PeerID) (peer.StateMachine, error)
	// Take removes and returns a peer. A state transition takes the old
	// state and adds the new one.
	Take(id domain.PeerID) (peer.StateMachine, error)
	PeersByMember(member domain.MemberID) []peer.StateMachine
	PeerByMembers(member, partner domain.MemberID) (peer.StateMachine, bool)
	// RemovePeersByMember removes every peer of member together with its
	// partner and returns the removed ids grouped by owning member.
	RemovePeersByMember(member domain.MemberID) map[domain.MemberID][]domain.PeerID
	// RemovePeers removes the given peers and their partners.
	RemovePeers(ids ...domain.PeerID) map[domain.MemberID][]domain.PeerID
	Len() int
	Clear()
}
