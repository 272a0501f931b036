package memory

import (
	"sort"

	"medea/internal/core/domain"
	"medea/internal/core/domain/peer"
	"medea/internal/core/ports"
)

type MemoryPeerRepository struct {
	peers   map[domain.PeerID]peer.StateMachine
	peerIDs Counter[domain.PeerID]
	trackID Counter[domain.TrackID]
}

func NewMemoryPeerRepository() ports.PeerRepository {
	return &MemoryPeerRepository{
		peers: make(map[domain.PeerID]peer.StateMachine),
	}
}

func (r *MemoryPeerRepository) CreatePeers(
	first, second domain.MemberID,
	firstToSecond, secondToFirst []domain.MediaType,
) (*peer.New, *peer.New) {
	firstID := r.peerIDs.Next()
	secondID := r.peerIDs.Next()

	var firstTracks, secondTracks []domain.Track
	for _, media := range firstToSecond {
		send, recv := domain.NewTrackPair(r.trackID.Next(), media, first, second)
		firstTracks = append(firstTracks, send)
		secondTracks = append(secondTracks, recv)
	}
	for _, media := range secondToFirst {
		send, recv := domain.NewTrackPair(r.trackID.Next(), media, second, first)
		secondTracks = append(secondTracks, send)
		firstTracks = append(firstTracks, recv)
	}

	a := peer.NewPeer(firstID, first, secondID, second, firstTracks)
	b := peer.NewPeer(secondID, second, firstID, first, secondTracks)
	r.peers[firstID] = a
	r.peers[secondID] = b
	return a, b
}

// Add stores p, replacing any previous state of the same peer.
func (r *MemoryPeerRepository) Add(p peer.StateMachine) {
	r.peers[p.ID()] = p
}

func (r *MemoryPeerRepository) Get(id domain.PeerID) (peer.StateMachine, error) {
	p, exists := r.peers[id]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	return p, nil
}

func (r *MemoryPeerRepository) Take(id domain.PeerID) (peer.StateMachine, error) {
	p, exists := r.peers[id]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	delete(r.peers, id)
	return p, nil
}

func (r *MemoryPeerRepository) PeersByMember(member domain.MemberID) []peer.StateMachine {
	var out []peer.StateMachine
	for _, p := range r.peers {
		if p.MemberID() == member {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *MemoryPeerRepository) PeerByMembers(member, partner domain.MemberID) (peer.StateMachine, bool) {
	for _, p := range r.peers {
		if p.MemberID() == member && p.PartnerMemberID() == partner {
			return p, true
		}
	}
	return nil, false
}

func (r *MemoryPeerRepository) RemovePeersByMember(member domain.MemberID) map[domain.MemberID][]domain.PeerID {
	var ids []domain.PeerID
	for _, p := range r.PeersByMember(member) {
		ids = append(ids, p.ID())
	}
	return r.RemovePeers(ids...)
}

func (r *MemoryPeerRepository) RemovePeers(ids ...domain.PeerID) map[domain.MemberID][]domain.PeerID {
	removed := make(map[domain.MemberID][]domain.PeerID)
	take := func(id domain.PeerID) (peer.StateMachine, bool) {
		p, ok := r.peers[id]
		if ok {
			delete(r.peers, id)
			removed[p.MemberID()] = append(removed[p.MemberID()], id)
		}
		return p, ok
	}

	for _, id := range ids {
		p, ok := take(id)
		if !ok {
			continue
		}
		take(p.PartnerPeerID())
	}

	for member := range removed {
		list := removed[member]
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	}
	return removed
}

func (r *MemoryPeerRepository) Len() int {
	return len(r.peers)
}

func (r *MemoryPeerRepository) Clear() {
	r.peers = make(map[domain.PeerID]peer.StateMachine)
}
