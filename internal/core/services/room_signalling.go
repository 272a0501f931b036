package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"medea/internal/core/domain"
	"medea/internal/core/domain/peer"
	"medea/internal/core/ports"
	"medea/pkg/utils"
)

type authorizeMsg struct {
	member     domain.MemberID
	credential string
	reply      chan<- reply[ports.RpcSettings]
}

type connectionEstablishedMsg struct {
	member domain.MemberID
	conn   ports.RpcConnection
	reply  chan<- reply[struct{}]
}

type connectPeersMsg struct {
	first, second domain.PeerID
}

type commandMsg struct {
	member domain.MemberID
	cmd    domain.Command
	reply  chan<- reply[struct{}]
}

type connectionClosedMsg struct {
	member domain.MemberID
	conn   ports.RpcConnection
	reason domain.ClosedReason
}

type reconnectTimeoutMsg struct {
	member     domain.MemberID
	generation uint64
}

// Authorize checks a member credential and returns its connection settings.
func (r *Room) Authorize(ctx context.Context, member domain.MemberID, credential string) (ports.RpcSettings, error) {
	return ask(ctx, r, func(ch chan<- reply[ports.RpcSettings]) message {
		return authorizeMsg{member: member, credential: credential, reply: ch}
	})
}

// ConnectionEstablished binds conn to member and connects it with available partners.
func (r *Room) ConnectionEstablished(ctx context.Context, member domain.MemberID, conn ports.RpcConnection) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return connectionEstablishedMsg{member: member, conn: conn, reply: ch}
	})
	return err
}

// SendCommand handles a client command on behalf of member.
func (r *Room) SendCommand(ctx context.Context, member domain.MemberID, cmd domain.Command) error {
	_, err := ask(ctx, r, func(ch chan<- reply[struct{}]) message {
		return commandMsg{member: member, cmd: cmd, reply: ch}
	})
	return err
}

// ConnectionClosed reports a closed transport. It is dropped if the room is gone.
func (r *Room) ConnectionClosed(member domain.MemberID, conn ports.RpcConnection, reason domain.ClosedReason) {
	_ = r.post(context.Background(), connectionClosedMsg{member: member, conn: conn, reason: reason})
}

func (r *Room) handleAuthorize(m authorizeMsg) {
	settings, err := r.participants.Authorize(m.member, m.credential)
	if err != nil {
		r.logger.Infow("Member authorization failed",
			"member_id", m.member,
			"error", err,
		)
	}
	respond(m.reply, settings, err)
}

func (r *Room) handleConnectionEstablished(m connectionEstablishedMsg) {
	fresh, err := r.participants.ConnectionEstablished(m.member, m.conn)
	respond(m.reply, struct{}{}, err)
	if err != nil {
		return
	}

	r.deps.Metrics.ConnectionOpened()
	r.logger.Infow("Member connected",
		"member_id", m.member,
		"session_id", m.conn.SessionID(),
		"fresh", fresh,
	)
	if fresh {
		r.memberJoined(m.member)
	}
	r.connectAvailablePartners(m.member)
}

// connectAvailablePartners creates a peer pair with every connected partner
// of member that has none yet.
func (r *Room) connectAvailablePartners(member domain.MemberID) {
	for _, partner := range r.spec.Partners(member) {
		if !r.participants.IsConnected(partner) {
			continue
		}
		if _, ok := r.peers.PeerByMembers(member, partner); ok {
			continue
		}
		r.createPeers(member, partner)
	}
}

func (r *Room) createPeers(a, b domain.MemberID) {
	first, second := a, b
	if !r.spec.Publishes(a, b) {
		first, second = b, a
	}
	p1, p2 := r.peers.CreatePeers(first, second, r.mediaBetween(first, second), r.mediaBetween(second, first))
	r.deps.Metrics.PeersCreated(2)

	r.logger.Debugw("Peers created",
		"member_id", first,
		"peer_id", p1.ID(),
		"partner_member_id", second,
		"partner_peer_id", p2.ID(),
	)
	r.enqueue(connectPeersMsg{first: p1.ID(), second: p2.ID()})
}

// mediaBetween lists the media sent from one member to another: audio and
// video for every play endpoint of to sourced from from.
func (r *Room) mediaBetween(from, to domain.MemberID) []domain.MediaType {
	receiver, ok := r.spec.Member(to)
	if !ok || from == to {
		return nil
	}
	ids := make([]domain.EndpointID, 0, len(receiver.Play))
	for id, play := range receiver.Play {
		if play.Src.Member == from && r.spec.PeerToPeer(play) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var media []domain.MediaType
	for range ids {
		media = append(media, domain.MediaAudio, domain.MediaVideo)
	}
	return media
}

func (r *Room) handleConnectPeers(m connectPeersMsg) {
	first, err := takePeer[*peer.New](r.peers, m.first)
	if err != nil {
		r.fatal(fmt.Errorf("connect peer %d: %w", m.first, err), "peer_id", m.first)
		return
	}
	second, err := takePeer[*peer.New](r.peers, m.second)
	if err != nil {
		r.peers.Add(first)
		r.fatal(fmt.Errorf("connect peer %d: %w", m.second, err), "peer_id", m.second)
		return
	}

	offerer, answerer, err := peer.SelectOfferer(first, second)
	if err != nil {
		r.logger.Errorw("Room spec violation, dropping peer pair",
			"peer_id", m.first,
			"partner_peer_id", m.second,
			"error", err,
		)
		r.deps.Metrics.PeersRemoved(2)
		return
	}

	started := offerer.Start()
	r.peers.Add(started)
	r.peers.Add(answerer)
	r.send(started.MemberID(), r.peerCreated(started, nil))
}

// takePeer removes a peer in state T from peers so it can be replaced by
// its next state. A peer in any other state is put back untouched.
func takePeer[T peer.StateMachine](peers ports.PeerRepository, id domain.PeerID) (T, error) {
	p, err := peers.Take(id)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, err := peer.Expect[T](p)
	if err != nil {
		peers.Add(p)
		return typed, err
	}
	return typed, nil
}

func (r *Room) peerCreated(p peer.StateMachine, offer *string) domain.PeerCreated {
	return domain.PeerCreated{
		PeerID:     p.ID(),
		SdpOffer:   offer,
		Tracks:     p.Tracks(),
		IceServers: r.cfg.IceServers,
		ForceRelay: r.cfg.ForceRelay || r.spec.ForceRelay(p.MemberID(), p.PartnerMemberID()),
	}
}

func (r *Room) handleCommand(m commandMsg) {
	err := r.dispatchCommand(m.member, m.cmd)
	r.deps.Metrics.CommandHandled(m.cmd.CommandName(), err)
	respond(m.reply, struct{}{}, err)
	if err == nil {
		return
	}

	if isFatalCommandError(m.cmd, err) {
		r.fatal(err,
			"member_id", m.member,
			"command", m.cmd.CommandName(),
			"peer_id", m.cmd.Peer(),
		)
		return
	}
	r.logger.Warnw("Command rejected",
		"member_id", m.member,
		"command", m.cmd.CommandName(),
		"peer_id", m.cmd.Peer(),
		"error", err,
	)
}

// isFatalCommandError: missing peers and off-graph SDP transitions leave the
// room in an unknown state. ICE for a New peer and foreign peers are not fatal.
func isFatalCommandError(cmd domain.Command, err error) bool {
	switch {
	case errors.Is(err, domain.ErrPeerNotOwned):
		return false
	case errors.Is(err, domain.ErrWrongState):
		_, ice := cmd.(domain.SetIceCandidate)
		return !ice
	case errors.Is(err, domain.ErrPeerNotFound):
		return true
	default:
		return false
	}
}

func (r *Room) dispatchCommand(member domain.MemberID, cmd domain.Command) error {
	p, err := r.peers.Get(cmd.Peer())
	if err != nil {
		return fmt.Errorf("%s for peer %d: %w", cmd.CommandName(), cmd.Peer(), err)
	}
	if p.MemberID() != member {
		return fmt.Errorf("%s for peer %d from %s: %w", cmd.CommandName(), cmd.Peer(), member, domain.ErrPeerNotOwned)
	}

	switch c := cmd.(type) {
	case domain.MakeSdpOffer:
		return r.makeSdpOffer(p, c.SdpOffer)
	case domain.MakeSdpAnswer:
		return r.makeSdpAnswer(p, c.SdpAnswer)
	case domain.SetIceCandidate:
		return r.setIceCandidate(p, c.Candidate)
	default:
		return fmt.Errorf("%s: %w", cmd.CommandName(), domain.ErrUnknownCommand)
	}
}

func (r *Room) partnerOf(p peer.StateMachine) (peer.StateMachine, error) {
	partner, err := r.peers.Get(p.PartnerPeerID())
	if err != nil {
		return nil, fmt.Errorf("partner %d of peer %d: %w", p.PartnerPeerID(), p.ID(), err)
	}
	return partner, nil
}

// makeSdpOffer: offerer WaitLocalSdp -> WaitRemoteSdp, partner New -> WaitLocalHaveRemote.
func (r *Room) makeSdpOffer(p peer.StateMachine, offer string) error {
	from, err := takePeer[*peer.WaitLocalSdp](r.peers, p.ID())
	if err != nil {
		return err
	}
	to, err := takePeer[*peer.New](r.peers, from.PartnerPeerID())
	if err != nil {
		r.peers.Add(from)
		return partnerError(from, err)
	}

	fromNext := from.SetLocalSDP(offer)
	toNext := to.SetRemoteSDP(offer)
	r.peers.Add(fromNext)
	r.peers.Add(toNext)

	r.send(toNext.MemberID(), r.peerCreated(toNext, &offer))
	return nil
}

// makeSdpAnswer: answerer WaitLocalHaveRemote -> Stable, offerer WaitRemoteSdp -> Stable.
func (r *Room) makeSdpAnswer(p peer.StateMachine, answer string) error {
	from, err := takePeer[*peer.WaitLocalHaveRemote](r.peers, p.ID())
	if err != nil {
		return err
	}
	to, err := takePeer[*peer.WaitRemoteSdp](r.peers, from.PartnerPeerID())
	if err != nil {
		r.peers.Add(from)
		return partnerError(from, err)
	}

	fromNext := from.SetLocalSDP(answer)
	toNext := to.SetRemoteSDP(answer)
	r.peers.Add(fromNext)
	r.peers.Add(toNext)

	r.send(toNext.MemberID(), domain.SdpAnswerMade{PeerID: toNext.ID(), SdpAnswer: answer})
	return nil
}

func partnerError(p peer.StateMachine, err error) error {
	if errors.Is(err, domain.ErrPeerNotFound) {
		return fmt.Errorf("partner %d of peer %d: %w", p.PartnerPeerID(), p.ID(), err)
	}
	return err
}

func (r *Room) setIceCandidate(p peer.StateMachine, candidate domain.IceCandidate) error {
	from, ok := p.(peer.IceCandidateAdder)
	if !ok {
		return &domain.WrongStateError{PeerID: p.ID(), Expected: "not New", Actual: string(p.State())}
	}
	partner, err := r.partnerOf(p)
	if err != nil {
		return err
	}
	if _, ok := partner.(peer.IceCandidateAdder); !ok {
		return &domain.WrongStateError{PeerID: partner.ID(), Expected: "not New", Actual: string(partner.State())}
	}

	from.AddIceCandidate(candidate)
	r.send(partner.MemberID(), domain.IceCandidateDiscovered{PeerID: partner.ID(), Candidate: candidate})
	return nil
}

// send delivers an event; a failed send is treated as a lost connection.
func (r *Room) send(member domain.MemberID, event domain.Event) {
	err := r.participants.SendEvent(member, event)
	if err == nil {
		return
	}
	r.logger.Warnw("Failed to send event",
		"member_id", member,
		"event", event.EventName(),
		"error", err,
	)
	if r.participants.ConnectionLost(member) {
		r.deps.Metrics.ConnectionClosed(domain.ClosedLost)
	}
}

func (r *Room) handleConnectionClosed(m connectionClosedMsg) {
	switch r.participants.ConnectionClosed(m.member, m.conn, m.reason) {
	case closeIgnored:
		r.logger.Debugw("Stale connection closed",
			"member_id", m.member,
			"session_id", m.conn.SessionID(),
		)
	case closePending:
		r.deps.Metrics.ConnectionClosed(m.reason)
		r.logger.Infow("Member disconnected, waiting for reconnect",
			"member_id", m.member,
			"reason", m.reason,
			"reconnect_timeout", r.participants.ReconnectTimeout(m.member),
		)
	case closeFinal:
		r.deps.Metrics.ConnectionClosed(m.reason)
		r.finalizeMember(m.member, m.reason.LeaveReason())
	}
}

func (r *Room) handleReconnectTimeout(m reconnectTimeoutMsg) {
	reason, ok := r.participants.ReconnectExpired(m.member, m.generation)
	if !ok {
		return
	}
	r.logger.Infow("Member did not reconnect in time",
		"member_id", m.member,
		"reason", reason,
	)
	r.finalizeMember(m.member, reason.LeaveReason())
}

// finalizeMember removes every peer of member, notifies the partners and
// fires OnLeave if the member had joined.
func (r *Room) finalizeMember(member domain.MemberID, reason domain.OnLeaveReason) {
	r.notifyPeersRemoved(r.peers.RemovePeersByMember(member), member)
	if r.participants.Finalize(member) {
		r.memberLeft(member, reason)
	}
}

// notifyPeersRemoved sends PeersRemoved to every connected owner except skip.
func (r *Room) notifyPeersRemoved(removed map[domain.MemberID][]domain.PeerID, skip domain.MemberID) {
	owners := make([]domain.MemberID, 0, len(removed))
	total := 0
	for owner, ids := range removed {
		owners = append(owners, owner)
		total += len(ids)
	}
	if total == 0 {
		return
	}
	r.deps.Metrics.PeersRemoved(total)
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	for _, owner := range owners {
		if owner == skip || !r.participants.IsConnected(owner) {
			continue
		}
		r.send(owner, domain.PeersRemoved{PeerIDs: removed[owner]})
	}
}

func (r *Room) memberJoined(member domain.MemberID) {
	uri := domain.MemberURI(r.id, member)
	if spec, ok := r.spec.Member(member); ok && spec.OnJoin != "" && r.deps.Callbacks != nil {
		r.deps.Callbacks.Send(spec.OnJoin, domain.NewOnJoin(uri, utils.Now()))
	}
	r.publishEvent("member.joined", func(ctx context.Context) error {
		return r.deps.Events.MemberJoined(ctx, uri)
	})
}

func (r *Room) memberLeft(member domain.MemberID, reason domain.OnLeaveReason) {
	uri := domain.MemberURI(r.id, member)
	r.logger.Infow("Member left", "member_id", member, "reason", reason)
	if spec, ok := r.spec.Member(member); ok && spec.OnLeave != "" && r.deps.Callbacks != nil {
		r.deps.Callbacks.Send(spec.OnLeave, domain.NewOnLeave(uri, reason, utils.Now()))
	}
	r.publishEvent("member.left", func(ctx context.Context) error {
		return r.deps.Events.MemberLeft(ctx, uri, reason)
	})
}
