package domain

type MediaType string

const (
	MediaAudio MediaType = "Audio"
	MediaVideo MediaType = "Video"
)

// PublishedMedia is what every publish relationship carries.
var PublishedMedia = []MediaType{MediaAudio, MediaVideo}

type TrackDirection string

const (
	DirectionSend TrackDirection = "Send"
	DirectionRecv TrackDirection = "Recv"
)

// Track is the client-visible snapshot of a media track of a peer.
type Track struct {
	ID        TrackID        `json:"id"`
	MediaType MediaType      `json:"media_type"`
	Direction TrackDirection `json:"direction"`
	Receivers []MemberID     `json:"receivers,omitempty"`
	Sender    MemberID       `json:"sender,omitempty"`
	Mid       *string        `json:"mid"`
	IsMuted   bool           `json:"is_muted"`
}

// NewTrackPair returns the send side for sender and the mirrored recv side for receiver.
func NewTrackPair(id TrackID, media MediaType, sender, receiver MemberID) (send Track, recv Track) {
	send = Track{
		ID:        id,
		MediaType: media,
		Direction: DirectionSend,
		Receivers: []MemberID{receiver},
	}
	recv = Track{
		ID:        id,
		MediaType: media,
		Direction: DirectionRecv,
		Sender:    sender,
	}
	return send, recv
}

// IsMirrorOf reports whether t and other describe the same track from both ends.
func (t Track) IsMirrorOf(other Track) bool {
	if t.ID != other.ID || t.MediaType != other.MediaType {
		return false
	}
	return (t.Direction == DirectionSend && other.Direction == DirectionRecv) ||
		(t.Direction == DirectionRecv && other.Direction == DirectionSend)
}
