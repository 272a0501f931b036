package domain

import (
	"fmt"
	"strings"
)

type RoomID string
type MemberID string
type EndpointID string

// PeerID is unique within a room and never reused.
type PeerID uint32

// TrackID is unique within a room and never reused.
type TrackID uint32

const localScheme = "local://"

// ElementKind tells which level of the room tree a uri points to.
type ElementKind int

const (
	KindRoom ElementKind = iota + 1
	KindMember
	KindEndpoint
)

func (k ElementKind) String() string {
	switch k {
	case KindRoom:
		return "room"
	case KindMember:
		return "member"
	case KindEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

// LocalURI addresses a room, a member or an endpoint:
// local://<room>[/<member>[/<endpoint>]].
type LocalURI struct {
	Room     RoomID
	Member   MemberID
	Endpoint EndpointID
}

func RoomURI(room RoomID) LocalURI {
	return LocalURI{Room: room}
}

func MemberURI(room RoomID, member MemberID) LocalURI {
	return LocalURI{Room: room, Member: member}
}

func EndpointURI(room RoomID, member MemberID, endpoint EndpointID) LocalURI {
	return LocalURI{Room: room, Member: member, Endpoint: endpoint}
}

// Kind reports the deepest non-empty segment.
func (u LocalURI) Kind() ElementKind {
	switch {
	case u.Endpoint != "":
		return KindEndpoint
	case u.Member != "":
		return KindMember
	default:
		return KindRoom
	}
}

// Fid is the canonical <room>/<member>/<endpoint> form used by the control api.
func (u LocalURI) Fid() string {
	parts := []string{string(u.Room)}
	if u.Member != "" {
		parts = append(parts, string(u.Member))
	}
	if u.Endpoint != "" {
		parts = append(parts, string(u.Endpoint))
	}
	return strings.Join(parts, "/")
}

func (u LocalURI) String() string {
	return localScheme + u.Fid()
}

// ParseLocalURI parses a local:// uri with one to three segments.
func ParseLocalURI(s string) (LocalURI, error) {
	if !strings.HasPrefix(s, localScheme) {
		return LocalURI{}, fmt.Errorf("%w: %q must start with %s", ErrInvalidFid, s, localScheme)
	}
	return parseSegments(s, strings.TrimPrefix(s, localScheme))
}

// ParseFid parses the <room>/<member>/<endpoint> form. A local:// prefix is accepted too.
func ParseFid(s string) (LocalURI, error) {
	if strings.HasPrefix(s, localScheme) {
		return ParseLocalURI(s)
	}
	return parseSegments(s, s)
}

func parseSegments(raw, path string) (LocalURI, error) {
	if path == "" {
		return LocalURI{}, fmt.Errorf("%w: %q is empty", ErrInvalidFid, raw)
	}
	parts := strings.Split(path, "/")
	if len(parts) > 3 {
		return LocalURI{}, fmt.Errorf("%w: %q has too many segments", ErrInvalidFid, raw)
	}
	for _, p := range parts {
		if p == "" {
			return LocalURI{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidFid, raw)
		}
	}

	uri := LocalURI{Room: RoomID(parts[0])}
	if len(parts) > 1 {
		uri.Member = MemberID(parts[1])
	}
	if len(parts) > 2 {
		uri.Endpoint = EndpointID(parts[2])
	}
	return uri, nil
}
