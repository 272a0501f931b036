package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomAlreadyExists  = errors.New("room already exists")
	ErrMemberNotFound     = errors.New("member not found")
	ErrMemberExists       = errors.New("member already exists")
	ErrEndpointNotFound   = errors.New("endpoint not found")
	ErrEndpointExists     = errors.New("endpoint already exists")
	ErrBadRoomSpec        = errors.New("bad room spec")
	ErrInvalidFid         = errors.New("invalid fid")
	ErrRoomClosed         = errors.New("room is closed")
	ErrMemberNotExists    = errors.New("member does not exist")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrPeerNotFound       = errors.New("peer not found")
	ErrWrongState         = errors.New("peer is in wrong state")
	ErrNoSender           = errors.New("neither of peers is a sender")
	ErrPeerNotOwned       = errors.New("peer is not owned by member")
	ErrConnectionNotExist = errors.New("member has no rpc connection")
	ErrUnableToSendEvent  = errors.New("unable to send event")
	ErrUnknownCommand     = errors.New("unknown command")
)

// ElementError attaches the local uri of the element an error is about.
type ElementError struct {
	URI LocalURI
	Err error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.URI)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

// NewElementError wraps err with the uri of the element it refers to.
func NewElementError(err error, uri LocalURI) error {
	return &ElementError{URI: uri, Err: err}
}

// ElementURI returns the uri attached to err, if any.
func ElementURI(err error) (LocalURI, bool) {
	var elemErr *ElementError
	if errors.As(err, &elemErr) {
		return elemErr.URI, true
	}
	return LocalURI{}, false
}

// WrongStateError describes a peer found in an unexpected state.
type WrongStateError struct {
	PeerID   PeerID
	Expected string
	Actual   string
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("peer %d is in state %s, expected %s", e.PeerID, e.Actual, e.Expected)
}

func (e *WrongStateError) Unwrap() error {
	return ErrWrongState
}

// BadSpecf builds an ErrBadRoomSpec with details.
func BadSpecf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadRoomSpec, fmt.Sprintf(format, args...))
}
