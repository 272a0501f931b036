package domain

import (
	"time"

	"medea/pkg/utils"
)

type CallbackKind string

const (
	CallbackOnJoin  CallbackKind = "OnJoin"
	CallbackOnLeave CallbackKind = "OnLeave"
)

type OnLeaveReason string

const (
	LeaveDisconnected   OnLeaveReason = "DISCONNECTED"
	LeaveLostConnection OnLeaveReason = "LOST_CONNECTION"
	LeaveServerShutdown OnLeaveReason = "SERVER_SHUTDOWN"
)

type CallbackEvent struct {
	Kind   CallbackKind  `json:"kind"`
	Reason OnLeaveReason `json:"reason,omitempty"`
}

// CallbackRequest is the body delivered to on_join / on_leave urls.
type CallbackRequest struct {
	Fid   string        `json:"fid"`
	At    string        `json:"at"`
	Event CallbackEvent `json:"event"`
}

func NewOnJoin(member LocalURI, at time.Time) CallbackRequest {
	return CallbackRequest{
		Fid:   member.Fid(),
		At:    utils.FormatTimestamp(at),
		Event: CallbackEvent{Kind: CallbackOnJoin},
	}
}

func NewOnLeave(member LocalURI, reason OnLeaveReason, at time.Time) CallbackRequest {
	return CallbackRequest{
		Fid:   member.Fid(),
		At:    utils.FormatTimestamp(at),
		Event: CallbackEvent{Kind: CallbackOnLeave, Reason: reason},
	}
}
