// Package domain contains the signaling entities without logic, just meta-data.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type (
	SessionID string
	ConnID    string
)

// NewSessionID mints an identifier that is never reused for the
// lifetime of the store.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// CandidateRecord is one buffered ICE candidate. The payload is opaque
// to the relay and forwarded verbatim.
type CandidateRecord struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	AddedAt   time.Time               `json:"addedAt"`
}

// Session is a point-in-time snapshot of one signaling session. The
// mutable record lives inside the store; everything handed out is a copy.
type Session struct {
	ID        SessionID
	CreatedAt time.Time
	ExpiresAt time.Time

	// Host is set atomically with Offer, never on its own.
	Host    ConnID
	Viewers []ConnID

	Offer   *webrtc.SessionDescription
	OfferAt time.Time

	Answer   *webrtc.SessionDescription
	AnswerAt time.Time

	HostCandidates   []CandidateRecord
	ViewerCandidates []CandidateRecord
}

func (s *Session) State() State {
	switch {
	case s.Offer == nil:
		return StateEmpty
	case s.Answer == nil:
		return StateOffered
	default:
		return StateConnected
	}
}

func (s *Session) HasViewer(conn ConnID) bool {
	for _, v := range s.Viewers {
		if v == conn {
			return true
		}
	}
	return false
}

// Origin reports which side of the handshake a connection is on.
func (s *Session) Origin(conn ConnID) Role {
	if s.Host != "" && s.Host == conn {
		return RoleHost
	}
	return RoleViewer
}
