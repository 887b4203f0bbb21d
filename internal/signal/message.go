// Package signal defines the wire envelope exchanged with peers. The
// envelope is a tagged union over the enumerated event kinds; unknown
// tags are rejected on parse rather than ignored.
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/castbeam/relay/internal/domain"
)

type Kind string

const (
	KindJoin        Kind = "join"
	KindOffer       Kind = "offer"
	KindAnswer      Kind = "answer"
	KindCandidate   Kind = "ice-candidate"
	KindStreamEnded Kind = "stream-ended"
	KindNoSession   Kind = "no-session"
	KindError       Kind = "error"
)

// SDP mirrors the browser's RTCSessionDescription JSON shape. The blob
// itself is opaque to the relay.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) *SDP {
	return &SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s *SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Envelope struct {
	Type      Kind                     `json:"type"`
	SessionID string                   `json:"sessionId,omitempty"`
	Role      string                   `json:"role,omitempty"`
	SDP       *SDP                     `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Code      string                   `json:"code,omitempty"`
	Message   string                   `json:"message,omitempty"`
}

// Parse decodes a client envelope strictly: unknown fields, trailing
// data and server-originated kinds are all rejected.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode is the outbound counterpart of Parse.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (e Envelope) validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%s message missing sessionId", e.Type)
	}
	switch e.Type {
	case KindJoin:
		if _, err := domain.ParseRole(e.Role); err != nil {
			return fmt.Errorf("join message: %w", err)
		}
		if e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("join message has unexpected fields")
		}
	case KindOffer:
		if e.SDP == nil {
			return fmt.Errorf("offer message missing sdp")
		}
		if e.SDP.Type != "offer" {
			return fmt.Errorf("offer message has sdp.type=%q", e.SDP.Type)
		}
	case KindAnswer:
		if e.SDP == nil {
			return fmt.Errorf("answer message missing sdp")
		}
		if e.SDP.Type != "answer" {
			return fmt.Errorf("answer message has sdp.type=%q", e.SDP.Type)
		}
	case KindCandidate:
		if e.Candidate == nil || e.Candidate.Candidate == "" {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
	case KindStreamEnded, KindNoSession, KindError:
		return fmt.Errorf("%s is server-originated", e.Type)
	default:
		return fmt.Errorf("unknown message type %q", e.Type)
	}
	return nil
}

func NewOffer(sid domain.SessionID, desc webrtc.SessionDescription) Envelope {
	return Envelope{Type: KindOffer, SessionID: string(sid), SDP: SDPFromPion(desc)}
}

func NewAnswer(sid domain.SessionID, desc webrtc.SessionDescription) Envelope {
	return Envelope{Type: KindAnswer, SessionID: string(sid), SDP: SDPFromPion(desc)}
}

func NewCandidate(sid domain.SessionID, cand webrtc.ICECandidateInit) Envelope {
	c := cand
	return Envelope{Type: KindCandidate, SessionID: string(sid), Candidate: &c}
}

func NewJoined(sid domain.SessionID, role domain.Role) Envelope {
	return Envelope{Type: KindJoin, SessionID: string(sid), Role: string(role)}
}

func NewStreamEnded(sid domain.SessionID, reason string) Envelope {
	return Envelope{Type: KindStreamEnded, SessionID: string(sid), Reason: reason}
}

func NewNoSession(sid domain.SessionID) Envelope {
	return Envelope{Type: KindNoSession, SessionID: string(sid)}
}

func NewError(sid domain.SessionID, err error) Envelope {
	return Envelope{
		Type:      KindError,
		SessionID: string(sid),
		Code:      CodeFor(err),
		Message:   err.Error(),
	}
}

// CodeFor maps the relay error taxonomy onto stable wire codes.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session-not-found"
	case errors.Is(err, domain.ErrRoleConflict):
		return "role-conflict"
	case errors.Is(err, domain.ErrOutOfOrder):
		return "out-of-order"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity-exceeded"
	default:
		return "bad-request"
	}
}
