package domain

import "fmt"

// Role is the side a connection takes in a session: the host shares a
// screen and produces the offer, a viewer watches and produces the answer.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHost:
		return RoleHost, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// State is the per-session handshake phase, derived from which blobs
// are present rather than stored separately.
type State string

const (
	StateEmpty     State = "empty"
	StateOffered   State = "offered"
	StateConnected State = "connected"
)
