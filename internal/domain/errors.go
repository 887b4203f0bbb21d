package domain

import "errors"

var (
	// ErrSessionNotFound covers both absent and already-expired sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRoleConflict is returned when a connection acts as host while a
	// different connection holds that role and preemption is not allowed.
	ErrRoleConflict = errors.New("role conflict")
	// ErrOutOfOrder is returned for an answer in a session that has no offer.
	ErrOutOfOrder = errors.New("answer before offer")
	// ErrCapacityExceeded reports a candidate buffer overflow. The oldest
	// entry was dropped; the operation itself succeeded.
	ErrCapacityExceeded = errors.New("candidate buffer full")
)
