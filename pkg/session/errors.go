// Package session contains the per-session state machine (Orchestrator), the
// process-wide registry of live sessions, and the background coach pipeline.
package session

import "errors"

var (
	// ErrSessionNotFound is returned when no record exists for a session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionStateInvalid is returned when an operation is not valid in
	// the session's current state, including a send while another message is
	// being processed.
	ErrSessionStateInvalid = errors.New("session state invalid")

	// ErrSessionTimeout is returned for operations on an abandoned session.
	// The client should start a new session.
	ErrSessionTimeout = errors.New("session timed out")

	// ErrPersistenceDegraded is returned when a store write fails. In-memory
	// state is intact and flagged dirty for retry.
	ErrPersistenceDegraded = errors.New("persistence degraded")
)
