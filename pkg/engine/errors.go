package engine

import "errors"

// Sentinel errors returned by Runtime operations.
var (
	// ErrNoActiveRun is returned by ResumeFlow when the session has no
	// running|waiting run to resume.
	ErrNoActiveRun = errors.New("no active flow run for session")
	// ErrRunAlreadyActive is returned by StartFlow when the session
	// already has a running|waiting run (spec §8.1 property 2:
	// at-most-one-active-run-per-session).
	ErrRunAlreadyActive = errors.New("session already has an active flow run")
)
