package statemachine

import "errors"

// Sentinel errors for run-level failures. The engine sets FlowRun.Status =
// failed and also returns the sentinel as Advance's error, mirroring spec
// §4.4's "fail the run with internal/<reason>" wording.
var (
	ErrInvalidState = errors.New("internal/invalid_state")
	ErrLoopDetected = errors.New("internal/loop_detected")
)
