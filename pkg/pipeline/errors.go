package pipeline

import "errors"

var (
	// ErrSessionRunning rejects operations that need exclusive ownership of
	// a session another run is actively driving.
	ErrSessionRunning = errors.New("session is currently running")

	// ErrNotPaused rejects Resume on a session that is not paused.
	ErrNotPaused = errors.New("session is not paused")

	// ErrNotReady rejects RunSession on a session that already left READY.
	ErrNotReady = errors.New("session already started")

	// ErrStageOutOfOrder rejects backward or stage-skipping steps. Stages
	// advance strictly one at a time.
	ErrStageOutOfOrder = errors.New("cannot step backward or skip stages")

	// ErrPastFinalStage rejects stepping beyond the last pipeline stage.
	ErrPastFinalStage = errors.New("cannot step past the final stage")
)
