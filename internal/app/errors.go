package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownKind    = errors.New("unknown item kind")
	ErrMissingStage   = errors.New("stage id is required")
	ErrMissingItem    = errors.New("item id is required")
	ErrMissingProcess = errors.New("process id is required")
)

// scoreShortageMessage is the exact loyalty-service error this engine
// rewraps with the payment type title.
const scoreShortageMessage = "There has no enough score to subtract"

// ErrScoreShortage carries the loyalty shortage message so callers can both
// match the wire-exact text and classify it as a precondition failure.
var ErrScoreShortage = errors.New(scoreShortageMessage)
