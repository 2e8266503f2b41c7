package table

import errorsmod "cosmossdk.io/errors"

const codespace = "gtable"

// Bet rejections. Each maps to one wire reject code.
var (
	ErrRoundClosed         = errorsmod.Register(codespace, 1, "round closed")
	ErrLimitExceeded       = errorsmod.Register(codespace, 2, "limit exceeded")
	ErrDuplicate           = errorsmod.Register(codespace, 3, "duplicate submission")
	ErrInsufficientBalance = errorsmod.Register(codespace, 4, "insufficient balance")
)

// Engine faults and instruction errors.
var (
	ErrInvalidConfig = errorsmod.Register(codespace, 10, "invalid table configuration")
	ErrPaused        = errorsmod.Register(codespace, 11, "table paused")
	ErrNotDue        = errorsmod.Register(codespace, 12, "step not due")
	ErrSeedTimeout   = errorsmod.Register(codespace, 13, "seed reveal timed out")
	ErrStalled       = errorsmod.Register(codespace, 14, "round stalled")
	ErrLogFailed     = errorsmod.Register(codespace, 15, "event log append failed")
	ErrUnknownTable  = errorsmod.Register(codespace, 16, "no table for game")
	ErrStopped       = errorsmod.Register(codespace, 17, "table stopped")
)
