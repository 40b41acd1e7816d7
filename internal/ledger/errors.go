package ledger

import "errors"

// Validation errors. These are returned before any append; the ledger is
// unchanged and the caller may retry with corrected input.
var (
	ErrUnknownAsset        = errors.New("unknown asset: no supply cap configured")
	ErrSupplyCapExceeded   = errors.New("supply cap exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSelfTransfer = errors.New("source and target accounts must differ")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrEmptyAccount        = errors.New("account identifier is required")
	ErrNotAuthorized       = errors.New("actor is not authorized for this operation")
)

// Integrity errors. These are fatal for the affected store: the engine
// refuses to serve further mutations against a chain it cannot verify.
var (
	ErrMalformedEntry  = errors.New("malformed ledger entry")
	ErrChainBroken     = errors.New("hash chain broken")
	ErrReplayIntegrity = errors.New("ledger replay produced an impossible state")
)

// ErrLedgerUnavailable is returned when a store cannot be opened or has been
// marked unusable after a failed append or failed verification.
var ErrLedgerUnavailable = errors.New("ledger unavailable")
