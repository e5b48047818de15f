package escrow

import "errors"

// Every failure aborts the whole transaction; the ledger rolls back any
// transfers already issued, so none of these leave partial state behind.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrNoPaymentAttached  = errors.New("no payment attached")
	ErrAssetKindMismatch  = errors.New("asset kind mismatch")
	ErrAmountMismatch     = errors.New("amount mismatch")
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	ErrNestedCallFailed   = errors.New("nested fill failed")
	ErrUnknownFunction    = errors.New("unknown function")
)
