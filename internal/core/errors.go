package core

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	// ErrInvalidRequest: bad input, nothing happened, retry after correcting it.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientFunds: balance below amount, nothing happened.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownMerchant: destination is not a registered merchant.
	ErrUnknownMerchant = errors.New("unknown merchant")
	// ErrCredentialExists: the vault refuses to overwrite a credential.
	ErrCredentialExists = errors.New("credential already exists")
	// ErrNotFound: missing principal, credential or record.
	ErrNotFound = errors.New("not found")
	// ErrUnconfirmed: the transfer was sent but its outcome is unknown. It
	// may still confirm; never resubmit, re-read the detail log instead.
	ErrUnconfirmed = errors.New("transfer unconfirmed")
	// ErrLedgerUnavailable: the ledger could not be reached before anything
	// was signed or sent. The whole operation is safe to retry.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrSubmissionFailed: the ledger refused a signed transfer. Retrying
	// requires building a fresh transfer.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrForbidden: the caller may not read the requested view.
	ErrForbidden = errors.New("forbidden")
)
