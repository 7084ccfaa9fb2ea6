package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these sentinels so the
// core packages can branch on errors.Is without knowing the technology.
var (
	// General errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Validation errors: rejected synchronously, no state mutated
	ErrZeroStopDistance    = errors.New("entry and stop-loss prices are identical")
	ErrInsufficientBalance = errors.New("risk amount exceeds available balance")
	ErrSymbolBlacklisted   = errors.New("symbol is blacklisted")
	ErrDuplicateDirection  = errors.New("an open trade already exists in this direction")

	// Price feed errors
	ErrFeedUnavailable = errors.New("price feed is unavailable")
	ErrRateLimited     = errors.New("API rate limit exceeded")
	ErrBadSymbol       = errors.New("symbol is not known to the price feed")

	// Price extraction errors
	ErrPricesNotFound = errors.New("entry or stop-loss price could not be extracted")

	// Persistence errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
	ErrCloseFailed  = errors.New("atomic trade closure failed")
)
