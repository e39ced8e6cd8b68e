package quotapool

import "github.com/kailas-cloud/quotapool/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNoCredential      = domain.ErrNoCredential
	ErrEmptyCredential   = domain.ErrEmptyCredential
	ErrInvalidArgument   = domain.ErrInvalidArgument
	ErrInsufficientQuota = domain.ErrInsufficientQuota
	ErrNotEnoughHistory  = domain.ErrNotEnoughHistory
	ErrUpstream          = domain.ErrUpstream
	ErrExchangeFailed    = domain.ErrExchangeFailed
)
