package ytfeed

import (
	"errors"

	ythttp "ytfeed/http"
	"ytfeed/retry"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytfeed.ErrChannelNotFound) {
//		fmt.Println("Channel not found")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var adapterErr *ytfeed.AdapterError
//	if errors.As(err, &adapterErr) {
//		fmt.Printf("%s failed for %s: %v\n", adapterErr.Adapter, adapterErr.Target, adapterErr.Err)
//	}

// Type aliases for convenient error handling.
type (
	// AdapterError wraps a failure of one upstream adapter.
	AdapterError = youtube.AdapterError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
	// ExhaustedError wraps the last error once retries ran out.
	ExhaustedError = retry.ExhaustedError
	// RateLimitError reports an upstream 429 with its Retry-After.
	RateLimitError = ythttp.RateLimitError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrChannelNotFound: the reference names no channel on any upstream.
	ErrChannelNotFound = youtube.ErrChannelNotFound
	// ErrTransient: network, timeout or rate limit; retry on the next pass.
	ErrTransient = youtube.ErrTransient
	// ErrQuotaExhausted: the metered API budget is spent for the day.
	ErrQuotaExhausted = youtube.ErrQuotaExhausted
	// ErrInvalidReference: malformed input, rejected before any network call.
	ErrInvalidReference = youtube.ErrInvalidReference
	// ErrCircuitOpen: the adapter class is short-circuited.
	ErrCircuitOpen = ythttp.ErrCircuitOpen

	// Storage errors
	ErrNotFound         = storage.ErrNotFound
	ErrInvalidInput     = storage.ErrInvalidInput
	ErrStorageCorrupt   = storage.ErrStorageCorrupt
	ErrLockTimeout      = storage.ErrLockTimeout
	ErrRedirectConflict = storage.ErrRedirectConflict
)

// IsNotFound reports whether err means the channel does not exist.
func IsNotFound(err error) bool { return youtube.IsNotFound(err) }

// IsTransient reports whether err is worth retrying on a later pass.
func IsTransient(err error) bool { return youtube.IsTransient(err) }

// IsQuotaExhausted reports whether err is a spent API budget.
func IsQuotaExhausted(err error) bool { return youtube.IsQuotaExhausted(err) }

// IsInvalidReference reports whether err rejects malformed input.
func IsInvalidReference(err error) bool { return youtube.IsInvalidReference(err) }

// IsStorageError reports whether err came from persisted state.
func IsStorageError(err error) bool {
	var storageErr *storage.StorageError
	return errors.As(err, &storageErr)
}

// IsRetryable determines if an error should be retried within a call.
// It returns false for cancellation and for errors marked permanent.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
