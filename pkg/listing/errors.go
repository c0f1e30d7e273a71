package listing

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FetchTimeoutError indicates a request to the source site timed out.
type FetchTimeoutError struct {
	Err error
	URL string
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("fetch timeout: %s: %v", e.URL, e.Err)
}

func (e *FetchTimeoutError) Unwrap() error { return e.Err }

// FetchHTTPError indicates a failed request. StatusCode is 0 for transport failures.
type FetchHTTPError struct {
	Err        error
	URL        string
	StatusCode int
}

func (e *FetchHTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetch failed: %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

func (e *FetchHTTPError) Unwrap() error { return e.Err }

// SearchUnavailableError means a search could not be fetched this cycle.
type SearchUnavailableError struct {
	Cause  error
	Search string
}

func (e *SearchUnavailableError) Error() string {
	return fmt.Sprintf("search %q unavailable: %v", e.Search, e.Cause)
}

func (e *SearchUnavailableError) Unwrap() error { return e.Cause }

// MalformedListingError names the required fields that could not be located.
type MalformedListingError struct {
	ListingID string
	Missing   []string
}

func (e *MalformedListingError) Error() string {
	id := e.ListingID
	if id == "" {
		id = Unknown
	}
	return fmt.Sprintf("malformed listing %s: missing %s", id, strings.Join(e.Missing, ", "))
}

// StorageUnavailableError wraps any failure of the ledger or listing store.
type StorageUnavailableError struct {
	Err error
	Op  string
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable (%s): %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// NotificationDeliveryError means a message was not delivered after retries.
type NotificationDeliveryError struct {
	Err       error
	Kind      NotificationKind
	ListingID string
}

func (e *NotificationDeliveryError) Error() string {
	if e.ListingID != "" {
		return fmt.Sprintf("deliver %s notification for %s: %v", e.Kind, e.ListingID, e.Err)
	}
	return fmt.Sprintf("deliver %s notification: %v", e.Kind, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at process start.
type ConfigurationError struct {
	Err   error
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsRetryableFetch reports whether a fetch error is transient: timeouts,
// transport failures, 5xx and 429.
func IsRetryableFetch(err error) bool {
	var timeout *FetchTimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var httpErr *FetchHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 0 ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// IsSearchUnavailable checks if an error is a SearchUnavailableError.
func IsSearchUnavailable(err error) bool {
	var target *SearchUnavailableError
	return errors.As(err, &target)
}

// IsMalformed checks if an error is a MalformedListingError.
func IsMalformed(err error) bool {
	var target *MalformedListingError
	return errors.As(err, &target)
}

// IsStorageUnavailable checks if an error is a StorageUnavailableError.
func IsStorageUnavailable(err error) bool {
	var target *StorageUnavailableError
	return errors.As(err, &target)
}

// FailureClass maps an error to the short label used in user-visible error
// notifications and metrics. It never includes error text.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case IsSearchUnavailable(err):
		return "search_unavailable"
	case IsStorageUnavailable(err):
		return "storage_unavailable"
	case IsMalformed(err):
		return "malformed_listing"
	case errors.As(err, new(*NotificationDeliveryError)):
		return "notification_failed"
	case errors.As(err, new(*ConfigurationError)):
		return "configuration"
	default:
		return "internal"
	}
}
