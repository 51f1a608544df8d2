// Package errors provides the domain error types shared by the meetsync sync engine.
//
// Sentinel errors describe conditions that callers branch on with errors.Is.
// SyncError carries the classified code, the platform and the stage where a
// failure happened, and unwraps to both its cause and the matching sentinel.
//
// Usage:
//
//	import syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
//
//	// Reject a record that cannot become a canonical meeting
//	return nil, syncerr.MalformedRecord("zoom", "row 4 has no date")
//
//	// Branch on the condition
//	if syncerr.IsMalformedRecord(err) {
//	    // skip the item
//	}
package errors

import "errors"

// Domain errors - sentinel errors for the sync failure taxonomy.
var (
	// ErrMalformedRecord indicates a source record lacks an id, a resolvable
	// timestamp, or a title.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrAuthenticationTimeout indicates a manual browser login did not
	// complete within the configured bound.
	ErrAuthenticationTimeout = errors.New("authentication timeout")

	// ErrTransientFetch indicates a network or upstream failure that survived
	// the retry budget.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrPersistence indicates a note write or state store failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrExtractionExhausted indicates no strategy in a selector cascade matched.
	ErrExtractionExhausted = errors.New("extraction strategies exhausted")

	// ErrConfiguration indicates invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly indicates a write was attempted on a read-only state store.
	ErrReadOnly = errors.New("read-only")
)

// IsMalformedRecord reports whether any error in err's chain is ErrMalformedRecord.
func IsMalformedRecord(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}

// IsAuthenticationTimeout reports whether any error in err's chain is ErrAuthenticationTimeout.
func IsAuthenticationTimeout(err error) bool {
	return errors.Is(err, ErrAuthenticationTimeout)
}

// IsTransientFetch reports whether any error in err's chain is ErrTransientFetch.
func IsTransientFetch(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// IsPersistence reports whether any error in err's chain is ErrPersistence.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsExtractionExhausted reports whether any error in err's chain is ErrExtractionExhausted.
func IsExtractionExhausted(err error) bool {
	return errors.Is(err, ErrExtractionExhausted)
}

// IsConfiguration reports whether any error in err's chain is ErrConfiguration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsReadOnly reports whether any error in err's chain is ErrReadOnly.
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnly)
}
