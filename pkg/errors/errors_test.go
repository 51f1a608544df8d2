package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name  string
		check func(error) bool
		match error
		other error
	}{
		{"malformed record", IsMalformedRecord, ErrMalformedRecord, ErrPersistence},
		{"authentication timeout", IsAuthenticationTimeout, ErrAuthenticationTimeout, ErrTransientFetch},
		{"transient fetch", IsTransientFetch, ErrTransientFetch, ErrNotFound},
		{"persistence", IsPersistence, ErrPersistence, ErrReadOnly},
		{"extraction exhausted", IsExtractionExhausted, ErrExtractionExhausted, ErrConfiguration},
		{"configuration", IsConfiguration, ErrConfiguration, ErrMalformedRecord},
		{"not found", IsNotFound, ErrNotFound, ErrMalformedRecord},
		{"read only", IsReadOnly, ErrReadOnly, ErrPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.match) {
				t.Errorf("direct match not detected")
			}
			if !tt.check(fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", tt.match))) {
				t.Errorf("wrapped match not detected")
			}
			if tt.check(tt.other) {
				t.Errorf("unrelated sentinel matched")
			}
			if tt.check(nil) {
				t.Errorf("nil matched")
			}
		})
	}
}

func TestSyncError_IsMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      *SyncError
		sentinel error
	}{
		{"malformed", MalformedRecord("zoom", "no date"), ErrMalformedRecord},
		{"auth timeout", AuthenticationTimeout("googlemeet", 0), ErrAuthenticationTimeout},
		{"transient", TransientFetch("heypocket", "list", errors.New("503")), ErrTransientFetch},
		{"persistence", Persistence("zoom", "write", errors.New("disk full")), ErrPersistence},
		{"exhausted", ExtractionExhausted("zoom", "https://zoom.us", []string{"a", "b"}), ErrExtractionExhausted},
		{"configuration", Configuration("vault path missing", nil), ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("run: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tt.sentinel)
			}
		})
	}
}

func TestSyncError_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence("heypocket", "write", cause)

	if !errors.Is(err, cause) {
		t.Errorf("cause not reachable through Unwrap")
	}
	if errors.Is(err, ErrTransientFetch) {
		t.Errorf("persistence error must not match transient sentinel")
	}
}

func TestSyncError_Error(t *testing.T) {
	err := &SyncError{Code: CodeTransientFetch, Platform: "heypocket", Stage: "list", Message: "page 2", Cause: errors.New("EOF")}
	want := "transient_fetch: heypocket: list: page 2: EOF"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	ex := ExtractionExhausted("zoom", "https://zoom.us/x", []string{"rows", "table"})
	want = "extraction_exhausted: zoom: listing: no strategy matched at https://zoom.us/x (tried: rows, table)"
	if got := ex.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
