package errors

// Scope describes how far a failure propagates through a sync run.
type Scope string

const (
	// ScopeItem failures skip one meeting; the platform continues.
	ScopeItem Scope = "item"
	// ScopePlatform failures abort one platform; other platforms continue.
	ScopePlatform Scope = "platform"
	// ScopeProcess failures abort the run.
	ScopeProcess Scope = "process"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Scope           Scope
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeMalformedRecord: {
		Code:            CodeMalformedRecord,
		Scope:           ScopeItem,
		Retryable:       false,
		Description:     "Source record is missing an id, a date, or a title",
		SuggestedAction: "Inspect the record in the source UI; it is skipped until fixed upstream",
	},
	CodeAuthenticationTimeout: {
		Code:            CodeAuthenticationTimeout,
		Scope:           ScopePlatform,
		Retryable:       false,
		Description:     "Manual browser login did not complete in time",
		SuggestedAction: "Re-run and sign in within the login window, or raise platforms.<name>.browser.login_timeout",
	},
	CodeTransientFetch: {
		Code:            CodeTransientFetch,
		Scope:           ScopePlatform,
		Retryable:       true,
		Description:     "Network or upstream failure after retries",
		SuggestedAction: "Check connectivity and re-run; the watermark was not advanced",
	},
	CodePersistence: {
		Code:            CodePersistence,
		Scope:           ScopeItem,
		Retryable:       false,
		Description:     "Writing the note or recording state failed",
		SuggestedAction: "Check vault permissions and free space: meetsync state verify",
	},
	CodeExtractionExhausted: {
		Code:            CodeExtractionExhausted,
		Scope:           ScopePlatform,
		Retryable:       false,
		Description:     "Page layout did not match any known selector strategy",
		SuggestedAction: "Set debug_dir to capture the page HTML and update the selector cascade",
	},
	CodeConfiguration: {
		Code:            CodeConfiguration,
		Scope:           ScopeProcess,
		Retryable:       false,
		Description:     "Configuration is missing or invalid",
		SuggestedAction: "Run: meetsync config show",
	},
	CodeCancelled: {
		Code:            CodeCancelled,
		Scope:           ScopeProcess,
		Retryable:       false,
		Description:     "Run cancelled by user or system",
		SuggestedAction: "Re-run when ready; partial progress was kept",
	},
	CodeUnknown: {
		Code:            CodeUnknown,
		Scope:           ScopePlatform,
		Retryable:       false,
		Description:     "Unclassified error",
		SuggestedAction: "Re-run with --verbose and check the logs",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetScope returns the propagation scope for the given error code.
func GetScope(code ErrorCode) Scope {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Scope
	}
	return ScopePlatform
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --verbose and check the logs"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
