package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown     ErrorCode = 1
	ErrCodeInterrupted ErrorCode = 2

	// Configuration errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeConfigMissing        ErrorCode = 102
	ErrCodeInvalidTime          ErrorCode = 103
	ErrCodeInvalidGranularity   ErrorCode = 104
	ErrCodeInvalidPriceClass    ErrorCode = 105

	// Remote API errors (200-299)
	ErrCodeConnectionFailure ErrorCode = 200
	ErrCodeAPIFailure        ErrorCode = 201
	ErrCodeBatchTooLarge     ErrorCode = 202
	ErrCodeMalformedResponse ErrorCode = 203

	// Result and output errors (300-399)
	ErrCodeNoResults   ErrorCode = 300
	ErrCodeWriteFailed ErrorCode = 301
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeUnknown:              "unknown",
	ErrCodeInterrupted:          "interrupted",
	ErrCodeInvalidParameter:     "invalid_parameter",
	ErrCodeInvalidConfiguration: "invalid_configuration",
	ErrCodeConfigMissing:        "config_missing",
	ErrCodeInvalidTime:          "invalid_time",
	ErrCodeInvalidGranularity:   "invalid_granularity",
	ErrCodeInvalidPriceClass:    "invalid_price_class",
	ErrCodeConnectionFailure:    "connection_failure",
	ErrCodeAPIFailure:           "api_failure",
	ErrCodeBatchTooLarge:        "batch_too_large",
	ErrCodeMalformedResponse:    "malformed_response",
	ErrCodeNoResults:            "no_results",
	ErrCodeWriteFailed:          "write_failed",
}

// String returns a stable snake_case name for the code, used in structured logs.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}

	return "unknown"
}
