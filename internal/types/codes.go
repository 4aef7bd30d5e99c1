package types

// Stable machine-readable error codes returned by the API.
const (
	CodeInvalidFileType   = "INVALID_FILE_TYPE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeNoFiles           = "NO_FILES"
	CodeNoValidImages     = "NO_VALID_IMAGES"
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Job-level failure codes, reported as error_code on failed jobs.
const (
	CodeCompressionFailed = "COMPRESSION_FAILED"
	CodeConversionFailed  = "CONVERSION_FAILED"
	CodeToolMissing       = "TOOL_MISSING"
	CodeSourceMissing     = "SOURCE_MISSING"
)
