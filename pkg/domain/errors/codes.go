package errors

// Code represents an error code
type Code string

// Error codes - migrated from pkg/common/errors
const (
	CodeUnknown               Code = "UNKNOWN"                 // Unknown error occurred
	CodeInternalError         Code = "INTERNAL_ERROR"          // Internal system error
	CodeValidationFailed      Code = "VALIDATION_FAILED"       // Input validation failed
	CodeInvalidParameter      Code = "INVALID_PARAMETER"       // Invalid parameter provided
	CodeMissingParameter      Code = "MISSING_PARAMETER"       // Required parameter missing
	CodeNetworkTimeout        Code = "NETWORK_TIMEOUT"         // Network operation timed out
	CodeIoError               Code = "IO_ERROR"                // Input/output operation failed
	CodeFileNotFound          Code = "FILE_NOT_FOUND"          // File not found
	CodePermissionDenied      Code = "PERMISSION_DENIED"       // Permission denied
	CodeResourceNotFound      Code = "RESOURCE_NOT_FOUND"      // Resource not found
	CodeResourceAlreadyExists Code = "RESOURCE_ALREADY_EXISTS" // Resource already exists
	CodeToolNotFound          Code = "TOOL_NOT_FOUND"          // Tool not found
	CodeToolExecutionFailed   Code = "TOOL_EXECUTION_FAILED"   // Tool execution failed
	CodeToolAlreadyRegistered Code = "TOOL_ALREADY_REGISTERED" // Tool already registered
	CodeConfigurationInvalid  Code = "CONFIGURATION_INVALID"   // Configuration invalid
	CodeOperationFailed       Code = "OPERATION_FAILED"        // Operation failed
	CodeTimeoutError          Code = "TIMEOUT_ERROR"           // Timeout error
	CodeNotImplemented        Code = "NOT_IMPLEMENTED"         // Not implemented
	CodeAlreadyExists         Code = "ALREADY_EXISTS"          // Already exists
	CodeInvalidState          Code = "INVALID_STATE"           // Invalid state
	CodeNotFound              Code = "NOT_FOUND"               // Not found
	CodeInternal              Code = "INTERNAL"                // Internal error

	// Scan-domain error codes
	CodeScanFailed        Code = "SCAN_FAILED"         // Scan orchestration failed
	CodeScanBlacklisted   Code = "SCAN_BLACKLISTED"    // Input excluded by a blacklist rule
	CodeStageSkipped      Code = "STAGE_SKIPPED"       // Stage had no input to act on
	CodeToolTimeout       Code = "TOOL_TIMEOUT"        // External tool exceeded its wall-clock timeout
	CodeWorkerUnavailable Code = "WORKER_UNAVAILABLE"  // No online worker could take the scan
	CodeTransientStorage  Code = "TRANSIENT_STORAGE"   // Storage operation failed transiently, exhausted retries
	CodeDataIntegrity     Code = "DATA_INTEGRITY"      // Unique/constraint violation on write
	CodeScanSoftDeleted   Code = "SCAN_SOFT_DELETED"   // Scan was soft-deleted mid-run
)
