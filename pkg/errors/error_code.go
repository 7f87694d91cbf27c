package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeMissingParameter     ErrorCode = 103

	// Data/Resource errors (200-299)
	ErrCodeOrderNotFound   ErrorCode = 200
	ErrCodeLotInfoNotFound ErrorCode = 201
	ErrCodeQueryFailed     ErrorCode = 202

	// Sizing errors (300-399)
	ErrCodeBelowMinimumSize ErrorCode = 300
	ErrCodeQuantizeFailed   ErrorCode = 301

	// Trading errors (500-599)
	ErrCodeOrderRejected       ErrorCode = 500
	ErrCodeOrderFailed         ErrorCode = 501
	ErrCodeConnectivity        ErrorCode = 502
	ErrCodePositionNotFound    ErrorCode = 503
	ErrCodeInsufficientBalance ErrorCode = 504

	// Cycle errors (600-699)
	ErrCodeCycleInitFailed ErrorCode = 600
	ErrCodeCycleStopped    ErrorCode = 601
	ErrCodeHistoryFailed   ErrorCode = 602

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800
)
