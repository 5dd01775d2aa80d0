package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for offload operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Request errors (4xx equivalent)
	ErrCodeNodeNotFound      ErrorCode = 1000
	ErrCodeNodeUnavailable   ErrorCode = 1001
	ErrCodeNoTargetSelected  ErrorCode = 1002
	ErrCodeInvalidTransition ErrorCode = 1003
	ErrCodeNoSuitableTarget  ErrorCode = 1004
	ErrCodePayloadTooSmall   ErrorCode = 1005
	ErrCodeInvalidArgument   ErrorCode = 1006

	// Transfer errors (5xx equivalent)
	ErrCodeSegmentTransferFailed ErrorCode = 2000
	ErrCodeIntegrityMismatch     ErrorCode = 2001
	ErrCodeConnectTimeout        ErrorCode = 2002
	ErrCodeTransferTimeout       ErrorCode = 2003
	ErrCodeCancelled             ErrorCode = 2004
	ErrCodeInternal              ErrorCode = 2005
)

// OffloadError represents a structured error with code and context
type OffloadError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *OffloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *OffloadError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error represents a transient segment
// failure that the transfer engine may retry.
func (e *OffloadError) Retryable() bool {
	switch e.Code {
	case ErrCodeSegmentTransferFailed, ErrCodeIntegrityMismatch,
		ErrCodeConnectTimeout, ErrCodeTransferTimeout:
		return true
	default:
		return false
	}
}

// ToGRPCStatus converts OffloadError to gRPC status
func (e *OffloadError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *OffloadError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeNodeNotFound:
		return codes.NotFound
	case ErrCodeNodeUnavailable, ErrCodeNoSuitableTarget:
		return codes.Unavailable
	case ErrCodeNoTargetSelected, ErrCodeInvalidTransition, ErrCodePayloadTooSmall:
		return codes.FailedPrecondition
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeConnectTimeout, ErrCodeTransferTimeout:
		return codes.DeadlineExceeded
	case ErrCodeIntegrityMismatch:
		return codes.DataLoss
	case ErrCodeCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// NewOffloadError creates a new OffloadError
func NewOffloadError(code ErrorCode, message string, cause error) *OffloadError {
	return &OffloadError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *OffloadError) WithDetail(key string, value interface{}) *OffloadError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func NodeNotFound(nodeID string) *OffloadError {
	return NewOffloadError(ErrCodeNodeNotFound, fmt.Sprintf("node not found: %s", nodeID), nil).
		WithDetail("node_id", nodeID)
}

func NodeUnavailable(nodeID, reason string) *OffloadError {
	return NewOffloadError(ErrCodeNodeUnavailable, fmt.Sprintf("node %s unavailable: %s", nodeID, reason), nil).
		WithDetail("node_id", nodeID).
		WithDetail("reason", reason)
}

func NoTargetSelected() *OffloadError {
	return NewOffloadError(ErrCodeNoTargetSelected, "no target node selected", nil)
}

func InvalidTransition(from, event string) *OffloadError {
	return NewOffloadError(ErrCodeInvalidTransition, fmt.Sprintf("invalid transition: %s not allowed from %s", event, from), nil).
		WithDetail("from", from).
		WithDetail("event", event)
}

func NoSuitableTarget(candidates int) *OffloadError {
	return NewOffloadError(ErrCodeNoSuitableTarget, fmt.Sprintf("no suitable target node among %d candidates", candidates), nil).
		WithDetail("candidates", candidates)
}

func PayloadTooSmall(size, min uint64) *OffloadError {
	return NewOffloadError(ErrCodePayloadTooSmall, fmt.Sprintf("payload size %d below minimum %d", size, min), nil).
		WithDetail("size", size).
		WithDetail("min", min)
}

func InvalidArgument(message string) *OffloadError {
	return NewOffloadError(ErrCodeInvalidArgument, message, nil)
}

func SegmentTransferFailed(index int, cause error) *OffloadError {
	return NewOffloadError(ErrCodeSegmentTransferFailed, fmt.Sprintf("segment %d transfer failed", index), cause).
		WithDetail("segment", index)
}

func IntegrityMismatch(index int, expected, actual uint32) *OffloadError {
	return NewOffloadError(ErrCodeIntegrityMismatch, fmt.Sprintf("segment %d checksum mismatch: expected %d, got %d", index, expected, actual), nil).
		WithDetail("segment", index).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func ConnectTimeout(nodeID string, cause error) *OffloadError {
	return NewOffloadError(ErrCodeConnectTimeout, fmt.Sprintf("connect to node %s timed out", nodeID), cause).
		WithDetail("node_id", nodeID)
}

func TransferTimeout(index int, cause error) *OffloadError {
	return NewOffloadError(ErrCodeTransferTimeout, fmt.Sprintf("segment %d transfer timed out", index), cause).
		WithDetail("segment", index)
}

func Cancelled() *OffloadError {
	return NewOffloadError(ErrCodeCancelled, "offload cancelled", nil)
}

func InternalError(message string, cause error) *OffloadError {
	return NewOffloadError(ErrCodeInternal, message, cause)
}

// IsOffloadError checks if an error is an OffloadError
func IsOffloadError(err error) bool {
	_, ok := err.(*OffloadError)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if oe, ok := err.(*OffloadError); ok {
		return oe.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether an error should be retried at segment level
func IsRetryable(err error) bool {
	if oe, ok := err.(*OffloadError); ok {
		return oe.Retryable()
	}
	// Unclassified transport errors count as retryable segment failures
	return err != nil
}
