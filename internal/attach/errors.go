package attach

import (
	"errors"
	"fmt"
)

// ErrorType classifies why a candidate failed to become an attachment.
type ErrorType string

const (
	// ErrorTypeNotFound indicates the candidate path does not exist
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeNotAFile indicates the path exists but is not a regular file
	ErrorTypeNotAFile ErrorType = "not_a_file"
	// ErrorTypeTooLarge indicates the content exceeds its size ceiling
	ErrorTypeTooLarge ErrorType = "too_large"
	// ErrorTypeUnsupportedType indicates a payload the pipeline cannot decode
	ErrorTypeUnsupportedType ErrorType = "unsupported_type"
	// ErrorTypeQuotaExceeded indicates a registry quota would be violated
	ErrorTypeQuotaExceeded ErrorType = "quota_exceeded"
	// ErrorTypeAlreadyRegistered indicates the path is registered or mid-ingestion
	ErrorTypeAlreadyRegistered ErrorType = "already_registered"
	// ErrorTypeStabilityTimeout indicates the file never stopped growing
	ErrorTypeStabilityTimeout ErrorType = "stability_timeout"
	// ErrorTypeIO indicates an underlying filesystem failure
	ErrorTypeIO ErrorType = "io_failure"
)

// IngestError is a typed rejection. A rejected candidate simply fails to
// become an Attachment; it never takes down the session.
type IngestError struct {
	Type    ErrorType
	Path    string
	Message string
	Err     error
}

func (e *IngestError) Error() string {
	msg := fmt.Sprintf("ingest error [%s]", e.Type)
	if e.Path != "" {
		msg += fmt.Sprintf(" %s", e.Path)
	}
	if e.Message != "" {
		msg += fmt.Sprintf(": %s", e.Message)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsIngestError checks if an error is an IngestError and returns it.
func IsIngestError(err error) (*IngestError, bool) {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// RejectionType returns the ingest error type, or empty when err is not a
// typed rejection.
func RejectionType(err error) ErrorType {
	if ie, ok := IsIngestError(err); ok {
		return ie.Type
	}
	return ""
}
