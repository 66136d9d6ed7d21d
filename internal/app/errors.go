package app

import (
	"errors"
	"fmt"
	"net/http"

	"writeshare/api/internal/store"
)

// DomainError is rendered to clients as {code, error, details}. Two domain
// errors match under errors.Is when their codes are equal, so the
// sentinels below can be used to classify any instance.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

var (
	ErrValidation       = &DomainError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: "Validation failed"}
	ErrNotFound         = &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Not found"}
	ErrForbidden        = &DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Forbidden"}
	ErrAlreadyMember    = &DomainError{Status: http.StatusConflict, Code: "ALREADY_MEMBER", Message: "User is already a member"}
	ErrUserNotFound     = &DomainError{Status: http.StatusNotFound, Code: "USER_NOT_FOUND", Message: "No account exists for that email"}
	ErrSnapshotDecode   = &DomainError{Status: http.StatusUnprocessableEntity, Code: "SNAPSHOT_DECODE_ERROR", Message: "Snapshot could not be decoded"}
	ErrTransientStorage = &DomainError{Status: http.StatusServiceUnavailable, Code: "TRANSIENT_STORAGE_ERROR", Message: "Storage temporarily unavailable"}
)

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(ErrValidation.Status, ErrValidation.Code, message, details)
}

func notFound(what string) *DomainError {
	return domainError(ErrNotFound.Status, ErrNotFound.Code, what+" not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(ErrForbidden.Status, ErrForbidden.Code, message, nil)
}

// snapshotDecodeError is a 422 for payloads sent by the realtime service
// and a 500 for bytes already in storage.
func snapshotDecodeError(err error, stored bool) *DomainError {
	status := ErrSnapshotDecode.Status
	message := "Snapshot payload is not valid base64"
	if stored {
		status = http.StatusInternalServerError
		message = "Stored snapshot is corrupt"
	}
	e := domainError(status, ErrSnapshotDecode.Code, message, map[string]any{"reason": err.Error()})
	e.Err = err
	return e
}

// storageError marks connection loss, serialization failures and timeouts
// as retryable. Everything else passes through unchanged.
func storageError(err error) error {
	if err == nil || !store.IsTransient(err) {
		return err
	}
	e := domainError(ErrTransientStorage.Status, ErrTransientStorage.Code, ErrTransientStorage.Message, nil)
	e.Err = err
	return e
}
