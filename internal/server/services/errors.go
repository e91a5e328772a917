package services

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrVoucherNotFound     = errors.New("voucher not found")
	ErrVoucherAlreadyUsed  = errors.New("voucher already used")
	ErrInvalidToken        = errors.New("invalid or expired registration token")
	ErrRouterNotConfigured = errors.New("router is not configured")
)

// ValidationError rejects malformed input before any router or ledger access
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
