package model

import (
	"errors"
	"fmt"
)

// Ожидаемые исходы операций. Все они — ответы вызывающей стороне,
// а не сбои: повторять такой запрос автоматически не нужно.
var (
	ErrScheduleConflict    = errors.New("schedule conflict")
	ErrSessionFull         = errors.New("session is full")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotFound            = errors.New("not found")
	ErrOwnership           = errors.New("actor does not own this resource")
	ErrAlreadyBooked       = errors.New("student already booked for this session")
	ErrAlreadyQueued       = errors.New("student already on waitlist for this session")
	ErrInvalidInterval     = errors.New("invalid time interval")
	ErrNothingToPromote    = errors.New("no eligible waitlist entry")
	ErrSessionNotBookable  = errors.New("session is not open for booking")
	ErrBookingNotActive    = errors.New("booking is not active")
	ErrPackageExpired      = errors.New("package has expired")
	ErrAllowanceMismatch   = errors.New("allowance does not cover this session")
)

// PolicyDeniedError отказ по правилам отмены/переноса с машиночитаемой причиной
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("denied by cancellation policy: %s", e.Reason)
}

// IsPolicyDenied проверяет является ли ошибка отказом по правилам
func IsPolicyDenied(err error) (string, bool) {
	var pd *PolicyDeniedError
	if errors.As(err, &pd) {
		return pd.Reason, true
	}
	return "", false
}
