package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrEmailExists        = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountDeactivated = errors.New("auth: account deactivated")
	ErrTenantInactive     = errors.New("auth: tenant inactive")
	ErrTenantSuspended    = errors.New("auth: tenant suspended")
	ErrRateLimited        = errors.New("auth: rate limited")
	ErrSessionExpired     = errors.New("auth: session expired")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrExpiredToken       = errors.New("auth: expired token")
	ErrAlreadyVerified    = errors.New("auth: email already verified")
	ErrNotFound           = errors.New("auth: not found")
	ErrUnavailable        = errors.New("auth: backend unavailable")
)

// LockedError carries the remaining lock duration so callers can report a
// retry-after hint. errors.Is(err, ErrAccountLocked) holds for it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfterMinutes rounds the remaining lock window up to whole minutes.
func (e *LockedError) RetryAfterMinutes() int {
	m := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}
