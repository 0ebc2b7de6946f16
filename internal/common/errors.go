// Package common defines shared constants and sentinel errors used across
// client and server layers of loancollect. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrMissingParent = errors.New("parent record missing")

	// Validation errors.
	ErrInvalidID     = errors.New("invalid identifier")
	ErrUnknownTable  = errors.New("unknown table")
	ErrInvalidRecord = errors.New("invalid record")
	ErrBranchScope   = errors.New("record belongs to another branch")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
