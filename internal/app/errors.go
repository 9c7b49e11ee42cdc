package app

import "errors"

var (
	// ErrInvalidRequest indicates missing or blank required fields, rejected
	// before any persistence.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound indicates the referenced chat or batch does not exist or
	// does not belong to the requesting user.
	ErrNotFound = errors.New("not found")
)
