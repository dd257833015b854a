package core

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrNotPending     = errors.New("request is not pending")
	ErrNotImplemented = errors.New("not implemented")
)
