package app

import (
	"errors"
	"fmt"
)

// ErrAuthFailure is deliberately detail-free so a failed login never confirms
// which part of the credential was wrong.
var ErrAuthFailure = errors.New("invalid credentials")

// ErrPrivilegeRequired gates registry management, protocol authoring, and
// destructive store controls.
var ErrPrivilegeRequired = errors.New("privileged role required")

// StoreUnavailableError wraps failures to open or write the local store.
type StoreUnavailableError struct {
	Op  string // "open", "put", "getAll", "delete"
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// TransportError wraps failures of the remote model stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SynthesisError wraps unusable output from protocol synthesis.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("protocol synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
