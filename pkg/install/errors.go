// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"errors"
	"fmt"
)

// Kind identifies a reportable error category. It is attached to
// InstallJob.ErrorType and exposed to callers via Error.Kind.
type Kind string

const (
	KindBadSource           Kind = "bad_source"
	KindDuplicate           Kind = "duplicate"
	KindInvalidModelConfig  Kind = "invalid_model_config"
	KindEmptyRemote         Kind = "empty_remote"
	KindUnsupportedMigration Kind = "unsupported_migration"
	KindNotFound            Kind = "not_found"
	KindAlreadyStarted      Kind = "already_started"
	KindNotStarted          Kind = "not_started"
	KindTimeout             Kind = "timeout"
	KindDownloadFailed      Kind = "download_failed"
)

// Error is the error type this package returns for the categorized
// failures listed above; filesystem and collaborator errors can also be
// returned as they are. Callers distinguish categories with errors.Is
// against the sentinel values below, or by inspecting Kind directly.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDuplicate) etc. work by comparing Kind
// rather than identity, so wrapped instances still match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinel errors usable with errors.Is. Only Kind is compared.
var (
	ErrBadSource            = &Error{Kind: KindBadSource}
	ErrDuplicate            = &Error{Kind: KindDuplicate}
	ErrInvalidModelConfig   = &Error{Kind: KindInvalidModelConfig}
	ErrEmptyRemote          = &Error{Kind: KindEmptyRemote}
	ErrUnsupportedMigration = &Error{Kind: KindUnsupportedMigration}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrAlreadyStarted       = &Error{Kind: KindAlreadyStarted}
	ErrNotStarted           = &Error{Kind: KindNotStarted}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrDownloadFailed       = &Error{Kind: KindDownloadFailed}
)

// errKind extracts the Kind of err if it is (or wraps) an *Error,
// otherwise the empty Kind.
func errKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
