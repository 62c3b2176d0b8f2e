// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package linkerr classifies the failures which might tear down a link.
package linkerr

import (
	"errors"
	"fmt"
)

// Kind of a link failure.
type Kind uint8

const (
	// Unknown is the Kind of errors not created by this package.
	Unknown Kind = iota

	// ProtocolViolation is a malformed cell, an out of order handshake command or a missing required field.
	ProtocolViolation

	// TransportError is an I/O failure of the underlying transport.
	TransportError

	// CryptoFailure is a failed certificate or signature verification.
	CryptoFailure

	// LocalClose is a close requested by this side, not a failure.
	LocalClose
)

func (k Kind) String() string {
	switch k {
	case ProtocolViolation:
		return "protocol violation"
	case TransportError:
		return "transport error"
	case CryptoFailure:
		return "crypto failure"
	case LocalClose:
		return "local close"
	default:
		return "unknown"
	}
}

// Error describes a link failure of some Kind, optionally caused by another error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, a ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, a...),
	}
}

// Wrap an error as the cause of a new Error.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{
		Kind:  kind,
		Msg:   msg,
		Cause: cause,
	}
}

// Violation is a shorthand for a ProtocolViolation.
func Violation(format string, a ...interface{}) *Error {
	return New(ProtocolViolation, format, a...)
}

func (err *Error) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", err.Kind, err.Msg, err.Cause)
	}
	return fmt.Sprintf("%v: %s", err.Kind, err.Msg)
}

func (err *Error) Unwrap() error {
	return err.Cause
}

// KindOf returns the Kind of the first Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var linkErr *Error
	if errors.As(err, &linkErr) {
		return linkErr.Kind
	}
	return Unknown
}

// Is reports if err's chain contains an Error of the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
