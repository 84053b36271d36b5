// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package status defines the closed set of result codes returned by the
// factory configurator and its storage layers.
package status

import (
	"errors"
	"fmt"
)

// Code is a result status. Every Code except Success implements error, so
// codes may be returned directly or wrapped with [Errorf].
type Code uint8

// Status codes.
const (
	Success Code = iota
	Error
	NotInitialized
	InvalidParameter
	ItemExists
	ItemNotFound
	StorageError
	EntropyError
	FactoryDisabledError
	CAError
	RoTError
	OutputInfoError

	// Verification statuses
	InvalidCertificate
	InvalidValue
	KeyMismatch
)

var names = [...]string{
	Success:              "success",
	Error:                "error",
	NotInitialized:       "not initialized",
	InvalidParameter:     "invalid parameter",
	ItemExists:           "item exists",
	ItemNotFound:         "item not found",
	StorageError:         "storage error",
	EntropyError:         "entropy error",
	FactoryDisabledError: "factory disabled error",
	CAError:              "CA error",
	RoTError:             "root of trust error",
	OutputInfoError:      "output info error",
	InvalidCertificate:   "invalid certificate",
	InvalidValue:         "invalid value",
	KeyMismatch:          "key mismatch",
}

func (c Code) String() string {
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("status(%d)", uint8(c))
}

// Error implements error.
func (c Code) Error() string { return c.String() }

// codedError is a status code with context about the failing operation.
type codedError struct {
	code Code
	msg  string
	err  error
}

// Errorf creates an error with a status code. The format and args are
// formatted with [fmt.Errorf], so %w verbs record causes.
func Errorf(code Code, format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	return &codedError{code: code, msg: err.Error(), err: err}
}

func (e *codedError) Error() string {
	if e.msg == "" {
		return e.code.String()
	}
	return e.code.String() + ": " + e.msg
}

// Unwrap returns the formatted cause, which wraps every %w operand.
func (e *codedError) Unwrap() error { return e.err }

// Is reports whether target is the same status code. Causes are matched by
// [errors.Is] through Unwrap.
func (e *codedError) Is(target error) bool {
	code, ok := target.(Code)
	return ok && code == e.code
}

// Of returns the status code carried by err. The outermost code in the
// chain wins. A nil error is Success and an error without a code is Error.
func Of(err error) Code {
	if err == nil {
		return Success
	}
	var e *codedError
	if errors.As(err, &e) {
		return e.code
	}
	var code Code
	if errors.As(err, &code) {
		return code
	}
	return Error
}

// Wrap returns err with its code replaced by code, keeping err as the
// cause. A nil error stays nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, msg: err.Error(), err: err}
}
