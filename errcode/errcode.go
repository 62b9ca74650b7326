// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package errcode defines the error kinds shared by the single-wire sensor
// drivers.
//
// Drivers never return a bare Code when there is more context to keep; they
// wrap it in an *E. Callers classify with errors.Is(err, errcode.BadData) or
// with Of(err).
package errcode

import "errors"

// Code is a stable error kind. It is comparable and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Error kinds.
const (
	// IO is a failure reported by the underlying hardware (pin mode change,
	// serial port, ...). Never retried.
	IO Code = "io"
	// InvalidArgument is an option validation failure. No hardware access was
	// attempted.
	InvalidArgument Code = "invalid_argument"
	// NoResponse means the sensor did not acknowledge a request.
	NoResponse Code = "no_response"
	// NoSensorsFound means no presence pulse followed a 1-wire reset.
	NoSensorsFound Code = "no_sensors_found"
	// Timeout means the sensor responded but synchronization was lost
	// mid-frame.
	Timeout Code = "timeout"
	// BadData is a checksum, CRC or plausibility failure.
	BadData Code = "bad_data"

	// Unknown is returned by Of for errors that carry no Code.
	Unknown Code = "unknown"
)

// E wraps a Code with the failing operation and an optional cause.
type E struct {
	C   Code
	Op  string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

// Code returns the error kind.
func (e *E) Code() Code { return e.C }

// Is reports whether target is the Code carried by e.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New returns an *E for op without a cause.
func New(c Code, op string) error {
	return &E{C: c, Op: op}
}

// Wrap returns an *E for op around err. It returns nil if err is nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts the Code of err, walking the wrap chain.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	type coder interface{ Code() Code }
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch x := e.(type) {
		case Code:
			return x
		case coder:
			return x.Code()
		}
	}
	return Unknown
}

// Retryable reports whether a new read attempt may succeed where err failed.
//
// Only Timeout and BadData are retryable: a missing device will not appear by
// retrying and hardware errors are fatal.
func Retryable(err error) bool {
	switch Of(err) {
	case Timeout, BadData:
		return true
	}
	return false
}
