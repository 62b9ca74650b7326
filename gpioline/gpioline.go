// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpioline wraps a bidirectional gpio.PinIO into two mode-specific
// handles, Output and Input.
//
// A handle is consumed by a mode switch: (*Output).Input returns a new *Input
// and leaves the *Output dead, and vice versa. Driving a line that was
// switched to input, or sampling one that was switched to output, is
// therefore reported instead of silently touching the pin in the wrong mode.
//
// A failed mode switch consumes the handle as well. The pin state is unknown
// at that point and the line must be re-acquired with NewOutput.
package gpioline

import (
	"errors"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"periph.io/x/conn/v3/gpio"
)

// ErrConsumed is returned when a handle is used after a mode switch.
var ErrConsumed = errors.New("gpioline: line used after mode switch")

// Line is either an *Output or an *Input.
type Line interface {
	String() string
	// Pin returns the underlying pin, or nil once the handle is consumed.
	Pin() gpio.PinIO
	line()
}

// Output is a line driven by the host.
type Output struct {
	p gpio.PinIO
}

// NewOutput configures p as an output driving l.
func NewOutput(p gpio.PinIO, l gpio.Level) (*Output, error) {
	if err := p.Out(l); err != nil {
		return nil, errcode.Wrap(errcode.IO, "gpioline: out "+p.Name(), err)
	}
	return &Output{p: p}, nil
}

func (o *Output) String() string {
	if o.p == nil {
		return "Output{consumed}"
	}
	return "Output{" + o.p.String() + "}"
}

// Pin implements Line.
func (o *Output) Pin() gpio.PinIO {
	return o.p
}

// Set drives the line to l.
func (o *Output) Set(l gpio.Level) error {
	if o.p == nil {
		return ErrConsumed
	}
	if err := o.p.Out(l); err != nil {
		return errcode.Wrap(errcode.IO, "gpioline: set "+o.p.Name(), err)
	}
	return nil
}

// Input switches the line to input with the given pull and consumes o.
func (o *Output) Input(pull gpio.Pull) (*Input, error) {
	p := o.p
	if p == nil {
		return nil, ErrConsumed
	}
	o.p = nil
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return nil, errcode.Wrap(errcode.IO, "gpioline: in "+p.Name(), err)
	}
	return &Input{p: p}, nil
}

func (o *Output) line() {}

// Input is a line sampled by the host.
type Input struct {
	p gpio.PinIO
}

func (i *Input) String() string {
	if i.p == nil {
		return "Input{consumed}"
	}
	return "Input{" + i.p.String() + "}"
}

// Pin implements Line.
func (i *Input) Pin() gpio.PinIO {
	return i.p
}

// Read returns the current level.
//
// It does not allocate and is meant to be called from busy-poll loops. It
// panics if i was consumed.
func (i *Input) Read() gpio.Level {
	if i.p == nil {
		panic(ErrConsumed)
	}
	return i.p.Read()
}

// Output switches the line to output driving l and consumes i.
func (i *Input) Output(l gpio.Level) (*Output, error) {
	p := i.p
	if p == nil {
		return nil, ErrConsumed
	}
	i.p = nil
	if err := p.Out(l); err != nil {
		return nil, errcode.Wrap(errcode.IO, "gpioline: out "+p.Name(), err)
	}
	return &Output{p: p}, nil
}

func (i *Input) line() {}

var _ Line = &Output{}
var _ Line = &Input{}
