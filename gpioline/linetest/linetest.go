// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package linetest provides a gpio.PinIO that replays a recorded sequence of
// input levels, to test bit-banged protocol decoders.
package linetest

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// Playback implements gpio.PinIO.
//
// Every Read consumes one entry of Samples. Once Samples is exhausted, Read
// returns Default. The read cursor belongs to the Playback, so independent
// Playbacks never interfere.
//
// Modify its members before use; grab the embedded Pin's Mutex to inspect
// them while a driver is running.
type Playback struct {
	gpiotest.Pin

	Samples []gpio.Level
	Default gpio.Level
	Count   int // number of Read calls served so far

	// Clock, when set, is advanced by Step on every Read so that watchdogs
	// based on wall clock time can fire deterministically.
	Clock *clockwork.FakeClock
	Step  time.Duration

	// InErr and OutErr are returned by In and Out respectively when set.
	InErr  error
	OutErr error

	Outs     []gpio.Level // levels driven through Out, in order
	Ins      int          // number of In calls
	Requests int          // number of falling edges driven by the host
	IsInput  bool
}

// Levels converts a compact 0/1 sample description into levels.
func Levels(bits ...int) []gpio.Level {
	l := make([]gpio.Level, len(bits))
	for i, b := range bits {
		l[i] = b != 0
	}
	return l
}

// Append adds samples at the end of the playback.
func (p *Playback) Append(l ...gpio.Level) {
	p.Lock()
	defer p.Unlock()
	p.Samples = append(p.Samples, l...)
}

// In implements gpio.PinIn.
func (p *Playback) In(pull gpio.Pull, edge gpio.Edge) error {
	p.Lock()
	defer p.Unlock()
	if p.InErr != nil {
		return p.InErr
	}
	if edge != gpio.NoEdge {
		return errors.New("linetest: edges are not supported")
	}
	p.Ins++
	p.P = pull
	p.IsInput = true
	return nil
}

// Read implements gpio.PinIn.
func (p *Playback) Read() gpio.Level {
	p.Lock()
	defer p.Unlock()
	if p.Clock != nil {
		p.Clock.Advance(p.Step)
	}
	if !p.IsInput {
		return p.L
	}
	l := p.Default
	if p.Count < len(p.Samples) {
		l = p.Samples[p.Count]
	}
	p.Count++
	return l
}

// Out implements gpio.PinOut.
func (p *Playback) Out(l gpio.Level) error {
	p.Lock()
	defer p.Unlock()
	if p.OutErr != nil {
		return p.OutErr
	}
	if l == gpio.Low && (p.IsInput || p.L == gpio.High) {
		p.Requests++
	}
	p.IsInput = false
	p.L = l
	p.Outs = append(p.Outs, l)
	return nil
}

var _ gpio.PinIO = &Playback{}
