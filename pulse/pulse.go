// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pulse measures and classifies pulse widths on a single-wire line
// without a hardware timer.
//
// Durations are expressed in ticks, one tick being one iteration of a busy
// poll loop. Ticks are only comparable within a single receive operation:
// loop overhead varies by CPU, compiler and load, so a frame is decoded with a
// threshold derived from the frame itself, see Threshold.
//
// The sampling functions neither allocate nor yield. Callers should pin the
// goroutine with runtime.LockOSThread for the duration of a receive, and
// should expect the occasional corrupted frame when the runtime preempts the
// thread anyway.
package pulse

import (
	"time"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

const (
	// FrameBits is the number of data bits in a frame.
	FrameBits = 40
	// AckTimeout bounds each phase of the acknowledge handshake.
	AckTimeout = 2 * time.Millisecond
	// WatchdogEvery is the number of loop iterations between two clock
	// checks while waiting for the acknowledge.
	WatchdogEvery = 1000
)

// Reader is a line configured as input.
//
// *gpioline.Input implements it.
type Reader interface {
	Read() gpio.Level
}

// Ticks is a pulse duration in busy loop iterations.
type Ticks = uint32

// Frame holds the duration of each data bit of one receive operation.
type Frame [FrameBits]Ticks

// Ack waits for the acknowledge sequence high, low, high and returns the
// number of iterations it lasted.
//
// A line that does not toggle within AckTimeout in the first two phases
// returns errcode.NoResponse. A line stuck high after the device pulled it
// low returns errcode.Timeout.
func Ack(in Reader, clk clockwork.Clock) (Ticks, error) {
	start := clk.Now()
	var n Ticks
	for in.Read() == gpio.High {
		n++
		if n%WatchdogEvery == 0 && clk.Since(start) > AckTimeout {
			return n, errcode.New(errcode.NoResponse, "pulse: ack")
		}
	}
	for in.Read() == gpio.Low {
		n++
		if n%WatchdogEvery == 0 && clk.Since(start) > AckTimeout {
			return n, errcode.New(errcode.NoResponse, "pulse: ack")
		}
	}
	for in.Read() == gpio.High {
		n++
		if n%WatchdogEvery == 0 && clk.Since(start) > 2*AckTimeout {
			return n, errcode.New(errcode.Timeout, "pulse: ack")
		}
	}
	return n, nil
}

// BitTimeout returns the per bit iteration budget derived from the length
// of the acknowledge.
func BitTimeout(ack Ticks) Ticks {
	return ack << 2
}

// Bit measures one data bit: the low preamble followed by the high pulse.
func Bit(in Reader, timeout Ticks) (Ticks, error) {
	var n Ticks
	for in.Read() == gpio.Low {
		n++
		if n > timeout {
			return n, errcode.New(errcode.Timeout, "pulse: bit low")
		}
	}
	for in.Read() == gpio.High {
		n++
		if n > timeout {
			return n, errcode.New(errcode.Timeout, "pulse: bit high")
		}
	}
	return n, nil
}

// End measures the low pulse that terminates a frame.
func End(in Reader, timeout Ticks) (Ticks, error) {
	var n Ticks
	for in.Read() == gpio.Low {
		n++
		if n > timeout {
			return n, errcode.New(errcode.Timeout, "pulse: end")
		}
	}
	return n, nil
}

// Receive runs a full receive: acknowledge, FrameBits data bits and, when
// end is set, the trailing end pulse.
//
// The returned end ticks is 0 when end is false.
func Receive(in Reader, clk clockwork.Clock, end bool) (Frame, Ticks, error) {
	var f Frame
	ack, err := Ack(in, clk)
	if err != nil {
		return f, 0, err
	}
	timeout := BitTimeout(ack)
	for i := range f {
		if f[i], err = Bit(in, timeout); err != nil {
			return f, 0, err
		}
	}
	if !end {
		return f, 0, nil
	}
	e, err := End(in, timeout)
	return f, e, err
}
