// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1gpio bit-bangs a 1-wire bus on a single GPIO pin.
//
// The pin must have an external pull-up, typically 4.7kΩ. Between time slots
// the host drives the line high.
//
// Slot timings are fixed, in µs:
//
//	reset        low 480, release, sample at +30 and +60, wait the rest of 480
//	write 0      low 60, high
//	write 1      low 1, high 59
//	read         low 1, release, sample at +15, high 45
//	recovery     high 1 before every slot
//
// Delays are busy waits. Other goroutines may still preempt the thread; a
// corrupted transfer is caught by the CRC of the data read.
package w1gpio

import (
	"runtime"
	"time"

	"github.com/GermanBionicSystems/bitbang/gpioline"
	"github.com/GermanBionicSystems/bitbang/w1"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3/cpu"
)

const (
	resetLow      = 480 * time.Microsecond
	presence1     = 30 * time.Microsecond
	presence2     = 30 * time.Microsecond
	resetRest     = resetLow - presence1 - presence2
	recovery      = time.Microsecond
	slot          = 60 * time.Microsecond
	write0Low     = 60 * time.Microsecond
	write1Low     = time.Microsecond
	readLow       = time.Microsecond
	readSample    = 15*time.Microsecond - readLow
	readRemaining = slot - readSample - readLow
)

// Opts holds the configuration options.
type Opts struct {
	// Pull is applied while the host listens.
	Pull gpio.Pull
	// Delay blocks for d without yielding. Defaults to cpu.Nanospin.
	Delay func(d time.Duration)
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pull:  gpio.PullUp,
	Delay: cpu.Nanospin,
}

// Link implements w1.Link on a GPIO pin.
type Link struct {
	p     gpio.PinIO
	pull  gpio.Pull
	delay func(time.Duration)
	out   *gpioline.Output // nil when the line was lost
}

// New returns a 1-wire bus on p.
func New(p gpio.PinIO, opts *Opts) (*w1.Bus, error) {
	l, err := NewLink(p, opts)
	if err != nil {
		return nil, err
	}
	return w1.New(p.Name(), l), nil
}

// NewLink drives p high and returns the link.
func NewLink(p gpio.PinIO, opts *Opts) (*Link, error) {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.Delay == nil {
		o.Delay = cpu.Nanospin
	}
	l := &Link{p: p, pull: o.Pull, delay: o.Delay}
	if err := l.idle(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) String() string {
	return l.p.String()
}

// Q implements onewire.Pins.
func (l *Link) Q() gpio.PinIO {
	return l.p
}

// Reset implements w1.Link.
func (l *Link) Reset() (bool, error) {
	if err := l.idle(); err != nil {
		return false, err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := l.out.Set(gpio.Low); err != nil {
		return false, err
	}
	l.delay(resetLow)
	in, err := l.release()
	if err != nil {
		return false, err
	}
	l.delay(presence1)
	present := in.Read() == gpio.Low
	l.delay(presence2)
	present = in.Read() == gpio.Low || present
	l.delay(resetRest)
	return present, l.drive(in)
}

// WriteBit implements w1.Link.
func (l *Link) WriteBit(bit bool) error {
	if err := l.idle(); err != nil {
		return err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.delay(recovery)
	if err := l.out.Set(gpio.Low); err != nil {
		return err
	}
	if bit {
		l.delay(write1Low)
		if err := l.out.Set(gpio.High); err != nil {
			return err
		}
		l.delay(slot - write1Low)
		return nil
	}
	l.delay(write0Low)
	return l.out.Set(gpio.High)
}

// ReadBit implements w1.Link.
func (l *Link) ReadBit() (bool, error) {
	if err := l.idle(); err != nil {
		return false, err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.delay(recovery)
	if err := l.out.Set(gpio.Low); err != nil {
		return false, err
	}
	l.delay(readLow)
	in, err := l.release()
	if err != nil {
		return false, err
	}
	l.delay(readSample)
	bit := in.Read() == gpio.High
	if err := l.drive(in); err != nil {
		return false, err
	}
	l.delay(readRemaining)
	return bit, nil
}

// idle re-acquires the line as output high if it was lost.
func (l *Link) idle() error {
	if l.out != nil {
		return nil
	}
	out, err := gpioline.NewOutput(l.p, gpio.High)
	if err != nil {
		return err
	}
	l.out = out
	return nil
}

func (l *Link) release() (*gpioline.Input, error) {
	out := l.out
	l.out = nil
	return out.Input(l.pull)
}

func (l *Link) drive(in *gpioline.Input) error {
	out, err := in.Output(gpio.High)
	if err != nil {
		return err
	}
	l.out = out
	return nil
}

var _ w1.Link = &Link{}
