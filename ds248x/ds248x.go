// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds248x runs a 1-wire bus through a Maxim DS2482-100, DS2482-800 or
// DS2483 I²C bridge.
//
// The bridge generates the time slots in hardware, so unlike w1gpio the
// timing does not depend on the host scheduler.
//
// # Datasheet
//
// https://datasheets.maximintegrated.com/en/ds/DS2483.pdf
package ds248x

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/GermanBionicSystems/bitbang/w1"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// PupOhm controls the strength of the passive pull-up resistor
// on the 1-wire data line. The default value is 1000Ω.
type PupOhm uint8

const (
	// R500Ω passive pull-up resistor.
	R500Ω = 4
	// R1000Ω passive pull-up resistor.
	R1000Ω = 6
)

// Opts contains options to pass to the constructor.
type Opts struct {
	PassivePullup bool // false:use active pull-up, true: disable active pullup

	// The following options are only available on the ds2483 (not ds2482-100).
	// The actual value used is the closest possible value (rounded up or down).
	ResetLow       time.Duration // reset low time, range 440μs..740μs
	PresenceDetect time.Duration // presence detect sample time, range 58μs..76μs
	Write0Low      time.Duration // write zero low time, range 52μs..70μs
	Write0Recovery time.Duration // write zero recovery time, range 2750ns..25250ns
	PullupRes      PupOhm        // passive pull-up resistance

	// Channel is the 1-wire port of a DS2482-800, 0..7.
	Channel int
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	PassivePullup:  false,
	ResetLow:       560 * time.Microsecond,
	PresenceDetect: 68 * time.Microsecond,
	Write0Low:      64 * time.Microsecond,
	Write0Recovery: 5250 * time.Nanosecond,
	PullupRes:      R1000Ω,
}

// DefaultAddr is the I²C address with both address pins low.
const DefaultAddr uint16 = 0x18

// Open opens the I²C bus name with i2creg and returns a 1-wire bus on the
// bridge at addr. Closing the 1-wire bus closes the I²C bus.
func Open(name string, addr uint16, opts *Opts) (*w1.Bus, error) {
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, "ds248x: open "+name, err)
	}
	l, err := NewLink(b, addr, opts)
	if err != nil {
		b.Close()
		return nil, err
	}
	l.closer = b
	return w1.New(l.String(), l), nil
}

// New returns a 1-wire bus on the bridge at addr on b.
//
// Valid I²C addresses are 0x18, 0x19, 0x20 and 0x21.
func New(b i2c.Bus, addr uint16, opts *Opts) (*w1.Bus, error) {
	l, err := NewLink(b, addr, opts)
	if err != nil {
		return nil, err
	}
	return w1.New(l.String(), l), nil
}

// NewLink resets and configures the bridge at addr on b.
func NewLink(b i2c.Bus, addr uint16, opts *Opts) (*Link, error) {
	switch addr {
	case 0x18, 0x19, 0x20, 0x21:
	default:
		return nil, errcode.Wrap(errcode.InvalidArgument, "ds248x", fmt.Errorf("address %#x not supported by device", addr))
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.Channel < 0 || o.Channel > 7 {
		return nil, errcode.Wrap(errcode.InvalidArgument, "ds248x", fmt.Errorf("channel %d", o.Channel))
	}
	l := &Link{i2c: &i2c.Dev{Bus: b, Addr: addr}}
	if err := l.init(&o); err != nil {
		return nil, errcode.Wrap(errcode.IO, "ds248x", err)
	}
	return l, nil
}

// Link implements w1.PowerLink with the single bit command of the bridge.
//
// Link implements a persistent error model: if a fatal error is encountered it
// places itself into an error state and immediately returns the last error on
// all subsequent calls. A fresh Link, which reinitializes the hardware, must
// be created to proceed.
//
// A persistent error is only set when there is a problem with the ds248x
// device itself (or the I²C bus used to access it). Errors on the 1-wire bus
// are not persistent.
type Link struct {
	i2c     conn.Conn     // i2c device handle for the ds248x
	variant variant       // detected bridge model
	confReg byte          // value written to configuration register
	tReset  time.Duration // time to perform a 1-wire reset
	tSlot   time.Duration // time to perform a 1-bit 1-wire read/write
	err     error         // persistent error, device will no longer operate
	closer  io.Closer     // set by Open
}

func (l *Link) String() string {
	return l.variant.String() + "{" + l.i2c.String() + "}"
}

// Close closes the I²C bus opened by Open, if any.
func (l *Link) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Reset implements w1.Link.
func (l *Link) Reset() (bool, error) {
	l.i2cTx([]byte{cmd1WReset}, nil)
	status := l.waitIdle(l.tReset)
	if l.err != nil {
		return false, l.err
	}
	if status&statusSD != 0 {
		return false, &shortedBusError{errcode.E{C: errcode.IO, Op: "ds248x: reset", Err: errors.New("bus has a short")}}
	}
	return status&statusPPD != 0, nil
}

// WriteBit implements w1.Link.
func (l *Link) WriteBit(bit bool) error {
	l.slot(bit)
	return l.err
}

// ReadBit implements w1.Link.
//
// A read slot is a write 1 slot: the bridge samples the line and stores the
// result in the status register.
func (l *Link) ReadBit() (bool, error) {
	status := l.slot(true)
	return status&statusSBR != 0, l.err
}

// ArmStrongPullup implements w1.PowerLink.
//
// The bridge clears the bit on its own after the next reset or slot.
func (l *Link) ArmStrongPullup() error {
	l.i2cTx([]byte{cmdWriteConfig, l.confReg&0xbf | 0x4}, nil)
	return l.err
}

func (l *Link) slot(bit bool) byte {
	var v byte
	if bit {
		v = 0x80
	}
	l.i2cTx([]byte{cmd1WBit, v}, nil)
	return l.waitIdle(l.tSlot)
}

// i2cTx is a helper function to call i2c.Tx and handle the error by persisting
// it.
func (l *Link) i2cTx(w, r []byte) {
	if l.err != nil {
		return
	}
	if err := l.i2c.Tx(w, r); err != nil {
		l.err = errcode.Wrap(errcode.IO, "ds248x", err)
	}
}

// waitIdle waits for the one wire bus to be idle.
//
// It initially sleeps for the delay and then polls the status register and
// sleeps for a tenth of the delay each time the status register indicates that
// the bus is still busy. The last read status byte is returned.
//
// An overall timeout of 3ms is applied to the whole procedure. waitIdle uses
// the persistent error model and returns 0 if there is an error.
func (l *Link) waitIdle(delay time.Duration) byte {
	if l.err != nil {
		return 0
	}
	tOut := time.Now().Add(3 * time.Millisecond)
	sleep(delay)
	for {
		var status [1]byte
		l.i2cTx(nil, status[:])
		// This also returns if l.err != nil because then status[0] == 0.
		if status[0]&status1WB == 0 {
			return status[0]
		}
		// This is an error with the ds248x, not with devices on the 1-wire
		// bus, hence it is persistent.
		if time.Now().After(tOut) {
			l.err = errcode.Wrap(errcode.IO, "ds248x", errors.New("timeout waiting for bus cycle to finish"))
			return 0
		}
		// Try not to hog the kernel thread.
		sleep(delay / 10)
	}
}

func (l *Link) init(opts *Opts) error {
	l.tReset = 2 * opts.ResetLow
	l.tSlot = opts.Write0Low + opts.Write0Recovery

	if err := l.i2c.Tx([]byte{cmdReset}, nil); err != nil {
		return fmt.Errorf("error while resetting: %w", err)
	}

	// Read the status register to confirm that we have a responding ds248x.
	var stat [1]byte
	if err := l.i2c.Tx([]byte{cmdSetReadPtr, regStatus}, stat[:]); err != nil {
		return fmt.Errorf("error while reading status register: %w", err)
	}
	if stat[0] != 0x18 {
		return fmt.Errorf("invalid status register value: %#x, expected 0x18", stat[0])
	}

	// Write the device configuration register to get the chip out of reset
	// state, immediately read it back to get confirmation.
	l.confReg = 0xe1 // standard-speed, no strong pullup, no powerdown, active pull-up
	if opts.PassivePullup {
		l.confReg ^= 0x11
	}
	var dcr [1]byte
	if err := l.i2c.Tx([]byte{cmdWriteConfig, l.confReg}, dcr[:]); err != nil {
		return fmt.Errorf("error while writing device config register: %w", err)
	}
	// When reading back we only get the bottom nibble.
	if dcr[0] != l.confReg&0x0f {
		return fmt.Errorf("failure to write device config register, wrote %#x got %#x back", l.confReg, dcr[0])
	}

	// Only the ds2483 has a port configuration register and only the
	// ds2482-800 has a channel selection register.
	if l.i2c.Tx([]byte{cmdSetReadPtr, regPCR}, nil) == nil {
		l.variant = ds2483
		buf := []byte{cmdAdjPort,
			byte(0x00 + ((opts.ResetLow/time.Microsecond - 430) / 20 & 0x0f)),
			byte(0x20 + ((opts.PresenceDetect/time.Microsecond - 55) / 2 & 0x0f)),
			byte(0x40 + ((opts.Write0Low/time.Microsecond - 51) / 2 & 0x0f)),
			byte(0x60 + (((opts.Write0Recovery-1250)/2500 + 5) & 0x0f)),
			byte(0x80 + (opts.PullupRes & 0x0f)),
		}
		if err := l.i2c.Tx(buf, nil); err != nil {
			return fmt.Errorf("error while setting port config values: %w", err)
		}
		return nil
	}
	if l.i2c.Tx([]byte{cmdSetReadPtr, regCSR}, nil) == nil {
		l.variant = ds2482x800
		if err := l.i2c.Tx([]byte{cmdChannelSelect, channels[opts.Channel]}, nil); err != nil {
			return fmt.Errorf("error while selecting channel: %w", err)
		}
		return nil
	}
	l.variant = ds2482x100
	return nil
}

type variant int

const (
	ds2482x100 variant = iota
	ds2482x800
	ds2483
)

func (v variant) String() string {
	switch v {
	case ds2482x100:
		return "DS2482-100"
	case ds2482x800:
		return "DS2482-800"
	case ds2483:
		return "DS2483"
	}
	return "Undefined"
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError struct {
	errcode.E
}

func (e *shortedBusError) IsShorted() bool { return true }
func (e *shortedBusError) BusError() bool  { return true }

var sleep = time.Sleep

var _ w1.PowerLink = &Link{}

const (
	cmdReset         = 0xf0 // reset ds248x
	cmdSetReadPtr    = 0xe1 // set the read pointer
	cmdWriteConfig   = 0xd2 // write the device configuration
	cmdAdjPort       = 0xc3 // adjust 1-wire port (ds2483)
	cmdChannelSelect = 0xc3 // channel select (ds2482-800)
	cmd1WReset       = 0xb4 // reset the 1-wire bus
	cmd1WBit         = 0x87 // perform a single-bit transaction on the 1-wire bus

	regStatus = 0xf0 // read ptr for status register
	regPCR    = 0xb4 // read ptr for port configuration register
	regCSR    = 0xd2 // read ptr for channel selection register

	status1WB = 0x01 // 1-wire busy
	statusPPD = 0x02 // presence pulse detected
	statusSD  = 0x04 // short detected
	statusSBR = 0x20 // single bit result
)

// channels are the ds2482-800 channel selection codes.
var channels = [8]byte{0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87}
