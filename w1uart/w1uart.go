// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1uart runs a 1-wire bus on a UART, DS9097 style.
//
// TX and RX are tied together through an open drain buffer so that the UART
// reads back its own transmission, as pulled low by devices on the bus.
//
// A reset is a 0xF0 sent at 9600 baud: its start bit and the 4 low bits
// form a ~520µs low pulse and a presence pulse corrupts the echo. A time slot
// is one byte at 115200 baud: 0xFF is a write 1 or a read slot, 0x00 is a
// write 0. A read slot echoed as 0xFF is a 1.
//
// See Maxim tutorial 214, "Using a UART to Implement a 1-Wire Bus Master".
package w1uart

import (
	"errors"
	"time"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/GermanBionicSystems/bitbang/w1"
	"github.com/golang/glog"
	"go.bug.st/serial"
)

const (
	resetBaud = 9600
	slotBaud  = 115200

	resetByte = 0xF0
	slotHigh  = 0xFF
	slotLow   = 0x00
)

// ReadTimeout bounds the wait for an echo. A missing echo means TX and RX
// are not connected.
var ReadTimeout = 100 * time.Millisecond

var errNoEcho = errors.New("no echo")

// Link implements w1.Link on a serial port.
type Link struct {
	name string
	port serial.Port
	baud int
	buf  [1]byte
}

// Open opens the serial port name and returns a 1-wire bus on it.
func Open(name string) (*w1.Bus, error) {
	port, err := serial.Open(name, mode(slotBaud))
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, "w1uart: open "+name, err)
	}
	bus, err := New(name, port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return bus, nil
}

// New returns a 1-wire bus on an already opened port. Closing the bus closes
// the port.
func New(name string, port serial.Port) (*w1.Bus, error) {
	l, err := NewLink(name, port)
	if err != nil {
		return nil, err
	}
	return w1.New(name, l), nil
}

// NewLink configures port for time slots and returns the link.
func NewLink(name string, port serial.Port) (*Link, error) {
	l := &Link{name: name, port: port}
	if err := l.setBaud(slotBaud); err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		return nil, errcode.Wrap(errcode.IO, "w1uart: "+name, err)
	}
	return l, nil
}

func (l *Link) String() string {
	return l.name
}

// Close closes the serial port.
func (l *Link) Close() error {
	return l.port.Close()
}

// Reset implements w1.Link.
func (l *Link) Reset() (bool, error) {
	if err := l.setBaud(resetBaud); err != nil {
		return false, err
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return false, errcode.Wrap(errcode.IO, "w1uart: reset", err)
	}
	echo, err := l.exchange(resetByte)
	if err != nil {
		return false, err
	}
	if err := l.setBaud(slotBaud); err != nil {
		return false, err
	}
	glog.V(2).Infof("w1uart: %s reset echo %#02x", l.name, echo)
	return echo != resetByte, nil
}

// WriteBit implements w1.Link.
func (l *Link) WriteBit(bit bool) error {
	if err := l.setBaud(slotBaud); err != nil {
		return err
	}
	c := byte(slotLow)
	if bit {
		c = slotHigh
	}
	_, err := l.exchange(c)
	return err
}

// ReadBit implements w1.Link.
func (l *Link) ReadBit() (bool, error) {
	if err := l.setBaud(slotBaud); err != nil {
		return false, err
	}
	echo, err := l.exchange(slotHigh)
	return echo == slotHigh, err
}

// exchange sends c and returns its echo.
func (l *Link) exchange(c byte) (byte, error) {
	l.buf[0] = c
	if _, err := l.port.Write(l.buf[:]); err != nil {
		return 0, errcode.Wrap(errcode.IO, "w1uart: write", err)
	}
	n, err := l.port.Read(l.buf[:])
	if err != nil {
		return 0, errcode.Wrap(errcode.IO, "w1uart: read", err)
	}
	if n == 0 {
		return 0, errcode.Wrap(errcode.IO, "w1uart: read", errNoEcho)
	}
	return l.buf[0], nil
}

func (l *Link) setBaud(baud int) error {
	if l.baud == baud {
		return nil
	}
	if err := l.port.SetMode(mode(baud)); err != nil {
		l.baud = 0
		return errcode.Wrap(errcode.IO, "w1uart: set mode", err)
	}
	l.baud = baud
	return nil
}

func mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

var _ w1.Link = &Link{}
