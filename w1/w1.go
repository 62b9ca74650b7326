// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1 implements a 1-wire bus master on top of a bit level link.
//
// A Link only knows how to issue a reset and a single time slot. Bus turns it
// into a periph onewire.Bus: bytes are sent least significant bit first and
// each transaction starts with a reset.
//
// Multi-device enumeration is not implemented. Search issues a Read ROM,
// which only works with a single device on the bus.
package w1

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/GermanBionicSystems/bitbang/common"
	"github.com/GermanBionicSystems/bitbang/errcode"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// ROM commands.
const (
	CmdSearchROM   byte = 0xF0
	CmdReadROM     byte = 0x33
	CmdMatchROM    byte = 0x55
	CmdSkipROM     byte = 0xCC
	CmdAlarmSearch byte = 0xEC
)

// Link issues 1-wire time slots.
type Link interface {
	// Reset sends a reset pulse and reports whether a presence pulse
	// followed.
	Reset() (bool, error)
	WriteBit(bit bool) error
	ReadBit() (bool, error)
}

// PowerLink is a Link able to power parasitic devices with a strong pull-up.
type PowerLink interface {
	Link
	// ArmStrongPullup enables the strong pull-up once the next slot
	// completes. It lasts until the next reset or slot.
	ArmStrongPullup() error
}

// Bus is a 1-wire bus master.
type Bus struct {
	mu   sync.Mutex
	name string
	l    Link
}

// New returns a Bus named name driving l.
func New(name string, l Link) *Bus {
	return &Bus{name: name, l: l}
}

func (b *Bus) String() string {
	return "w1{" + b.name + "}"
}

// Halt implements conn.Resource.
func (b *Bus) Halt() error {
	return nil
}

// Close implements onewire.BusCloser. It closes the link when it supports it.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.l.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Q implements onewire.Pins when the link is a pin.
func (b *Bus) Q() gpio.PinIO {
	if p, ok := b.l.(onewire.Pins); ok {
		return p.Q()
	}
	return gpio.INVALID
}

// Tx implements onewire.Bus.
//
// It resets the bus, writes w then reads len(r) bytes. A StrongPullup power
// is applied after the last slot when the link implements PowerLink. Other
// links leave the line driven high between transactions, which powers
// parasitic devices.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	present, err := b.l.Reset()
	if err != nil {
		return err
	}
	if !present {
		return &busError{errcode.E{C: errcode.NoSensorsFound, Op: b.name + ": reset"}}
	}
	var arm func() error
	if p, ok := b.l.(PowerLink); ok && power == onewire.StrongPullup {
		arm = p.ArmStrongPullup
	}
	for i, c := range w {
		if i == len(w)-1 && len(r) == 0 {
			err = b.writeByte(c, arm)
		} else {
			err = b.writeByte(c, nil)
		}
		if err != nil {
			return err
		}
	}
	for i := range r {
		if i == len(r)-1 {
			r[i], err = b.readByte(arm)
		} else {
			r[i], err = b.readByte(nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Search implements onewire.Bus for a bus with a single device.
//
// alarmOnly is not supported.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	if alarmOnly {
		return nil, errcode.Wrap(errcode.InvalidArgument, b.name+": search", errors.New("alarm search is not supported"))
	}
	rom, err := ReadROM(b)
	if err != nil {
		return nil, err
	}
	return []onewire.Address{rom.Address()}, nil
}

// writeByte sends c LSB first. arm, if set, is called before the last slot.
func (b *Bus) writeByte(c byte, arm func() error) error {
	for i := 0; i < 8; i++ {
		if i == 7 && arm != nil {
			if err := arm(); err != nil {
				return err
			}
		}
		if err := b.l.WriteBit(c&(1<<i) != 0); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) readByte(arm func() error) (byte, error) {
	var c byte
	for i := 0; i < 8; i++ {
		if i == 7 && arm != nil {
			if err := arm(); err != nil {
				return 0, err
			}
		}
		bit, err := b.l.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			c |= 1 << i
		}
	}
	return c, nil
}

// ROM is the 64 bit identifier of a device: family code, 48 bit serial
// number and CRC, in bus order.
type ROM [8]byte

// FromAddress converts a periph address.
func FromAddress(a onewire.Address) ROM {
	var r ROM
	for i := range r {
		r[i] = byte(a >> (8 * i))
	}
	return r
}

// Family returns the family code.
func (r ROM) Family() byte {
	return r[0]
}

// Serial returns the 48 bit serial number.
func (r ROM) Serial() uint64 {
	var s uint64
	for i := 6; i >= 1; i-- {
		s = s<<8 | uint64(r[i])
	}
	return s
}

// CRC returns the CRC byte as transmitted.
func (r ROM) CRC() byte {
	return r[7]
}

// Valid reports whether the CRC matches the first 7 bytes.
func (r ROM) Valid() bool {
	return common.CRC8Maxim(r[:7]) == r[7]
}

// Address returns the periph address.
func (r ROM) Address() onewire.Address {
	var a onewire.Address
	for i := 7; i >= 0; i-- {
		a = a<<8 | onewire.Address(r[i])
	}
	return a
}

// String returns the Linux w1 style name, e.g. 28-0000072fe3c1.
func (r ROM) String() string {
	return fmt.Sprintf("%02x-%012x", r.Family(), r.Serial())
}

// ReadROM reads the identifier of the only device on the bus.
func ReadROM(bus onewire.Bus) (ROM, error) {
	var r ROM
	if err := bus.Tx([]byte{CmdReadROM}, r[:], onewire.WeakPullup); err != nil {
		return r, err
	}
	if !r.Valid() {
		return r, &busError{errcode.E{C: errcode.BadData, Op: "w1: read rom", Err: fmt.Errorf("crc 0x%02x over % x", r.CRC(), r[:7])}}
	}
	return r, nil
}

// busError is a 1-wire protocol error. It implements onewire.BusError and
// onewire.NoDevicesError.
type busError struct {
	errcode.E
}

func (e *busError) BusError() bool  { return true }
func (e *busError) NoDevices() bool { return e.C == errcode.NoSensorsFound }

var _ conn.Resource = &Bus{}
var _ onewire.Bus = &Bus{}
var _ onewire.BusCloser = &Bus{}
var _ onewire.Pins = &Bus{}
var _ onewire.NoDevicesError = &busError{}
var _ onewire.BusError = &busError{}
