// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/bitbang/common"
	"github.com/GermanBionicSystems/bitbang/errcode"
	"periph.io/x/conn/v3/onewire"
)

// Function commands.
const (
	CmdConvert         byte = 0x44
	CmdWriteScratchpad byte = 0x4E
	CmdReadScratchpad  byte = 0xBE
	CmdCopyScratchpad  byte = 0x48
	CmdRecallEEPROM    byte = 0xB8
	CmdReadPowerSupply byte = 0xB4

	cmdSkipROM byte = 0xCC
)

// eepromCopy is the duration of a Copy Scratchpad.
const eepromCopy = 10 * time.Millisecond

// Scratchpad is the 9 bytes of device memory: temperature LSB and MSB, alarm
// thresholds TH and TL, configuration, 3 reserved bytes and the CRC.
type Scratchpad [9]byte

// Temperature returns the last conversion result.
func (s *Scratchpad) Temperature() Temperature {
	return FromBytes(s[0], s[1])
}

// Alarms returns the high and low alarm thresholds in °C.
func (s *Scratchpad) Alarms() (th, tl int8) {
	return int8(s[2]), int8(s[3])
}

// Resolution decodes the configuration register.
func (s *Scratchpad) Resolution() Resolution {
	return Resolution9 + Resolution(s[4]>>5&3)
}

// ReadScratchpad reads the scratchpad of the only device on the bus and
// checks its CRC.
func ReadScratchpad(o onewire.Bus) (Scratchpad, error) {
	var s Scratchpad
	if err := o.Tx([]byte{cmdSkipROM, CmdReadScratchpad}, s[:], onewire.WeakPullup); err != nil {
		return s, err
	}
	return s, checkScratchpad(s[:])
}

// ReadTemperature performs a conversion on the only device on the bus and
// reads the result.
//
// It waits for the conversion time of res, from 93.75ms to 750ms.
func ReadTemperature(o onewire.Bus, res Resolution) (Temperature, error) {
	if !res.Valid() {
		return Temperature{}, errcode.Wrap(errcode.InvalidArgument, "ds18b20", fmt.Errorf("resolution %d", res))
	}
	if err := o.Tx([]byte{cmdSkipROM, CmdConvert}, nil, onewire.StrongPullup); err != nil {
		return Temperature{}, err
	}
	sleep(res.ConversionTime())
	s, err := ReadScratchpad(o)
	if err != nil {
		return Temperature{}, err
	}
	return s.Temperature(), nil
}

// SetResolution writes the alarm thresholds and the resolution of the only
// device on the bus and saves them to its EEPROM.
func SetResolution(o onewire.Bus, res Resolution, th, tl int8) error {
	if !res.Valid() {
		return errcode.Wrap(errcode.InvalidArgument, "ds18b20", fmt.Errorf("resolution %d", res))
	}
	if err := o.Tx([]byte{cmdSkipROM, CmdWriteScratchpad, byte(th), byte(tl), res.ConfigByte()}, nil, onewire.WeakPullup); err != nil {
		return err
	}
	if err := o.Tx([]byte{cmdSkipROM, CmdCopyScratchpad}, nil, onewire.StrongPullup); err != nil {
		return err
	}
	sleep(eepromCopy)
	return nil
}

// checkScratchpad verifies the CRC of the 9 bytes of scratchpad.
func checkScratchpad(s []byte) error {
	if common.CheckCRC8Maxim(s) {
		return nil
	}
	for _, c := range s {
		if c != 0xff {
			return &busError{errcode.E{C: errcode.BadData, Op: "ds18b20", Err: errors.New("incorrect scratchpad CRC")}}
		}
	}
	return &busError{errcode.E{C: errcode.NoSensorsFound, Op: "ds18b20", Err: errors.New("device did not respond")}}
}

// busError implements error and onewire.BusError.
type busError struct {
	errcode.E
}

func (e *busError) BusError() bool { return true }
