// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 interfaces to Dallas Semi / Maxim DS18B20 and MAX31820
// 1-wire temperature sensors.
//
// The bus functions ReadTemperature, ReadScratchpad and SetResolution address
// the only device of a bus with Skip ROM. Dev addresses one device by its ROM.
//
// # Datasheet
//
// https://datasheets.maximintegrated.com/en/ds/DS18B20.pdf
package ds18b20

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

const DS18B20 Family = 0x28
const DS18S20 Family = 0x10

// ConvertAll performs a conversion on all DS18B20 devices on the bus.
//
// During the conversion it places the bus in strong pull-up mode to power
// parasitic devices and returns when the conversions have completed. This time
// period is determined by the maximum resolution of all devices on the bus and
// must be provided.
//
// ConvertAll uses time.Sleep to wait for the conversion to finish, which takes
// from 93.75ms to 750ms.
func ConvertAll(o onewire.Bus, maxResolutionBits int) error {
	r := Resolution(maxResolutionBits)
	if !r.Valid() {
		return errcode.Wrap(errcode.InvalidArgument, "ds18b20", errors.New("invalid maxResolutionBits"))
	}
	if err := StartAll(o); err != nil {
		return err
	}
	sleep(r.ConversionTime())
	return nil
}

// StartAll starts a conversion on all DS18B20 devices on the bus.
// Similar to ConvertAll but returns without waiting for conversion to finish.
// To be used in conjunction with LastTemp() function. Conversion timing must be
// handled by other means.
func StartAll(o onewire.Bus) error {
	return o.Tx([]byte{cmdSkipROM, CmdConvert}, nil, onewire.StrongPullup)
}

// New returns an object that communicates over 1-wire to the DS18B20 sensor
// with the specified 64-bit address.
//
// resolutionBits must be in the range 9..12 and determines how many bits of
// precision the readings have. The resolution affects the conversion time:
// 9bits:93.75ms, 10bits:187.5ms, 11bits:375ms, 12bits:750ms.
//
// A resolution of 10 bits corresponds to 0.25C and tends to be a good
// compromise between conversion time and the device's inherent accuracy of
// +/-0.5C.
//
// The alarm thresholds stored in the device are preserved.
func New(o onewire.Bus, addr onewire.Address, resolutionBits int) (*Dev, error) {
	r := Resolution(resolutionBits)
	if !r.Valid() {
		return nil, errcode.Wrap(errcode.InvalidArgument, "ds18b20", errors.New("invalid resolutionBits"))
	}

	d := &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}, resolution: r}

	// Start by reading the scratchpad memory, this will tell us whether we can
	// talk to the device correctly and also how it's configured.
	spad, err := d.readScratchpad()
	if err != nil {
		return nil, err
	}

	// Change the resolution, if necessary (datasheet p.6).
	if spad.Resolution() != r {
		if err := d.onewire.Tx([]byte{CmdWriteScratchpad, spad[2], spad[3], r.ConfigByte()}, nil); err != nil {
			return nil, err
		}
		// Copy the scratchpad to EEPROM to save the values.
		if err := d.onewire.TxPower([]byte{CmdCopyScratchpad}, nil); err != nil {
			return nil, err
		}
		sleep(eepromCopy)
	}

	return d, nil
}

// Dev is a handle to a Dallas Semi / Maxim DS18B20 temperature sensor on a
// 1-wire bus.
type Dev struct {
	onewire    onewire.Dev // device on 1-wire bus
	resolution Resolution

	mu       sync.Mutex
	shutdown chan struct{}
}

func (d *Dev) Family() Family {
	return Family(d.onewire.Addr & 0xFF)
}

func (d *Dev) String() string {
	return d.Family().String() + "{" + d.onewire.String() + "}"
}

// Halt interrupts a running SenseContinuous() operation.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		close(d.shutdown)
		d.shutdown = nil
	}
	return nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	if err := d.onewire.TxPower([]byte{CmdConvert}, nil); err != nil {
		return err
	}
	sleep(d.resolution.ConversionTime())
	t, err := d.LastTemp()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// interval must be at least the conversion time. Failed conversions are
// skipped. Call Halt() to stop.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < d.resolution.ConversionTime() {
		return nil, errcode.Wrap(errcode.InvalidArgument, "ds18b20", fmt.Errorf("interval %s is shorter than the conversion", interval))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		return nil, errors.New("ds18b20: sense continuous already running")
	}
	shutdown := make(chan struct{})
	d.shutdown = shutdown
	ch := make(chan physic.Env, 16)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				e := physic.Env{}
				if err := d.Sense(&e); err != nil {
					continue
				}
				select {
				case ch <- e:
				case <-shutdown:
					return
				}
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = d.resolution.Precision()
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
//
// It is useful in combination with ConvertAll.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}

	c := d.parseTemperature(spad[:8])

	// The device powers up with a value of 85°C, so if we read that odds are
	// very high that either no conversion was performed or that the conversion
	// failed due to lack of power. This prevents reading a temp of exactly 85°C,
	// but that seems like the right tradeoff.
	if c == 85*physic.Celsius+physic.ZeroCelsius {
		return 0, &busError{errcode.E{C: errcode.BadData, Op: "ds18b20", Err: errors.New("has not performed a temperature conversion (insufficient pull-up?)")}}
	}

	return c, nil
}

// parseTemperature from scratchpad and handle special calculation for DS18S20
func (d *Dev) parseTemperature(spad []byte) physic.Temperature {
	t := FromBytes(spad[0], spad[1])

	if d.Family() == DS18S20 && spad[7] != 0 {
		// TEMPERATURE = TEMP_READ - 0.25 + (COUNT_PER_C-COUNT_REMAIN)/COUNT_PER_C
		//  TEMP_READ = spad[1:0] with the 0.5°C bit truncated
		//  COUNT_PER_C = spad[7]
		//  COUNT_REMAIN = spad[6]
		// http://myarduinotoy.blogspot.com/2013/02/12bit-result-from-ds18s20.html
		t = FromRaw(((t.Raw() & ^int16(1)) << 3) + 12 - int16(spad[6]))
	}
	return t.Celsius()
}

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC.
func (d *Dev) readScratchpad() (Scratchpad, error) {
	var spad Scratchpad
	if err := d.onewire.Tx([]byte{CmdReadScratchpad}, spad[:]); err != nil {
		return spad, err
	}
	return spad, checkScratchpad(spad[:])
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
