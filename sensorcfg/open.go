// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensorcfg

import (
	"fmt"
	"io"

	"github.com/GermanBionicSystems/bitbang/am2320"
	"github.com/GermanBionicSystems/bitbang/dhtxx"
	"github.com/GermanBionicSystems/bitbang/ds18b20"
	"github.com/GermanBionicSystems/bitbang/ds248x"
	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/GermanBionicSystems/bitbang/w1"
	"github.com/GermanBionicSystems/bitbang/w1gpio"
	"github.com/GermanBionicSystems/bitbang/w1uart"
	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Opts holds the hardware lookups used by Open.
type Opts struct {
	// Pin returns the pin called name, or nil. Defaults to gpioreg.ByName.
	Pin func(name string) gpio.PinIO
	// OneWire returns a 1-wire bus bit-banged on p. Defaults to w1gpio.New.
	OneWire func(p gpio.PinIO) (onewire.Bus, error)
	// UART opens a 1-wire bus on the serial port name. Defaults to
	// w1uart.Open.
	UART func(name string) (onewire.Bus, error)
	// I2C opens a 1-wire bus on the DS248x bridge at addr on the I²C bus
	// name. Defaults to ds248x.Open.
	I2C func(name string, addr uint16) (onewire.Bus, error)
	// I2CBus opens the I²C bus name for an AM2320. Defaults to i2creg.Open.
	I2CBus func(name string) (i2c.BusCloser, error)
}

// DefaultOpts uses the host GPIO registry and serial ports.
var DefaultOpts = Opts{
	Pin: gpioreg.ByName,
	OneWire: func(p gpio.PinIO) (onewire.Bus, error) {
		return w1gpio.New(p, nil)
	},
	UART: func(name string) (onewire.Bus, error) {
		return w1uart.Open(name)
	},
	I2C: func(name string, addr uint16) (onewire.Bus, error) {
		return ds248x.Open(name, addr, nil)
	},
	I2CBus: i2creg.Open,
}

// Device is an opened sensor.
type Device struct {
	Name string
	Type Type
	physic.SenseEnv

	bus io.Closer
}

// Close halts the sensor and closes its bus, if any.
func (d *Device) Close() error {
	err := d.Halt()
	if d.bus != nil {
		if err2 := d.bus.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// Devices is a set of opened sensors.
type Devices []*Device

// Close closes all the devices and returns the first error.
func (d Devices) Close() error {
	var err error
	for _, dev := range d {
		if err2 := dev.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// Open validates cfg and opens every sensor, in order.
//
// opts may be nil. On failure the sensors already opened are closed.
func Open(cfg *Config, opts *Opts) (Devices, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	o := DefaultOpts
	if opts != nil {
		if opts.Pin != nil {
			o.Pin = opts.Pin
		}
		if opts.OneWire != nil {
			o.OneWire = opts.OneWire
		}
		if opts.UART != nil {
			o.UART = opts.UART
		}
		if opts.I2C != nil {
			o.I2C = opts.I2C
		}
		if opts.I2CBus != nil {
			o.I2CBus = opts.I2CBus
		}
	}
	var out Devices
	for i := range cfg.Sensors {
		d, err := o.open(&cfg.Sensors[i])
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("sensor %q: %w", cfg.Sensors[i].Name, err)
		}
		glog.Infof("sensorcfg: opened %s as %s", d.Name, d.SenseEnv)
		out = append(out, d)
	}
	return out, nil
}

func (o *Opts) open(s *Sensor) (*Device, error) {
	d := &Device{Name: s.Name, Type: s.Type}
	var p gpio.PinIO
	if s.Pin != "" {
		if p = o.Pin(s.Pin); p == nil {
			return nil, errcode.Wrap(errcode.InvalidArgument, "pin "+s.Pin, errNotFound)
		}
	}
	var err error
	switch s.Type {
	case DHT11:
		d.SenseEnv, err = dhtxx.NewDHT11(p, s.dhtOpts(dhtxx.DHT11.DefaultAttempts))
	case DHT22, AM2302:
		d.SenseEnv, err = dhtxx.NewDHT22(p, s.dhtOpts(dhtxx.DHT22.DefaultAttempts))
	case DS18B20:
		var bus onewire.Bus
		switch {
		case p != nil:
			bus, err = o.OneWire(p)
		case s.UART != "":
			bus, err = o.UART(s.UART)
		default:
			bus, err = o.I2C(s.I2C, s.i2cAddr())
		}
		if err != nil {
			return nil, err
		}
		if c, ok := bus.(onewire.BusCloser); ok {
			d.bus = c
		}
		d.SenseEnv, err = thermometer(bus, s.resolution())
	case AM2320:
		var bus i2c.BusCloser
		if bus, err = o.I2CBus(s.I2C); err != nil {
			return nil, errcode.Wrap(errcode.IO, "i2c "+s.I2C, err)
		}
		d.bus = bus
		d.SenseEnv, err = am2320.NewI2C(bus, s.i2cAddr())
	}
	if err != nil {
		if d.bus != nil {
			d.bus.Close()
		}
		return nil, err
	}
	return d, nil
}

// thermometer identifies the only device on bus and configures it.
func thermometer(bus onewire.Bus, res ds18b20.Resolution) (*ds18b20.Dev, error) {
	rom, err := w1.ReadROM(bus)
	if err != nil {
		return nil, err
	}
	if ds18b20.Family(rom.Family()) != ds18b20.DS18B20 {
		return nil, errcode.Wrap(errcode.InvalidArgument, "1-wire", fmt.Errorf("%s is not a DS18B20", rom))
	}
	glog.V(1).Infof("sensorcfg: found %s on %s", rom, bus)
	return ds18b20.New(bus, rom.Address(), int(res))
}
