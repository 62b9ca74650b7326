// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensorcfg describes a set of sensors in YAML and opens them.
//
// Example:
//
//	sensors:
//	  - name: greenhouse
//	    type: dht22
//	    pin: GPIO4
//	    min_read_interval: 5s
//	    max_attempts: 3
//	  - name: water
//	    type: ds18b20
//	    pin: GPIO17
//	    resolution: 11
//	  - name: outside
//	    type: ds18b20
//	    uart: /dev/ttyUSB0
//	  - name: cellar
//	    type: ds18b20
//	    i2c: "1"
//	    i2c_addr: 0x19
//	  - name: attic
//	    type: am2320
//	    i2c: "1"
//
// DHT sensors take a GPIO pin. A DS18B20 is alone on a 1-wire bus, either
// bit-banged on a GPIO pin, run by a UART or by a DS248x I²C bridge. An
// AM2320 is the I²C version of the DHT22.
package sensorcfg

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/GermanBionicSystems/bitbang/am2320"
	"github.com/GermanBionicSystems/bitbang/dhtxx"
	"github.com/GermanBionicSystems/bitbang/ds18b20"
	"github.com/GermanBionicSystems/bitbang/ds248x"
	"github.com/GermanBionicSystems/bitbang/errcode"
	"gopkg.in/yaml.v3"
)

// Type is a sensor model.
type Type string

// Supported sensor models.
const (
	DHT11   Type = "dht11"
	DHT22   Type = "dht22"
	AM2302  Type = "am2302"
	DS18B20 Type = "ds18b20"
	AM2320  Type = "am2320"
)

// Config is the root of the file.
type Config struct {
	Sensors []Sensor `yaml:"sensors"`
}

// Sensor is one physical sensor.
type Sensor struct {
	Name string `yaml:"name"`
	Type Type   `yaml:"type"`

	// Pin is a GPIO pin name as known by gpioreg.
	Pin string `yaml:"pin"`
	// UART is a serial port name, DS18B20 only.
	UART string `yaml:"uart"`
	// I2C is an I²C bus name as known by i2creg. I2CAddr is the address of
	// the DS248x bridge of a DS18B20, ds248x.DefaultAddr by default, or of
	// an AM2320, am2320.SensorAddress by default.
	I2C     string `yaml:"i2c"`
	I2CAddr uint16 `yaml:"i2c_addr"`

	// DHT only. Zero values select the model defaults.
	MinReadInterval time.Duration `yaml:"min_read_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`

	// DS18B20 only, in bits. Zero selects DefaultResolution.
	Resolution int `yaml:"resolution"`
}

// DefaultResolution is a good compromise between conversion time and the
// +/-0.5°C accuracy of the device.
const DefaultResolution = ds18b20.Resolution10

// Parse decodes a YAML document. Unknown fields are rejected.
//
// The result is not validated.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArgument, "sensorcfg", err)
	}
	return cfg, nil
}

// Load reads, parses and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, "sensorcfg", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration. It does not access hardware.
func Validate(cfg *Config) error {
	if len(cfg.Sensors) == 0 {
		return invalid("no sensors")
	}
	names := make(map[string]bool, len(cfg.Sensors))
	buses := make(map[string]string, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if s.Name == "" {
			return invalid("sensor without name")
		}
		if names[s.Name] {
			return invalid("sensor %q: duplicate name", s.Name)
		}
		names[s.Name] = true

		line := s.Pin
		if line == "" {
			line = s.UART
		}
		if line == "" && s.I2C != "" {
			line = fmt.Sprintf("%s@%#x", s.I2C, s.i2cAddr())
		}
		if other, ok := buses[line]; ok && line != "" {
			return invalid("sensor %q: %s is already used by %q", s.Name, line, other)
		}
		buses[line] = s.Name

		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sensor) validate() error {
	switch s.Type {
	case DHT11, DHT22, AM2302:
		if s.Pin == "" {
			return invalid("sensor %q: pin is required", s.Name)
		}
		if s.UART != "" || s.I2C != "" || s.I2CAddr != 0 || s.Resolution != 0 {
			return invalid("sensor %q: uart, i2c and resolution do not apply to %s", s.Name, s.Type)
		}
		if lo := s.minReadInterval(); s.MinReadInterval != 0 && s.MinReadInterval < lo {
			return invalid("sensor %q: min_read_interval %s is below %s", s.Name, s.MinReadInterval, lo)
		}
		if s.MaxAttempts < 0 {
			return invalid("sensor %q: max_attempts must be positive", s.Name)
		}
	case DS18B20:
		n := 0
		for _, b := range []string{s.Pin, s.UART, s.I2C} {
			if b != "" {
				n++
			}
		}
		if n != 1 {
			return invalid("sensor %q: exactly one of pin, uart and i2c is required", s.Name)
		}
		if s.I2CAddr != 0 && s.I2C == "" {
			return invalid("sensor %q: i2c_addr requires i2c", s.Name)
		}
		if s.Resolution != 0 && !ds18b20.Resolution(s.Resolution).Valid() {
			return invalid("sensor %q: resolution %d is not in [9, 12]", s.Name, s.Resolution)
		}
		if s.MinReadInterval != 0 || s.MaxAttempts != 0 {
			return invalid("sensor %q: min_read_interval and max_attempts do not apply to %s", s.Name, s.Type)
		}
	case AM2320:
		if s.I2C == "" {
			return invalid("sensor %q: i2c is required", s.Name)
		}
		if s.Pin != "" || s.UART != "" || s.Resolution != 0 || s.MinReadInterval != 0 || s.MaxAttempts != 0 {
			return invalid("sensor %q: only i2c and i2c_addr apply to %s", s.Name, s.Type)
		}
	case "":
		return invalid("sensor %q: type is required", s.Name)
	default:
		return invalid("sensor %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

func (s *Sensor) minReadInterval() time.Duration {
	if s.Type == DHT11 {
		return dhtxx.DHT11.MinReadInterval
	}
	return dhtxx.DHT22.MinReadInterval
}

// dhtOpts returns nil when the model defaults apply.
func (s *Sensor) dhtOpts(defaultAttempts int) *dhtxx.Opts {
	if s.MinReadInterval == 0 && s.MaxAttempts == 0 {
		return nil
	}
	o := &dhtxx.Opts{MinReadInterval: s.MinReadInterval, MaxAttempts: s.MaxAttempts}
	if o.MinReadInterval == 0 {
		o.MinReadInterval = s.minReadInterval()
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = defaultAttempts
	}
	return o
}

func (s *Sensor) i2cAddr() uint16 {
	if s.I2CAddr != 0 {
		return s.I2CAddr
	}
	if s.Type == AM2320 {
		return am2320.SensorAddress
	}
	return ds248x.DefaultAddr
}

func (s *Sensor) resolution() ds18b20.Resolution {
	if s.Resolution == 0 {
		return DefaultResolution
	}
	return ds18b20.Resolution(s.Resolution)
}

func invalid(format string, a ...any) error {
	return errcode.Wrap(errcode.InvalidArgument, "sensorcfg", fmt.Errorf(format, a...))
}

var errNotFound = errors.New("not found")
