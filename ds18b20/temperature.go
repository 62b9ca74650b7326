// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// Temperature is the content of the temperature register: a two's complement
// value in 1/16°C.
type Temperature struct {
	raw int16
}

// FromBytes decodes the first two bytes of the scratchpad.
func FromBytes(lo, hi byte) Temperature {
	return Temperature{raw: int16(hi)<<8 | int16(lo)}
}

// FromRaw returns the temperature for a register value in 1/16°C.
func FromRaw(raw int16) Temperature {
	return Temperature{raw: raw}
}

// Raw returns the register value in 1/16°C.
func (t Temperature) Raw() int16 {
	return t.raw
}

// Integer returns the whole degrees, truncated toward zero.
//
// -0.9375°C is 0 with Decimal -15.
func (t Temperature) Integer() int16 {
	return t.raw / 16
}

// Decimal returns the fractional part in 1/16°C. It has the sign of the
// temperature.
func (t Temperature) Decimal() int8 {
	return int8(t.raw % 16)
}

// NearestInteger rounds to the nearest whole degree, half away from zero.
func (t Temperature) NearestInteger() int16 {
	n, d := t.Integer(), t.Decimal()
	switch {
	case d >= 8:
		return n + 1
	case d <= -8:
		return n - 1
	}
	return n
}

// Celsius converts to a periph temperature.
func (t Temperature) Celsius() physic.Temperature {
	return physic.Temperature(t.raw)*physic.Kelvin/16 + physic.ZeroCelsius
}

func (t Temperature) String() string {
	return t.Celsius().String()
}

// Resolution is the number of bits of a conversion.
type Resolution int

// Supported resolutions.
const (
	Resolution9  Resolution = 9  // 0.5°C
	Resolution10 Resolution = 10 // 0.25°C
	Resolution11 Resolution = 11 // 0.125°C
	Resolution12 Resolution = 12 // 0.0625°C, power-on default
)

// Valid reports whether r is supported by the device.
func (r Resolution) Valid() bool {
	return r >= Resolution9 && r <= Resolution12
}

// ConversionTime is the maximum duration of a conversion, datasheet p.3.
func (r Resolution) ConversionTime() time.Duration {
	return 93750 * time.Microsecond << uint(r-Resolution9)
}

// ConfigByte is the value of the configuration register, datasheet p.9.
func (r Resolution) ConfigByte() byte {
	return byte(r-Resolution9)<<5 | 0x1F
}

// Precision is the temperature step.
func (r Resolution) Precision() physic.Temperature {
	return physic.Kelvin / (2 << uint(r-Resolution9))
}
