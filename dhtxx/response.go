// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dhtxx

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Response is a decoded measurement.
type Response interface {
	// Valid reports whether the values are within what the sensor can
	// physically report, with some headroom.
	Valid() bool
	Temperature() physic.Temperature
	Humidity() physic.RelativeHumidity
}

// Model describes one sensor variant.
//
// Variants only differ by these values; the read sequence is shared.
type Model[R Response] struct {
	Name string
	// Ping is how long the line is held low to request a measurement.
	Ping time.Duration
	// MinReadInterval is the shortest interval the sensor supports between
	// two requests.
	MinReadInterval time.Duration
	// DefaultAttempts is used when no Opts are provided.
	DefaultAttempts int
	// EndPulse is set when the sensor terminates the frame with a low pulse
	// that must classify as short.
	EndPulse bool
	// Decode converts the 4 payload bytes.
	Decode func(b [4]byte) R
	// Precision is the resolution of the decoded values.
	Precision physic.Env
}

// DHT11 is the AOSONG DHT11 humidity and temperature sensor.
var DHT11 = Model[DHT11Response]{
	Name:            "dht11",
	Ping:            18 * time.Millisecond,
	MinReadInterval: time.Second,
	DefaultAttempts: 1,
	EndPulse:        true,
	Decode: func(b [4]byte) DHT11Response {
		return DHT11Response{HumidityInt: b[0], HumidityDec: b[1], TemperatureInt: b[2], TemperatureDec: b[3]}
	},
	Precision: physic.Env{Temperature: physic.Celsius / 10, Humidity: physic.MilliRH},
}

// DHT22 is the AOSONG DHT22 humidity and temperature sensor, also sold as
// AM2302.
var DHT22 = Model[DHT22Response]{
	Name:            "dht22",
	Ping:            time.Millisecond,
	MinReadInterval: 2 * time.Second,
	DefaultAttempts: 1,
	EndPulse:        true,
	Decode: func(b [4]byte) DHT22Response {
		return DHT22Response{
			HumidityX10:    uint16(b[0])<<8 | uint16(b[1]),
			TemperatureX10: uint16(b[2])<<8 | uint16(b[3]),
		}
	},
	Precision: physic.Env{Temperature: physic.Celsius / 10, Humidity: physic.MilliRH},
}

// AM2302 is the wired version of the DHT22.
var AM2302 = DHT22

// DHT11Response is a DHT11 measurement. Each value is split into an integer
// part and a tenth.
type DHT11Response struct {
	HumidityInt    uint8
	HumidityDec    uint8
	TemperatureInt uint8
	TemperatureDec uint8
}

// Valid implements Response.
//
// The sensor is specified for 0~50°C; up to 75°C is accepted.
func (r DHT11Response) Valid() bool {
	h := (r.HumidityInt < 100 && r.HumidityDec < 10) || (r.HumidityInt == 100 && r.HumidityDec == 0)
	t := (r.TemperatureInt < 75 && r.TemperatureDec < 10) || (r.TemperatureInt == 75 && r.TemperatureDec == 0)
	return h && t
}

// Temperature implements Response.
func (r DHT11Response) Temperature() physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(r.TemperatureInt)*physic.Celsius + physic.Temperature(r.TemperatureDec)*(physic.Celsius/10)
}

// Humidity implements Response.
func (r DHT11Response) Humidity() physic.RelativeHumidity {
	return physic.RelativeHumidity(r.HumidityInt)*physic.PercentRH + physic.RelativeHumidity(r.HumidityDec)*physic.MilliRH
}

func (r DHT11Response) String() string {
	return fmt.Sprintf("%s %s", r.Temperature(), r.Humidity())
}

// DHT22Response is a DHT22 measurement in tenths.
//
// Bit 15 of TemperatureX10 is the sign, bits 0~14 the magnitude.
type DHT22Response struct {
	HumidityX10    uint16
	TemperatureX10 uint16
}

// Valid implements Response.
//
// The sensor is specified for -40~80°C; -60~150°C is accepted.
func (r DHT22Response) Valid() bool {
	m := r.TemperatureX10 & 0x7FFF
	var t bool
	if r.TemperatureX10&0x8000 != 0 {
		t = m < 600
	} else {
		t = m < 1500
	}
	return r.HumidityX10 <= 1000 && t
}

// Temperature implements Response.
func (r DHT22Response) Temperature() physic.Temperature {
	m := physic.Temperature(r.TemperatureX10&0x7FFF) * (physic.Celsius / 10)
	if r.TemperatureX10&0x8000 != 0 {
		return physic.ZeroCelsius - m
	}
	return physic.ZeroCelsius + m
}

// Humidity implements Response.
func (r DHT22Response) Humidity() physic.RelativeHumidity {
	return physic.RelativeHumidity(r.HumidityX10) * physic.MilliRH
}

func (r DHT22Response) String() string {
	return fmt.Sprintf("%s %s", r.Temperature(), r.Humidity())
}

var _ Response = DHT11Response{}
var _ Response = DHT22Response{}
