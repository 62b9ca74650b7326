// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbang is a container for drivers of single data line sensors
// driven by software polling of a GPIO pin, without a hardware timer.
//
// dhtxx reads DHT11 and DHT22/AM2302 humidity sensors. Pulse widths are
// measured in poll loop iterations and classified with a threshold computed
// for each frame by package pulse.
//
// ds18b20 reads DS18B20 thermometers on a 1-wire bus provided by w1gpio (a
// GPIO pin), w1uart (a serial port) or ds248x (an I²C bridge), through the
// bus master in w1.
//
// am2320 reads the I²C version of the DHT22.
//
// sensorcfg opens a set of sensors described in a YAML file.
//
// Errors are classified by errcode.
package bitbang
