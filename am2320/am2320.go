// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package am2320 provides a driver for the AOSONG AM2320 temperature and
// humidity sensor on I²C.
//
// The AM2320 is the I²C sibling of the AM2302/DHT22 and reports the same
// payload: humidity and temperature in tenths, the temperature in sign and
// magnitude form. The frames are protected by a Modbus CRC-16 instead of the
// additive parity byte of the single-wire protocol.
//
// The sensor sleeps between requests to limit self-heating and does not
// acknowledge the wake-up write, which makes it finicky to talk to.
//
// # Datasheet
//
// https://cdn-shop.adafruit.com/product-files/3721/AM2320.pdf
package am2320

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/bitbang/common"
	"github.com/GermanBionicSystems/bitbang/dhtxx"
	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/golang/glog"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// SensorAddress is the fixed address of the device. The datasheet states
	// 0xb8, which is the 8 bit form of the address.
	SensorAddress uint16 = 0x5c

	// MinReadInterval is the shortest supported interval between two reads.
	MinReadInterval = 3 * time.Second

	cmdReadRegisters  byte = 0x03
	humidityRegisters byte = 0x00

	wakeAttempts = 5
	wakeDelay    = 100 * time.Millisecond
	readAttempts = 10
	retryDelay   = 2 * time.Second
)

// Dev represents an am2320 temperature/humidity sensor.
type Dev struct {
	d  *i2c.Dev
	mu sync.Mutex // serializes reads

	cmu      sync.Mutex
	shutdown chan struct{}
}

// NewI2C returns a handle to the sensor at addr on b. No I/O is done until
// the first read.
func NewI2C(b i2c.Bus, addr uint16) (*Dev, error) {
	if addr == 0 {
		addr = SensorAddress
	}
	if addr >= 0x80 {
		return nil, errcode.Wrap(errcode.InvalidArgument, "am2320", fmt.Errorf("invalid address %#x", addr))
	}
	return &Dev{d: &i2c.Dev{Bus: b, Addr: addr}}, nil
}

func (dev *Dev) String() string {
	return "am2320{" + dev.d.String() + "}"
}

// Halt interrupts a running SenseContinuous() operation.
func (dev *Dev) Halt() error {
	dev.cmu.Lock()
	defer dev.cmu.Unlock()
	if dev.shutdown != nil {
		close(dev.shutdown)
		dev.shutdown = nil
	}
	return nil
}

// Read returns one measurement.
//
// It retries transfer, CRC and range failures up to 10 times, waiting 2s
// between attempts as the sensor only samples every 2s. A transfer failure
// is reported as errcode.Timeout, the others as errcode.BadData; both are
// retryable.
func (dev *Dev) Read() (dhtxx.DHT22Response, error) {
	r, err := dev.readCommand(humidityRegisters, 4)
	if err != nil {
		return dhtxx.DHT22Response{}, err
	}
	return dhtxx.DHT22.Decode([4]byte(r)), nil
}

// Sense implements physic.SenseEnv.
func (dev *Dev) Sense(env *physic.Env) error {
	env.Temperature = 0
	env.Pressure = 0
	env.Humidity = 0
	resp, err := dev.Read()
	if err != nil {
		return err
	}
	env.Temperature = resp.Temperature()
	env.Humidity = resp.Humidity()
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// interval must be at least MinReadInterval. Failed reads are skipped. Call
// Halt to stop.
func (dev *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < MinReadInterval {
		return nil, errcode.Wrap(errcode.InvalidArgument, "am2320", fmt.Errorf("interval %s is below %s", interval, MinReadInterval))
	}
	dev.cmu.Lock()
	defer dev.cmu.Unlock()
	if dev.shutdown != nil {
		return nil, errors.New("am2320: sense continuous already running")
	}
	shutdown := make(chan struct{})
	dev.shutdown = shutdown
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
				if err := dev.Sense(&e); err != nil {
					glog.V(1).Infof("%s: %v", dev, err)
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
func (dev *Dev) Precision(env *physic.Env) {
	*env = dhtxx.DHT22.Precision
}

// readCommand wakes the sensor then reads registerCount registers starting
// at registerAddress.
//
// The reply is {command, registerCount, registers..., crc low, crc high}.
func (dev *Dev) readCommand(registerAddress, registerCount byte) ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	w := []byte{cmdReadRegisters, registerAddress, registerCount}
	r := make([]byte, registerCount+4)
	var err error
	for i := range readAttempts {
		if i != 0 {
			glog.V(1).Infof("%s: attempt %d: %v", dev, i, err)
			sleep(retryDelay)
		}
		dev.wake()
		// The sensor drops back to sleep quickly and then NACKs the read, so a
		// failed transfer is a missed window rather than a bus failure.
		if err = dev.d.Tx(w, r); err != nil {
			err = errcode.Wrap(errcode.Timeout, "am2320: read", err)
			continue
		}
		if err = checkFrame(w, r); err != nil {
			continue
		}
		payload := r[2 : 2+registerCount]
		if registerAddress == humidityRegisters && registerCount == 4 && !dhtxx.DHT22.Decode([4]byte(payload)).Valid() {
			err = errcode.Wrap(errcode.BadData, "am2320", errors.New("value out of range"))
			continue
		}
		return payload, nil
	}
	return nil, err
}

// wake sends the wake-up write. The sensor does not acknowledge it while
// asleep so the error is expected and ignored.
func (dev *Dev) wake() {
	for range wakeAttempts {
		if dev.d.Tx([]byte{0}, nil) == nil {
			return
		}
		sleep(wakeDelay)
	}
}

func checkFrame(w, r []byte) error {
	if r[0] != w[0] || r[1] != w[2] {
		return errcode.Wrap(errcode.BadData, "am2320", fmt.Errorf("unexpected reply header %#x %#x", r[0], r[1]))
	}
	if !common.CheckCRC16Modbus(r) {
		return errcode.Wrap(errcode.BadData, "am2320", errors.New("invalid crc"))
	}
	return nil
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
