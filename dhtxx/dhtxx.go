// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dhtxx reads the AOSONG DHT11 and DHT22 (AM2302) humidity and
// temperature sensors over a single bit-banged data line.
//
// The host pulls the line low for a sensor specific duration to request a
// measurement, then releases it. The sensor acknowledges and sends 40 bits,
// each bit being a fixed low preamble followed by a short (0) or long (1)
// high pulse. No timer is used: pulses are measured in polling iterations and
// classified against a threshold computed from the frame itself. See package
// pulse.
//
// The 40 bits are 4 payload bytes followed by the low byte of their sum.
//
// # Datasheet
//
// https://www.sparkfun.com/datasheets/Sensors/Temperature/DHT22.pdf
//
// # Timing
//
// Receiving a frame busy-polls the pin for about 4ms with the goroutine locked
// to its OS thread. A garbage collection pause or a preemption during that
// window corrupts the measured durations, which surfaces as a checksum error.
// Configure Opts.MaxAttempts above 1 to absorb these.
package dhtxx

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/GermanBionicSystems/bitbang/common"
	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/GermanBionicSystems/bitbang/gpioline"
	"github.com/GermanBionicSystems/bitbang/pulse"
	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Opts holds the configuration options.
type Opts struct {
	// MinReadInterval must be at least the model's MinReadInterval.
	MinReadInterval time.Duration
	// MaxAttempts is the number of requests a single Read may issue. Only
	// checksum, range and synchronization errors are retried.
	MaxAttempts int

	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Delay suspends the caller for d. It is used for the minimum interval
	// wait and the request pulse. It defaults to a timer on Clock.
	Delay func(ctx context.Context, d time.Duration) error
}

// Dev is a handle to one sensor.
type Dev[R Response] struct {
	name  string
	model Model[R]
	pin   gpio.PinIO
	opts  Opts

	mu       sync.Mutex
	out      *gpioline.Output // nil when the line was lost
	lastRead time.Time

	cmu  sync.Mutex
	stop context.CancelFunc // stops SenseContinuous
}

// New returns a handle to a sensor of the given model connected to p.
//
// opts may be nil, in which case the model defaults are used. Options are
// validated before the pin is touched. The line is then driven high.
func New[R Response](p gpio.PinIO, m Model[R], opts *Opts) (*Dev[R], error) {
	o := Opts{MinReadInterval: m.MinReadInterval, MaxAttempts: m.DefaultAttempts}
	if opts != nil {
		o = *opts
		if o.MinReadInterval < m.MinReadInterval {
			return nil, errcode.Wrap(errcode.InvalidArgument, m.Name, fmt.Errorf("minimum read interval %s is below %s", o.MinReadInterval, m.MinReadInterval))
		}
		if o.MaxAttempts < 1 {
			return nil, errcode.Wrap(errcode.InvalidArgument, m.Name, errors.New("at least one attempt is required"))
		}
	}
	if m.Decode == nil {
		return nil, errcode.Wrap(errcode.InvalidArgument, m.Name, errors.New("model has no decoder"))
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	d := &Dev[R]{name: m.Name, model: m, pin: p, opts: o}
	if err := d.acquire(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDHT11 returns a handle to a DHT11 connected to p.
func NewDHT11(p gpio.PinIO, opts *Opts) (*Dev[DHT11Response], error) {
	return New(p, DHT11, opts)
}

// NewDHT22 returns a handle to a DHT22 or AM2302 connected to p.
func NewDHT22(p gpio.PinIO, opts *Opts) (*Dev[DHT22Response], error) {
	return New(p, DHT22, opts)
}

func (d *Dev[R]) String() string {
	return d.name + "{" + d.pin.String() + "}"
}

// Read requests one measurement.
//
// It first waits until MinReadInterval has elapsed since the end of the
// previous request; ctx can cancel this wait. Once the request pulse started
// the read runs to completion.
//
// errcode.NoResponse and errcode.IO are returned immediately. Other failures
// are retried up to MaxAttempts; the error of the last attempt is returned.
func (d *Dev[R]) Read(ctx context.Context) (R, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero R
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		var r R
		if r, err = d.readOnce(ctx); err == nil {
			return r, nil
		}
		if !errcode.Retryable(err) {
			return zero, err
		}
		if attempt < d.opts.MaxAttempts {
			glog.V(1).Infof("%s: attempt %d/%d: %v", d, attempt, d.opts.MaxAttempts, err)
		}
	}
	return zero, err
}

func (d *Dev[R]) readOnce(ctx context.Context) (R, error) {
	var zero R
	if d.out == nil {
		if err := d.acquire(); err != nil {
			return zero, err
		}
	}
	if wait := d.opts.MinReadInterval - d.opts.Clock.Since(d.lastRead); wait > 0 {
		if err := d.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	// Past this point the line must be restored, so cancellation is ignored.
	ctx = context.WithoutCancel(ctx)
	if err := d.out.Set(gpio.Low); err != nil {
		d.out = nil
		return zero, err
	}
	if err := d.sleep(ctx, d.model.Ping); err != nil {
		return zero, d.idle(err)
	}
	f, end, err := d.receive()
	if err != nil {
		return zero, err
	}

	thr := pulse.Threshold(f[:])
	b := f.Bytes(thr)
	glog.V(2).Infof("%s: threshold %d bytes % x end %d", d, thr, b, end)
	if sum := common.Sum8(b[:4]); sum != b[4] {
		return zero, errcode.Wrap(errcode.BadData, d.name, fmt.Errorf("checksum 0x%02x, expected 0x%02x", b[4], sum))
	}
	if d.model.EndPulse && pulse.Long(end, thr) {
		return zero, errcode.Wrap(errcode.BadData, d.name, errors.New("long end pulse"))
	}
	r := d.model.Decode([4]byte(b[:4]))
	if !r.Valid() {
		return zero, errcode.Wrap(errcode.BadData, d.name, fmt.Errorf("out of range: %v", r))
	}
	return r, nil
}

// receive switches the line to input, samples one frame and restores the line
// to output high. A failure to restore the line takes precedence over the
// sampling error.
func (d *Dev[R]) receive() (pulse.Frame, pulse.Ticks, error) {
	out := d.out
	d.out = nil
	in, err := out.Input(gpio.PullNoChange)
	if err != nil {
		return pulse.Frame{}, 0, err
	}

	runtime.LockOSThread()
	f, end, serr := pulse.Receive(in, d.opts.Clock, d.model.EndPulse)
	runtime.UnlockOSThread()

	if d.out, err = in.Output(gpio.High); err != nil {
		return f, end, err
	}
	d.lastRead = d.opts.Clock.Now()
	return f, end, serr
}

// idle drives the line back high after a request that did not reach the
// receive phase and returns cause, unless the line was lost.
func (d *Dev[R]) idle(cause error) error {
	if err := d.out.Set(gpio.High); err != nil {
		d.out = nil
		return err
	}
	d.lastRead = d.opts.Clock.Now()
	return cause
}

// acquire drives the line high and restarts the minimum interval.
func (d *Dev[R]) acquire() error {
	out, err := gpioline.NewOutput(d.pin, gpio.High)
	if err != nil {
		return err
	}
	d.out = out
	d.lastRead = d.opts.Clock.Now()
	return nil
}

func (d *Dev[R]) sleep(ctx context.Context, dur time.Duration) error {
	if d.opts.Delay != nil {
		return d.opts.Delay(ctx, dur)
	}
	t := d.opts.Clock.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// Sense implements physic.SenseEnv.
func (d *Dev[R]) Sense(e *physic.Env) error {
	return d.sense(context.Background(), e)
}

func (d *Dev[R]) sense(ctx context.Context, e *physic.Env) error {
	e.Temperature = 0
	e.Pressure = 0
	e.Humidity = 0
	r, err := d.Read(ctx)
	if err != nil {
		return err
	}
	e.Temperature = r.Temperature()
	e.Humidity = r.Humidity()
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// interval must be at least MinReadInterval. Failed reads are skipped. Call
// Halt to stop; it interrupts a read waiting for the minimum interval.
func (d *Dev[R]) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < d.opts.MinReadInterval {
		return nil, errcode.Wrap(errcode.InvalidArgument, d.name, fmt.Errorf("interval %s is below %s", interval, d.opts.MinReadInterval))
	}
	d.cmu.Lock()
	defer d.cmu.Unlock()
	if d.stop != nil {
		return nil, errors.New(d.name + ": sense continuous already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stop = cancel
	ch := make(chan physic.Env, 16)
	go func() {
		defer close(ch)
		t := d.opts.Clock.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Chan():
				e := physic.Env{}
				if err := d.sense(ctx, &e); err != nil {
					glog.V(1).Infof("%s: %v", d, err)
					continue
				}
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev[R]) Precision(e *physic.Env) {
	*e = d.model.Precision
}

// Halt stops a running SenseContinuous and leaves the line driven high.
func (d *Dev[R]) Halt() error {
	d.cmu.Lock()
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	d.cmu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out != nil {
		return d.out.Set(gpio.High)
	}
	return nil
}

var _ conn.Resource = &Dev[DHT11Response]{}
var _ physic.SenseEnv = &Dev[DHT22Response]{}
