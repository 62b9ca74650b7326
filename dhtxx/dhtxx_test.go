// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dhtxx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/GermanBionicSystems/bitbang/gpioline/linetest"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

// frame returns the samples of one response: the acknowledge, 40 bits MSB
// first and the end pulse.
func frame(b ...byte) []gpio.Level {
	s := linetest.Levels(1, 1, 0, 0, 1, 1)
	for _, v := range b {
		for j := 7; j >= 0; j-- {
			if v&(1<<j) != 0 {
				s = append(s, linetest.Levels(0, 0, 1, 1, 1)...)
			} else {
				s = append(s, linetest.Levels(0, 0, 1, 1)...)
			}
		}
	}
	return append(s, linetest.Levels(0, 0, 1, 1)...)
}

// valid appends the checksum to the payload.
func valid(b0, b1, b2, b3 byte) []gpio.Level {
	return frame(b0, b1, b2, b3, b0+b1+b2+b3)
}

func newPin(s ...[]gpio.Level) *linetest.Playback {
	p := &linetest.Playback{Pin: gpiotest.Pin{N: "GPIO4", Num: 4}, Default: gpio.High}
	for _, f := range s {
		p.Samples = append(p.Samples, f...)
	}
	return p
}

// recorder is a Delay that moves a fake clock forward instead of sleeping.
type recorder struct {
	clk    *clockwork.FakeClock
	delays []time.Duration
}

func (r *recorder) delay(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	r.clk.Advance(d)
	return nil
}

func newRecorder() *recorder {
	return &recorder{clk: clockwork.NewFakeClock()}
}

func (r *recorder) opts(interval time.Duration, attempts int) *Opts {
	return &Opts{MinReadInterval: interval, MaxAttempts: attempts, Clock: r.clk, Delay: r.delay}
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalLevels(a, b []gpio.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRead_allZeros(t *testing.T) {
	rec := newRecorder()
	p := newPin(frame(0, 0, 0, 0, 0))
	d, err := NewDHT11(p, rec.opts(time.Second, 1))
	if err != nil {
		t.Fatal(err)
	}
	r, err := d.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r != (DHT11Response{}) {
		t.Fatalf("%#v", r)
	}
	if want := []time.Duration{time.Second, 18 * time.Millisecond}; !equalDurations(rec.delays, want) {
		t.Fatalf("delays %v != %v", rec.delays, want)
	}
	if p.Requests != 1 {
		t.Fatal(p.Requests)
	}
	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	if len(p.Outs) != len(want) || p.Outs[0] != want[0] || p.Outs[1] != want[1] || p.Outs[2] != want[2] {
		t.Fatalf("outs %v", p.Outs)
	}
	if p.IsInput {
		t.Fatal("line must be left as output")
	}
}

func TestRead_valid(t *testing.T) {
	t.Run("dht11", func(t *testing.T) {
		rec := newRecorder()
		d, err := NewDHT11(newPin(frame(0x11, 0x04, 0x0F, 0x00, 0x24)), rec.opts(time.Second, 1))
		if err != nil {
			t.Fatal(err)
		}
		r, err := d.Read(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if want := (DHT11Response{HumidityInt: 0x11, HumidityDec: 0x04, TemperatureInt: 0x0F}); r != want {
			t.Fatalf("%#v != %#v", r, want)
		}
	})
	t.Run("dht22", func(t *testing.T) {
		rec := newRecorder()
		d, err := NewDHT22(newPin(frame(0x02, 0x80, 0x01, 0x04, 0x87)), rec.opts(2*time.Second, 1))
		if err != nil {
			t.Fatal(err)
		}
		r, err := d.Read(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if want := (DHT22Response{HumidityX10: 0x0280, TemperatureX10: 0x0104}); r != want {
			t.Fatalf("%#v != %#v", r, want)
		}
		if want := []time.Duration{2 * time.Second, time.Millisecond}; !equalDurations(rec.delays, want) {
			t.Fatalf("delays %v != %v", rec.delays, want)
		}
	})
	t.Run("dht22 negative", func(t *testing.T) {
		rec := newRecorder()
		d, err := NewDHT22(newPin(valid(0x01, 0x00, 0x81, 0x01)), rec.opts(2*time.Second, 1))
		if err != nil {
			t.Fatal(err)
		}
		e := physic.Env{}
		if err := d.Sense(&e); err != nil {
			t.Fatal(err)
		}
		if want := physic.ZeroCelsius - 257*(physic.Celsius/10); e.Temperature != want {
			t.Fatalf("%d != %d", e.Temperature, want)
		}
		if want := 256 * physic.MilliRH; e.Humidity != want {
			t.Fatalf("%d != %d", e.Humidity, want)
		}
	})
}

// longEnd replaces the end pulse of f with one lasting 3 ticks.
func longEnd(f []gpio.Level) []gpio.Level {
	return append(f[:len(f)-4:len(f)-4], linetest.Levels(0, 0, 0, 0, 1, 1)...)
}

func TestRead_badData(t *testing.T) {
	data := []struct {
		name  string
		dht22 bool
		frame []gpio.Level
	}{
		{"bad parity", false, frame(0x11, 0x00, 0x0F, 0x00, 0x11)},
		{"flipped bit", false, frame(0x11, 0x04, 0x0E, 0x00, 0x24)},
		{"dht11 temperature", false, valid(0x11, 0x00, 0xBB, 0x01)},
		{"dht11 humidity", false, valid(0x65, 0x00, 0x09, 0x01)},
		{"dht22 temperature", true, valid(0x00, 0x00, 0x05, 0xDC)},
		{"dht22 negative temperature", true, valid(0x00, 0x00, 0x82, 0x58)},
		{"dht22 humidity", true, valid(0x03, 0xE9, 0x00, 0x00)},
		{"long end pulse", false, longEnd(valid(0x01, 0x00, 0x00, 0x00))},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			rec := newRecorder()
			p := newPin(line.frame)
			var err error
			if line.dht22 {
				var d *Dev[DHT22Response]
				if d, err = NewDHT22(p, rec.opts(2*time.Second, 1)); err == nil {
					_, err = d.Read(context.Background())
				}
			} else {
				var d *Dev[DHT11Response]
				if d, err = NewDHT11(p, rec.opts(time.Second, 1)); err == nil {
					_, err = d.Read(context.Background())
				}
			}
			if !errors.Is(err, errcode.BadData) {
				t.Fatalf("want bad data, got %v", err)
			}
			if p.Requests != 1 {
				t.Fatalf("one attempt, got %d", p.Requests)
			}
		})
	}
}

func TestNew_defaults(t *testing.T) {
	p := newPin()
	d, err := NewDHT22(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.opts.MinReadInterval != 2*time.Second || d.opts.MaxAttempts != 1 {
		t.Fatalf("%+v", d.opts)
	}
	if len(p.Outs) != 1 || p.Outs[0] != gpio.High {
		t.Fatal("the line must idle high")
	}
	if AM2302.Ping != DHT22.Ping || AM2302.MinReadInterval != DHT22.MinReadInterval {
		t.Fatal("AM2302 is a DHT22")
	}
}

func TestRead_noResponse(t *testing.T) {
	rec := newRecorder()
	p := newPin()
	p.Clock = rec.clk
	p.Step = 10 * time.Microsecond
	d, err := NewDHT22(p, rec.opts(2*time.Second, 2))
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Read(context.Background())
	if errcode.Of(err) != errcode.NoResponse {
		t.Fatalf("want no response, got %v", err)
	}
	if p.Requests != 1 {
		t.Fatalf("no response must not be retried, got %d requests", p.Requests)
	}
	if p.IsInput || p.L != gpio.High {
		t.Fatal("line must be restored to output high")
	}
}

func TestRead_retry(t *testing.T) {
	rec := newRecorder()
	p := newPin(frame(0x11, 0x00, 0x0F, 0x00, 0x11), frame(0, 0, 0, 0, 0))
	d, err := NewDHT11(p, rec.opts(time.Second, 2))
	if err != nil {
		t.Fatal(err)
	}
	r, err := d.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r != (DHT11Response{}) {
		t.Fatalf("%#v", r)
	}
	if p.Requests != 2 {
		t.Fatal(p.Requests)
	}
	want := []time.Duration{time.Second, 18 * time.Millisecond, time.Second, 18 * time.Millisecond}
	if !equalDurations(rec.delays, want) {
		t.Fatalf("every attempt waits the full interval: %v", rec.delays)
	}
}

func TestRead_lastError(t *testing.T) {
	rec := newRecorder()
	bad := frame(0x11, 0x00, 0x0F, 0x00, 0x11)
	// The third response stops after 2 bytes and the line stays low.
	lost := frame(0, 0)
	lost = lost[:len(lost)-2]
	p := newPin(bad, bad, lost)
	p.Default = gpio.Low
	d, err := NewDHT11(p, rec.opts(time.Second, 3))
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Read(context.Background())
	if errcode.Of(err) != errcode.Timeout {
		t.Fatalf("want the last error (timeout), got %v", err)
	}
	if p.Requests != 3 {
		t.Fatal(p.Requests)
	}
}

func TestNew_invalid(t *testing.T) {
	data := []struct {
		name string
		f    func(p gpio.PinIO) error
	}{
		{"dht11 interval", func(p gpio.PinIO) error {
			_, err := NewDHT11(p, &Opts{MinReadInterval: time.Second - time.Millisecond, MaxAttempts: 1})
			return err
		}},
		{"dht22 interval", func(p gpio.PinIO) error {
			_, err := NewDHT22(p, &Opts{MinReadInterval: 2*time.Second - time.Millisecond, MaxAttempts: 1})
			return err
		}},
		{"dht11 attempts", func(p gpio.PinIO) error {
			_, err := NewDHT11(p, &Opts{MinReadInterval: time.Second})
			return err
		}},
		{"dht22 attempts", func(p gpio.PinIO) error {
			_, err := NewDHT22(p, &Opts{MinReadInterval: 2 * time.Second})
			return err
		}},
		{"no decoder", func(p gpio.PinIO) error {
			_, err := New(p, Model[DHT11Response]{Name: "x"}, nil)
			return err
		}},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			p := newPin()
			if err := line.f(p); errcode.Of(err) != errcode.InvalidArgument {
				t.Fatalf("want invalid argument, got %v", err)
			}
			if len(p.Outs) != 0 || p.Ins != 0 || p.Count != 0 {
				t.Fatal("the pin must not be touched")
			}
		})
	}
}

func TestRead_remainingWait(t *testing.T) {
	rec := newRecorder()
	p := newPin(frame(0, 0, 0, 0, 0), frame(0, 0, 0, 0, 0))
	d, err := NewDHT11(p, rec.opts(time.Second, 1))
	if err != nil {
		t.Fatal(err)
	}
	rec.clk.Advance(300 * time.Millisecond)
	if _, err := d.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.delays[0] != 700*time.Millisecond {
		t.Fatal(rec.delays)
	}
	rec.delays = nil
	rec.clk.Advance(200 * time.Millisecond)
	if _, err := d.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []time.Duration{800 * time.Millisecond, 18 * time.Millisecond}; !equalDurations(rec.delays, want) {
		t.Fatalf("delays %v != %v", rec.delays, want)
	}
}

func TestRead_intervalElapsed(t *testing.T) {
	rec := newRecorder()
	p := newPin(frame(0, 0, 0, 0, 0))
	d, err := NewDHT22(p, rec.opts(3*time.Second, 1))
	if err != nil {
		t.Fatal(err)
	}
	rec.clk.Advance(time.Minute)
	if _, err := d.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []time.Duration{time.Millisecond}; !equalDurations(rec.delays, want) {
		t.Fatalf("delays %v != %v", rec.delays, want)
	}
}

func TestRead_canceled(t *testing.T) {
	clk := clockwork.NewFakeClock()
	p := newPin(frame(0, 0, 0, 0, 0))
	d, err := NewDHT11(p, &Opts{MinReadInterval: time.Second, MaxAttempts: 3, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
	if p.Requests != 0 || p.Ins != 0 || len(p.Outs) != 1 {
		t.Fatal("cancellation during the wait must have no hardware side effect")
	}
}

func TestRead_lostLine(t *testing.T) {
	rec := newRecorder()
	p := newPin(frame(0, 0, 0, 0, 0))
	p.InErr = errors.New("pin busy")
	d, err := NewDHT11(p, rec.opts(time.Second, 3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Read(context.Background()); errcode.Of(err) != errcode.IO {
		t.Fatalf("want io, got %v", err)
	}
	if p.Requests != 1 {
		t.Fatal("io errors are not retried")
	}
	p.InErr = nil
	rec.delays = nil
	if _, err := d.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Re-acquiring the line restarts the interval.
	if want := []time.Duration{time.Second, 18 * time.Millisecond}; !equalDurations(rec.delays, want) {
		t.Fatalf("delays %v != %v", rec.delays, want)
	}
}

func TestResponse_valid(t *testing.T) {
	dht11 := []struct {
		b    [4]byte
		want bool
	}{
		{[4]byte{100, 0, 75, 0}, true},
		{[4]byte{99, 9, 74, 9}, true},
		{[4]byte{0, 0, 0, 0}, true},
		{[4]byte{101, 0, 0, 0}, false},
		{[4]byte{100, 1, 0, 0}, false},
		{[4]byte{50, 10, 0, 0}, false},
		{[4]byte{0, 0, 76, 0}, false},
		{[4]byte{0, 0, 75, 1}, false},
		{[4]byte{0, 0, 20, 10}, false},
	}
	for i, line := range dht11 {
		if got := DHT11.Decode(line.b).Valid(); got != line.want {
			t.Errorf("dht11 #%d %v: %t", i, line.b, got)
		}
	}
	be := func(h, t uint16) [4]byte {
		return [4]byte{byte(h >> 8), byte(h), byte(t >> 8), byte(t)}
	}
	dht22 := []struct {
		b    [4]byte
		want bool
	}{
		{be(1000, 1499), true},
		{be(999, 0), true},
		{be(0, 599|0x8000), true},
		{be(0, 0x8000), true},
		{be(1001, 0), false},
		{be(0, 1500), false},
		{be(0, 600|0x8000), false},
	}
	for i, line := range dht22 {
		if got := DHT22.Decode(line.b).Valid(); got != line.want {
			t.Errorf("dht22 #%d %v: %t", i, line.b, got)
		}
	}
}

func TestResponse_units(t *testing.T) {
	r11 := DHT11.Decode([4]byte{71, 2, 60, 3})
	if want := 71*physic.PercentRH + 2*physic.MilliRH; r11.Humidity() != want {
		t.Fatal(r11.Humidity())
	}
	if want := physic.ZeroCelsius + 603*(physic.Celsius/10); r11.Temperature() != want {
		t.Fatal(r11.Temperature())
	}
	r22 := DHT22.Decode([4]byte{0x02, 0x01, 0x81, 0x9D})
	if want := 513 * physic.MilliRH; r22.Humidity() != want {
		t.Fatal(r22.Humidity())
	}
	if want := physic.ZeroCelsius - 413*(physic.Celsius/10); r22.Temperature() != want {
		t.Fatal(r22.Temperature())
	}
}

func TestDev_senseContinuous(t *testing.T) {
	rec := newRecorder()
	d, err := NewDHT22(newPin(), rec.opts(2*time.Second, 1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.SenseContinuous(time.Second); errcode.Of(err) != errcode.InvalidArgument {
		t.Fatalf("want invalid argument, got %v", err)
	}
	ch, err := d.SenseContinuous(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.SenseContinuous(2 * time.Second); err == nil {
		t.Fatal("already running")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}
	e := physic.Env{}
	d.Precision(&e)
	if e.Temperature != physic.Celsius/10 || e.Humidity != physic.MilliRH {
		t.Fatal(e)
	}
	if s := d.String(); s != "dht22{GPIO4(4)}" {
		t.Fatal(s)
	}
}

func TestRead_pingDelayFails(t *testing.T) {
	rec := newRecorder()
	p := newPin(valid(40, 0, 22, 0))
	failed := errors.New("delay failed")
	opts := rec.opts(time.Second, 3)
	opts.Delay = func(ctx context.Context, d time.Duration) error {
		if d == DHT11.Ping {
			return failed
		}
		return rec.delay(ctx, d)
	}
	d, err := NewDHT11(p, opts)
	if err != nil {
		t.Fatal(err)
	}
	rec.clk.Advance(time.Minute)
	if _, err := d.Read(context.Background()); !errors.Is(err, failed) {
		t.Fatalf("want delay error, got %v", err)
	}
	if p.IsInput || p.L != gpio.High {
		t.Fatal("line not restored to output high")
	}
	if want := []gpio.Level{gpio.High, gpio.Low, gpio.High}; !equalLevels(p.Outs, want) {
		t.Fatalf("outs %v != %v", p.Outs, want)
	}
	// The aborted request restarts the interval.
	d.opts.Delay = rec.delay
	if _, err := d.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []time.Duration{time.Second, DHT11.Ping}; !equalDurations(rec.delays, want) {
		t.Fatalf("delays %v != %v", rec.delays, want)
	}
}

func TestDev_haltInterruptsWait(t *testing.T) {
	clk := clockwork.NewFakeClock()
	waiting := make(chan struct{})
	delay := func(ctx context.Context, d time.Duration) error {
		if d == DHT22.Ping {
			return nil
		}
		close(waiting)
		<-ctx.Done()
		return ctx.Err()
	}
	// The first attempt fails its checksum, the retry waits for the interval.
	p := newPin(frame(0, 0, 0, 0, 1))
	d, err := NewDHT22(p, &Opts{MinReadInterval: 2 * time.Second, MaxAttempts: 2, Clock: clk, Delay: delay})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := d.SenseContinuous(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	clk.BlockUntil(1)
	clk.Advance(2 * time.Second)
	select {
	case <-waiting:
	case <-time.After(10 * time.Second):
		t.Fatal("read did not start")
	}

	done := make(chan error)
	go func() { done <- d.Halt() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Halt blocked on the interval wait")
	}
	for range ch {
	}
	if p.IsInput || p.L != gpio.High {
		t.Fatal("line not left high")
	}
}
