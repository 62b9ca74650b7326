// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioline

import (
	"errors"
	"testing"

	"github.com/GermanBionicSystems/bitbang/errcode"
	"github.com/GermanBionicSystems/bitbang/gpioline/linetest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestOutput_Input_roundtrip(t *testing.T) {
	p := &linetest.Playback{Pin: gpiotest.Pin{N: "GPIO4"}, Samples: linetest.Levels(1, 0)}
	o, err := NewOutput(p, gpio.High)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Set(gpio.Low); err != nil {
		t.Fatal(err)
	}
	i, err := o.Input(gpio.PullUp)
	if err != nil {
		t.Fatal(err)
	}
	if o.Pin() != nil {
		t.Fatal("output handle must be consumed")
	}
	if err := o.Set(gpio.High); err != ErrConsumed {
		t.Fatalf("want ErrConsumed, got %v", err)
	}
	if l := i.Read(); l != gpio.High {
		t.Fatal(l)
	}
	if l := i.Read(); l != gpio.Low {
		t.Fatal(l)
	}
	if p.P != gpio.PullUp {
		t.Fatal(p.P)
	}
	o, err = i.Output(gpio.High)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := i.Output(gpio.High); err != ErrConsumed {
		t.Fatalf("want ErrConsumed, got %v", err)
	}
	if s := o.String(); s != "Output{GPIO4(0)}" {
		t.Fatal(s)
	}
	if s := i.String(); s != "Input{consumed}" {
		t.Fatal(s)
	}
	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	if len(p.Outs) != len(want) {
		t.Fatalf("%v", p.Outs)
	}
	for j := range want {
		if p.Outs[j] != want[j] {
			t.Fatalf("%d: %v", j, p.Outs)
		}
	}
}

func TestOutput_Input_fail(t *testing.T) {
	p := &linetest.Playback{Pin: gpiotest.Pin{N: "GPIO4"}, InErr: errors.New("busy")}
	o, err := NewOutput(p, gpio.High)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Input(gpio.Float); errcode.Of(err) != errcode.IO {
		t.Fatalf("want io error, got %v", err)
	}
	if o.Pin() != nil {
		t.Fatal("failed switch must consume the handle")
	}
}

func TestNewOutput_fail(t *testing.T) {
	p := &linetest.Playback{Pin: gpiotest.Pin{N: "GPIO4"}, OutErr: errors.New("busy")}
	if _, err := NewOutput(p, gpio.High); errcode.Of(err) != errcode.IO {
		t.Fatalf("want io error, got %v", err)
	}
}

func TestInput_Read_consumed(t *testing.T) {
	p := &linetest.Playback{Pin: gpiotest.Pin{N: "GPIO4"}}
	o, _ := NewOutput(p, gpio.High)
	i, _ := o.Input(gpio.Float)
	if _, err := i.Output(gpio.High); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	i.Read()
}
