// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 reads a single Maxim DS18B20 temperature sensor on a 1-wire
// bus.
//
// The sensor is addressed with Skip ROM, so it must be the only device on
// the bus.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
package ds18b20

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

const (
	cmdSkipROM         = 0xcc
	cmdConvertT        = 0x44
	cmdReadScratchpad  = 0xbe
	attempts           = 3
	conversionDuration = 800 * time.Millisecond
)

// Valid range of the sensor, datasheet p.1.
const (
	MinTemp = physic.ZeroCelsius - 55*physic.Kelvin
	MaxTemp = physic.ZeroCelsius + 125*physic.Kelvin
)

// ErrExhausted is matched by the error Acquire returns when no attempt
// produced a valid reading.
var ErrExhausted = errors.New("ds18b20: no valid reading")

// ExhaustedError is returned by Acquire after every attempt failed. It keeps
// the error of each attempt.
type ExhaustedError struct {
	Errs []error
}

func (e *ExhaustedError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("ds18b20: no valid reading after %d attempts: %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Is makes errors.Is(err, ErrExhausted) true.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Unwrap returns the error of each attempt.
func (e *ExhaustedError) Unwrap() []error {
	return e.Errs
}

// RangeError is returned for a decoded temperature outside the sensor's
// range, which means the transfer was corrupted. It implements
// onewire.BusError.
type RangeError struct {
	Temp physic.Temperature
}

func (e *RangeError) Error() string {
	return "ds18b20: reading out of range: " + e.Temp.String()
}

// BusError implements onewire.BusError.
func (e *RangeError) BusError() bool { return true }

// New returns an object that communicates over 1-wire to the only DS18B20
// sensor on the bus.
func New(o onewire.Bus) *Dev {
	return &Dev{onewire: o}
}

// Dev is a handle to the single Dallas Semi / Maxim DS18B20 temperature
// sensor on a 1-wire bus.
type Dev struct {
	onewire onewire.Bus

	mu   sync.Mutex
	stop chan struct{}
}

func (d *Dev) String() string {
	return "DS18B20{" + d.onewire.String() + "}"
}

// Halt implements conn.Resource.
//
// It stops a continuous sensing started by SenseContinuous.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	return nil
}

// Acquire performs a conversion and returns the temperature.
//
// Up to 3 attempts are made. A missing presence pulse or an out of range
// value fails the attempt. The first valid value is returned at once. When
// all attempts fail the error is an *ExhaustedError.
//
// Each attempt that reaches the conversion blocks for 800ms.
func (d *Dev) Acquire() (physic.Temperature, error) {
	errs := make([]error, 0, attempts)
	for range attempts {
		t, err := d.attempt()
		if err == nil {
			return t, nil
		}
		errs = append(errs, err)
	}
	return 0, &ExhaustedError{Errs: errs}
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	t, err := d.Acquire()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// A reading is sent every interval. Failed acquisitions are skipped. The
// channel is closed by Halt.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < conversionDuration {
		return nil, fmt.Errorf("ds18b20: interval %s shorter than a conversion", interval)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("ds18b20: already sensing continuously")
	}
	d.stop = make(chan struct{})
	ch := make(chan physic.Env)
	go d.sense(interval, ch, d.stop)
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

func (d *Dev) sense(interval time.Duration, ch chan<- physic.Env, stop <-chan struct{}) {
	defer close(ch)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		var e physic.Env
		if err := d.Sense(&e); err == nil {
			select {
			case ch <- e:
			case <-stop:
				return
			}
		}
		select {
		case <-t.C:
		case <-stop:
			return
		}
	}
}

func (d *Dev) attempt() (physic.Temperature, error) {
	if err := d.onewire.Tx([]byte{cmdSkipROM, cmdConvertT}, nil, onewire.StrongPullup); err != nil {
		return 0, err
	}
	sleep(conversionDuration)
	var buf [2]byte
	if err := d.onewire.Tx([]byte{cmdSkipROM, cmdReadScratchpad}, buf[:], onewire.WeakPullup); err != nil {
		return 0, err
	}
	t := decode(buf[0], buf[1])
	if t < MinTemp || t > MaxTemp {
		return 0, &RangeError{Temp: t}
	}
	return t, nil
}

// decode converts the temperature register, in 1/16°C two's complement,
// datasheet p.6.
func decode(lsb, msb byte) physic.Temperature {
	raw := int16(msb)<<8 | int16(lsb)
	return physic.Temperature(raw)*physic.Kelvin/16 + physic.ZeroCelsius
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
