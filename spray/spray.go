// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package spray runs a treatment session: it keeps reading a thermometer and
// switches the spray motor on above a fixed temperature and off at or below
// it.
//
// When a reading fails the last valid temperature keeps deciding, so a flaky
// bus never stalls the actuator. The motor is forced off when a session
// starts and when it ends.
package spray

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

const (
	// Cutoff is the temperature above which the motor runs.
	Cutoff = physic.ZeroCelsius + 28*physic.Kelvin
	// ExitCommand ends a session when read from the console.
	ExitCommand = 'x'
	// Interval is the pause between two iterations.
	Interval = 500 * time.Millisecond
)

// Thermometer returns a fresh temperature or an error when none could be
// acquired.
type Thermometer interface {
	Acquire() (physic.Temperature, error)
}

// State is the controller state of one session.
type State struct {
	LastValid physic.Temperature // last successful reading
	HasValid  bool               // LastValid is set
	MotorOn   bool
}

// Controller drives the motor from the thermometer readings.
//
// A Controller is meant to be used from a single goroutine.
type Controller struct {
	therm Thermometer
	motor gpio.PinOut
	sink  Sink
	state State
}

// New returns a Controller. sink may be nil.
func New(t Thermometer, motor gpio.PinOut, sink Sink) *Controller {
	if sink == nil {
		sink = Sinks(nil)
	}
	return &Controller{therm: t, motor: motor, sink: sink}
}

func (c *Controller) String() string {
	return fmt.Sprintf("spray{%s}", c.motor)
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Step runs one iteration: a reading, then the threshold rule on it, or on
// the last valid reading if it failed.
//
// A failed reading is not an error. The returned error is a motor pin
// failure; the state is then unchanged so the next Step tries again.
func (c *Controller) Step() error {
	t, err := c.therm.Acquire()
	stale := false
	switch {
	case err == nil:
		c.state.LastValid = t
		c.state.HasValid = true
		c.notify(Event{Kind: Reading, Temperature: t})
	case c.state.HasValid:
		c.notify(Event{Kind: ReadingFailed, Err: err})
		t, stale = c.state.LastValid, true
	default:
		c.notify(Event{Kind: ReadingFailed, Err: err})
		return nil
	}
	return c.apply(t, stale)
}

// Run runs a session until ExitCommand is received on commands or ctx is
// done. Other bytes are ignored.
//
// The exit condition is only checked between iterations. Run returns nil on
// ExitCommand and ctx.Err() on cancellation. It returns early with an error
// when the motor cannot be forced off at the start.
func (c *Controller) Run(ctx context.Context, commands <-chan byte) error {
	c.state = State{}
	if err := c.motor.Out(gpio.Low); err != nil {
		return fmt.Errorf("spray: forcing motor off: %w", err)
	}
	c.notify(Event{Kind: SessionStarted})
	for {
		// Motor pin failures are reported to the sink and retried.
		_ = c.Step()
		if exit(commands) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-after(Interval):
		}
		if ctx.Err() != nil {
			break
		}
	}
	err := c.end()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// end forces the motor off whatever the state.
func (c *Controller) end() error {
	wasOn := c.state.MotorOn
	var err error
	if err = c.motor.Out(gpio.Low); err != nil {
		err = fmt.Errorf("spray: forcing motor off: %w", err)
		c.notify(Event{Kind: ActuatorFault, Err: err})
	} else {
		c.state.MotorOn = false
		if wasOn {
			c.notify(Event{Kind: MotorOff, Temperature: c.state.LastValid, Forced: true})
		}
	}
	c.notify(Event{Kind: SessionEnded})
	return err
}

// apply switches the motor when the threshold rule asks for another state.
func (c *Controller) apply(t physic.Temperature, stale bool) error {
	on := t > Cutoff
	if on == c.state.MotorOn {
		return nil
	}
	if err := c.motor.Out(gpio.Level(on)); err != nil {
		err = fmt.Errorf("spray: switching motor: %w", err)
		c.notify(Event{Kind: ActuatorFault, Temperature: t, Stale: stale, Err: err})
		return err
	}
	c.state.MotorOn = on
	kind := MotorOff
	if on {
		kind = MotorOn
	}
	c.notify(Event{Kind: kind, Temperature: t, Stale: stale})
	return nil
}

func (c *Controller) notify(e Event) {
	e.Time = now()
	c.sink.Notify(e)
}

// exit drains the pending commands and reports whether ExitCommand was among
// them.
func exit(commands <-chan byte) bool {
	found := false
	for {
		select {
		case b, ok := <-commands:
			if !ok {
				return found
			}
			if b == ExitCommand {
				found = true
			}
		default:
			return found
		}
	}
}

var (
	after = time.After
	now   = time.Now
)
