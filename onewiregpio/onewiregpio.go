// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiregpio implements a 1-wire bus master by bit-banging a single
// open-drain GPIO line.
//
// The bus is expected to carry exactly one device powered from VDD. Devices
// are addressed with Skip ROM, so Search is not supported.
//
// # Datasheet
//
// https://www.analog.com/en/resources/technical-articles/guidelines-for-reliable-long-line-1wire-networks.html
package onewiregpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/host/v3/cpu"
)

// Line is the part of gpio.PinIO the driver needs. In releases the line,
// Out(gpio.Low) drives it and Read samples it.
//
// Any gpio.PinIO satisfies Line.
type Line interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
}

// Timing is the set of durations that defines the 1-wire standard speed
// protocol.
type Timing struct {
	ResetLow         time.Duration // line held low to reset the bus
	PresenceSample   time.Duration // release to presence sample
	PresenceRecovery time.Duration // presence sample to end of reset
	Write1Low        time.Duration // low time of a 1 write slot
	Write1Recovery   time.Duration // release to end of a 1 write slot
	Write0Low        time.Duration // low time of a 0 write slot
	Write0Recovery   time.Duration // release to end of a 0 write slot
	ReadLow          time.Duration // low time starting a read slot
	ReadSample       time.Duration // release to read sample
	ReadRecovery     time.Duration // read sample to end of read slot
}

// StandardTiming holds the standard speed durations. Both write slots last
// 70µs.
var StandardTiming = Timing{
	ResetLow:         480 * time.Microsecond,
	PresenceSample:   70 * time.Microsecond,
	PresenceRecovery: 410 * time.Microsecond,
	Write1Low:        6 * time.Microsecond,
	Write1Recovery:   64 * time.Microsecond,
	Write0Low:        60 * time.Microsecond,
	Write0Recovery:   10 * time.Microsecond,
	ReadLow:          6 * time.Microsecond,
	ReadSample:       9 * time.Microsecond,
	ReadRecovery:     55 * time.Microsecond,
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// Wait blocks for the given duration. It must be accurate to a few
	// microseconds. Defaults to cpu.Nanospin.
	Wait func(time.Duration)
	// Guard brackets every reset and bit slot. Defaults to ThreadGuard.
	Guard Guard
	// Pull is applied each time the line is released.
	Pull gpio.Pull
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pull: gpio.PullUp,
}

// New returns a 1-wire bus master using the line l.
//
// The line is released before New returns.
func New(l Line, opts *Opts) (*Dev, error) {
	if l == nil {
		return nil, errors.New("onewiregpio: nil line")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		line:   l,
		wait:   opts.Wait,
		guard:  opts.Guard,
		pull:   opts.Pull,
		timing: StandardTiming,
	}
	if d.wait == nil {
		d.wait = cpu.Nanospin
	}
	if d.guard == nil {
		d.guard = ThreadGuard{Priority: DefaultPriority}
	}
	if err := d.release(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to a bit-banged 1-wire bus and it implements the
// onewire.Bus interface.
type Dev struct {
	mu     sync.Mutex // lock for the bus while a transaction is in progress
	line   Line
	wait   func(time.Duration)
	guard  Guard
	pull   gpio.Pull
	timing Timing
}

func (d *Dev) String() string {
	if s, ok := d.line.(fmt.Stringer); ok {
		return "onewiregpio{" + s.String() + "}"
	}
	return "onewiregpio"
}

// Halt implements conn.Resource.
//
// It releases the line.
func (d *Dev) Halt() error {
	return d.release()
}

// Close releases the line.
func (d *Dev) Close() error {
	return d.Halt()
}

// Tx performs a bus transaction: a reset, the bytes of w and then len(r)
// bytes read into r.
//
// The line is never driven high, so a strong pull-up request is ignored and
// parasite powered devices are not supported.
func (d *Dev) Tx(w, r []byte, power onewire.Pullup) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if present, err := d.Reset(); err != nil {
		return err
	} else if !present {
		return busError("onewiregpio: no device present")
	}
	for _, b := range w {
		if err := d.WriteByte(b); err != nil {
			return err
		}
	}
	for i := range r {
		b, err := d.ReadByte()
		if err != nil {
			return err
		}
		r[i] = b
	}
	return nil
}

// Search is not supported: the bus carries a single device addressed with
// Skip ROM.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	return nil, errors.New("onewiregpio: search not supported")
}

// Reset issues a reset pulse and returns true if a device answered with a
// presence pulse.
func (d *Dev) Reset() (bool, error) {
	defer d.guard.Enter()()
	if err := d.pulse(d.timing.ResetLow); err != nil {
		return false, err
	}
	d.wait(d.timing.PresenceSample)
	present := d.line.Read() == gpio.Low
	d.wait(d.timing.PresenceRecovery)
	return present, nil
}

// WriteBit sends one bit in a write time slot. A short low pulse encodes 1,
// a long one encodes 0.
func (d *Dev) WriteBit(bit bool) error {
	low, recovery := d.timing.Write0Low, d.timing.Write0Recovery
	if bit {
		low, recovery = d.timing.Write1Low, d.timing.Write1Recovery
	}
	defer d.guard.Enter()()
	if err := d.pulse(low); err != nil {
		return err
	}
	d.wait(recovery)
	return nil
}

// WriteByte sends b least significant bit first.
func (d *Dev) WriteByte(b byte) error {
	for range 8 {
		if err := d.WriteBit(b&0x01 != 0); err != nil {
			return err
		}
		b >>= 1
	}
	return nil
}

// ReadBit reads one bit in a read time slot.
func (d *Dev) ReadBit() (bool, error) {
	defer d.guard.Enter()()
	if err := d.pulse(d.timing.ReadLow); err != nil {
		return false, err
	}
	d.wait(d.timing.ReadSample)
	bit := d.line.Read() == gpio.High
	d.wait(d.timing.ReadRecovery)
	return bit, nil
}

// ReadByte reads a byte least significant bit first.
func (d *Dev) ReadByte() (byte, error) {
	var b byte
	for i := range 8 {
		bit, err := d.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			b |= 1 << i
		}
	}
	return b, nil
}

//

// pulse drives the line low for hold and releases it. The line is released
// on every return path.
func (d *Dev) pulse(hold time.Duration) error {
	if err := d.line.Out(gpio.Low); err != nil {
		_ = d.release()
		return fmt.Errorf("onewiregpio: driving line low: %w", err)
	}
	d.wait(hold)
	return d.release()
}

func (d *Dev) release() error {
	if err := d.line.In(d.pull, gpio.NoEdge); err != nil {
		return fmt.Errorf("onewiregpio: releasing line: %w", err)
	}
	return nil
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var _ conn.Resource = &Dev{}
var _ onewire.Bus = &Dev{}
