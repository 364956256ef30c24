// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiregpiotest simulates a 1-wire line with a virtual clock so the
// bit-banged protocol can be exercised without hardware or real delays.
//
// The master drives the Line through onewiregpio.Line and advances time with
// Line.Wait. The Line decodes resets and time slots from the observed low
// pulses and forwards them to a Device.
package onewiregpiotest

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Slave timing windows, datasheet p.15-16.
const (
	presenceDelay = 15 * time.Microsecond  // release to presence pulse start
	presenceLen   = 120 * time.Microsecond // presence pulse length
	write0Min     = 15 * time.Microsecond  // shortest low read as a 0
	slotMax       = 120 * time.Microsecond // longest low accepted in a slot
	resetMin      = 480 * time.Microsecond // shortest low read as a reset
	readHold      = 30 * time.Microsecond  // device holds a 0 this long
)

// Device is a 1-wire slave attached to a Line.
type Device interface {
	// Reset is called on a reset pulse and reports whether the device
	// answers with a presence pulse.
	Reset() bool
	// WriteBit receives a bit written by the master.
	WriteBit(bit bool)
	// ReadBit returns the bit the device sends in a read slot.
	ReadBit() bool
}

// Slot is a decoded time slot as seen on the line.
type Slot struct {
	Low   time.Duration // time the master held the line low
	Total time.Duration // falling edge to the next falling edge
	Read  bool          // the master sampled the line in this slot
}

// Line is a simulated open-drain 1-wire line.
//
// Line implements onewiregpio.Line; pass Line.Wait as onewiregpio.Opts.Wait.
type Line struct {
	// Device answers on the line. A nil Device leaves the line idle high.
	Device Device

	mu       sync.Mutex
	now      time.Duration
	driving  bool
	fell     time.Duration // last falling edge
	released time.Duration // last release
	presence bool          // presence window active since last reset
	pending  bool          // short low seen, bit 1 unless the slot is read
	inSlot   bool
	sampled  bool
	bit      bool // bit sent by the device in the current read slot
	resets   int
	slots    []Slot
}

// String implements fmt.Stringer.
func (l *Line) String() string {
	return "onewiregpiotest.Line"
}

// In releases the line.
func (l *Line) In(pull gpio.Pull, edge gpio.Edge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.driving {
		return nil
	}
	l.driving = false
	l.released = l.now
	low := l.now - l.fell
	switch {
	case low >= resetMin:
		l.slots = l.slots[:len(l.slots)-1]
		l.inSlot = false
		l.pending = false
		l.resets++
		l.presence = l.Device != nil && l.Device.Reset()
	case low > slotMax:
		// Neither a slot nor a reset; the device ignores it.
		l.slots = l.slots[:len(l.slots)-1]
		l.inSlot = false
	case low >= write0Min:
		l.slots[len(l.slots)-1].Low = low
		if l.Device != nil {
			l.Device.WriteBit(false)
		}
	default:
		l.slots[len(l.slots)-1].Low = low
		l.pending = true
	}
	return nil
}

// Out drives the line. Only gpio.Low is meaningful on an open-drain line;
// gpio.High is treated as a release.
func (l *Line) Out(level gpio.Level) error {
	if level == gpio.High {
		return l.In(gpio.PullNoChange, gpio.NoEdge)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.driving {
		return nil
	}
	l.endSlot()
	l.driving = true
	l.fell = l.now
	l.presence = false
	l.inSlot = true
	l.sampled = false
	l.slots = append(l.slots, Slot{})
	return nil
}

// Read samples the line.
func (l *Line) Read() gpio.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.driving {
		return gpio.Low
	}
	if l.presence {
		since := l.now - l.released
		if since >= presenceDelay && since < presenceDelay+presenceLen {
			return gpio.Low
		}
		return gpio.High
	}
	if !l.inSlot || l.Device == nil {
		return gpio.High
	}
	if !l.sampled {
		l.sampled = true
		l.pending = false
		l.slots[len(l.slots)-1].Read = true
		l.bit = l.Device.ReadBit()
	}
	if !l.bit && l.now-l.fell < readHold {
		return gpio.Low
	}
	return gpio.High
}

// Wait advances the virtual clock.
func (l *Line) Wait(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now += d
}

// Now returns the virtual time elapsed since the Line was created.
func (l *Line) Now() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Driving reports whether the master is currently holding the line low.
func (l *Line) Driving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.driving
}

// Resets returns the number of reset pulses seen.
func (l *Line) Resets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resets
}

// Slots returns the time slots seen so far. The last slot is closed at the
// current virtual time.
func (l *Line) Slots() []Slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endSlot()
	out := make([]Slot, len(l.slots))
	copy(out, l.slots)
	return out
}

// endSlot commits a pending 1 and closes the current slot.
func (l *Line) endSlot() {
	if !l.inSlot {
		return
	}
	if l.pending {
		l.pending = false
		if l.Device != nil {
			l.Device.WriteBit(true)
		}
	}
	if !l.driving {
		l.slots[len(l.slots)-1].Total = l.now - l.fell
	}
}
