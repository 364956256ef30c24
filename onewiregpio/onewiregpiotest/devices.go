// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpiotest

import (
	"sync"

	"periph.io/x/conn/v3/onewire"
)

// Loopback is a Device that sends back, in read slots, the bits written to
// it in write slots, oldest first. It reads as 1 when nothing is queued.
type Loopback struct {
	mu   sync.Mutex
	bits []bool
}

// Reset implements Device. Queued bits are kept.
func (l *Loopback) Reset() bool {
	return true
}

// WriteBit implements Device.
func (l *Loopback) WriteBit(bit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bits = append(l.bits, bit)
}

// ReadBit implements Device.
func (l *Loopback) ReadBit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.bits) == 0 {
		return true
	}
	b := l.bits[0]
	l.bits = l.bits[1:]
	return b
}

const (
	stateIdle = iota
	stateROM
	stateFunction
	stateTransmit
)

// Thermometer is a Device modeling a DS18B20 powered from VDD that only
// understands Skip ROM, Convert T and Read Scratchpad.
type Thermometer struct {
	// Raw is the temperature register value, in 1/16°C, stored by a
	// conversion once Readings is exhausted.
	Raw int16
	// Readings are consumed one per conversion before Raw is used.
	Readings []int16
	// Absent is the number of upcoming resets left unanswered.
	Absent int

	mu          sync.Mutex
	state       int
	rx          byte
	nrx         int
	ntx         int
	scratchpad  [9]byte
	conversions int
	commands    []byte
}

// NewThermometer returns a Thermometer whose scratchpad holds the power-on
// value of 85°C and whose next conversions store raw.
func NewThermometer(raw int16) *Thermometer {
	t := &Thermometer{Raw: raw}
	t.store(0x0550)
	return t
}

// Conversions returns the number of Convert T commands received.
func (t *Thermometer) Conversions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversions
}

// Commands returns every byte received after a reset, in order.
func (t *Thermometer) Commands() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.commands...)
}

// Reset implements Device.
func (t *Thermometer) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx, t.nrx, t.ntx = 0, 0, 0
	if t.Absent > 0 {
		t.Absent--
		t.state = stateIdle
		return false
	}
	t.state = stateROM
	return true
}

// WriteBit implements Device.
func (t *Thermometer) WriteBit(bit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateIdle || t.state == stateTransmit {
		return
	}
	if bit {
		t.rx |= 1 << t.nrx
	}
	if t.nrx++; t.nrx < 8 {
		return
	}
	cmd := t.rx
	t.rx, t.nrx = 0, 0
	t.commands = append(t.commands, cmd)
	switch t.state {
	case stateROM:
		if cmd == 0xcc {
			t.state = stateFunction
		} else {
			t.state = stateIdle
		}
	case stateFunction:
		switch cmd {
		case 0x44:
			raw := t.Raw
			if len(t.Readings) != 0 {
				raw = t.Readings[0]
				t.Readings = t.Readings[1:]
			}
			t.store(raw)
			t.conversions++
			t.state = stateIdle
		case 0xbe:
			t.state = stateTransmit
			t.ntx = 0
		default:
			t.state = stateIdle
		}
	}
}

// ReadBit implements Device.
func (t *Thermometer) ReadBit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateTransmit || t.ntx >= 8*len(t.scratchpad) {
		return true
	}
	b := t.scratchpad[t.ntx/8]&(1<<(t.ntx%8)) != 0
	t.ntx++
	return b
}

func (t *Thermometer) store(raw int16) {
	t.scratchpad = [9]byte{byte(raw), byte(uint16(raw) >> 8), 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}
	t.scratchpad[8] = onewire.CalcCRC(t.scratchpad[:8])
}

var _ Device = &Loopback{}
var _ Device = &Thermometer{}
