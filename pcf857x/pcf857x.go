// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pcf857x drives the TI/NXP PCF857X I²C I/O expander. The PCF8574
// has 8 quasi-bidirectional pins, the PCF8575 has 16.
//
// The chip has no registers: a write sets every pin at once, a read returns
// every pin. The driver keeps the last written value so that single pins
// and pin groups can be changed without touching the others. A write that
// would not change any pin is skipped, except the first one: the chip powers
// up with every pin high, not in the state the driver starts from.
//
// This is the expander of the LCD1602/LCD2004 I²C backpacks.
//
// # Datasheet
//
// https://www.ti.com/lit/ds/symlink/pcf8574.pdf
//
// # Notes
//
// A low pin is an open drain to ground. To read a pin it is first written
// high, then sampled: it reads low when something outside pulls it down.
// Edges cannot be detected per pin.
package pcf857x

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
)

// Variant represents the actual chip model.
type Variant string

// Supported chips.
const (
	PCF8574 Variant = "PCF8574"
	PCF8575 Variant = "PCF8575"
)

// DefaultAddress is the address of the chip with A0-A2 tied low.
const DefaultAddress uint16 = 0x20

// ErrNotImplemented is returned for features the chip lacks.
var ErrNotImplemented = errors.New("pcf857x: not implemented")

// Dev is a handle to a PCF857x.
type Dev struct {
	// Pins exposed by the device, numbered P0 upward. Pins are registered in
	// gpioreg under "<chip>_<addr>_GPIO<n>" until Halt.
	Pins  []gpio.PinIO
	width int
	chip  Variant

	mu         sync.Mutex
	d          i2c.Dev
	value      gpio.GPIOValue
	synced     bool
	registered []string
}

// New returns a handle to the expander at address on bus. No I/O happens
// until a pin is used.
func New(bus i2c.Bus, address uint16, chip Variant) (*Dev, error) {
	d := &Dev{d: i2c.Dev{Bus: bus, Addr: address}, chip: chip}
	switch chip {
	case PCF8574:
		d.width = 8
	case PCF8575:
		d.width = 16
	default:
		return nil, fmt.Errorf("pcf857x: unknown variant %q", chip)
	}
	d.Pins = make([]gpio.PinIO, d.width)
	for i := range d.width {
		p := &pcfPin{dev: d, number: i, name: fmt.Sprintf("%s_GPIO%d", d, i)}
		d.Pins[i] = p
		// A name already taken belongs to another handle on the same chip.
		if gpioreg.Register(p) == nil {
			d.registered = append(d.registered, p.name)
		}
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s_%x", d.chip, d.d.Addr)
}

// Halt implements conn.Resource.
//
// It unregisters the pins from gpioreg. Pin states are left as is.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for _, name := range d.registered {
		errs = append(errs, gpioreg.Unregister(name))
	}
	d.registered = nil
	return errors.Join(errs...)
}

// Group returns a gpio.Group of the given pin numbers, in that order.
func (d *Dev) Group(numbers ...int) (gpio.Group, error) {
	g := &Group{dev: d, pins: make([]*pcfPin, len(numbers))}
	for i, n := range numbers {
		if n < 0 || n >= d.width {
			return nil, fmt.Errorf("pcf857x: no pin %d on %s", n, d.chip)
		}
		g.pins[i] = d.Pins[n].(*pcfPin)
	}
	return g, nil
}

// write changes the pins in mask to value. It is skipped when no pin would
// change.
func (d *Dev) write(value, mask gpio.GPIOValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.value&^mask | value&mask
	if next == d.value && d.synced {
		return nil
	}
	w := make([]byte, d.width/8)
	for i := range w {
		w[i] = byte(next >> (8 * i))
	}
	if err := d.d.Tx(w, nil); err != nil {
		return fmt.Errorf("pcf857x: %w", err)
	}
	d.value = next
	d.synced = true
	return nil
}

// read drives the pins in mask high, samples every pin and returns the
// pins in mask.
func (d *Dev) read(mask gpio.GPIOValue) (gpio.GPIOValue, error) {
	if err := d.write(mask, mask); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := make([]byte, d.width/8)
	if err := d.d.Tx(nil, r); err != nil {
		return 0, fmt.Errorf("pcf857x: %w", err)
	}
	var v gpio.GPIOValue
	for i, b := range r {
		v |= gpio.GPIOValue(b) << (8 * i)
	}
	return v & mask, nil
}

var _ conn.Resource = &Dev{}
