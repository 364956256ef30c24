// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcf857x

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

type pcfPin struct {
	dev    *Dev
	number int
	name   string
}

func (p *pcfPin) bit() gpio.GPIOValue {
	return gpio.GPIOValue(1) << p.number
}

func (p *pcfPin) DefaultPull() gpio.Pull {
	return gpio.Float
}

func (p *pcfPin) Function() string {
	return "Out"
}

func (p *pcfPin) Halt() error {
	return nil
}

// In writes the pin high so it can be sampled. The chip has no pull
// resistors; pull and edge are ignored.
func (p *pcfPin) In(pull gpio.Pull, edge gpio.Edge) error {
	return p.dev.write(p.bit(), p.bit())
}

func (p *pcfPin) Name() string {
	return p.name
}

func (p *pcfPin) Number() int {
	return p.number
}

func (p *pcfPin) Out(l gpio.Level) error {
	var v gpio.GPIOValue
	if l {
		v = p.bit()
	}
	return p.dev.write(v, p.bit())
}

func (p *pcfPin) Pull() gpio.Pull {
	return gpio.Float
}

// Read returns Low when the bus fails.
func (p *pcfPin) Read() gpio.Level {
	v, err := p.dev.read(p.bit())
	return err == nil && v == p.bit()
}

func (p *pcfPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return ErrNotImplemented
}

func (p *pcfPin) String() string {
	return p.name
}

// WaitForEdge always returns false. The interrupt line of the chip does not
// tell which pin changed.
func (p *pcfPin) WaitForEdge(timeout time.Duration) bool {
	return false
}

// Group is a set of pins of one expander written in a single transaction.
//
// Bit n of a value or mask is the pin at offset n of the group. A zero mask
// selects every pin of the group.
type Group struct {
	dev  *Dev
	pins []*pcfPin
}

func (g *Group) Pins() []pin.Pin {
	out := make([]pin.Pin, len(g.pins))
	for i, p := range g.pins {
		out[i] = p
	}
	return out
}

func (g *Group) ByOffset(offset int) pin.Pin {
	if offset < 0 || offset >= len(g.pins) {
		return nil
	}
	return g.pins[offset]
}

func (g *Group) ByName(name string) pin.Pin {
	for _, p := range g.pins {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (g *Group) ByNumber(number int) pin.Pin {
	for _, p := range g.pins {
		if p.number == number {
			return p
		}
	}
	return nil
}

// devBits maps group bits to device bits.
func (g *Group) devBits(v gpio.GPIOValue) gpio.GPIOValue {
	var out gpio.GPIOValue
	for i, p := range g.pins {
		if v&(1<<i) != 0 {
			out |= p.bit()
		}
	}
	return out
}

func (g *Group) all(mask gpio.GPIOValue) gpio.GPIOValue {
	if mask == 0 {
		return gpio.GPIOValue(1)<<len(g.pins) - 1
	}
	return mask
}

// Out writes value to the pins selected by mask.
func (g *Group) Out(value, mask gpio.GPIOValue) error {
	mask = g.all(mask)
	return g.dev.write(g.devBits(value), g.devBits(mask))
}

// Read samples the pins selected by mask.
func (g *Group) Read(mask gpio.GPIOValue) (gpio.GPIOValue, error) {
	mask = g.all(mask)
	v, err := g.dev.read(g.devBits(mask))
	if err != nil {
		return 0, err
	}
	var out gpio.GPIOValue
	for i, p := range g.pins {
		if mask&(1<<i) != 0 && v&p.bit() != 0 {
			out |= 1 << i
		}
	}
	return out, nil
}

func (g *Group) WaitForEdge(timeout time.Duration) (int, gpio.Edge, error) {
	return 0, gpio.NoEdge, ErrNotImplemented
}

func (g *Group) Halt() error {
	return nil
}

func (g *Group) String() string {
	n := make([]string, len(g.pins))
	for i, p := range g.pins {
		n[i] = fmt.Sprint(p.number)
	}
	return fmt.Sprintf("%s[%s]", g.dev, strings.Join(n, " "))
}

var _ gpio.PinIO = &pcfPin{}
var _ gpio.Group = &Group{}
