// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hd44780

import (
	"errors"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/plantguard/pcf857x"
)

// DefaultBackpackAddress is the address of a PCF8574 backpack with A0-A2
// open.
const DefaultBackpackAddress uint16 = 0x27

// Expander pins of the backpack.
const (
	pcfRS        = 0
	pcfRW        = 1
	pcfEnable    = 2
	pcfBacklight = 3
	pcfD4        = 4
	pcfD5        = 5
	pcfD6        = 6
	pcfD7        = 7
)

// NewPCF857xBackpack returns a display behind a PCF8574 I²C backpack, as
// sold with LCD1602 and LCD2004 modules. Halting the display releases the
// expander pins.
//
// # Product Information
//
// https://www.handsontec.com/dataspecs/I2C_2004_LCD.pdf
func NewPCF857xBackpack(bus i2c.Bus, address uint16, rows, cols int) (*HD44780, error) {
	pcf, err := pcf857x.New(bus, address, pcf857x.PCF8574)
	if err != nil {
		return nil, err
	}
	data, err := pcf.Group(pcfD4, pcfD5, pcfD6, pcfD7)
	if err == nil {
		err = pcf.Pins[pcfRW].Out(gpio.Low)
	}
	if err != nil {
		return nil, errors.Join(err, pcf.Halt())
	}
	d, err := NewHD44780(data, pcf.Pins[pcfRS], pcf.Pins[pcfEnable], NewBacklight(pcf.Pins[pcfBacklight]), rows, cols)
	if err != nil {
		return nil, errors.Join(err, pcf.Halt())
	}
	d.expander = pcf
	return d, nil
}
