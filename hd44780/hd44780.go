// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hd44780 controls the Hitachi LCD display chipset HD-44780 through
// GPIO lines: a gpio.Group for the data lines plus RS and EN pins.
//
// The R/W line must be held low; the busy flag is never read and commands
// are paced by their datasheet execution time instead.
//
// # Datasheet
//
// https://www.sparkfun.com/datasheets/LCD/HD44780.pdf
package hd44780

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
)

// Instructions, datasheet table 6.
const (
	cmdClear       byte = 0x01
	cmdHome        byte = 0x02
	cmdEntryMode   byte = 0x04
	entryIncrement byte = 0x02
	cmdControl     byte = 0x08
	controlDisplay byte = 0x04
	controlCursor  byte = 0x02
	controlBlink   byte = 0x01
	cmdShift       byte = 0x10
	shiftRight     byte = 0x04
	cmdFunction    byte = 0x20
	function8Bit   byte = 0x10
	functionTwo    byte = 0x08
	cmdSetDDRAM    byte = 0x80
)

// Execution times, datasheet table 6 at 270kHz.
const (
	delayPowerOn = 50 * time.Millisecond
	delayInit    = 4100 * time.Microsecond
	delayWake    = 100 * time.Microsecond
	delayLong    = 1520 * time.Microsecond
	delayShort   = 40 * time.Microsecond
	pulse        = time.Microsecond
)

// HD44780 drives a display wired in 4-bit mode (D4-D7) or 8-bit mode
// (D0-D7).
//
// Rows and columns are 1 based.
type HD44780 struct {
	mu        sync.Mutex
	data      gpio.Group
	rs        gpio.PinOut
	enable    gpio.PinOut
	backlight display.DisplayBacklight
	width     int
	rows      int
	cols      int
	control   byte
	// expander is halted with the display when the pins belong to it.
	expander conn.Resource
}

// NewHD44780 initializes the display and returns a handle to it. The display
// is left cleared, on, with the cursor hidden and the backlight on.
//
// The first 4 or 8 pins of data are D4-D7 or D0-D7. A group of 8 pins or
// more selects 8-bit mode. backlight may be nil.
func NewHD44780(data gpio.Group, rs, enable gpio.PinOut, backlight display.DisplayBacklight, rows, cols int) (*HD44780, error) {
	if rows < 1 || rows > 4 || cols < 1 || cols > 40 || rows*cols > 80 {
		return nil, fmt.Errorf("hd44780: invalid geometry %dx%d", cols, rows)
	}
	width := 4
	if len(data.Pins()) >= 8 {
		width = 8
	}
	d := &HD44780{
		data:      data,
		rs:        rs,
		enable:    enable,
		backlight: backlight,
		width:     width,
		rows:      rows,
		cols:      cols,
	}
	if err := d.init(); err != nil {
		return nil, fmt.Errorf("hd44780: %w", err)
	}
	return d, nil
}

func (d *HD44780) String() string {
	return fmt.Sprintf("HD44780{%s, %dx%d}", d.data, d.cols, d.rows)
}

// Halt implements conn.Resource.
//
// It clears the display, turns the backlight off, and turns the display off.
func (d *HD44780) Halt() error {
	err := errors.Join(d.Clear(), d.Backlight(0), d.Display(false), d.data.Halt())
	if d.expander != nil {
		err = errors.Join(err, d.expander.Halt())
	}
	return err
}

// AutoScroll is not supported by this device. Returns
// display.ErrNotImplemented.
func (d *HD44780) AutoScroll(enabled bool) error {
	return fmt.Errorf("hd44780: %w", display.ErrNotImplemented)
}

// Clear clears the screen and moves the cursor to the first position.
func (d *HD44780) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(cmdClear)
}

func (d *HD44780) Cols() int {
	return d.cols
}

// Cursor sets the cursor mode. Modes are applied in order.
func (d *HD44780) Cursor(modes ...display.CursorMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	control := d.control
	for _, mode := range modes {
		switch mode {
		case display.CursorOff:
			control &^= controlCursor | controlBlink
		case display.CursorUnderline:
			control = control&^controlBlink | controlCursor
		case display.CursorBlock, display.CursorBlink:
			control |= controlCursor | controlBlink
		default:
			return fmt.Errorf("hd44780: unexpected cursor: %d", mode)
		}
	}
	d.control = control
	return d.command(cmdControl | d.control)
}

// Home moves the cursor to (MinRow(), MinCol()).
func (d *HD44780) Home() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(cmdHome)
}

func (d *HD44780) MinCol() int {
	return 1
}

func (d *HD44780) MinRow() int {
	return 1
}

// Move moves the cursor forward or backward. Up and Down are not supported.
func (d *HD44780) Move(dir display.CursorDirection) error {
	var val byte
	switch dir {
	case display.Backward:
	case display.Forward:
		val = shiftRight
	case display.Up, display.Down:
		return fmt.Errorf("hd44780: %w", display.ErrNotImplemented)
	default:
		return fmt.Errorf("hd44780: unexpected direction: %d", dir)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(cmdShift | val)
}

// MoveTo moves the cursor to an arbitrary position.
//
// Rows 3 and 4 continue rows 1 and 2 in display memory.
func (d *HD44780) MoveTo(row, col int) error {
	if row < d.MinRow() || row > d.rows || col < d.MinCol() || col > d.cols {
		return fmt.Errorf("hd44780: MoveTo(%d,%d) out of range", row, col)
	}
	offset := byte(0x40 * ((row - 1) % 2))
	if row > 2 {
		offset += byte(d.cols)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(cmdSetDDRAM | (offset + byte(col-1)))
}

func (d *HD44780) Rows() int {
	return d.rows
}

// Display turns the display on or off. The content is kept.
func (d *HD44780) Display(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on {
		d.control |= controlDisplay
	} else {
		d.control &^= controlDisplay
	}
	return d.command(cmdControl | d.control)
}

// Write writes characters at the cursor position. Bytes are sent as is,
// using the character ROM of the controller.
func (d *HD44780) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range p {
		if err := d.send(b, gpio.High); err != nil {
			return i, err
		}
		sleep(delayShort)
	}
	return len(p), nil
}

func (d *HD44780) WriteString(text string) (int, error) {
	return d.Write([]byte(text))
}

// Backlight turns the backlight off for intensity 0 and on otherwise. It is
// a no-op without a backlight.
func (d *HD44780) Backlight(intensity display.Intensity) error {
	if d.backlight == nil {
		return nil
	}
	return d.backlight.Backlight(intensity)
}

// init runs the initialization by instruction, datasheet figures 23 and 24.
func (d *HD44780) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rs.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.enable.Out(gpio.Low); err != nil {
		return err
	}
	sleep(delayPowerOn)
	for _, wait := range []time.Duration{delayInit, delayWake, 0} {
		if err := d.latch(0x03 << (d.width - 4)); err != nil {
			return err
		}
		if wait != 0 {
			sleep(wait)
		}
	}
	function := cmdFunction
	if d.width == 8 {
		function |= function8Bit
	} else if err := d.latch(0x02); err != nil {
		return err
	}
	if d.rows > 1 {
		function |= functionTwo
	}
	d.control = controlDisplay
	for _, c := range []byte{function, cmdControl | d.control, cmdClear, cmdEntryMode | entryIncrement} {
		if err := d.command(c); err != nil {
			return err
		}
	}
	if d.backlight != nil {
		return d.backlight.Backlight(0xff)
	}
	return nil
}

func (d *HD44780) command(c byte) error {
	if err := d.send(c, gpio.Low); err != nil {
		return err
	}
	if c == cmdClear || c == cmdHome {
		sleep(delayLong)
	} else {
		sleep(delayShort)
	}
	return nil
}

// send writes a byte, as two nibbles high first in 4-bit mode.
func (d *HD44780) send(b byte, rs gpio.Level) error {
	if err := d.rs.Out(rs); err != nil {
		return err
	}
	if d.width == 8 {
		return d.latch(b)
	}
	if err := d.latch(b >> 4); err != nil {
		return err
	}
	return d.latch(b & 0x0f)
}

// latch presents v on the data lines and pulses EN; the controller reads on
// the falling edge.
func (d *HD44780) latch(v byte) error {
	mask := gpio.GPIOValue(1)<<d.width - 1
	if err := d.data.Out(gpio.GPIOValue(v), mask); err != nil {
		return err
	}
	if err := d.enable.Out(gpio.High); err != nil {
		return err
	}
	sleep(pulse)
	return d.enable.Out(gpio.Low)
}

var sleep = time.Sleep

var _ conn.Resource = &HD44780{}
var _ display.TextDisplay = &HD44780{}
var _ display.DisplayBacklight = &HD44780{}
