// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package termlcd implements a character LCD display.TextDisplay that
// outputs to the terminal (stdout).
//
// On a terminal the panel is redrawn in place between two ANSI color bezels
// showing the backlight. Otherwise each changed row is printed as a plain
// line, which keeps logs and pipes readable.
//
// Useful to run the device on a host without the I²C backpack wired.
package termlcd

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"os"
	"strings"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
)

// Opts represents the options available for this display.
type Opts struct {
	Rows    int
	Cols    int
	Palette *ansi256.Palette
	// W is where the panel is drawn. When nil, stdout is used and the mode
	// depends on whether it is a terminal.
	W io.Writer
	// ANSI draws with escape sequences on W. It is ignored when W is nil.
	ANSI bool

	_ struct{}
}

// Backlight colors.
var (
	lit   = color.NRGBA{0x30, 0x70, 0xff, 0xff}
	unlit = color.NRGBA{0x30, 0x30, 0x30, 0xff}
)

// Dev is a character LCD emulator that outputs to the console.
//
// It is not safe for concurrent use.
type Dev struct {
	w       io.Writer
	ansi    bool
	palette ansi256.Palette
	rows    int
	cols    int

	cells     [][]byte
	printed   []string
	row, col  int
	on        bool
	backlight bool
	drawn     bool
	buf       bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:         opts.W,
		ansi:      opts.ANSI,
		palette:   *p,
		rows:      opts.Rows,
		cols:      opts.Cols,
		cells:     make([][]byte, opts.Rows),
		printed:   make([]string, opts.Rows),
		on:        true,
		backlight: true,
	}
	if d.w == nil {
		fd := os.Stdout.Fd()
		d.ansi = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		if d.ansi {
			d.w = colorable.NewColorableStdout()
		} else {
			d.w = colorable.NewNonColorable(os.Stdout)
		}
	}
	for i := range d.cells {
		d.cells[i] = bytes.Repeat([]byte{' '}, d.cols)
		d.printed[i] = string(d.cells[i])
	}
	return d
}

func (d *Dev) String() string {
	return fmt.Sprintf("TermLCD{%dx%d}", d.cols, d.rows)
}

// Halt implements conn.Resource.
//
// It turns the panel off and resets the terminal colors.
func (d *Dev) Halt() error {
	d.clear()
	d.on = false
	d.backlight = false
	if err := d.refresh(); err != nil {
		return err
	}
	if d.ansi {
		_, err := d.w.Write([]byte("\033[0m"))
		return err
	}
	return nil
}

// Content returns the characters currently shown, one string per row. A
// panel that is off shows blank rows.
func (d *Dev) Content() []string {
	out := make([]string, d.rows)
	for i := range d.cells {
		out[i] = d.line(i)
	}
	return out
}

// AutoScroll is not supported. Returns display.ErrNotImplemented.
func (d *Dev) AutoScroll(enabled bool) error {
	return fmt.Errorf("termlcd: %w", display.ErrNotImplemented)
}

// Clear clears the panel and moves the cursor home.
func (d *Dev) Clear() error {
	d.clear()
	return d.refresh()
}

// Cols returns the number of columns.
func (d *Dev) Cols() int {
	return d.cols
}

// Cursor validates the modes. The cursor is not drawn.
func (d *Dev) Cursor(modes ...display.CursorMode) error {
	for _, mode := range modes {
		if mode < display.CursorOff || mode > display.CursorBlink {
			return fmt.Errorf("termlcd: unexpected cursor: %d", mode)
		}
	}
	return nil
}

// Home moves the cursor to (MinRow(), MinCol()).
func (d *Dev) Home() error {
	d.row, d.col = 0, 0
	return nil
}

// MinCol returns the first column.
func (d *Dev) MinCol() int {
	return 1
}

// MinRow returns the first row.
func (d *Dev) MinRow() int {
	return 1
}

// Move moves the cursor forward or backward on the current row.
func (d *Dev) Move(dir display.CursorDirection) error {
	switch dir {
	case display.Backward:
		if d.col > 0 {
			d.col--
		}
	case display.Forward:
		d.col++
	case display.Up, display.Down:
		return fmt.Errorf("termlcd: %w", display.ErrNotImplemented)
	default:
		return fmt.Errorf("termlcd: unexpected direction: %d", dir)
	}
	return nil
}

// MoveTo moves the cursor to an arbitrary position.
func (d *Dev) MoveTo(row, col int) error {
	if row < d.MinRow() || row > d.rows || col < d.MinCol() || col > d.cols {
		return fmt.Errorf("termlcd: MoveTo(%d,%d) out of range", row, col)
	}
	d.row, d.col = row-1, col-1
	return nil
}

// Rows returns the number of rows.
func (d *Dev) Rows() int {
	return d.rows
}

// Display turns the panel on or off. The content is kept.
func (d *Dev) Display(on bool) error {
	d.on = on
	return d.refresh()
}

// Write writes characters at the cursor. Characters past the last column
// are not shown, like on the real panel.
func (d *Dev) Write(p []byte) (int, error) {
	for _, b := range p {
		if d.col < d.cols {
			d.cells[d.row][d.col] = b
		}
		d.col++
	}
	return len(p), d.refresh()
}

// WriteString writes a string at the cursor.
func (d *Dev) WriteString(text string) (int, error) {
	return d.Write([]byte(text))
}

// Backlight turns the emulated backlight off for intensity 0 and on
// otherwise.
func (d *Dev) Backlight(intensity display.Intensity) error {
	d.backlight = intensity > 0
	return d.refresh()
}

func (d *Dev) clear() {
	for _, row := range d.cells {
		for i := range row {
			row[i] = ' '
		}
	}
	d.row, d.col = 0, 0
}

func (d *Dev) line(i int) string {
	if !d.on {
		return strings.Repeat(" ", d.cols)
	}
	return string(d.cells[i])
}

func (d *Dev) refresh() error {
	d.buf.Reset()
	if d.ansi {
		d.frame()
	} else {
		for i := range d.cells {
			if l := d.line(i); l != d.printed[i] {
				d.printed[i] = l
				fmt.Fprintf(&d.buf, "lcd%d |%s|\n", i+1, l)
			}
		}
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

// frame redraws every row in place.
func (d *Dev) frame() {
	c := unlit
	if d.backlight {
		c = lit
	}
	bezel := d.palette.Block(c)
	if d.drawn {
		fmt.Fprintf(&d.buf, "\033[%dA", d.rows)
	}
	d.drawn = true
	for i := range d.cells {
		_, _ = d.buf.WriteString("\r\033[0m")
		_, _ = d.buf.WriteString(bezel)
		_, _ = d.buf.WriteString("\033[0m")
		_, _ = d.buf.WriteString(d.line(i))
		_, _ = d.buf.WriteString(bezel)
		_, _ = d.buf.WriteString("\033[0m\n")
	}
}

var _ conn.Resource = &Dev{}
var _ display.TextDisplay = &Dev{}
var _ display.DisplayBacklight = &Dev{}
