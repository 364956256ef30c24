// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package panel shows status screens on a character display.
//
// Screens are rendered by Run in its own goroutine. Show never blocks: a
// screen replaces the one pending and interrupts the one being scrolled.
package panel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/display"

	"github.com/GermanBionicSystems/plantguard/spray"
)

const (
	// Step is the time each window of a scrolling row stays on screen.
	Step = 300 * time.Millisecond
	// tail is appended to a scrolling row so its end is readable.
	tail = "    "
)

// Screen is the text of the two rows. Rows longer than the display scroll
// once, the first row before the second.
type Screen [2]string

// Screens of the device.
var (
	Ready     = Screen{"Plant Monitor", "System Ready - Press Enter to Start"}
	Sending   = Screen{"Sending Signal", "To ESP32 Camera System..."}
	Waiting   = Screen{"Plant Monitor", "Waiting for Analysis Result..."}
	Detected  = Screen{"ESP32 Signal", "Plant Disease Detected! Starting Treatment"}
	Treatment = Screen{"ALERT!", "Disease Detected - Starting Treatment System"}
	SprayOn   = Screen{"Disease Alert - High Temp Detected", "Spraying Medicine Now"}
	SprayOff  = Screen{"Disease Alert - Temp Normalized", "Motor OFF"}
	StaleOn   = Screen{"Disease Alert - Using Last Reading", "Spraying Medicine"}
	StaleOff  = Screen{"Disease Alert - Using Last Reading", "Motor OFF"}
	Fault     = Screen{"ALERT!", "Motor Fault - Check Spray Pump"}
	Idle      = Screen{"Plant Monitor", "System Ready"}
)

// Windows returns the successive contents of a row of the given width
// showing text. A text that fits is padded to width and has a single
// window.
func Windows(text string, width int) []string {
	if len(text) <= width {
		return []string{text + strings.Repeat(" ", width-len(text))}
	}
	padded := text + tail
	out := make([]string, 0, len(padded)-width+1)
	for i := 0; i+width <= len(padded); i++ {
		out = append(out, padded[i:i+width])
	}
	return out
}

// Panel renders screens on a display.
type Panel struct {
	d      display.TextDisplay
	logger *log.Logger

	mu      sync.Mutex
	pending *Screen
	wake    chan struct{}
}

// New returns a Panel drawing on d. Display errors are logged to logger,
// or to the default logger when nil.
func New(d display.TextDisplay, logger *log.Logger) *Panel {
	if logger == nil {
		logger = log.Default()
	}
	return &Panel{d: d, logger: logger, wake: make(chan struct{}, 1)}
}

func (p *Panel) String() string {
	return "panel{" + p.d.String() + "}"
}

// Show queues s for display. It never blocks.
func (p *Panel) Show(s Screen) {
	p.mu.Lock()
	p.pending = &s
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run renders the screens passed to Show until ctx is done. It returns
// ctx.Err().
func (p *Panel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
		for s, ok := p.take(); ok; s, ok = p.take() {
			if err := p.render(ctx, s); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err != errInterrupted {
					p.logger.Warn("Display update failed", "err", err)
				}
			}
		}
	}
}

// Sink returns a spray.Sink showing the alert screens of a treatment
// session.
func (p *Panel) Sink() spray.Sink {
	return spray.SinkFunc(func(e spray.Event) {
		switch e.Kind {
		case spray.SessionStarted:
			p.Show(Treatment)
		case spray.MotorOn:
			if e.Stale {
				p.Show(StaleOn)
			} else {
				p.Show(SprayOn)
			}
		case spray.MotorOff:
			switch {
			case e.Forced:
			case e.Stale:
				p.Show(StaleOff)
			default:
				p.Show(SprayOff)
			}
		case spray.ActuatorFault:
			p.Show(Fault)
		case spray.SessionEnded:
			p.Show(Idle)
		}
	})
}

func (p *Panel) take() (Screen, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Screen{}, false
	}
	s := *p.pending
	p.pending = nil
	return s, true
}

var errInterrupted = errors.New("panel: interrupted")

// render draws the first window of every row, then scrolls the long rows
// in order.
func (p *Panel) render(ctx context.Context, s Screen) error {
	if err := p.d.Clear(); err != nil {
		return err
	}
	rows := min(len(s), p.d.Rows())
	windows := make([][]string, rows)
	for i := range rows {
		windows[i] = Windows(s[i], p.d.Cols())
		if err := p.write(i, windows[i][0]); err != nil {
			return err
		}
	}
	for i := range rows {
		for _, w := range windows[i][1:] {
			if err := p.wait(ctx); err != nil {
				return err
			}
			if err := p.write(i, w); err != nil {
				return err
			}
		}
	}
	return nil
}

// wait pauses for one Step. It returns errInterrupted as soon as another
// screen is pending.
func (p *Panel) wait(ctx context.Context) error {
	step := after(Step)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			p.mu.Lock()
			pending := p.pending != nil
			p.mu.Unlock()
			if pending {
				return errInterrupted
			}
		case <-step:
			return nil
		}
	}
}

func (p *Panel) write(row int, text string) error {
	if err := p.d.MoveTo(p.d.MinRow()+row, p.d.MinCol()); err != nil {
		return err
	}
	_, err := p.d.WriteString(text)
	return err
}

var after = time.After
