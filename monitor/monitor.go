// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package monitor runs the idle loop of the device.
//
// It pulses the camera trigger when the operator presses Enter on the
// console and starts a treatment session on each rising edge of the
// analysis signal.
package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/GermanBionicSystems/plantguard/panel"
)

const (
	// Period is the pause between two polls of the idle loop.
	Period = 50 * time.Millisecond
	// Pulse is how long the trigger stays high.
	Pulse = 100 * time.Millisecond
	// Settle is the wait between the trigger pulse and the waiting screen.
	Settle = 900 * time.Millisecond
	// Lead is the wait between the detection screen and the session.
	Lead = time.Second
)

// Session is a treatment session, such as *spray.Controller.
type Session interface {
	Run(ctx context.Context, commands <-chan byte) error
}

// Screens shows status screens, such as *panel.Panel.
type Screens interface {
	Show(s panel.Screen)
}

// Opts configures a Monitor.
type Opts struct {
	Trigger gpio.PinOut
	Signal  gpio.PinIn
	Session Session
	Screens Screens
	// Logger receives the console messages. When nil the default logger is
	// used.
	Logger *log.Logger
}

// Monitor is the idle loop.
type Monitor struct {
	trigger gpio.PinOut
	signal  gpio.PinIn
	session Session
	screens Screens
	logger  *log.Logger

	last gpio.Level
	prev byte
}

// New returns a Monitor. Trigger, Signal and Session are required.
func New(opts *Opts) (*Monitor, error) {
	if opts.Trigger == nil || opts.Signal == nil || opts.Session == nil {
		return nil, fmt.Errorf("monitor: trigger, signal and session are required")
	}
	m := &Monitor{
		trigger: opts.Trigger,
		signal:  opts.Signal,
		session: opts.Session,
		screens: opts.Screens,
		logger:  opts.Logger,
	}
	if m.screens == nil {
		m.screens = discard{}
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m, nil
}

func (m *Monitor) String() string {
	return fmt.Sprintf("monitor{%s, %s}", m.trigger, m.signal)
}

// Run polls the console and the signal pin until ctx is done. It returns
// ctx.Err(), or an error when the pins cannot be set up.
//
// commands is shared with the sessions: bytes received while a session runs
// belong to it.
func (m *Monitor) Run(ctx context.Context, commands <-chan byte) error {
	if err := m.trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("monitor: trigger: %w", err)
	}
	if err := m.signal.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return fmt.Errorf("monitor: signal: %w", err)
	}
	m.last = m.signal.Read()
	m.logger.Info("FRDM-K64F Integrated System")
	m.logger.Info("Press Enter to trigger ESP32 image capture")
	m.logger.Info("System will automatically enter temperature spray mode if unhealthy plant is detected")
	m.screens.Show(panel.Ready)
	for {
		if err := m.poll(ctx, commands); err != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-after(Period):
		}
		if ctx.Err() != nil {
			break
		}
	}
	_ = m.trigger.Out(gpio.Low)
	return ctx.Err()
}

// poll handles at most one console byte, then looks for a rising edge on
// the signal pin. It only returns ctx.Err().
func (m *Monitor) poll(ctx context.Context, commands <-chan byte) error {
	select {
	case b, ok := <-commands:
		if ok && m.enter(b) {
			if err := m.fire(ctx); err != nil {
				return err
			}
		}
	default:
	}
	l := m.signal.Read()
	rising := l && !m.last
	m.last = l
	if !rising {
		return nil
	}
	m.logger.Info("Signal HIGH received from ESP32 - UNHEALTHY PLANT DETECTED")
	m.logger.Info("Starting temperature-controlled spray system")
	m.screens.Show(panel.Detected)
	if err := wait(ctx, Lead); err != nil {
		return err
	}
	if err := m.session.Run(ctx, commands); err != nil && ctx.Err() == nil {
		m.logger.Error("Treatment session failed", "err", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("Returned to main mode. Press Enter to trigger ESP32 for new image.")
	return nil
}

// enter reports whether b ends a console line. A "\r\n" pair counts once.
func (m *Monitor) enter(b byte) bool {
	prev := m.prev
	m.prev = b
	return b == '\r' || (b == '\n' && prev != '\r')
}

// fire pulses the trigger pin.
func (m *Monitor) fire(ctx context.Context) error {
	if err := m.trigger.Out(gpio.High); err != nil {
		m.logger.Error("Trigger failed", "err", err)
		return nil
	}
	m.screens.Show(panel.Sending)
	err := wait(ctx, Pulse)
	if err2 := m.trigger.Out(gpio.Low); err2 != nil {
		m.logger.Error("Trigger release failed", "err", err2)
	}
	if err != nil {
		return err
	}
	m.logger.Info("Trigger signal sent to ESP32 for image capture!")
	if err := wait(ctx, Settle); err != nil {
		return err
	}
	m.screens.Show(panel.Waiting)
	return nil
}

// Commands returns the bytes read from r. The channel is closed when r
// returns an error, including io.EOF.
func Commands(r io.Reader) <-chan byte {
	ch := make(chan byte, 16)
	go func() {
		defer close(ch)
		var buf [64]byte
		for {
			n, err := r.Read(buf[:])
			for _, b := range buf[:n] {
				ch <- b
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// Merge returns a channel carrying the bytes of all the inputs. It is
// closed once every input is closed or ctx is done.
func Merge(ctx context.Context, inputs ...<-chan byte) <-chan byte {
	out := make(chan byte, 16)
	done := make(chan struct{})
	for _, in := range inputs {
		go func(in <-chan byte) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- b:
					case <-ctx.Done():
						return
					}
				}
			}
		}(in)
	}
	go func() {
		for range inputs {
			<-done
		}
		close(out)
	}()
	return out
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after(d):
		return nil
	}
}

type discard struct{}

func (discard) Show(panel.Screen) {}

var after = time.After
