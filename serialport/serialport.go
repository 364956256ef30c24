// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package serialport opens a tty as a raw 8N1 serial line.
//
// It is used for the operator console: the same line carries the log output
// and the single byte commands typed by the operator.
package serialport

import (
	"errors"
	"os"
	"sync"
)

// DefaultBaud is the console speed.
const DefaultBaud = 115200

// ErrClosed is returned by operations on a closed Port.
var ErrClosed = errors.New("serialport: port closed")

// Config holds the line settings.
type Config struct {
	// Device path, e.g. /dev/ttyS0 or /dev/ttyACM0.
	Device string
	// Baud rate, DefaultBaud when 0.
	Baud int
}

// Port is an open serial line. Read blocks until data is available and is
// unblocked by Close.
type Port struct {
	f      *os.File
	device string

	mu      sync.Mutex
	closed  bool
	restore func() error
}

// Open opens and configures the line.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serialport: device path required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	return open(cfg)
}

func (p *Port) String() string {
	return p.device
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	return p.f.Read(b)
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Close restores the previous line settings and closes the device.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	err := p.restore()
	return errors.Join(err, p.f.Close())
}
