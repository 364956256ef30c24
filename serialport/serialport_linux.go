// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package serialport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var speeds = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

func speed(baud int) (uint32, error) {
	s, ok := speeds[baud]
	if !ok {
		return 0, fmt.Errorf("serialport: unsupported baud rate %d", baud)
	}
	return s, nil
}

// raw returns t configured as a raw 8N1 line at speed s. Reads return as
// soon as one byte is available.
func raw(t unix.Termios, s uint32) unix.Termios {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | s
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Ispeed = s
	t.Ospeed = s
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return t
}

func open(cfg Config) (*Port, error) {
	s, err := speed(cfg.Baud)
	if err != nil {
		return nil, err
	}
	// The descriptor stays non blocking so the runtime poller serves Read and
	// Close can interrupt it.
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.Device, err)
	}
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serialport: get termios: %w", err)
	}
	t := raw(*old, s)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &t); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serialport: set termios: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serialport: flush: %w", err)
	}
	return &Port{
		f:      os.NewFile(uintptr(fd), cfg.Device),
		device: cfg.Device,
		restore: func() error {
			return unix.IoctlSetTermios(fd, unix.TCSETS, old)
		},
	}, nil
}
