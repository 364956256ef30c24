// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/plantguard/onewiregpio/onewiregpiotest"
)

func newSim(t *testing.T, dev onewiregpiotest.Device) (*Dev, *onewiregpiotest.Line) {
	line := &onewiregpiotest.Line{Device: dev}
	d, err := New(line, &Opts{Wait: line.Wait, Guard: NoGuard})
	if err != nil {
		t.Fatal(err)
	}
	return d, line
}

func TestNew_nil(t *testing.T) {
	if d, err := New(nil, nil); d != nil || err == nil {
		t.Fatal("expected error on nil line")
	}
}

func TestByteRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		d, line := newSim(t, &onewiregpiotest.Loopback{})
		if err := d.WriteByte(byte(i)); err != nil {
			t.Fatal(err)
		}
		got, err := d.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		if got != byte(i) {
			t.Errorf("wrote %#02x, read back %#02x", i, got)
		}
		if line.Driving() {
			t.Fatalf("line left driven after %#02x", i)
		}
	}
}

func TestWriteBit_timing(t *testing.T) {
	d, line := newSim(t, nil)
	if err := d.WriteBit(true); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBit(false); err != nil {
		t.Fatal(err)
	}
	want := []onewiregpiotest.Slot{
		{Low: 6 * time.Microsecond, Total: 70 * time.Microsecond},
		{Low: 60 * time.Microsecond, Total: 70 * time.Microsecond},
	}
	got := line.Slots()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
	if got[0].Low >= got[1].Low {
		t.Errorf("a 1 must be a shorter pulse than a 0: %s >= %s", got[0].Low, got[1].Low)
	}
}

func TestReadBit_timing(t *testing.T) {
	d, line := newSim(t, &onewiregpiotest.Loopback{})
	if _, err := d.ReadBit(); err != nil {
		t.Fatal(err)
	}
	want := []onewiregpiotest.Slot{{Low: 6 * time.Microsecond, Total: 70 * time.Microsecond, Read: true}}
	if diff := cmp.Diff(want, line.Slots()); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	var data = []struct {
		name string
		dev  onewiregpiotest.Device
		want bool
	}{
		{"empty", nil, false},
		{"present", onewiregpiotest.NewThermometer(0), true},
		{"absent", &onewiregpiotest.Thermometer{Absent: 1}, false},
	}
	for _, entry := range data {
		t.Run(entry.name, func(t *testing.T) {
			d, sim := newSim(t, entry.dev)
			got, err := d.Reset()
			if err != nil {
				t.Fatal(err)
			}
			if got != entry.want {
				t.Errorf("presence: got %t, want %t", got, entry.want)
			}
			if now := sim.Now(); now != 960*time.Microsecond {
				t.Errorf("reset took %s", now)
			}
			if sim.Resets() != 1 {
				t.Errorf("resets: %d", sim.Resets())
			}
			if sim.Driving() {
				t.Error("line left driven")
			}
		})
	}
}

func TestTx(t *testing.T) {
	therm := onewiregpiotest.NewThermometer(0x0191)
	d, _ := newSim(t, therm)
	if err := d.Tx([]byte{0xcc, 0x44}, nil, onewire.StrongPullup); err != nil {
		t.Fatal(err)
	}
	var spad [9]byte
	if err := d.Tx([]byte{0xcc, 0xbe}, spad[:], onewire.WeakPullup); err != nil {
		t.Fatal(err)
	}
	if spad[0] != 0x91 || spad[1] != 0x01 {
		t.Errorf("temperature bytes: %#v", spad[:2])
	}
	if !onewire.CheckCRC(spad[:]) {
		t.Errorf("scratchpad CRC mismatch: %#v", spad)
	}
	if diff := cmp.Diff([]byte{0xcc, 0x44, 0xcc, 0xbe}, therm.Commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	if therm.Conversions() != 1 {
		t.Errorf("conversions: %d", therm.Conversions())
	}
}

func TestTx_noDevice(t *testing.T) {
	d, sim := newSim(t, nil)
	err := d.Tx([]byte{0xcc, 0x44}, nil, onewire.WeakPullup)
	if err == nil {
		t.Fatal("expected error")
	}
	var be interface{ BusError() bool }
	if !errors.As(err, &be) || !be.BusError() {
		t.Fatalf("expected a bus error, got %v", err)
	}
	if len(sim.Slots()) != 0 {
		t.Error("no byte must be sent without presence")
	}
}

func TestSearch(t *testing.T) {
	d, _ := newSim(t, nil)
	if _, err := d.Search(false); err == nil {
		t.Fatal("search is not supported")
	}
}

func TestPinError_releases(t *testing.T) {
	l := &failingLine{}
	enter, exit := 0, 0
	g := GuardFunc(func() func() {
		enter++
		return func() { exit++ }
	})
	d, err := New(l, &Opts{Wait: func(time.Duration) {}, Guard: g})
	if err != nil {
		t.Fatal(err)
	}
	l.outErr = errors.New("pin is gone")
	if _, err := d.Reset(); err == nil {
		t.Error("Reset: expected error")
	}
	if err := d.WriteBit(true); err == nil {
		t.Error("WriteBit: expected error")
	}
	if _, err := d.ReadByte(); err == nil {
		t.Error("ReadByte: expected error")
	}
	if l.driven {
		t.Error("line left driven")
	}
	if l.releases != 4 {
		t.Errorf("releases: %d", l.releases)
	}
	if enter != 3 || exit != 3 {
		t.Errorf("guard entered %d times, exited %d times", enter, exit)
	}
}

func TestHalt(t *testing.T) {
	d, sim := newSim(t, nil)
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if sim.Driving() {
		t.Fatal("line left driven")
	}
	if s := d.String(); s != "onewiregpio{onewiregpiotest.Line}" {
		t.Fatal(s)
	}
}

type failingLine struct {
	outErr   error
	driven   bool
	releases int
}

func (f *failingLine) In(gpio.Pull, gpio.Edge) error {
	f.driven = false
	f.releases++
	return nil
}

func (f *failingLine) Out(l gpio.Level) error {
	if f.outErr != nil {
		return f.outErr
	}
	f.driven = l == gpio.Low
	return nil
}

func (f *failingLine) Read() gpio.Level {
	return gpio.High
}
