// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/GermanBionicSystems/plantguard/panel"
)

// triggerPin records every level written.
type triggerPin struct {
	gpiotest.Pin
	mu     sync.Mutex
	levels []gpio.Level
}

func (p *triggerPin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.levels = append(p.levels, l)
	p.mu.Unlock()
	return p.Pin.Out(l)
}

type screens struct {
	mu   sync.Mutex
	seen []panel.Screen
}

func (s *screens) Show(sc panel.Screen) {
	s.mu.Lock()
	s.seen = append(s.seen, sc)
	s.mu.Unlock()
}

func (s *screens) get() []panel.Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]panel.Screen(nil), s.seen...)
}

// session records its runs and the commands it consumed.
type session struct {
	runs int
	got  []byte
	err  error
}

func (s *session) Run(ctx context.Context, commands <-chan byte) error {
	s.runs++
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-commands:
			s.got = append(s.got, b)
			if b == 'x' {
				return s.err
			}
		}
	}
}

type fixture struct {
	m       *Monitor
	trigger *triggerPin
	signal  *gpiotest.Pin
	screens *screens
	session *session
	log     *bytes.Buffer
	waits   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		trigger: &triggerPin{Pin: gpiotest.Pin{N: "trigger"}},
		signal:  &gpiotest.Pin{N: "signal"},
		screens: &screens{},
		session: &session{},
		log:     &bytes.Buffer{},
	}
	after = func(d time.Duration) <-chan time.Time {
		f.waits = append(f.waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	t.Cleanup(func() { after = time.After })
	m, err := New(&Opts{
		Trigger: f.trigger,
		Signal:  f.signal,
		Session: f.session,
		Screens: f.screens,
		Logger:  log.New(f.log),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.m = m
	return f
}

func TestNew_required(t *testing.T) {
	if _, err := New(&Opts{Trigger: &gpiotest.Pin{}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPoll_trigger(t *testing.T) {
	f := newFixture(t)
	commands := make(chan byte, 4)
	commands <- '\r'
	if err := f.m.poll(context.Background(), commands); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]gpio.Level{gpio.High, gpio.Low}, f.trigger.levels); diff != "" {
		t.Fatalf("trigger (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{Pulse, Settle}, f.waits); diff != "" {
		t.Fatalf("waits (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]panel.Screen{panel.Sending, panel.Waiting}, f.screens.get()); diff != "" {
		t.Fatalf("screens (-want +got):\n%s", diff)
	}
	if !strings.Contains(f.log.String(), "Trigger signal sent to ESP32 for image capture!") {
		t.Fatalf("log: %q", f.log.String())
	}
	if f.session.runs != 0 {
		t.Fatal("no session expected")
	}
}

func TestPoll_oneBytePerPoll(t *testing.T) {
	f := newFixture(t)
	commands := make(chan byte, 4)
	commands <- 'a'
	commands <- '\r'
	if err := f.m.poll(context.Background(), commands); err != nil {
		t.Fatal(err)
	}
	if len(f.trigger.levels) != 0 {
		t.Fatal("trigger fired on 'a'")
	}
	if err := f.m.poll(context.Background(), commands); err != nil {
		t.Fatal(err)
	}
	if len(f.trigger.levels) != 2 {
		t.Fatalf("got %v", f.trigger.levels)
	}
}

func TestEnter(t *testing.T) {
	var data = []struct {
		in   string
		want int
	}{
		{"\r", 1},
		{"\n", 1},
		{"\r\n", 1},
		{"\r\r", 2},
		{"\n\n", 2},
		{"x y", 0},
	}
	for _, entry := range data {
		m := &Monitor{}
		n := 0
		for i := range len(entry.in) {
			if m.enter(entry.in[i]) {
				n++
			}
		}
		if n != entry.want {
			t.Errorf("%q: got %d lines, want %d", entry.in, n, entry.want)
		}
	}
}

func TestPoll_risingEdge(t *testing.T) {
	f := newFixture(t)
	commands := make(chan byte, 4)
	ctx := context.Background()

	// Level high without an edge.
	f.m.last = gpio.High
	f.signal.L = gpio.High
	if err := f.m.poll(ctx, commands); err != nil {
		t.Fatal(err)
	}
	if f.session.runs != 0 {
		t.Fatal("session started without an edge")
	}

	f.signal.L = gpio.Low
	if err := f.m.poll(ctx, commands); err != nil {
		t.Fatal(err)
	}
	f.signal.L = gpio.High
	commands <- 'a'
	commands <- 'x'
	if err := f.m.poll(ctx, commands); err != nil {
		t.Fatal(err)
	}
	if f.session.runs != 1 {
		t.Fatalf("got %d sessions", f.session.runs)
	}
	// The idle loop takes one byte, the session gets the rest.
	if diff := cmp.Diff([]byte("x"), f.session.got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{Lead}, f.waits); diff != "" {
		t.Fatalf("waits (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]panel.Screen{panel.Detected}, f.screens.get()); diff != "" {
		t.Fatalf("screens (-want +got):\n%s", diff)
	}
	out := f.log.String()
	for _, want := range []string{
		"Signal HIGH received from ESP32 - UNHEALTHY PLANT DETECTED",
		"Returned to main mode. Press Enter to trigger ESP32 for new image.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestPoll_sessionError(t *testing.T) {
	f := newFixture(t)
	f.session.err = errors.New("motor stuck")
	commands := make(chan byte, 2)
	commands <- 'a'
	commands <- 'x'
	f.signal.L = gpio.High
	if err := f.m.poll(context.Background(), commands); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.log.String(), "motor stuck") {
		t.Fatalf("log: %q", f.log.String())
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	f.trigger.L = gpio.High
	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	after = func(d time.Duration) <-chan time.Time {
		if d == Period {
			if polls++; polls == 3 {
				cancel()
			}
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	if err := f.m.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}
	if f.signal.P != gpio.PullDown {
		t.Fatalf("signal pull %s", f.signal.P)
	}
	if f.trigger.L != gpio.Low {
		t.Fatal("trigger left high")
	}
	if diff := cmp.Diff([]panel.Screen{panel.Ready}, f.screens.get()); diff != "" {
		t.Fatalf("screens (-want +got):\n%s", diff)
	}
	if !strings.Contains(f.log.String(), "FRDM-K64F Integrated System") {
		t.Fatalf("log: %q", f.log.String())
	}
}

func TestCommands(t *testing.T) {
	var got []byte
	for b := range Commands(strings.NewReader("ab\rx")) {
		got = append(got, b)
	}
	if string(got) != "ab\rx" {
		t.Fatalf("got %q", got)
	}
}

func TestCommands_error(t *testing.T) {
	r := io.MultiReader(strings.NewReader("a"), errReader{})
	var got []byte
	for b := range Commands(r) {
		got = append(got, b)
	}
	if string(got) != "a" {
		t.Fatalf("got %q", got)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestMerge(t *testing.T) {
	a, b := make(chan byte, 2), make(chan byte, 2)
	a <- '\r'
	b <- 'x'
	close(a)
	close(b)
	var got []byte
	for c := range Merge(context.Background(), a, b) {
		got = append(got, c)
	}
	if len(got) != 2 || !bytes.ContainsRune(got, '\r') || !bytes.ContainsRune(got, 'x') {
		t.Fatalf("got %q", got)
	}
}

func TestMerge_cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Merge(ctx, make(chan byte))
	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("unexpected byte")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("not closed")
	}
}
