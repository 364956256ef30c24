// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package panel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/GermanBionicSystems/plantguard/spray"
	"github.com/GermanBionicSystems/plantguard/termlcd"
)

func TestWindows(t *testing.T) {
	var data = []struct {
		text string
		want []string
	}{
		{"", []string{"    "}},
		{"ab", []string{"ab  "}},
		{"abcd", []string{"abcd"}},
		{"abcdef", []string{"abcd", "bcde", "cdef", "def ", "ef  ", "f   ", "    "}},
	}
	for _, entry := range data {
		t.Run(entry.text, func(t *testing.T) {
			if diff := cmp.Diff(entry.want, Windows(entry.text, 4)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestWindows_lcd(t *testing.T) {
	w := Windows(Detected[1], 16)
	if len(w) != len(Detected[1])+len(tail)-16+1 {
		t.Fatalf("got %d windows", len(w))
	}
	if w[0] != "Plant Disease De" || w[len(w)-1] != "ng Treatment    " {
		t.Fatalf("first %q last %q", w[0], w[len(w)-1])
	}
}

// recorder is a display keeping every row write.
type recorder struct {
	*termlcd.Dev
	mu     sync.Mutex
	row    int
	writes chan string
	fail   error
}

func newRecorder(cols int) *recorder {
	return &recorder{
		Dev:    termlcd.New(&termlcd.Opts{Rows: 2, Cols: cols, W: io.Discard}),
		writes: make(chan string, 256),
	}
}

func (r *recorder) MoveTo(row, col int) error {
	r.mu.Lock()
	r.row = row
	r.mu.Unlock()
	return r.Dev.MoveTo(row, col)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.mu.Lock()
	row, fail := r.row, r.fail
	r.mu.Unlock()
	if fail != nil {
		return 0, fail
	}
	r.writes <- fmt.Sprintf("%d:%s", row, s)
	return r.Dev.WriteString(s)
}

func (r *recorder) next(t *testing.T, n int) []string {
	t.Helper()
	var out []string
	for range n {
		select {
		case s := <-r.writes:
			out = append(out, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %v", out)
		}
	}
	return out
}

func TestRender(t *testing.T) {
	var steps int
	after = func(time.Duration) <-chan time.Time {
		steps++
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	defer func() { after = time.After }()

	r := newRecorder(4)
	p := New(r, nil)
	if err := p.render(context.Background(), Screen{"abcde", "xyz12"}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"1:abcd", "2:xyz1",
		"1:bcde", "1:cde ", "1:de  ", "1:e   ", "1:    ",
		"2:yz12", "2:z12 ", "2:12  ", "2:2   ", "2:    ",
	}
	if diff := cmp.Diff(want, r.next(t, len(want))); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if steps != 10 {
		t.Errorf("expected 10 steps, got %d", steps)
	}
	if diff := cmp.Diff([]string{"    ", "    "}, r.Content()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

// TestRun_latest checks that only the last of several pending screens is
// drawn.
func TestRun_latest(t *testing.T) {
	r := newRecorder(16)
	p := New(r, nil)
	p.Show(Ready)
	p.Show(Idle)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()
	if diff := cmp.Diff([]string{"1:Plant Monitor   ", "2:System Ready    "}, r.next(t, 2)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}
	if len(r.writes) != 0 {
		t.Fatalf("unexpected writes: %d", len(r.writes))
	}
}

// TestRun_interrupt checks that a new screen stops the scrolling of the
// current one.
func TestRun_interrupt(t *testing.T) {
	after = func(time.Duration) <-chan time.Time { return nil }
	defer func() { after = time.After }()

	r := newRecorder(16)
	p := New(r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	p.Show(Detected)
	if diff := cmp.Diff([]string{"1:ESP32 Signal    ", "2:Plant Disease De"}, r.next(t, 2)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	p.Show(SprayOff)
	if diff := cmp.Diff([]string{"1:Disease Alert - ", "2:Motor OFF       "}, r.next(t, 2)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}
}

func TestRun_displayError(t *testing.T) {
	r := newRecorder(16)
	r.fail = errors.New("i2c nack")
	p := New(r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()
	p.Show(Idle)
	// The renderer keeps serving screens after a failure.
	r.mu.Lock()
	r.fail = nil
	r.mu.Unlock()
	p.Show(Ready)
	got := r.next(t, 2)
	if got[0] != "1:Plant Monitor   " {
		t.Fatalf("got %v", got)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}
}

func TestSink(t *testing.T) {
	var data = []struct {
		event spray.Event
		want  *Screen
	}{
		{spray.Event{Kind: spray.SessionStarted}, &Treatment},
		{spray.Event{Kind: spray.Reading}, nil},
		{spray.Event{Kind: spray.ReadingFailed}, nil},
		{spray.Event{Kind: spray.MotorOn}, &SprayOn},
		{spray.Event{Kind: spray.MotorOn, Stale: true}, &StaleOn},
		{spray.Event{Kind: spray.MotorOff}, &SprayOff},
		{spray.Event{Kind: spray.MotorOff, Stale: true}, &StaleOff},
		{spray.Event{Kind: spray.MotorOff, Forced: true}, nil},
		{spray.Event{Kind: spray.ActuatorFault}, &Fault},
		{spray.Event{Kind: spray.SessionEnded}, &Idle},
	}
	for _, entry := range data {
		t.Run(entry.event.Kind.String(), func(t *testing.T) {
			p := New(newRecorder(16), nil)
			p.Sink().Notify(entry.event)
			s, ok := p.take()
			if entry.want == nil {
				if ok {
					t.Fatalf("unexpected screen %q", s)
				}
				return
			}
			if !ok || s != *entry.want {
				t.Fatalf("got %q, want %q", s, *entry.want)
			}
		})
	}
}
