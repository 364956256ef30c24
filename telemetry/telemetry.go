// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package telemetry publishes the events of treatment sessions as JSON.
//
// Publishing happens on its own goroutine. Notify only enqueues and drops
// the message when the queue is full, so a slow or absent broker never
// delays the control loop.
package telemetry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/GermanBionicSystems/plantguard/spray"
)

const (
	// QueueSize is the number of messages waiting for the broker.
	QueueSize       = 64
	publishTimeout  = 4 * time.Second
	eventsSubtopic  = "/events"
	commandSubtopic = "/commands"
)

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Message is the JSON document published for every event.
type Message struct {
	Event   string    `json:"event"`
	Celsius *float64  `json:"celsius,omitempty"`
	MotorOn bool      `json:"motor_on"`
	Stale   bool      `json:"stale"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Encode returns the message for e. motorOn is the motor state after e.
// Failed readings carry no temperature.
func Encode(e spray.Event, motorOn bool) Message {
	m := Message{
		Event:   e.Kind.String(),
		MotorOn: motorOn,
		Stale:   e.Stale,
		Time:    e.Time,
	}
	if e.Kind != spray.ReadingFailed && e.Temperature != 0 {
		c := e.Temperature.Celsius()
		m.Celsius = &c
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// Sink is a spray.Sink publishing to <prefix>/events.
type Sink struct {
	pub     Publisher
	topic   string
	logger  *log.Logger
	queue   chan Message
	motorOn bool
	dropped atomic.Uint64
}

// NewSink returns a Sink publishing with pub under prefix. Run must be
// running for messages to leave the queue.
func NewSink(pub Publisher, prefix string, logger *log.Logger) *Sink {
	return newSink(pub, prefix, logger, QueueSize)
}

func newSink(pub Publisher, prefix string, logger *log.Logger, size int) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{
		pub:    pub,
		topic:  prefix + eventsSubtopic,
		logger: logger,
		queue:  make(chan Message, size),
	}
}

// Topic returns the topic messages are published on.
func (s *Sink) Topic() string {
	return s.topic
}

// Notify implements spray.Sink. It never blocks.
func (s *Sink) Notify(e spray.Event) {
	switch e.Kind {
	case spray.MotorOn:
		s.motorOn = true
	case spray.MotorOff, spray.SessionStarted, spray.SessionEnded:
		s.motorOn = false
	}
	select {
	case s.queue <- Encode(e, s.motorOn):
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of messages dropped because the queue was
// full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Run publishes queued messages until ctx is done. Publish failures are
// logged and the message is lost.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.queue:
			payload, err := json.Marshal(m)
			if err != nil {
				s.logger.Error("Encoding telemetry failed", "err", err)
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = s.pub.Publish(pctx, s.topic, payload)
			cancel()
			if err != nil {
				s.logger.Warn("Publishing telemetry failed", "event", m.Event, "err", err)
			}
		}
	}
}

var _ spray.Sink = &Sink{}
