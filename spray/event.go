// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spray

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/physic"
)

// EventKind is what happened in a session.
type EventKind int

const (
	SessionStarted EventKind = iota
	Reading                  // a valid temperature was read
	ReadingFailed            // no valid temperature could be read
	MotorOn
	MotorOff
	ActuatorFault // the motor pin could not be written
	SessionEnded
)

func (k EventKind) String() string {
	switch k {
	case SessionStarted:
		return "session_started"
	case Reading:
		return "reading"
	case ReadingFailed:
		return "reading_failed"
	case MotorOn:
		return "motor_on"
	case MotorOff:
		return "motor_off"
	case ActuatorFault:
		return "actuator_fault"
	case SessionEnded:
		return "session_ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to a Sink.
type Event struct {
	Kind EventKind
	// Temperature is the reading for Reading, and the temperature that
	// decided the transition for MotorOn, MotorOff and ActuatorFault.
	Temperature physic.Temperature
	// Stale is set when the decision used the last valid reading because the
	// current one failed.
	Stale bool
	// Forced is set on the MotorOff that ends a session.
	Forced bool
	Err    error
	Time   time.Time
}

// Sink receives the events of a session. Notify is called from the control
// loop and must not block for long.
type Sink interface {
	Notify(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

// Notify implements Sink.
func (f SinkFunc) Notify(e Event) {
	f(e)
}

// Sinks sends each event to every sink in order.
type Sinks []Sink

// Notify implements Sink.
func (s Sinks) Notify(e Event) {
	for _, sink := range s {
		sink.Notify(e)
	}
}

// LogSink returns a Sink writing the console messages of a session to
// logger. Failed readings are only logged at debug level and never with a
// temperature.
func LogSink(logger *log.Logger) Sink {
	return SinkFunc(func(e Event) {
		switch e.Kind {
		case SessionStarted:
			logger.Info("Entering temperature spray mode")
		case Reading:
			logger.Info(fmt.Sprintf("Current temperature: %.2f °C", e.Temperature.Celsius()))
		case ReadingFailed:
			logger.Debug("Temperature acquisition failed", "err", e.Err)
		case MotorOn:
			if e.Stale {
				logger.Info("Motor ON - using last valid temperature")
			} else {
				logger.Info("Motor ON - temperature above threshold")
			}
		case MotorOff:
			switch {
			case e.Forced:
				logger.Info("Motor OFF - session ended")
			case e.Stale:
				logger.Info("Motor OFF - using last valid temperature")
			default:
				logger.Info("Motor OFF - temperature below threshold")
			}
		case ActuatorFault:
			logger.Error("Motor pin failure", "err", e.Err)
		case SessionEnded:
			logger.Info("Exiting temperature spray mode")
		}
	})
}
