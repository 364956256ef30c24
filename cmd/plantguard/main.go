// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// plantguard runs the plant treatment device: camera trigger, analysis
// signal, temperature controlled spray motor and status LCD.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/plantguard/config"
	"github.com/GermanBionicSystems/plantguard/ds18b20"
	"github.com/GermanBionicSystems/plantguard/hd44780"
	"github.com/GermanBionicSystems/plantguard/monitor"
	"github.com/GermanBionicSystems/plantguard/onewiregpio"
	"github.com/GermanBionicSystems/plantguard/panel"
	"github.com/GermanBionicSystems/plantguard/serialport"
	"github.com/GermanBionicSystems/plantguard/spray"
	"github.com/GermanBionicSystems/plantguard/telemetry"
	"github.com/GermanBionicSystems/plantguard/termlcd"
)

// Geometry of the LCD1602 module.
const (
	lcdRows = 2
	lcdCols = 16
)

// textDisplay is what the panel draws on.
type textDisplay interface {
	display.TextDisplay
	Halt() error
}

func pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no pin %q", name)
	}
	return p, nil
}

func openDisplay(cfg *config.Config, emulate bool) (textDisplay, func() error, error) {
	if emulate {
		d := termlcd.New(&termlcd.Opts{Rows: lcdRows, Cols: lcdCols})
		return d, func() error { return nil }, nil
	}
	bus, err := i2creg.Open(cfg.LCDBus)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening I²C bus")
	}
	d, err := hd44780.NewPCF857xBackpack(bus, cfg.LCDAddr, lcdRows, lcdCols)
	if err != nil {
		_ = bus.Close()
		return nil, nil, errors.Wrap(err, "initializing LCD")
	}
	return d, bus.Close, nil
}

func openConsole(cfg *config.Config) (io.Reader, io.Writer, func() error, error) {
	if cfg.ConsoleDevice == "" {
		return os.Stdin, os.Stderr, func() error { return nil }, nil
	}
	p, err := serialport.Open(serialport.Config{Device: cfg.ConsoleDevice, Baud: cfg.ConsoleBaud})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "opening console")
	}
	return p, p, p.Close, nil
}

func mainImpl() error {
	configPath := flag.String("config", "plantguard.json", "JSON settings file")
	envPath := flag.String("env", ".env", "env file with PLANTGUARD_* overrides")
	emulate := flag.Bool("emulate", false, "draw the LCD on the terminal instead of the I²C panel")
	verbose := flag.Bool("v", false, "log debug messages")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	cfg, err := config.Load(*configPath, *envPath, logger)
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	level, _ := cfg.Level()
	if *verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	in, out, closeConsole, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer closeConsole()
	logger.SetOutput(out)

	if _, err = host.Init(); err != nil {
		return errors.Wrap(err, "host init")
	}
	owPin, err := pin(cfg.OneWirePin)
	if err != nil {
		return err
	}
	motor, err := pin(cfg.MotorPin)
	if err != nil {
		return err
	}
	trigger, err := pin(cfg.TriggerPin)
	if err != nil {
		return err
	}
	sig, err := pin(cfg.SignalPin)
	if err != nil {
		return err
	}
	defer func() {
		if err := motor.Out(gpio.Low); err != nil {
			logger.Error("Could not force the motor off", "err", err)
		}
	}()

	bus, err := onewiregpio.New(owPin, nil)
	if err != nil {
		return errors.Wrap(err, "1-wire bus")
	}
	defer bus.Close()
	sensor := ds18b20.New(bus)

	d, closeDisplay, err := openDisplay(cfg, *emulate)
	if err != nil {
		return err
	}
	defer closeDisplay()
	defer d.Halt()
	logger.Debug("Devices ready", "bus", bus, "sensor", sensor, "display", d)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := panel.New(d, logger.WithPrefix("panel"))
	rendered := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(rendered)
	}()
	// The panel must be idle before the display is halted.
	defer func() {
		stop()
		<-rendered
	}()

	sinks := spray.Sinks{spray.LogSink(logger), p.Sink()}
	commands := monitor.Commands(in)
	if cfg.MQTTBroker != "" {
		hostname, _ := os.Hostname()
		client, err := telemetry.NewClient(cfg.MQTTBroker, "plantguard-"+hostname, cfg.MQTTTopic, logger.WithPrefix("mqtt"))
		if err != nil {
			return err
		}
		if err = client.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		s := telemetry.NewSink(client, cfg.MQTTTopic, logger.WithPrefix("telemetry"))
		go s.Run(ctx)
		sinks = append(sinks, s)
		commands = monitor.Merge(ctx, commands, client.Commands())
		logger.Info("Telemetry enabled", "broker", cfg.MQTTBroker, "topic", s.Topic())
	}

	m, err := monitor.New(&monitor.Opts{
		Trigger: trigger,
		Signal:  sig,
		Session: spray.New(sensor, motor, sinks),
		Screens: p,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err = m.Run(ctx, commands); errors.Is(err, context.Canceled) {
		logger.Info("Shutting down")
		return nil
	}
	return err
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "plantguard: %s.\n", err)
		os.Exit(1)
	}
}
