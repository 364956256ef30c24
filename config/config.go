// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the device settings.
//
// Settings start from Default, are overlaid by a JSON file, then by a .env
// file, then by the process environment. Environment keys are the JSON keys
// upper cased with the PLANTGUARD_ prefix.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment key.
const EnvPrefix = "PLANTGUARD_"

// Config holds the device settings.
type Config struct {
	// Pin names as known to gpioreg.
	OneWirePin string `json:"onewire_pin"`
	MotorPin   string `json:"motor_pin"`
	TriggerPin string `json:"trigger_pin"`
	SignalPin  string `json:"signal_pin"`

	// LCDBus is the I²C bus name, empty for the first one.
	LCDBus  string `json:"lcd_bus"`
	LCDAddr uint16 `json:"lcd_addr"`

	// ConsoleDevice is the operator tty. Empty means stdin and stderr.
	ConsoleDevice string `json:"console_device"`
	ConsoleBaud   int    `json:"console_baud"`

	// MQTTBroker is the broker URL. Empty disables telemetry.
	MQTTBroker string `json:"mqtt_broker"`
	MQTTTopic  string `json:"mqtt_topic"`

	LogLevel string `json:"log_level"`
}

// Default returns the settings of the reference board.
func Default() Config {
	return Config{
		OneWirePin:  "GPIO4",
		MotorPin:    "GPIO17",
		TriggerPin:  "GPIO27",
		SignalPin:   "GPIO22",
		LCDAddr:     0x27,
		ConsoleBaud: 115200,
		MQTTTopic:   "plantguard",
		LogLevel:    "info",
	}
}

// Load returns the settings. A missing file is not an error, a malformed
// one is. Overrides that do not parse are logged and ignored.
func Load(path, envPath string, logger *log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.Default()
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("Config file not found, using defaults", "path", path)
		case err != nil:
			return nil, errors.Wrapf(err, "reading config %s", path)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrapf(err, "parsing config %s", path)
			}
			logger.Debug("Loaded config file", "path", path)
		}
	}
	fileEnv := map[string]string{}
	if envPath != "" {
		m, err := godotenv.Read(envPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("No env file", "path", envPath)
		case err != nil:
			logger.Warn("Could not load env file", "path", envPath, "err", err)
		default:
			fileEnv = m
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := fileEnv[EnvPrefix+key]
		return v, ok
	}
	cfg.override(lookup, logger)
	return &cfg, nil
}

func (c *Config) override(lookup func(string) (string, bool), logger *log.Logger) {
	for key, dst := range map[string]*string{
		"ONEWIRE_PIN":    &c.OneWirePin,
		"MOTOR_PIN":      &c.MotorPin,
		"TRIGGER_PIN":    &c.TriggerPin,
		"SIGNAL_PIN":     &c.SignalPin,
		"LCD_BUS":        &c.LCDBus,
		"CONSOLE_DEVICE": &c.ConsoleDevice,
		"MQTT_BROKER":    &c.MQTTBroker,
		"MQTT_TOPIC":     &c.MQTTTopic,
		"LOG_LEVEL":      &c.LogLevel,
	} {
		if v, ok := lookup(key); ok {
			*dst = v
			logger.Debug("Env override", "key", EnvPrefix+key, "value", v)
		}
	}
	if v, ok := lookup("LCD_ADDR"); ok {
		if a, err := strconv.ParseUint(v, 0, 7); err != nil {
			logger.Warn("Ignoring env override", "key", EnvPrefix+"LCD_ADDR", "value", v, "err", err)
		} else {
			c.LCDAddr = uint16(a)
		}
	}
	if v, ok := lookup("CONSOLE_BAUD"); ok {
		if b, err := strconv.Atoi(v); err != nil || b <= 0 {
			logger.Warn("Ignoring env override", "key", EnvPrefix+"CONSOLE_BAUD", "value", v)
		} else {
			c.ConsoleBaud = b
		}
	}
}

// Validate reports settings the device cannot start with.
func (c *Config) Validate() error {
	for name, pin := range map[string]string{
		"onewire_pin": c.OneWirePin,
		"motor_pin":   c.MotorPin,
		"trigger_pin": c.TriggerPin,
		"signal_pin":  c.SignalPin,
	} {
		if pin == "" {
			return errors.Errorf("%s is empty", name)
		}
	}
	if c.LCDAddr == 0 || c.LCDAddr > 0x7f {
		return errors.Errorf("lcd_addr %#x is not a 7 bit address", c.LCDAddr)
	}
	if c.ConsoleBaud <= 0 {
		return errors.Errorf("console_baud %d", c.ConsoleBaud)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the log level.
func (c *Config) Level() (log.Level, error) {
	l, err := log.ParseLevel(c.LogLevel)
	return l, errors.Wrap(err, "log_level")
}
