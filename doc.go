// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package plantguard is the firmware of a plant treatment device.
//
// A camera system is triggered from the console and answers with a signal
// when it finds a diseased plant. The device then sprays medicine while the
// temperature read from a DS18B20 on a bit-banged 1-wire line stays above
// 28°C, until the operator sends 'x'.
//
// The drivers are in onewiregpio, ds18b20, pcf857x, hd44780 and termlcd.
// The control loop is in spray and monitor. The binary is cmd/plantguard.
package plantguard
