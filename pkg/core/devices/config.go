// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/pkg/errors"
)

// DEVREDUCE_DEVICES is the environment variable with the default devices configuration to use.
//
// The format is a comma separated list of "cpu:<n>", "accel:<n>" and the "collective" flag.
// E.g.: "cpu:8" or "accel:4,collective".
const DEVREDUCE_DEVICES = "DEVREDUCE_DEVICES"

// DefaultConfig is the devices configuration used if DEVREDUCE_DEVICES is not set: 8 participants
// on the host CPU.
var DefaultConfig = "cpu:8"

// Config describes the participants of a reduction and the capabilities of the environment.
type Config struct {
	// NumCPU is the number of participants running on the host CPU. They all share the same place.
	NumCPU int

	// NumAccelerators is the number of accelerators, one participant each.
	NumAccelerators int

	// AcceleratorsEnabled is the capability flag for accelerated execution: contexts for accelerator
	// places can only be registered if it is set.
	AcceleratorsEnabled bool

	// Collective requests a collective communicator across the accelerators.
	Collective bool
}

// ParseConfig parses the DEVREDUCE_DEVICES format.
// Accelerators are enabled if any are requested.
func ParseConfig(config string) (Config, error) {
	var c Config
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if part == "collective" {
			c.Collective = true
			continue
		}
		name, countStr, found := strings.Cut(part, ":")
		count, err := strconv.Atoi(countStr)
		if !found || err != nil || count < 0 {
			return Config{}, errors.Errorf("invalid devices configuration %q: part %q should be \"<cpu|accel>:<count>\"",
				config, part)
		}
		switch name {
		case "cpu":
			c.NumCPU = count
		case "accel", "gpu":
			c.NumAccelerators = count
			c.AcceleratorsEnabled = count > 0
		default:
			return Config{}, errors.Errorf("invalid devices configuration %q: unknown device kind %q", config, name)
		}
	}
	if c.NumCPU+c.NumAccelerators == 0 {
		return Config{}, errors.Errorf("invalid devices configuration %q: no participants", config)
	}
	if c.Collective && c.NumAccelerators < 2 {
		return Config{}, errors.Errorf("invalid devices configuration %q: collective requires at least 2 accelerators",
			config)
	}
	return c, nil
}

// ConfigFromEnv returns the configuration in DEVREDUCE_DEVICES if set, or DefaultConfig otherwise.
func ConfigFromEnv() (Config, error) {
	if config, found := os.LookupEnv(DEVREDUCE_DEVICES); found {
		return ParseConfig(config)
	}
	return ParseConfig(DefaultConfig)
}

// Participants returns the place of each participant: NumCPU times the host, followed by each accelerator.
func (c Config) Participants() []places.Place {
	participants := slices.Repeat([]places.Place{places.Host()}, c.NumCPU)
	for ii := range c.NumAccelerators {
		participants = append(participants, places.Accel(ii))
	}
	return participants
}

// String returns the configuration in the DEVREDUCE_DEVICES format.
func (c Config) String() string {
	var parts []string
	if c.NumCPU > 0 {
		parts = append(parts, "cpu:"+strconv.Itoa(c.NumCPU))
	}
	if c.NumAccelerators > 0 {
		parts = append(parts, "accel:"+strconv.Itoa(c.NumAccelerators))
	}
	if c.Collective {
		parts = append(parts, "collective")
	}
	return strings.Join(parts, ",")
}
