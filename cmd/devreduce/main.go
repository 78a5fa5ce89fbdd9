// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// devreduce runs reductions of a variable over the configured devices, verifies the results and reports
// statistics of the devices.
//
// Example:
//
//	devreduce -devices=accel:4,collective -mode=dense -iterations=100
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/devreduce/internal/workerspool"
	"github.com/gomlx/devreduce/pkg/core/collective"
	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagDevices = flag.String("devices", "",
		fmt.Sprintf("Devices configuration, e.g. \"cpu:8\" or \"accel:4,collective\". "+
			"If empty, it uses $%s, or %q if that is not set.", devices.DEVREDUCE_DEVICES, devices.DefaultConfig))
	flagMode       = flag.String("mode", "dense", "Representation to reduce: \"dense\" or \"sparse\".")
	flagDims       = flag.String("dims", "20,20", "Comma-separated dimensions of the variable in each device.")
	flagIterations = flag.Int("iterations", 10, "Number of reductions to run.")
	flagDst        = flag.Int("dst", 0, "Index of the participant holding the output.")
	flagLatency    = flag.Duration("latency", 0, "Simulated latency of each copy between devices.")
	flagShow       = flag.Bool("show", false, "Display the result of the last reduction.")
	flagParallel   = flag.Int("parallelism", -2,
		"Max parallelism used by each device for large accumulations. 0 disables it, -1 is unlimited, "+
			"and -2 uses the number of CPUs.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	config, err := loadConfig()
	if err != nil {
		klog.Fatalf("Invalid devices configuration: %+v", err)
	}
	dims, err := parseDims(*flagDims)
	if err != nil {
		klog.Fatalf("Invalid -dims: %+v", err)
	}
	mode, err := parseMode(*flagMode)
	if err != nil {
		klog.Fatalf("Invalid -mode: %+v", err)
	}

	pool := workerspool.New()
	if *flagParallel != -2 {
		pool.SetMaxParallelism(*flagParallel)
	}
	registry := must.M1(devices.NewRegistryFromConfig(config,
		devices.WithPool(pool), devices.WithLatency(*flagLatency)))
	defer registry.Finalize()

	var comm collective.Communicator
	if config.Collective {
		comm = must.M1(collective.NewLocalFromRegistry(registry))
	}

	runner := &scenario{
		config:   config,
		registry: registry,
		comm:     comm,
		mode:     mode,
		dims:     dims,
		dstIdx:   *flagDst,
	}
	output := termenv.NewOutput(os.Stderr)
	output.HideCursor()
	bar := progressbar.NewOptions(*flagIterations,
		progressbar.OptionSetDescription("reducing"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("reductions"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr),
	)
	var elapsed time.Duration
	for iteration := range *flagIterations {
		duration, err := runner.run(iteration)
		if err != nil {
			output.ShowCursor()
			klog.Fatalf("Reduction #%d failed: %+v", iteration, err)
		}
		elapsed += duration
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	output.ShowCursor()
	fmt.Fprintln(os.Stderr)
	if *flagShow {
		fmt.Println(runner.lastSummary)
	}
	fmt.Println(report(runner, registry, *flagIterations, elapsed))
}

func loadConfig() (devices.Config, error) {
	if *flagDevices != "" {
		return devices.ParseConfig(*flagDevices)
	}
	return devices.ConfigFromEnv()
}

func parseDims(dimsStr string) ([]int, error) {
	var dims []int
	for _, part := range strings.Split(dimsStr, ",") {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || dim <= 0 {
			return nil, errors.Errorf("invalid dimension %q in %q", part, dimsStr)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}
