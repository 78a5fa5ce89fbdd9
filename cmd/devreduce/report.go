// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/devreduce/pkg/core/devices"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				return oddRowStyle
			default:
				return evenRowStyle
			}
		})
}

// report returns the summary of the run: one row per device with its statistics.
func report(s *scenario, registry *devices.Registry, iterations int, elapsed time.Duration) string {
	table := newTable().Headers("Device", "Copies", "Transferred", "Accumulations")
	for _, place := range registry.Places() {
		ctx := registry.MustGet(place)
		stream, ok := ctx.(*devices.Stream)
		if !ok {
			table.Row(place.String(), "-", "-", "-")
			continue
		}
		stats := stream.Stats()
		table.Row(place.String(),
			humanize.Comma(stats.NumCopies),
			humanize.Bytes(uint64(stats.BytesCopied)),
			humanize.Comma(stats.NumAccumulates))
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("devreduce: %s %v over %q", s.mode, s.dims, s.config)))
	sb.WriteString("\n")
	sb.WriteString(table.Render())
	sb.WriteString("\n")
	perIteration := time.Duration(0)
	if iterations > 0 {
		perIteration = elapsed / time.Duration(iterations)
	}
	_, _ = fmt.Fprintf(&sb, "%s reductions, %s rows reduced, %s per reduction\n",
		humanize.Comma(int64(iterations)), humanize.Comma(int64(s.numRowsReduced)), perIteration)
	return sb.String()
}
