// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.16
//

// Readers for experimental time-series files: TRC marker trajectories and
// MOT coordinate tables.
//
// TRC format reference:
// https://simtk-confluence.stanford.edu/display/OpenSim/Marker+(.trc)+Files
//

package goik

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadTRC parses a TRC marker trajectory file into a Trial. Each marker
// contributes three columns labeled <name>_tx, <name>_ty, <name>_tz. Empty
// cells (markers missing from a frame) become NaN.
func ReadTRC(r io.Reader) (*Trial, error) {

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	// Header: file type line, key line, value line, column name line,
	// component (X1 Y1 Z1 ...) line
	header := make([]string, 0, 5)
	for len(header) < 5 && sc.Scan() {
		header = append(header, sc.Text())
	}
	if len(header) < 5 {
		return nil, fmt.Errorf("TRC header truncated: %d lines", len(header))
	}
	if !strings.HasPrefix(header[0], "PathFileType") {
		return nil, fmt.Errorf("not a TRC file: %q", firstField(header[0]))
	}

	// Marker names from the column name line, after Frame# and Time
	names := strings.Fields(header[3])
	if len(names) < 3 || !strings.EqualFold(names[0], "Frame#") || !strings.EqualFold(names[1], "Time") {
		return nil, fmt.Errorf("unexpected TRC column header: %q", header[3])
	}
	names = names[2:]

	trial := &Trial{}
	for _, name := range names {
		trial.Labels = append(trial.Labels, name+"_tx", name+"_ty", name+"_tz")
	}
	want := 2 + 3*len(names)

	ln := 5
	for sc.Scan() {
		ln++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitCells(line)
		// Trailing tabs add empty cells; a row ending in missing markers
		// lacks them. Normalize to the expected width.
		for len(cells) > want && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
		for strings.Contains(line, "\t") && len(cells) < want {
			cells = append(cells, "")
		}
		if len(cells) != want {
			return nil, fmt.Errorf("line %d: expected %d cells, got %d", ln, want, len(cells))
		}
		t, err := strconv.ParseFloat(cells[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid time %q", ln, cells[1])
		}
		row := make([]float64, 0, 3*len(names))
		for _, cell := range cells[2:] {
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
			row = append(row, v)
		}
		trial.Times = append(trial.Times, t)
		trial.Rows = append(trial.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(trial.Rows) == 0 {
		return nil, fmt.Errorf("TRC file has no data rows")
	}

	return trial, nil
}

// ReadMOT parses a MOT coordinate table into a Trial: header lines up to
// "endheader", then a label row beginning with time, then value rows.
func ReadMOT(r io.Reader) (*Trial, error) {

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	// Skip the header
	ended := false
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "endheader") {
			ended = true
			break
		}
	}
	if !ended {
		return nil, fmt.Errorf("MOT header has no endheader line")
	}

	// Label row
	var labels []string
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		labels = strings.Fields(sc.Text())
		break
	}
	if len(labels) < 2 || !strings.EqualFold(labels[0], "time") {
		return nil, fmt.Errorf("unexpected MOT column header: %v", labels)
	}

	trial := &Trial{Labels: labels[1:]}
	want := len(labels)

	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cells := strings.Fields(line)
		if len(cells) != want {
			return nil, fmt.Errorf("data row %d: expected %d values, got %d", ln, want, len(cells))
		}
		t, err := strconv.ParseFloat(cells[0], 64)
		if err != nil {
			return nil, fmt.Errorf("data row %d: invalid time %q", ln, cells[0])
		}
		row := make([]float64, 0, want-1)
		for _, cell := range cells[1:] {
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("data row %d: %w", ln, err)
			}
			row = append(row, v)
		}
		trial.Times = append(trial.Times, t)
		trial.Rows = append(trial.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(trial.Rows) == 0 {
		return nil, fmt.Errorf("MOT file has no data rows")
	}

	return trial, nil
}

// splitCells splits a data line, preserving empty tab-separated cells so
// missing markers keep their position in the row
func splitCells(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	}
	return strings.Fields(line)
}

// parseCell converts one data cell; empty cells are missing data (NaN)
func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", cell)
	}
	return v, nil
}

func firstField(line string) string {
	f := strings.Fields(line)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
