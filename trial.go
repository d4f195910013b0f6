// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.12
//

package goik

import (
	"fmt"
	"strings"
)

// Trial stores one experimental time series: a label per data column, a time
// per frame and one row of values per frame. Marker trajectories occupy three
// consecutive columns labeled <name>_tx, <name>_ty, <name>_tz; coordinate
// columns are labeled with the coordinate name. The time column is kept
// separately in Times and never appears in Labels or Rows.
type Trial struct {
	Labels []string    // data column labels
	Times  []float64   // frame times [s]
	Rows   [][]float64 // one value row per frame, len(Labels) each
}

func (t *Trial) NumFrames() int {
	return len(t.Rows)
}

func (t *Trial) NumColumns() int {
	return len(t.Labels)
}

// Index of the first column with the given label, -1 if absent
func (t *Trial) ColumnIndex(label string) int {
	for i, l := range t.Labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Index of the last column with the given label, -1 if absent.
// Coordinate columns are searched in reverse because a coordinate may share
// its name with a marker, and coordinate tables are merged after marker data.
func (t *Trial) ColumnIndexLast(label string) int {
	for i := len(t.Labels) - 1; i >= 0; i-- {
		if t.Labels[i] == label {
			return i
		}
	}
	return -1
}

// Frame returns the time and value row for frame i
func (t *Trial) Frame(i int) (float64, []float64, error) {
	if i < 0 || i >= len(t.Rows) {
		return 0, nil, fmt.Errorf("frame %d out of range [0, %d)", i, len(t.Rows))
	}
	return t.Times[i], t.Rows[i], nil
}

// Merge appends the columns of o to t. Both trials must have the same frame
// count; the merged trial keeps t's times. Used to place coordinate tables
// alongside marker trajectories so one row addresses both.
func (t *Trial) Merge(o *Trial) error {
	if len(t.Rows) != len(o.Rows) {
		return fmt.Errorf("cannot merge trials: %d frames vs %d frames", len(t.Rows), len(o.Rows))
	}
	t.Labels = append(t.Labels, o.Labels...)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], o.Rows[i]...)
	}
	return nil
}

// Display trial overview
func (t *Trial) String() string {
	if len(t.Rows) == 0 {
		return "NO DATA"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("frames: %d (%.3f - %.3f s)\ncolumns (%d):", len(t.Rows), t.Times[0], t.Times[len(t.Times)-1], len(t.Labels)))
	for _, l := range t.Labels {
		sb.WriteString(" " + l)
	}
	return sb.String()
}
