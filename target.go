// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.18
//

package goik

import (
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/exp/slices"
)

// ErrConfig marks fatal setup errors: a task naming an entity absent from the
// model, or a task lacking its experimental-data column. Wrapped errors are
// raised once, at solver construction, and abort trial processing.
var ErrConfig = errors.New("invalid tracking configuration")

// markerTarget ties a model marker to its experimental columns for one trial.
// exp, comp and valid are overwritten once per frame.
type markerTarget struct {
	marker Marker
	body   Body
	column int // index of <name>_tx; _ty and _tz follow
	weight float64
	exp    [3]float64 // experimental position, world frame
	comp   [3]float64 // computed position, world frame
	valid  bool       // false when the experimental position is NaN this frame
}

// coordTarget describes one model coordinate for the solve.
type coordTarget struct {
	coord      Coordinate
	prescribed bool // locked or constrained by the model, never a free parameter
	column     int  // trial column, -1 when not driven from data
	constValue float64
	weight     float64
	expValue   float64 // per-frame target, only meaningful when weight > 0
}

// Targets holds the descriptor sets built once per trial. The unprescribed
// slice is the parameter set; its order fixes the correspondence between the
// free-variable vector and Jacobian columns and must never change mid-trial.
// weighted is a subset of unprescribed sharing the same descriptors, not
// copies.
type Targets struct {
	markers      []*markerTarget
	prescribed   []*coordTarget
	unprescribed []*coordTarget
	weighted     []*coordTarget
}

// buildTargets classifies model markers and coordinates into the solver's
// descriptor sets and resolves the trial column of every data-driven target.
func buildTargets(model Model, tasks *TaskSet, trial *Trial) (*Targets, error) {

	t := &Targets{}

	// Marker tasks
	seen := []string{}
	for _, task := range tasks.Markers {
		if slices.Contains(seen, task.Name) {
			return nil, fmt.Errorf("%w: duplicate marker task '%s'", ErrConfig, task.Name)
		}
		seen = append(seen, task.Name)

		mk := model.Marker(task.Name)
		if mk == nil {
			return nil, fmt.Errorf("%w: marker '%s' named in task not found in model", ErrConfig, task.Name)
		}
		if task.Weight < 0 {
			return nil, fmt.Errorf("%w: marker '%s' has negative weight %g", ErrConfig, task.Name, task.Weight)
		}

		// Marker columns carry a _tx (and _ty, _tz) suffix in the trial
		col := trial.ColumnIndex(task.Name + "_tx")
		if col < 0 {
			return nil, fmt.Errorf("%w: experimental data for marker '%s' not found in trial", ErrConfig, task.Name)
		}

		t.markers = append(t.markers, &markerTarget{
			marker: mk,
			body:   mk.Body(),
			column: col,
			weight: task.Weight,
		})
	}

	// Initialize info for all model coordinates
	coords := model.Coordinates()
	all := make([]*coordTarget, 0, len(coords))
	for _, c := range coords {
		all = append(all, &coordTarget{
			coord:      c,
			prescribed: c.Locked() || c.Constrained(),
			column:     -1,
			constValue: c.DefaultValue(),
			weight:     0,
		})
	}

	// Update info from user coordinate tasks
	for _, task := range tasks.Coordinates {
		idx := -1
		for i, c := range coords {
			if c.Name() == task.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: coordinate '%s' named in task not found in model", ErrConfig, task.Name)
		}
		if task.Weight < 0 {
			return nil, fmt.Errorf("%w: coordinate '%s' has negative weight %g", ErrConfig, task.Name, task.Weight)
		}

		info := all[idx]
		switch task.Source {
		case FromFile:
			// Search in reverse: a coordinate may share a marker's name and
			// coordinate columns are merged after the marker columns.
			col := trial.ColumnIndexLast(task.Name)
			if col < 0 {
				return nil, fmt.Errorf("%w: coordinate task '%s' specifies from_file but the trial has no such column", ErrConfig, task.Name)
			}
			info.column = col
		case FromValue:
			info.constValue = task.Value
		}
		info.weight = task.Weight
	}

	// Filter into the three sets. Not a partition: weighted is a subset of
	// unprescribed.
	for _, info := range all {
		if info.prescribed {
			t.prescribed = append(t.prescribed, info)
		} else {
			t.unprescribed = append(t.unprescribed, info)
			if info.weight > 0 {
				t.weighted = append(t.weighted, info)
			}
		}
	}

	return t, nil
}

// Number of free parameters (the unprescribed coordinate count)
func (t *Targets) numParameters() int {
	return len(t.unprescribed)
}

// Residual rows: three per registered marker plus one per weighted coordinate.
// Invalid and zero-weight markers keep their rows at zero so indexing stays
// fixed across frames.
func (t *Targets) numResidualRows() int {
	return 3*len(t.markers) + len(t.weighted)
}

// prepareFrame loads one trial row into the descriptors: prescribed
// coordinates are set from data or constants, the initial guess for the free
// parameters is filled, weighted targets record their experimental value and
// marker validity is re-evaluated.
func (t *Targets) prepareFrame(row []float64, guess []float64) {

	// Prescribed coordinates: file value or constant, applied through a
	// temporary unlock
	for _, info := range t.prescribed {
		value := info.constValue
		if info.column >= 0 {
			value = row[info.column]
		}
		locked := info.coord.Locked()
		info.coord.SetLocked(false)
		info.coord.SetValue(value, true)
		info.coord.SetLocked(locked)
	}

	// Unprescribed coordinates: initial guess from file if driven from data,
	// else the current pose value
	for i, info := range t.unprescribed {
		if info.column >= 0 {
			guess[i] = row[info.column]
		} else {
			guess[i] = info.coord.Value()
		}
		if info.weight > 0 {
			if info.column >= 0 {
				info.expValue = guess[i]
			} else {
				info.expValue = info.constValue
			}
		}
	}

	// Markers: experimental position and per-frame validity. A marker missing
	// from this frame has NaN coordinates; it is excluded from this frame only.
	for _, mk := range t.markers {
		mk.exp[0] = row[mk.column]
		mk.exp[1] = row[mk.column+1]
		mk.exp[2] = row[mk.column+2]
		mk.valid = !(math.IsNaN(mk.exp[0]) || math.IsNaN(mk.exp[1]) || math.IsNaN(mk.exp[2]))
	}
}

//-------------------------------------------------------------------
// Display accessors
//-------------------------------------------------------------------

func (t *Targets) markerNames() []string {
	names := make([]string, len(t.markers))
	for i, mk := range t.markers {
		names[i] = mk.marker.Name()
	}
	return names
}

func (t *Targets) computedMarkerLocations() []Vec3 {
	locs := make([]Vec3, len(t.markers))
	for i, mk := range t.markers {
		locs[i] = Vec3{X: mk.comp[0], Y: mk.comp[1], Z: mk.comp[2]}
	}
	return locs
}

func (t *Targets) experimentalMarkerLocations() []Vec3 {
	locs := make([]Vec3, len(t.markers))
	for i, mk := range t.markers {
		locs[i] = Vec3{X: mk.exp[0], Y: mk.exp[1], Z: mk.exp[2]}
	}
	return locs
}

func (t *Targets) coordinateNames(set []*coordTarget) []string {
	names := make([]string, len(set))
	for i, info := range set {
		names[i] = info.coord.Name()
	}
	return names
}

func (t *Targets) coordinateValues(set []*coordTarget) []float64 {
	values := make([]float64, len(set))
	for i, info := range set {
		values[i] = info.coord.Value()
	}
	return values
}

// printTasks writes the registered tasks for inspection
func (t *Targets) printTasks(w io.Writer) {
	if len(t.markers) > 0 {
		fmt.Fprintf(w, "Marker Tasks:\n")
		for _, mk := range t.markers {
			fmt.Fprintf(w, "\t%s: weight %g from file (columns %d-%d)\n", mk.marker.Name(), mk.weight, mk.column, mk.column+2)
		}
	}
	if len(t.weighted) > 0 {
		fmt.Fprintf(w, "Unprescribed Coordinate Tasks (with nonzero weight):\n")
		for _, info := range t.weighted {
			if info.column >= 0 {
				fmt.Fprintf(w, "\t%s: weight %g from file (column %d)\n", info.coord.Name(), info.weight, info.column)
			} else {
				fmt.Fprintf(w, "\t%s: weight %g constant target value of %g\n", info.coord.Name(), info.weight, info.constValue)
			}
		}
	}
	if len(t.prescribed) > 0 {
		fmt.Fprintf(w, "Prescribed Coordinate Tasks:\n")
		for _, info := range t.prescribed {
			if info.column >= 0 {
				fmt.Fprintf(w, "\t%s: from file (column %d)\n", info.coord.Name(), info.column)
			} else {
				fmt.Fprintf(w, "\t%s: constant value of %g\n", info.coord.Name(), info.constValue)
			}
		}
	}
}
