// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.10
//

package goik

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ValueSource selects where a coordinate task takes its target value from
type ValueSource int

const (
	FromDefault ValueSource = iota // the coordinate's default value
	FromFile                       // the trial column named after the coordinate
	FromValue                      // an explicit constant
)

func (s ValueSource) String() string {
	switch s {
	case FromDefault:
		return "default"
	case FromFile:
		return "from_file"
	case FromValue:
		return "value"
	default:
		return "UNKNOWN!"
	}
}

// MarkerTask names a model marker to track, with the weight of its error
// contribution. Weight 0 records the marker for display without letting it
// influence the solve.
type MarkerTask struct {
	Name   string
	Weight float64
}

// CoordinateTask names a model coordinate and how its target value is chosen.
// Weight 0 means the coordinate contributes no error term (it may still carry
// an initial guess or a prescribed value through Source).
type CoordinateTask struct {
	Name   string
	Weight float64
	Source ValueSource
	Value  float64 // target when Source == FromValue
}

// TaskSet is the per-trial tracking configuration consumed by the target
// registry
type TaskSet struct {
	Markers     []MarkerTask
	Coordinates []CoordinateTask
}

// ReadTasks parses a task file. One task per line:
//
//	marker NAME WEIGHT
//	coord  NAME WEIGHT default
//	coord  NAME WEIGHT from_file
//	coord  NAME WEIGHT value TARGET
//
// Blank lines and lines starting with # are skipped.
func ReadTasks(r io.Reader) (*TaskSet, error) {

	tasks := &TaskSet{}
	sc := bufio.NewScanner(r)
	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "marker":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: marker task needs NAME WEIGHT", ln)
			}
			w, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid weight %q", ln, fields[2])
			}
			tasks.Markers = append(tasks.Markers, MarkerTask{Name: fields[1], Weight: w})
		case "coord":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: coord task needs NAME WEIGHT SOURCE", ln)
			}
			w, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid weight %q", ln, fields[2])
			}
			task := CoordinateTask{Name: fields[1], Weight: w}
			switch fields[3] {
			case "default":
				task.Source = FromDefault
			case "from_file":
				task.Source = FromFile
			case "value":
				if len(fields) != 5 {
					return nil, fmt.Errorf("line %d: value source needs a target value", ln)
				}
				v, err := strconv.ParseFloat(fields[4], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid target value %q", ln, fields[4])
				}
				task.Source = FromValue
				task.Value = v
			default:
				return nil, fmt.Errorf("line %d: unknown value source %q", ln, fields[3])
			}
			tasks.Coordinates = append(tasks.Coordinates, task)
		default:
			return nil, fmt.Errorf("line %d: unknown task kind %q", ln, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}
