// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.22
//

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	m "github.com/mkhts/goik"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		m.PrintE(err)
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

// Main application processing
func runApplication(args cmdOpt) error {

	// Cancel the solve loop on Ctrl-C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load input files
	model, trial, tasks, err := loadInputFiles(args)
	if err != nil {
		return fmt.Errorf("failed to load input files: %w", err)
	}

	opt := setOpt(&args)

	solver, err := m.NewSolver(model, tasks, trial, opt)
	if err != nil {
		return fmt.Errorf("failed to build solver: %w", err)
	}

	if args.verbose >= 1 {
		m.PrintA("--- trial data (%s)---\n", filepath.Base(args.trcFn))
		fmt.Fprintln(os.Stderr, trial)
		m.PrintA("--- tracking tasks (%s)---\n", filepath.Base(args.tasksFn))
		solver.PrintTasks(os.Stderr)
	}

	// Prepare output file
	out, err := prepareOutput(args)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	defer closeOutput(out)

	// Process frames
	sols, err := processFrames(ctx, args, solver, trial, out)
	if err != nil {
		return err
	}

	// Plot per-frame RMS marker error
	if len(args.plotFn) > 0 {
		if err := plotRMS(args.plotFn, sols); err != nil {
			return fmt.Errorf("failed to write plot: %w", err)
		}
	}

	return nil
}

// Load model, trial and task files
func loadInputFiles(args cmdOpt) (*m.Chain, *m.Trial, *m.TaskSet, error) {

	model, err := readModel(args.modelFn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read model file: %w", err)
	}

	trial, err := readTRC(args.trcFn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read marker file: %w", err)
	}

	// Coordinate tables merge behind the marker columns so one row addresses both
	if len(args.motFn) > 0 {
		coords, err := readMOT(args.motFn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read coordinate file: %w", err)
		}
		if err := trial.Merge(coords); err != nil {
			return nil, nil, nil, err
		}
	}

	tasks, err := readTasks(args.tasksFn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read task file: %w", err)
	}

	return model, trial, tasks, nil
}

// Prepare output file
func prepareOutput(args cmdOpt) (io.WriteCloser, error) {

	// Use stdout if no output file is specified
	if len(args.outFn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}

	// Create output file
	outf, err := os.Create(args.outFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return outf, nil
}

// Close output file
func closeOutput(out io.WriteCloser) {
	if out != nil {
		out.Close()
	}
}

// Process frames
func processFrames(ctx context.Context, args cmdOpt, solver *m.Solver, trial *m.Trial, out io.Writer) ([]*m.FrameSol, error) {

	fs, fe := args.fs, args.fe
	if fe < 0 || fe >= trial.NumFrames() {
		fe = trial.NumFrames() - 1
	}
	if fs < 0 || fs > fe {
		return nil, fmt.Errorf("invalid frame range %d - %d (trial has %d frames)", fs, fe, trial.NumFrames())
	}

	unpres := solver.UnprescribedCoordinateNames()
	pres := solver.PrescribedCoordinateNames()
	if !args.noHeader {
		printHeader(out, args, fe-fs+1, unpres, pres)
	}

	sols := make([]*m.FrameSol, 0, fe-fs+1)
	for frame := fs; frame <= fe; frame++ {
		sol, err := solver.SolveFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return sols, fmt.Errorf("solve interrupted: %w", ctx.Err())
			}
			m.PrintA("Error processing frame %d: %s\n", frame, err.Error())
			continue
		}
		printFrame(out, sol, solver.PrescribedCoordinateValues())
		sols = append(sols, sol)
	}

	return sols, nil
}

// Print the coordinate table header in MOT layout
func printHeader(out io.Writer, args cmdOpt, nRows int, unpres, pres []string) {
	fmt.Fprintf(out, "%s\n", filepath.Base(args.trcFn))
	fmt.Fprintf(out, "nRows=%d\n", nRows)
	fmt.Fprintf(out, "nColumns=%d\n", 1+len(unpres)+len(pres))
	fmt.Fprintf(out, "endheader\n")
	fmt.Fprintf(out, "time")
	for _, name := range unpres {
		fmt.Fprintf(out, "\t%s", name)
	}
	for _, name := range pres {
		fmt.Fprintf(out, "\t%s", name)
	}
	fmt.Fprintln(out)
}

// Print one frame's coordinate row
func printFrame(out io.Writer, sol *m.FrameSol, presVals []float64) {
	fmt.Fprintf(out, "%.8f", sol.Time)
	for _, v := range sol.Values {
		fmt.Fprintf(out, "\t%15.8f", v)
	}
	for _, v := range presVals {
		fmt.Fprintf(out, "\t%15.8f", v)
	}
	fmt.Fprintln(out)
}

// Plot per-frame RMS marker error to a PNG file
func plotRMS(fn string, sols []*m.FrameSol) error {

	pts := make(plotter.XYs, 0, len(sols))
	for _, sol := range sols {
		pts = append(pts, plotter.XY{X: sol.Time, Y: sol.RMSMarkerError})
	}

	p := plot.New()
	p.Title.Text = "RMS marker error"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "RMS error"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	return p.Save(10*vg.Inch, 4*vg.Inch, fn)
}

// Wrapper to prevent stdout from being closed
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Command line arguments
type cmdOpt struct {
	modelFn  string
	trcFn    string
	motFn    string
	tasksFn  string
	outFn    string
	plotFn   string
	noHeader bool
	verbose  int
	tol      float64
	maxIter  int
	rankTol  float64
	pinv     bool
	fs       int
	fe       int
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options] model_file markers.trc tasks_file

[Options]
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	sOpt := m.NewOpt()
	flag.StringVar(&a.motFn, "q", "", "Coordinate table (.mot) giving prescribed values and initial guesses for from_file coordinate tasks. Must have the same frame count as the marker file.")
	flag.StringVar(&a.outFn, "o", "", "Output coordinate file path. If not specified, output to stdout.")
	flag.StringVar(&a.plotFn, "plot", "", "Write a per-frame RMS marker error plot to this PNG file.")
	flag.BoolVar(&a.noHeader, "nh", false, "Do not output header section of the coordinate file.")
	flag.Float64Var(&a.tol, "tol", sOpt.ErrorTol, "Convergence threshold on the change of the residual norm between iterations.")
	flag.IntVar(&a.maxIter, "n", sOpt.MaxIter, "Maximum iterations per frame.")
	flag.Float64Var(&a.rankTol, "rt", sOpt.RankTol, "Relative rank tolerance of the linear solve.")
	flag.BoolVar(&a.pinv, "pinv", false, "Solve the linear subproblem with an explicit pseudoinverse instead of the truncated SVD backsubstitution. Results are the same. For development comparison.")
	flag.IntVar(&a.fs, "fs", 0, "First frame to solve (0-based).")
	flag.IntVar(&a.fe, "fe", -1, "Last frame to solve, inclusive. Omit or set to -1 to solve to the end.")
	flag.IntVar(&a.verbose, "x", 0, "Diagnostic information display. Specify level value. 0(OFF), 1(per-frame errors), 2(iteration detail), 3(matrices)")
	flag.Parse()
	if flag.NArg() != 3 {
		return a, fmt.Errorf("too less or many arguments")
	}
	a.modelFn = flag.Arg(0)
	a.trcFn = flag.Arg(1)
	a.tasksFn = flag.Arg(2)
	return
}

func setOpt(args *cmdOpt) *m.Opt {
	opt := m.NewOpt()
	opt.ErrorTol = args.tol
	opt.MaxIter = args.maxIter
	opt.RankTol = args.rankTol
	opt.Verbose = args.verbose
	if args.pinv {
		opt.Backend = m.PInvLS{}
	}
	return opt
}

// Read model file
func readModel(fn string) (*m.Chain, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	model, err := m.LoadChain(f)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Read marker trajectory file
func readTRC(fn string) (*m.Trial, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	trial, err := m.ReadTRC(f)
	if err != nil {
		return nil, err
	}
	return trial, nil
}

// Read coordinate table file
func readMOT(fn string) (*m.Trial, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	trial, err := m.ReadMOT(f)
	if err != nil {
		return nil, err
	}
	return trial, nil
}

// Read task file
func readTasks(fn string) (*m.TaskSet, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tasks, err := m.ReadTasks(f)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
