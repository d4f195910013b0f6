// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.12
//

// Capabilities the solver consumes from an articulated-body model.
// The solver never owns the model; it mutates the shared pose through these
// interfaces and expects exclusive access for the duration of one solve.

package goik

//-------------------------------------------------------------------
// Vec3
//-------------------------------------------------------------------

// 3D position or offset in body or world frame
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

func NewVec3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{X: v.X + w.X, Y: v.Y + w.Y, Z: v.Z + w.Z}
}

func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{X: v.X - w.X, Y: v.Y - w.Y, Z: v.Z - w.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Return components as an indexable array (x, y, z order)
func (v Vec3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

//-------------------------------------------------------------------
// Model capabilities
//-------------------------------------------------------------------

// Coordinate is the pose capability for a single model degree of freedom.
type Coordinate interface {
	Name() string
	Value() float64

	// SetValue assigns the coordinate value. When finalize is true the model
	// recomputes dependent kinematics immediately; callers batching several
	// assignments finalize only the last one.
	SetValue(value float64, finalize bool)

	DefaultValue() float64

	// Clamp state. A clamped coordinate restricts assigned values to its
	// range; the Jacobian builder disables clamping while perturbing.
	Clamped() bool
	SetClamped(clamped bool)

	// Locked or kinematically constrained coordinates are prescribed and are
	// never free parameters.
	Locked() bool
	SetLocked(locked bool)
	Constrained() bool
}

// Body identifies a rigid segment a marker is attached to.
type Body interface {
	Name() string
}

// Marker is a tracked point fixed to a body at a local offset.
type Marker interface {
	Name() string
	Offset() Vec3
	Body() Body
}

// Model groups pose introspection and forward kinematics.
type Model interface {
	// Coordinates returns the model's full coordinate set. The order is fixed
	// for the model's lifetime.
	Coordinates() []Coordinate

	// Marker looks up a marker by name. Returns nil if the model has none.
	Marker(name string) Marker

	// TransformPosition maps a local offset on a body to the world frame
	// using the current (finalized) pose.
	TransformPosition(body Body, local Vec3) Vec3
}
