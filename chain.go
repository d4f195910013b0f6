// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.20
//

// A reference articulated-body model implementing the solver's capability
// interfaces: a tree of rigid bodies joined by single-axis rotational or
// translational degrees of freedom, with markers fixed to bodies. Used by the
// CLI and the tests; any model satisfying the interfaces works equally.

package goik

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Joint kind of a chain body
type JointKind int

const (
	Rotational JointKind = iota
	Translational
)

//-------------------------------------------------------------------
// 3x3 rotation
//-------------------------------------------------------------------

type rot3 [3][3]float64

func identRot() rot3 {
	return rot3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (a rot3) mul(b rot3) rot3 {
	var c rot3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j]
		}
	}
	return c
}

func (a rot3) mulVec(v Vec3) Vec3 {
	return Vec3{
		X: a[0][0]*v.X + a[0][1]*v.Y + a[0][2]*v.Z,
		Y: a[1][0]*v.X + a[1][1]*v.Y + a[1][2]*v.Z,
		Z: a[2][0]*v.X + a[2][1]*v.Y + a[2][2]*v.Z,
	}
}

// Rotation about unit axis k by angle th (Rodrigues)
func rodrigues(k Vec3, th float64) rot3 {
	c := math.Cos(th)
	s := math.Sin(th)
	v := 1 - c
	return rot3{
		{c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s},
		{k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s},
		{k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v},
	}
}

//-------------------------------------------------------------------
// ChainCoordinate
//-------------------------------------------------------------------

// ChainCoordinate is one degree of freedom of a Chain
type ChainCoordinate struct {
	name        string
	value       float64
	def         float64
	rangeMin    float64
	rangeMax    float64
	clamped     bool
	locked      bool
	constrained bool
	chain       *Chain
}

func (c *ChainCoordinate) Name() string { return c.name }

func (c *ChainCoordinate) Value() float64 { return c.value }

// SetValue assigns the coordinate. Locked coordinates ignore assignments;
// clamped ones restrict the value to their range. finalize reassembles the
// chain, otherwise the cached transforms go stale until the next finalize.
func (c *ChainCoordinate) SetValue(v float64, finalize bool) {
	if c.locked {
		return
	}
	if c.clamped {
		if v < c.rangeMin {
			v = c.rangeMin
		}
		if v > c.rangeMax {
			v = c.rangeMax
		}
	}
	c.value = v
	if finalize {
		c.chain.assemble()
	} else {
		c.chain.stale = true
	}
}

func (c *ChainCoordinate) DefaultValue() float64 { return c.def }

func (c *ChainCoordinate) Clamped() bool { return c.clamped }

func (c *ChainCoordinate) SetClamped(clamped bool) { c.clamped = clamped }

func (c *ChainCoordinate) Locked() bool { return c.locked }

func (c *ChainCoordinate) SetLocked(locked bool) { c.locked = locked }

func (c *ChainCoordinate) Constrained() bool { return c.constrained }

// SetRange restricts the coordinate to [min, max] and enables clamping
func (c *ChainCoordinate) SetRange(min, max float64) {
	c.rangeMin = min
	c.rangeMax = max
	c.clamped = true
}

//-------------------------------------------------------------------
// ChainBody / ChainMarker
//-------------------------------------------------------------------

// ChainBody is a rigid segment. Its frame is the parent frame translated by
// offset and then moved by the joint: rotated about axis for rotational
// joints, translated along axis for translational ones. Bodies without a
// coordinate are welded to their parent.
type ChainBody struct {
	name   string
	parent *ChainBody
	offset Vec3
	kind   JointKind
	axis   Vec3
	coord  *ChainCoordinate

	// World transform, refreshed by assemble
	rot rot3
	pos Vec3
}

func (b *ChainBody) Name() string { return b.name }

// ChainMarker is a tracked point fixed to a chain body
type ChainMarker struct {
	name   string
	body   *ChainBody
	offset Vec3
}

func (m *ChainMarker) Name() string { return m.name }

func (m *ChainMarker) Offset() Vec3 { return m.offset }

func (m *ChainMarker) Body() Body { return m.body }

//-------------------------------------------------------------------
// Chain
//-------------------------------------------------------------------

// Chain is a tree of bodies. Bodies are stored parent-first so one pass
// refreshes all world transforms.
type Chain struct {
	bodies  []*ChainBody
	coords  []*ChainCoordinate
	markers []*ChainMarker
	stale   bool
}

func NewChain() *Chain {
	return &Chain{}
}

// AddBody appends a body. parent must name an existing body; "" makes a root
// fixed in the world frame. coord names the body's degree of freedom along
// axis; an empty coord welds the body to its parent.
func (c *Chain) AddBody(name, parent string, offset Vec3, kind JointKind, axis Vec3, coord string) error {
	if c.body(name) != nil {
		return fmt.Errorf("duplicate body '%s'", name)
	}
	var pb *ChainBody
	if parent != "" {
		pb = c.body(parent)
		if pb == nil {
			return fmt.Errorf("body '%s': unknown parent '%s'", name, parent)
		}
	}
	b := &ChainBody{name: name, parent: pb, offset: offset, kind: kind}
	if coord != "" {
		n := math.Sqrt(axis.X*axis.X + axis.Y*axis.Y + axis.Z*axis.Z)
		if n == 0 {
			return fmt.Errorf("body '%s': joint axis is zero", name)
		}
		b.axis = axis.Scale(1 / n)
		if c.Coordinate(coord) != nil {
			return fmt.Errorf("body '%s': duplicate coordinate '%s'", name, coord)
		}
		q := &ChainCoordinate{name: coord, chain: c}
		b.coord = q
		c.coords = append(c.coords, q)
	}
	c.bodies = append(c.bodies, b)
	c.stale = true
	return nil
}

// AddMarker fixes a marker to a body at a local offset
func (c *Chain) AddMarker(name, body string, offset Vec3) error {
	if c.Marker(name) != nil {
		return fmt.Errorf("duplicate marker '%s'", name)
	}
	b := c.body(body)
	if b == nil {
		return fmt.Errorf("marker '%s': unknown body '%s'", name, body)
	}
	c.markers = append(c.markers, &ChainMarker{name: name, body: b, offset: offset})
	return nil
}

func (c *Chain) body(name string) *ChainBody {
	for _, b := range c.bodies {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Coordinate looks up a degree of freedom by name, nil if absent
func (c *Chain) Coordinate(name string) *ChainCoordinate {
	for _, q := range c.coords {
		if q.name == name {
			return q
		}
	}
	return nil
}

// Finalize recomputes all world transforms for the current coordinate values
func (c *Chain) Finalize() {
	c.assemble()
}

func (c *Chain) assemble() {
	for _, b := range c.bodies {
		R := identRot()
		t := b.offset
		if b.coord != nil {
			switch b.kind {
			case Rotational:
				R = rodrigues(b.axis, b.coord.value)
			case Translational:
				t = t.Add(b.axis.Scale(b.coord.value))
			}
		}
		if b.parent == nil {
			b.rot = R
			b.pos = t
		} else {
			b.rot = b.parent.rot.mul(R)
			b.pos = b.parent.pos.Add(b.parent.rot.mulVec(t))
		}
	}
	c.stale = false
}

//-------------------------------------------------------------------
// Model capability implementation
//-------------------------------------------------------------------

func (c *Chain) Coordinates() []Coordinate {
	out := make([]Coordinate, len(c.coords))
	for i, q := range c.coords {
		out[i] = q
	}
	return out
}

func (c *Chain) Marker(name string) Marker {
	for _, mk := range c.markers {
		if mk.name == name {
			return mk
		}
	}
	return nil
}

// TransformPosition maps a body-local offset to the world frame using the
// cached transforms. Callers that assigned coordinates without finalizing see
// the stale pose, as the pose capability specifies.
func (c *Chain) TransformPosition(body Body, local Vec3) Vec3 {
	b := body.(*ChainBody)
	return b.pos.Add(b.rot.mulVec(local))
}

//-------------------------------------------------------------------
// Model file reader
//-------------------------------------------------------------------

// LoadChain reads a chain definition. The format is line based:
//
//	# comment
//	body <name> <parent|-> <ox> <oy> <oz> [rot|trans <ax> <ay> <az> <coord>]
//	coord <name> <default> [range <min> <max>] [locked]
//	marker <name> <body> <ox> <oy> <oz>
//
// coord lines adjust coordinates created by earlier body lines. The chain is
// assembled at the default pose before returning.
func LoadChain(r io.Reader) (*Chain, error) {

	c := NewChain()
	sc := bufio.NewScanner(r)
	ln := 0

	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Fields(line)

		switch f[0] {
		case "body":
			if len(f) != 6 && len(f) != 11 {
				return nil, fmt.Errorf("line %d: body needs 6 or 11 fields, got %d", ln, len(f))
			}
			off, err := parseVec3(f[3:6])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
			parent := f[2]
			if parent == "-" {
				parent = ""
			}
			kind := Rotational
			axis := Vec3{}
			coord := ""
			if len(f) == 11 {
				switch f[6] {
				case "rot":
					kind = Rotational
				case "trans":
					kind = Translational
				default:
					return nil, fmt.Errorf("line %d: unknown joint kind '%s'", ln, f[6])
				}
				axis, err = parseVec3(f[7:10])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", ln, err)
				}
				coord = f[10]
			}
			if err := c.AddBody(f[1], parent, off, kind, axis, coord); err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}

		case "coord":
			if len(f) < 3 {
				return nil, fmt.Errorf("line %d: coord needs at least 3 fields", ln)
			}
			q := c.Coordinate(f[1])
			if q == nil {
				return nil, fmt.Errorf("line %d: unknown coordinate '%s'", ln, f[1])
			}
			def, err := strconv.ParseFloat(f[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
			q.def = def
			q.value = def
			for i := 3; i < len(f); i++ {
				switch f[i] {
				case "range":
					if i+2 >= len(f) {
						return nil, fmt.Errorf("line %d: range needs min and max", ln)
					}
					min, err1 := strconv.ParseFloat(f[i+1], 64)
					max, err2 := strconv.ParseFloat(f[i+2], 64)
					if err1 != nil || err2 != nil || min > max {
						return nil, fmt.Errorf("line %d: invalid range [%s, %s]", ln, f[i+1], f[i+2])
					}
					q.SetRange(min, max)
					i += 2
				case "locked":
					q.locked = true
				default:
					return nil, fmt.Errorf("line %d: unknown coord option '%s'", ln, f[i])
				}
			}

		case "marker":
			if len(f) != 6 {
				return nil, fmt.Errorf("line %d: marker needs 6 fields, got %d", ln, len(f))
			}
			off, err := parseVec3(f[3:6])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
			if err := c.AddMarker(f[1], f[2], off); err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}

		default:
			return nil, fmt.Errorf("line %d: unknown directive '%s'", ln, f[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(c.bodies) == 0 {
		return nil, fmt.Errorf("chain definition has no bodies")
	}

	c.assemble()
	return c, nil
}

func parseVec3(f []string) (Vec3, error) {
	var v [3]float64
	for i := 0; i < 3; i++ {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return Vec3{}, fmt.Errorf("invalid number '%s'", f[i])
		}
		v[i] = x
	}
	return Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}
