// SPDX-License-Identifier: GPL-2.0-or-later

package cmodel

import (
	"goquake2/bsp"
	"goquake2/math/vec"
)

// 1/32 epsilon to keep floating point happy
const distEpsilon = 0.03125

var nullSurface = bsp.Texinfo{}

type Trace struct {
	AllSolid   bool // if true, plane is not valid
	StartSolid bool // if true, the initial point was in a solid area
	Fraction   float32
	EndPos     vec.Vec3
	Plane      bsp.Plane
	Surface    *bsp.Texinfo
	Contents   bsp.Contents
	// set by callers clipping against entities, -1 for the world
	Entity int
}

type tracer struct {
	t        *Trace
	start    vec.Vec3
	end      vec.Vec3
	mins     vec.Vec3
	maxs     vec.Vec3
	extents  vec.Vec3
	contents bsp.Contents
	isPoint  bool
	tree     *bsp.Tree
	// bit per Brush.ID, a brush is clipped once per trace
	checked []uint64
}

func newTrace() Trace {
	return Trace{Fraction: 1, Surface: &nullSurface, Entity: -1}
}

// BoxTrace sweeps the box mins/maxs from start to end through the tree
// below headnode, stopping at brushes matching brushmask.
func BoxTrace(start, end, mins, maxs vec.Vec3, headnode bsp.Headnode, brushmask bsp.Contents) Trace {
	tr := newTrace()
	if headnode.IsNull() {
		tr.EndPos = end
		return tr
	}
	tc := &tracer{
		t:        &tr,
		start:    start,
		end:      end,
		mins:     mins,
		maxs:     maxs,
		contents: brushmask,
		tree:     headnode.Tree(),
	}

	// check for position test special case
	if start == end {
		c1 := vec.Add(start, vec.Add(mins, vec.Vec3{-1, -1, -1}))
		c2 := vec.Add(start, vec.Add(maxs, vec.Vec3{1, 1, 1}))
		leafs, _ := BoxLeafs(headnode, c1, c2, 1024)
		for _, l := range leafs {
			tc.testInLeaf(l)
			if tr.AllSolid {
				break
			}
		}
		tr.EndPos = start
		return tr
	}

	// check for point special case
	if mins.IsZero() && maxs.IsZero() {
		tc.isPoint = true
	} else {
		for i := range 3 {
			tc.extents[i] = max(-mins[i], maxs[i])
		}
	}

	tc.recursiveHullCheck(headnode.Ref(), 0, 1, start, end)

	if tr.Fraction == 1 {
		tr.EndPos = end
	} else {
		tr.EndPos = vec.Lerp(start, end, tr.Fraction)
	}
	return tr
}

// TransformedBoxTrace handles offseted and rotated bmodel collision.
func (cm *CM) TransformedBoxTrace(start, end, mins, maxs vec.Vec3, headnode bsp.Headnode, brushmask bsp.Contents, origin, angles vec.Vec3) Trace {
	startL := vec.Sub(start, origin)
	endL := vec.Sub(end, origin)

	// rotate start and end into the models frame of reference
	rotated := !cm.isBox(headnode) && !angles.IsZero()
	var axis vec.Axis
	if rotated {
		axis = vec.AnglesToAxis(angles)
		startL = axis.Rotate(startL)
		endL = axis.Rotate(endL)
	}

	tr := BoxTrace(startL, endL, mins, maxs, headnode, brushmask)

	// rotate plane normal into the worlds frame of reference
	if rotated && tr.Fraction != 1 {
		tr.Plane.Normal = axis.Transpose().Rotate(tr.Plane.Normal)
	}

	// FIXME: offset plane distance?
	tr.EndPos = vec.Lerp(start, end, tr.Fraction)
	return tr
}

// BoxTrace runs BoxTrace against the world.
func (cm *CM) BoxTrace(start, end, mins, maxs vec.Vec3, brushmask bsp.Contents) Trace {
	return BoxTrace(start, end, mins, maxs, cm.Headnode(), brushmask)
}

func (tc *tracer) seen(b *bsp.Brush) bool {
	if tc.checked == nil {
		tc.checked = make([]uint64, (len(tc.tree.Brushes)+63)/64)
	}
	w, bit := b.ID/64, uint64(1)<<(b.ID%64)
	if tc.checked[w]&bit != 0 {
		return true
	}
	tc.checked[w] |= bit
	return false
}

func (tc *tracer) clipBoxToBrush(p1, p2 vec.Vec3, brush *bsp.Brush) {
	if len(brush.Sides) == 0 {
		return
	}
	enterfrac := float32(-1)
	leavefrac := float32(1)
	var clipplane *bsp.Plane
	var leadside *bsp.BrushSide
	getout := false
	startout := false

	for i := range brush.Sides {
		side := &brush.Sides[i]
		plane := side.Plane

		// push the plane out apropriately for mins/maxs
		var dist float32
		if !tc.isPoint {
			var ofs vec.Vec3
			for j := range 3 {
				if plane.Normal[j] < 0 {
					ofs[j] = tc.maxs[j]
				} else {
					ofs[j] = tc.mins[j]
				}
			}
			dist = plane.Dist - vec.Dot(ofs, plane.Normal)
		} else {
			dist = plane.Dist
		}

		d1 := vec.Dot(p1, plane.Normal) - dist
		d2 := vec.Dot(p2, plane.Normal) - dist

		if d2 > 0 {
			getout = true // endpoint is not in solid
		}
		if d1 > 0 {
			startout = true
		}

		// if completely in front of face, no intersection
		if d1 > 0 && d2 >= d1 {
			return
		}
		if d1 <= 0 && d2 <= 0 {
			continue
		}

		// crosses face
		if d1 > d2 { // enter
			f := (d1 - distEpsilon) / (d1 - d2)
			if f > enterfrac {
				enterfrac = f
				clipplane = plane
				leadside = side
			}
		} else { // leave
			f := (d1 + distEpsilon) / (d1 - d2)
			if f < leavefrac {
				leavefrac = f
			}
		}
	}

	if !startout {
		// original point was inside brush
		tc.t.StartSolid = true
		if !getout {
			tc.t.AllSolid = true
			tc.t.Fraction = 0
			tc.t.Contents = brush.Contents
		}
		return
	}
	if enterfrac < leavefrac {
		if enterfrac > -1 && enterfrac < tc.t.Fraction {
			if enterfrac < 0 {
				enterfrac = 0
			}
			tc.t.Fraction = enterfrac
			tc.t.Plane = *clipplane
			tc.t.Surface = leadside.Texinfo
			tc.t.Contents = brush.Contents
		}
	}
}

func (tc *tracer) testBoxInBrush(p1 vec.Vec3, brush *bsp.Brush) {
	if len(brush.Sides) == 0 {
		return
	}
	for i := range brush.Sides {
		plane := brush.Sides[i].Plane

		// push the plane out apropriately for mins/maxs
		var ofs vec.Vec3
		for j := range 3 {
			if plane.Normal[j] < 0 {
				ofs[j] = tc.maxs[j]
			} else {
				ofs[j] = tc.mins[j]
			}
		}
		dist := plane.Dist - vec.Dot(ofs, plane.Normal)
		d1 := vec.Dot(p1, plane.Normal) - dist

		// if completely in front of face, no intersection
		if d1 > 0 {
			return
		}
	}

	// inside this brush
	tc.t.StartSolid = true
	tc.t.AllSolid = true
	tc.t.Fraction = 0
	tc.t.Contents = brush.Contents
}

func (tc *tracer) traceToLeaf(leaf *bsp.Leaf) {
	if leaf.Contents&tc.contents == 0 {
		return
	}
	// trace line against all brushes in the leaf
	for _, b := range leaf.Brushes {
		if tc.seen(b) {
			continue // already checked this brush in another leaf
		}
		if b.Contents&tc.contents == 0 {
			continue
		}
		tc.clipBoxToBrush(tc.start, tc.end, b)
		if tc.t.Fraction == 0 {
			return
		}
	}
}

func (tc *tracer) testInLeaf(leaf *bsp.Leaf) {
	if leaf.Contents&tc.contents == 0 {
		return
	}
	// trace line against all brushes in the leaf
	for _, b := range leaf.Brushes {
		if tc.seen(b) {
			continue
		}
		if b.Contents&tc.contents == 0 {
			continue
		}
		tc.testBoxInBrush(tc.start, b)
		if tc.t.Fraction == 0 {
			return
		}
	}
}

func (tc *tracer) recursiveHullCheck(r bsp.Ref, p1f, p2f float32, p1, p2 vec.Vec3) {
	if tc.t.Fraction <= p1f {
		return // already hit something nearer
	}

	// if < 0, we are in a leaf node
	if r.IsLeaf() {
		tc.traceToLeaf(tc.tree.Leaf(r))
		return
	}

	// find the point distances to the seperating plane
	// and the offset for the size of the box
	node := tc.tree.Node(r)
	plane := node.Plane

	var t1, t2, offset float32
	if plane.Type < 3 {
		t1 = p1[plane.Type] - plane.Dist
		t2 = p2[plane.Type] - plane.Dist
		offset = tc.extents[plane.Type]
	} else {
		t1 = vec.Dot(plane.Normal, p1) - plane.Dist
		t2 = vec.Dot(plane.Normal, p2) - plane.Dist
		if tc.isPoint {
			offset = 0
		} else {
			e := vec.Vec3{
				tc.extents[0] * plane.Normal[0],
				tc.extents[1] * plane.Normal[1],
				tc.extents[2] * plane.Normal[2],
			}.Abs()
			offset = e[0] + e[1] + e[2]
		}
	}

	// see which sides we need to consider
	if t1 >= offset && t2 >= offset {
		tc.recursiveHullCheck(node.Children[0], p1f, p2f, p1, p2)
		return
	}
	if t1 < -offset && t2 < -offset {
		tc.recursiveHullCheck(node.Children[1], p1f, p2f, p1, p2)
		return
	}

	// put the crosspoint DIST_EPSILON pixels on the near side
	var side int
	var frac, frac2 float32
	switch {
	case t1 < t2:
		idist := 1 / (t1 - t2)
		side = 1
		frac2 = (t1 + offset + distEpsilon) * idist
		frac = (t1 - offset + distEpsilon) * idist
	case t1 > t2:
		idist := 1 / (t1 - t2)
		side = 0
		frac2 = (t1 - offset - distEpsilon) * idist
		frac = (t1 + offset + distEpsilon) * idist
	default:
		side = 0
		frac = 1
		frac2 = 0
	}

	// move up to the node
	frac = min(max(frac, 0), 1)
	midf := p1f + (p2f-p1f)*frac
	mid := vec.Lerp(p1, p2, frac)
	tc.recursiveHullCheck(node.Children[side], p1f, midf, p1, mid)

	// go past the node
	frac2 = min(max(frac2, 0), 1)
	midf = p1f + (p2f-p1f)*frac2
	mid = vec.Lerp(p1, p2, frac2)
	tc.recursiveHullCheck(node.Children[side^1], midf, p2f, mid, p2)
}
