// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"goquake2/math/vec"
)

const (
	PlaneX        = 0
	PlaneY        = 1
	PlaneZ        = 2
	PlaneNonAxial = 3
)

// SetType classifies the plane as axial if its normal is a unit axis.
func (p *Plane) SetType() {
	for i := range 3 {
		if p.Normal[i] == 1 {
			p.Type = byte(i)
			return
		}
	}
	p.Type = PlaneNonAxial
}

// SetSignBits stores which normal components are negative.
func (p *Plane) SetSignBits() {
	var bits byte
	for i := range 3 {
		if p.Normal[i] < 0 {
			bits |= 1 << i
		}
	}
	p.SignBits = bits
}

// Diff returns the signed distance of v to the plane.
func (p *Plane) Diff(v vec.Vec3) float32 {
	return vec.Dot(v, p.Normal) - p.Dist
}

// DiffFast is Diff with a shortcut for axial planes.
func (p *Plane) DiffFast(v vec.Vec3) float32 {
	if p.Type < 3 {
		return v[p.Type] - p.Dist
	}
	return p.Diff(v)
}

// BoxOnPlaneSide returns 1 if the box is in front of the plane, 2 if it is
// behind and 3 if the plane splits it.
func (p *Plane) BoxOnPlaneSide(mins, maxs vec.Vec3) int {
	if p.Type < 3 {
		if p.Dist <= mins[p.Type] {
			return 1
		}
		if p.Dist >= maxs[p.Type] {
			return 2
		}
		return 3
	}
	bounds := [2]vec.Vec3{mins, maxs}
	// the corner furthest along the normal and the one closest to it
	i := int(p.SignBits & 1)
	j := int(p.SignBits>>1) & 1
	k := int(p.SignBits>>2) & 1
	n := p.Normal
	d1 := n[0]*bounds[i^1][0] + n[1]*bounds[j^1][1] + n[2]*bounds[k^1][2]
	d2 := n[0]*bounds[i][0] + n[1]*bounds[j][1] + n[2]*bounds[k][2]
	sides := 0
	if d1 >= p.Dist {
		sides = 1
	}
	if d2 < p.Dist {
		sides |= 2
	}
	return sides
}
