// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmove moves a player by its usercmd. Server and client run the
// same code so the client can predict what the server will do.
package pmove

import (
	"github.com/chewxy/math32"

	"goquake2/cmodel"
	qmath "goquake2/math"
	"goquake2/math/vec"
	"goquake2/protocol"
)

// TraceFunc clips a box moving from start to end against everything
// solid for the player.
type TraceFunc func(start, mins, maxs, end vec.Vec3) cmodel.Trace

var (
	PlayerMins = vec.Vec3{-16, -16, -24}
	PlayerMaxs = vec.Vec3{16, 16, 32}
)

// Params are the tunables the server sends with the map.
type Params struct {
	MaxSpeed   float32
	StopSpeed  float32
	Friction   float32
	Accelerate float32
}

func DefaultParams() Params {
	return Params{
		MaxSpeed:   300,
		StopSpeed:  100,
		Friction:   6,
		Accelerate: 10,
	}
}

// PMove is the in and output of one move.
type PMove struct {
	State protocol.PMoveState
	Cmd   protocol.UserCmd
	Trace TraceFunc

	// results
	ViewAngles vec.Vec3
	Mins, Maxs vec.Vec3
	Blocked    int
}

type pml struct {
	origin    vec.Vec3
	velocity  vec.Vec3
	frametime float32
	forward   vec.Vec3
	right     vec.Vec3
	up        vec.Vec3
}

// Move runs the command in pm.Cmd on pm.State.
func Move(pm *PMove, p *Params) {
	pm.Mins, pm.Maxs = PlayerMins, PlayerMaxs
	pm.Blocked = 0

	for i := range 3 {
		pm.ViewAngles[i] = qmath.ShortToAngle(pm.Cmd.Angles[i] + pm.State.DeltaAngles[i])
	}
	if pm.State.Type == protocol.PmFreeze {
		return
	}

	l := &pml{
		origin:    protocol.UnpackOrigin(pm.State.Origin),
		velocity:  protocol.UnpackOrigin(pm.State.Velocity),
		frametime: float32(pm.Cmd.Msec) * 0.001,
	}
	previous := pm.State.Origin
	l.forward, l.right, l.up = vec.AngleVectors(pm.ViewAngles)

	l.friction(p)
	if pm.State.Type != protocol.PmDead {
		l.accelerate(pm, p)
	}

	if pm.State.Type == protocol.PmSpectator || pm.Trace == nil {
		l.origin = vec.MA(l.origin, l.frametime, l.velocity)
	} else {
		pm.Blocked = l.flyMove(pm)
	}

	pm.State.Velocity = protocol.PackOrigin(l.velocity)
	if pm.State.Type == protocol.PmSpectator || pm.Trace == nil {
		pm.State.Origin = protocol.PackOrigin(l.origin)
		return
	}
	pm.snapPosition(l, previous)
}

// try all single bits first
var jitterBits = [8]int{0, 4, 1, 2, 3, 5, 6, 7}

// snapPosition stores the origin with wire precision, nudging it by 1/8
// unit along the move if the truncated position ends up in a solid.
func (pm *PMove) snapPosition(l *pml, previous [3]int16) {
	var sign, base [3]int16
	for i := range 3 {
		if l.velocity[i] >= 0 {
			sign[i] = 1
		} else {
			sign[i] = -1
		}
		base[i] = int16(l.origin[i] * 8)
		if float32(base[i])*0.125 == l.origin[i] {
			sign[i] = 0
		}
	}
	for _, j := range jitterBits {
		o := base
		for i := range 3 {
			if j&(1<<i) != 0 {
				o[i] += sign[i]
			}
		}
		pm.State.Origin = o
		if pm.goodPosition() {
			return
		}
	}
	// go back to the last position
	pm.State.Origin = previous
}

func (pm *PMove) goodPosition() bool {
	o := protocol.UnpackOrigin(pm.State.Origin)
	return !pm.Trace(o, pm.Mins, pm.Maxs, o).AllSolid
}

func (l *pml) friction(p *Params) {
	speed := l.velocity.Length()
	if speed < 1 {
		l.velocity = vec.Vec3{}
		return
	}
	control := speed
	if control < p.StopSpeed {
		control = p.StopSpeed
	}
	// extra friction in the air
	drop := control * p.Friction * 1.5 * l.frametime

	newspeed := speed - drop
	if newspeed < 0 {
		newspeed = 0
	}
	l.velocity = l.velocity.Scale(newspeed / speed)
}

func (l *pml) accelerate(pm *PMove, p *Params) {
	fmove := float32(pm.Cmd.Forward)
	smove := float32(pm.Cmd.Side)
	umove := float32(pm.Cmd.Up)

	wishvel := vec.Add(l.forward.Scale(fmove), l.right.Scale(smove))
	wishvel[2] += umove

	wishspeed := wishvel.Length()
	if wishspeed == 0 {
		return
	}
	wishdir := wishvel.Normalize()
	if wishspeed > p.MaxSpeed {
		wishspeed = p.MaxSpeed
	}

	currentspeed := vec.Dot(l.velocity, wishdir)
	addspeed := wishspeed - currentspeed
	if addspeed <= 0 {
		return
	}
	accelspeed := p.Accelerate * l.frametime * wishspeed
	if accelspeed > addspeed {
		accelspeed = addspeed
	}
	l.velocity = vec.MA(l.velocity, accelspeed, wishdir)
}

// Slide off of the impacting object
func clipVelocity(in, normal vec.Vec3, overbounce float32) vec.Vec3 {
	const stopEpsilon = 0.1
	backoff := vec.Dot(in, normal) * overbounce
	var out vec.Vec3
	for i := range 3 {
		out[i] = in[i] - normal[i]*backoff
		if out[i] > -stopEpsilon && out[i] < stopEpsilon {
			out[i] = 0
		}
	}
	return out
}

// flyMove slides along up to five planes. It returns 1 if it hit a floor,
// 2 for a wall and 4 if it stopped dead.
func (l *pml) flyMove(pm *PMove) int {
	const maxClipPlanes = 5
	var planes [maxClipPlanes]vec.Vec3
	numplanes := 0
	blocked := 0

	primal := l.velocity
	original := l.velocity
	timeLeft := l.frametime

	for range 4 {
		if l.velocity.IsZero() {
			break
		}
		end := vec.MA(l.origin, timeLeft, l.velocity)
		t := pm.Trace(l.origin, pm.Mins, pm.Maxs, end)

		if t.AllSolid {
			// entity is trapped in another solid
			l.velocity = vec.Vec3{}
			return 3
		}
		if t.Fraction > 0 {
			// actually covered some distance
			l.origin = t.EndPos
			original = l.velocity
			numplanes = 0
		}
		if t.Fraction == 1 {
			// moved the entire distance
			break
		}

		switch n := t.Plane.Normal[2]; {
		case n > 0.7:
			blocked |= 1 // floor
		case n == 0:
			blocked |= 2 // step
		}
		timeLeft -= timeLeft * t.Fraction

		// slid into too many planes
		if numplanes >= maxClipPlanes {
			l.velocity = vec.Vec3{}
			return 3
		}
		planes[numplanes] = t.Plane.Normal
		numplanes++

		// modify original velocity so it parallels all of the clip planes
		var newVelocity vec.Vec3
		i := 0
		for ; i < numplanes; i++ {
			newVelocity = clipVelocity(original, planes[i], 1.01)
			j := 0
			for ; j < numplanes; j++ {
				if j != i && vec.Dot(newVelocity, planes[j]) < 0 {
					break // not ok
				}
			}
			if j == numplanes {
				break
			}
		}

		if i != numplanes {
			// go along this plane
			l.velocity = newVelocity
		} else {
			// go along the crease
			if numplanes != 2 {
				l.velocity = vec.Vec3{}
				return 7
			}
			dir := vec.Cross(planes[0], planes[1])
			l.velocity = dir.Scale(vec.Dot(dir, l.velocity))
		}

		// if velocity is against the original velocity, stop dead
		// to avoid tiny oscillations in sloping corners
		if vec.Dot(l.velocity, primal) <= 0 {
			l.velocity = vec.Vec3{}
			return blocked | 4
		}
	}
	return blocked
}

// Speed returns the horizontal speed stored in s.
func Speed(s *protocol.PMoveState) float32 {
	v := protocol.UnpackOrigin(s.Velocity)
	return math32.Sqrt(v[0]*v[0] + v[1]*v[1])
}
