// SPDX-License-Identifier: GPL-2.0-or-later

package client

import (
	"goquake2/bsp"
	"goquake2/cmodel"
	"goquake2/conlog"
	"goquake2/cvars"
	qmath "goquake2/math"
	"goquake2/math/vec"
	"goquake2/pmove"
	"goquake2/protocol"
)

// checkPredictionError compares the origin the server sent with the one
// we predicted for the acknowledged command.
func (c *Client) checkPredictionError() {
	if !cvars.ClientPredict.Bool() || c.frame.PlayerState.PMove.Flags&protocol.PMF_NO_PREDICTION != 0 || c.nc == nil {
		return
	}

	// calculate the last usercmd_t we sent that the server has processed
	frame := c.nc.IncomingAcknowledged() & protocol.CmdMask

	// compare what the server returned with what we had predicted it to be
	var delta [3]int
	for i := range 3 {
		delta[i] = int(c.frame.PlayerState.PMove.Origin[i]) - int(c.predictedOrigins[frame][i])
	}

	// save the prediction error for interpolation
	l := abs(delta[0]) + abs(delta[1]) + abs(delta[2])
	if l > maxPredictionError {
		// a teleport or something
		c.predictionError = vec.Vec3{}
		return
	}
	if cvars.ClientShowMiss.Bool() && l != 0 {
		conlog.Printf("prediction miss on %d: %d\n", c.frame.ServerFrame, delta[0]+delta[1]+delta[2])
	}
	c.predictedOrigins[frame] = c.frame.PlayerState.PMove.Origin
	for i := range 3 {
		c.predictionError[i] = float32(delta[i]) * 0.125
	}
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// predictMovement runs all commands the server has not acknowledged yet
// on top of the last frame.
func (c *Client) predictMovement() {
	if c.state != StateActive || c.nc == nil {
		return
	}
	ps := &c.frame.PlayerState
	if !cvars.ClientPredict.Bool() || ps.PMove.Flags&protocol.PMF_NO_PREDICTION != 0 {
		// just set angles
		c.predictedOrigin = protocol.UnpackOrigin(ps.PMove.Origin)
		for i := range 3 {
			c.predictedAngles[i] = qmath.ShortToAngle(c.cmd.Angles[i] + ps.PMove.DeltaAngles[i])
		}
		return
	}

	ack := c.nc.IncomingAcknowledged()
	current := c.nc.OutgoingSequence()

	// if we are too far out of date, just freeze
	if current-ack >= protocol.CmdBackup {
		if cvars.ClientShowMiss.Bool() {
			conlog.Printf("exceeded CMD_BACKUP\n")
		}
		return
	}

	pm := pmove.PMove{
		State: ps.PMove,
		Trace: c.pmTrace,
	}
	// run frames
	for ack++; ack < current; ack++ {
		frame := ack & protocol.CmdMask
		pm.Cmd = c.cmds[frame]
		pmove.Move(&pm, &c.pmp)
		// save for debug checking
		c.predictedOrigins[frame] = pm.State.Origin
	}

	c.predictedOrigin = protocol.UnpackOrigin(pm.State.Origin)
	c.predictedAngles = pm.ViewAngles
}

func (c *Client) pmTrace(start, mins, maxs, end vec.Vec3) cmodel.Trace {
	return c.trace(start, mins, maxs, end, bsp.MASK_PLAYERSOLID)
}

// trace clips against the world and the solid entities of the current
// frame, except the local player.
func (c *Client) trace(start, mins, maxs, end vec.Vec3, mask bsp.Contents) cmodel.Trace {
	// check against world
	tr := c.cm.BoxTrace(start, end, mins, maxs, mask)
	c.clipMoveToEntities(start, mins, maxs, end, mask, &tr)
	return tr
}

func (c *Client) clipMoveToEntities(start, mins, maxs, end vec.Vec3, mask bsp.Contents, tr *cmodel.Trace) {
	for i := range c.frame.Entities {
		ent := &c.frame.Entities[i]
		if ent.Solid == 0 {
			continue
		}
		if ent.Number == c.playerNum+1 {
			continue
		}
		if tr.AllSolid {
			return
		}

		var headnode bsp.Headnode
		var angles vec.Vec3
		if ent.Solid == protocol.SolidBSP {
			// special value for bmodel
			m, err := c.cm.InlineModel(c.configStrings[protocol.CsModels+int(ent.ModelIndex[0])])
			if err != nil {
				continue
			}
			headnode = m.Headnode
			angles = ent.AnglesVec()
		} else {
			// encoded bbox
			bmins, bmaxs := protocol.UnpackSolid(ent.Solid)
			headnode = c.cm.HeadnodeForBox(bmins, bmaxs)
		}

		t := c.cm.TransformedBoxTrace(start, end, mins, maxs, headnode, mask, ent.OriginVec(), angles)
		if t.AllSolid || t.StartSolid || t.Fraction < tr.Fraction {
			t.Entity = ent.Number
			if tr.StartSolid {
				*tr = t
				tr.StartSolid = true
			} else {
				*tr = t
			}
		} else if t.StartSolid {
			tr.StartSolid = true
		}
	}
}

// Trace is the collision test prediction uses.
func (c *Client) Trace(start, mins, maxs, end vec.Vec3) cmodel.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace(start, mins, maxs, end, bsp.MASK_PLAYERSOLID)
}
