// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"log/slog"
	"slices"

	"goquake2/bsp"
	"goquake2/cmodel"
	"goquake2/math/vec"
	"goquake2/protocol"
)

const areaDepth = 4

type areaType int

const (
	areaSolid areaType = iota
	areaTriggers
)

type areaNode struct {
	axis          int // -1 = leaf node
	dist          float32
	children      [2]*areaNode
	triggerEdicts []*Edict
	solidEdicts   []*Edict
}

// called after the world model has been loaded, before linking any entities
func (s *Server) clearWorld() {
	b := s.cm.BSP()
	var mins, maxs vec.Vec3
	if b != nil && len(b.Models) > 0 {
		mins, maxs = b.Models[0].Mins, b.Models[0].Maxs
	}
	s.areaNodes = createAreaNode(0, mins, maxs)
}

func createAreaNode(depth int, mins, maxs vec.Vec3) *areaNode {
	if depth == areaDepth {
		return &areaNode{axis: -1}
	}
	an := &areaNode{}
	size := vec.Sub(maxs, mins)
	if size[0] > size[1] {
		an.axis = 0
	} else {
		an.axis = 1
	}
	an.dist = 0.5 * (maxs[an.axis] + mins[an.axis])

	mins1, maxs1 := mins, maxs
	mins2, maxs2 := mins, maxs
	maxs1[an.axis] = an.dist
	mins2[an.axis] = an.dist

	an.children[0] = createAreaNode(depth+1, mins2, maxs2)
	an.children[1] = createAreaNode(depth+1, mins1, maxs1)
	return an
}

func (s *Server) unlinkEdict(e *Edict) {
	if n := e.node; n != nil {
		if e.Solid == SolidTrigger {
			n.triggerEdicts = slices.DeleteFunc(n.triggerEdicts, func(o *Edict) bool { return o == e })
		} else {
			n.solidEdicts = slices.DeleteFunc(n.solidEdicts, func(o *Edict) bool { return o == e })
		}
	}
	e.node = nil
	e.linked = false
}

// linkEdict has to be called any time an entity changes origin, mins,
// maxs or solid. It sets AbsMin/AbsMax and the visibility data.
func (s *Server) linkEdict(e *Edict) {
	if e.linked {
		s.unlinkEdict(e) // unlink from old position
	}
	if e == &s.edicts[0] {
		return // don't add the world
	}
	if !e.InUse {
		return
	}

	e.Size = vec.Sub(e.Maxs, e.Mins)
	e.S.SetOrigin(e.Origin)
	e.S.SetAngles(e.Angles)

	// encode the size into the entity state for client prediction
	switch {
	case e.Solid == SolidBBox && e.SvFlags&SVF_DEADMONSTER == 0:
		e.S.Solid = protocol.PackSolid(e.Mins, e.Maxs)
	case e.Solid == SolidBSP:
		e.S.Solid = protocol.SolidBSP
	default:
		e.S.Solid = 0
	}

	// set the abs box
	if e.Solid == SolidBSP && !e.Angles.IsZero() {
		// expand for rotation
		var m float32
		for i := range 3 {
			m = max(m, abs(e.Mins[i]), abs(e.Maxs[i]))
		}
		for i := range 3 {
			e.AbsMin[i] = e.Origin[i] - m
			e.AbsMax[i] = e.Origin[i] + m
		}
	} else {
		// normal
		e.AbsMin = vec.Add(e.Origin, e.Mins)
		e.AbsMax = vec.Add(e.Origin, e.Maxs)
	}

	// because movement is clipped an epsilon away from an actual edge,
	// we must fully check even when bounding boxes don't quite touch
	for i := range 3 {
		e.AbsMin[i] -= 1
		e.AbsMax[i] += 1
	}

	// link to PVS leafs
	e.numClusters = 0
	e.areanum = 0
	e.areanum2 = 0

	leafs, topnode := s.cm.BoxLeafs(e.AbsMin, e.AbsMax, maxTotalEntLeafs)

	// set areas
	for _, l := range leafs {
		if l.Area == 0 {
			continue
		}
		// doors may legally straggle two areas,
		// but nothing should ever need more than that
		if e.areanum != 0 && e.areanum != l.Area {
			if e.areanum2 != 0 && e.areanum2 != l.Area && s.state == stateLoading {
				slog.Debug("object touching 3 areas", slog.Any("absmin", e.AbsMin))
			}
			e.areanum2 = l.Area
		} else {
			e.areanum = l.Area
		}
	}

	if len(leafs) >= maxTotalEntLeafs {
		// assume we missed some leafs, and mark by headnode
		e.numClusters = -1
		e.headnode = topnode
	} else {
		for _, l := range leafs {
			if l.Cluster == -1 {
				continue // not a visible leaf
			}
			if slices.Contains(e.clusters[:e.numClusters], l.Cluster) {
				continue
			}
			if e.numClusters == maxEntClusters {
				// assume we missed some leafs, and mark by headnode
				e.numClusters = -1
				e.headnode = topnode
				break
			}
			e.clusters[e.numClusters] = l.Cluster
			e.numClusters++
		}
	}

	// if first time, make sure old_origin is valid
	if e.linkCount == 0 {
		e.S.OldOrigin = e.S.Origin
	}
	e.linkCount++
	e.linked = true

	if e.Solid == SolidNot {
		return
	}

	// find the first node that the ent's box crosses
	node := s.areaNodes
	for node.axis != -1 {
		if e.AbsMin[node.axis] > node.dist {
			node = node.children[0]
		} else if e.AbsMax[node.axis] < node.dist {
			node = node.children[1]
		} else {
			break // crosses the node
		}
	}

	// link it in
	if e.Solid == SolidTrigger {
		node.triggerEdicts = append(node.triggerEdicts, e)
	} else {
		node.solidEdicts = append(node.solidEdicts, e)
	}
	e.node = node
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// areaEdicts returns the linked edicts of the given type whose absolute
// box touches mins/maxs.
func (s *Server) areaEdicts(mins, maxs vec.Vec3, t areaType) []*Edict {
	var list []*Edict
	var walk func(n *areaNode)
	walk = func(n *areaNode) {
		l := n.solidEdicts
		if t == areaTriggers {
			l = n.triggerEdicts
		}
		for _, e := range l {
			if e.AbsMin[0] > maxs[0] ||
				e.AbsMin[1] > maxs[1] ||
				e.AbsMin[2] > maxs[2] ||
				e.AbsMax[0] < mins[0] ||
				e.AbsMax[1] < mins[1] ||
				e.AbsMax[2] < mins[2] {
				continue // not touching
			}
			if len(list) == protocol.MaxEdicts {
				slog.Warn("areaEdicts: MAXCOUNT")
				return
			}
			list = append(list, e)
		}
		if n.axis == -1 {
			return // terminal node
		}
		// recurse down both sides
		if maxs[n.axis] > n.dist {
			walk(n.children[0])
		}
		if mins[n.axis] < n.dist {
			walk(n.children[1])
		}
	}
	if s.areaNodes != nil {
		walk(s.areaNodes)
	}
	return list
}

// hullForEntity returns the headnode to clip against e and the angles it
// is rotated by.
func (s *Server) hullForEntity(e *Edict) (bsp.Headnode, vec.Vec3) {
	// decide which clipping hull to use, based on the size
	if e.Solid == SolidBSP && !e.bmodel.IsNull() {
		// explicit hulls in the BSP model
		return e.bmodel, e.Angles
	}
	// create a temp hull from bounding box sizes
	return s.cm.HeadnodeForBox(e.Mins, e.Maxs), vec.Vec3{}
}

// PointContents returns the contents of the world and all solid entities
// at p.
func (s *Server) PointContents(p vec.Vec3) bsp.Contents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointContents(p)
}

func (s *Server) pointContents(p vec.Vec3) bsp.Contents {
	// get base contents from world
	contents := s.cm.PointContents(p)

	for _, hit := range s.areaEdicts(p, p, areaSolid) {
		headnode, angles := s.hullForEntity(hit)
		contents |= s.cm.TransformedPointContents(p, headnode, hit.Origin, angles)
	}
	return contents
}

type moveClip struct {
	boxmins, boxmaxs vec.Vec3 // enclose the test object along entire move
	mins, maxs       vec.Vec3 // size of the moving object
	start, end       vec.Vec3
	trace            cmodel.Trace
	passedict        *Edict
	contentmask      bsp.Contents
}

func (s *Server) clipMoveToEntities(clip *moveClip) {
	for _, touch := range s.areaEdicts(clip.boxmins, clip.boxmaxs, areaSolid) {
		if touch.Solid == SolidNot {
			continue
		}
		if touch == clip.passedict {
			continue
		}
		if clip.trace.AllSolid {
			return
		}
		if clip.passedict != nil {
			if touch.Owner == clip.passedict {
				continue // don't clip against own missiles
			}
			if clip.passedict.Owner == touch {
				continue // don't clip against owner
			}
		}
		if clip.contentmask&bsp.CONTENTS_DEADMONSTER == 0 && touch.SvFlags&SVF_DEADMONSTER != 0 {
			continue
		}

		headnode, angles := s.hullForEntity(touch)
		tr := s.cm.TransformedBoxTrace(clip.start, clip.end, clip.mins, clip.maxs,
			headnode, clip.contentmask, touch.Origin, angles)

		if tr.AllSolid || tr.StartSolid || tr.Fraction < clip.trace.Fraction {
			tr.Entity = touch.S.Number
			if clip.trace.StartSolid {
				clip.trace = tr
				clip.trace.StartSolid = true
			} else {
				clip.trace = tr
			}
		} else if tr.StartSolid {
			clip.trace.StartSolid = true
		}
	}
}

func traceBounds(start, mins, maxs, end vec.Vec3) (boxmins, boxmaxs vec.Vec3) {
	for i := range 3 {
		if end[i] > start[i] {
			boxmins[i] = start[i] + mins[i] - 1
			boxmaxs[i] = end[i] + maxs[i] + 1
		} else {
			boxmins[i] = end[i] + mins[i] - 1
			boxmaxs[i] = start[i] + maxs[i] + 1
		}
	}
	return boxmins, boxmaxs
}

// Trace moves the box mins/maxs from start to end through the world and
// all solid entities except passedict and its owner relations. The
// Entity of the result is the edict number that was hit, or -1.
func (s *Server) Trace(start, mins, maxs, end vec.Vec3, passedict *Edict, contentmask bsp.Contents) cmodel.Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trace(start, mins, maxs, end, passedict, contentmask)
}

func (s *Server) trace(start, mins, maxs, end vec.Vec3, passedict *Edict, contentmask bsp.Contents) cmodel.Trace {
	// clip to world
	tr := s.cm.BoxTrace(start, end, mins, maxs, contentmask)
	if tr.Fraction == 0 {
		return tr // blocked by the world
	}

	clip := moveClip{
		mins:        mins,
		maxs:        maxs,
		start:       start,
		end:         end,
		trace:       tr,
		passedict:   passedict,
		contentmask: contentmask,
	}
	// create the bounding box of the entire move
	clip.boxmins, clip.boxmaxs = traceBounds(start, mins, maxs, end)

	// clip to other solid entities
	s.clipMoveToEntities(&clip)
	return clip.trace
}
