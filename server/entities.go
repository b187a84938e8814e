// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"cmp"
	"slices"

	"goquake2/bsp"
	"goquake2/cmodel"
	"goquake2/cvars"
	"goquake2/math/vec"
	"goquake2/net"
	"goquake2/protocol"
)

// modelless entities (sounds, effects) farther away than this are culled
const soundCullDist = 400

func visBit(vis []byte, cluster int) bool {
	if cluster < 0 || cluster>>3 >= len(vis) {
		return false
	}
	return vis[cluster>>3]&(1<<(cluster&7)) != 0
}

// entityVisible reports whether e touches a cluster set in vis.
func entityVisible(e *Edict, vis []byte) bool {
	if e.numClusters == -1 {
		// too many leafs for individual check, go by headnode
		return cmodel.HeadnodeVisible(e.headnode, vis)
	}
	// check individual leafs
	for _, c := range e.clusters[:e.numClusters] {
		if visBit(vis, c) {
			return true
		}
	}
	return false
}

// buildClientFrame decides which entities are going to be visible to the
// client, and copies off the playerstate and areabits.
func (s *Server) buildClientFrame(c *Client) {
	clent := c.edict
	if clent == nil {
		return // not in game yet
	}

	// this is the frame we are creating
	frame := &c.frames[s.frameNum&protocol.UpdateMask]
	frame.number = s.frameNum
	frame.sentTime = s.now()

	// find the client's PVS
	org := protocol.UnpackOrigin(c.ps.PMove.Origin)
	for i := range 3 {
		org[i] += float32(c.ps.ViewOffset[i]) * 0.25
	}

	clientArea, clientCluster := 0, -1
	if leaf := s.cm.PointLeaf(org); leaf != nil {
		clientArea = leaf.Area
		clientCluster = leaf.Cluster
	}

	// calculate the visible areas
	var areaBits [protocol.MaxMapAreaBytes]byte
	n := s.cm.WriteAreaBits(areaBits[:], clientArea)
	if n == 0 {
		// no map areas, everything is visible
		areaBits[0] = 0xff
		n = 1
	}
	frame.areaBits = append(frame.areaBits[:0], areaBits[:n]...)

	// grab the current player state
	frame.ps = c.ps

	clientPHS := s.cm.ClusterVis(make([]byte, bsp.VisMaxBytes), clientCluster, bsp.DVisPHS)
	clientPVS := s.cm.FatPVS(make([]byte, bsp.VisMaxBytes), org, bsp.DVisPVS)
	novis := cvars.ServerNoVis.Bool()

	// build up the list of visible entities
	frame.entities = frame.entities[:0]
	for i := 1; i < s.numEdicts; i++ {
		ent := &s.edicts[i]
		if !ent.InUse {
			continue
		}
		// ignore ents without visible models
		if ent.SvFlags&SVF_NOCLIENT != 0 {
			continue
		}
		// ignore ents without visible models unless they have an effect
		if ent.S.ModelIndex[0] == 0 && ent.S.Effects == 0 && ent.S.Sound == 0 && ent.S.Event == 0 {
			continue
		}

		// ignore if not touching a PV leaf
		if ent != clent && !s.entityInView(ent, org, clientArea, clientPVS, clientPHS, novis) {
			continue
		}

		state := ent.S
		state.Number = i
		// don't mark players missiles as solid
		if ent.Owner == clent {
			state.Solid = 0
		}
		frame.entities = append(frame.entities, state)
	}

	s.trimFrameEntities(frame, org, clent.S.Number)
}

func (s *Server) entityInView(ent *Edict, org vec.Vec3, clientArea int, pvs, phs []byte, novis bool) bool {
	// check area
	if !s.cm.AreasConnected(clientArea, ent.areanum) {
		// doors can legally straddle two areas, so
		// we may need to check another one
		if ent.areanum2 == 0 || !s.cm.AreasConnected(clientArea, ent.areanum2) {
			return false // blocked by a door
		}
	}

	// beams just check one point for PHS
	if ent.S.RenderFX&protocol.RF_BEAM != 0 {
		if ent.numClusters < 1 {
			return ent.numClusters == -1 && cmodel.HeadnodeVisible(ent.headnode, phs)
		}
		return visBit(phs, ent.clusters[0])
	}
	if novis {
		return true
	}
	if !entityVisible(ent, pvs) {
		return false
	}
	if ent.S.ModelIndex[0] == 0 {
		// don't send sounds if they will be attenuated away
		if vec.Sub(org, ent.Origin).Length() > soundCullDist {
			return false
		}
	}
	return true
}

// trimFrameEntities keeps the sv_max_packet_entities entities closest to
// the view, always including the client's own entity. The list stays
// sorted by number.
func (s *Server) trimFrameEntities(frame *clientFrame, org vec.Vec3, self int) {
	limit := protocol.MaxPacketEntities
	if cvars.ServerMaxPacketEnts != nil && cvars.ServerMaxPacketEnts.Int() > 0 {
		limit = min(cvars.ServerMaxPacketEnts.Int(), limit)
	}
	if len(frame.entities) <= limit {
		return
	}
	dist := func(e *protocol.EntityState) float32 {
		if e.Number == self {
			return -1
		}
		d := vec.Sub(org, e.OriginVec())
		return vec.Dot(d, d)
	}
	slices.SortStableFunc(frame.entities, func(a, b protocol.EntityState) int {
		return cmp.Compare(dist(&a), dist(&b))
	})
	frame.entities = frame.entities[:limit]
	slices.SortFunc(frame.entities, func(a, b protocol.EntityState) int {
		return cmp.Compare(a.Number, b.Number)
	})
}

// writeFrameToClient writes the current frame delta compressed against the
// last frame the client acknowledged. The entities actually written
// replace the frame's list.
func (s *Server) writeFrameToClient(c *Client, msg *net.Message, maxSize int) {
	frame := &c.frames[s.frameNum&protocol.UpdateMask]

	var oldframe *clientFrame
	lastFrame := -1
	switch {
	case c.lastFrame <= 0:
		// client is asking for a retransmit
	case s.frameNum-c.lastFrame >= protocol.UpdateBackup-3:
		// client hasn't gotten a good message through in a long time
	default:
		// we have a valid message to delta from
		oldframe = &c.frames[c.lastFrame&protocol.UpdateMask]
		if oldframe.number != c.lastFrame {
			oldframe = nil
		} else {
			lastFrame = c.lastFrame
		}
	}

	h := protocol.FrameHeader{
		Number:   s.frameNum,
		Delta:    lastFrame,
		Suppress: min(c.suppressCount, 255),
		AreaBits: frame.areaBits,
	}
	c.suppressCount = 0

	var oldps *protocol.PlayerState
	var oldents []protocol.EntityState
	if oldframe != nil {
		oldps = &oldframe.ps
		oldents = oldframe.entities
	}
	sent, ok := protocol.WriteFrame(msg, &h, oldps, &frame.ps, oldents, frame.entities, protocol.EmitOptions{
		MaxSize:    maxSize,
		MaxClients: s.maxClients,
		Baselines:  s.baseline,
	})
	if !ok {
		c.log.Debug("frame entities truncated", "frame", s.frameNum, "sent", len(sent), "wanted", len(frame.entities))
	}
	frame.entities = sent
}
