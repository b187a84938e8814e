// SPDX-License-Identifier: GPL-2.0-or-later

// Package cmodel answers the collision and visibility questions of a
// running game session against a shared map.
package cmodel

import (
	"log/slog"

	"goquake2/bsp"
	"goquake2/cvars"
	"goquake2/math/vec"
)

// CM is the per session view of a map. The BSP is shared with every other
// session using the same map, the area portal state is not.
//
// The zero value is a valid CM with no map loaded.
type CM struct {
	handle *bsp.Handle

	floodNums  []int // per area
	floodValid []int // per area, compared against floodGen
	floodGen   int
	portalOpen []bool

	box boxHull
}

// Load replaces the current map with name from cache.
func (cm *CM) Load(cache *bsp.Cache, name string) error {
	h, err := cache.Acquire(name)
	if err != nil {
		return err
	}
	cm.Free()
	cm.handle = h
	b := h.BSP()
	cm.floodNums = make([]int, len(b.Areas))
	cm.floodValid = make([]int, len(b.Areas))
	cm.floodGen = 0
	// all portals start closed until the game opens them
	cm.portalOpen = make([]bool, b.NumPortals)
	cm.FloodAreaConnections()
	return nil
}

// Free releases the map. The CM is empty afterwards.
func (cm *CM) Free() {
	if cm.handle != nil {
		cm.handle.Release()
	}
	cm.handle = nil
	cm.floodNums = nil
	cm.floodValid = nil
	cm.portalOpen = nil
}

// BSP returns the loaded map or nil.
func (cm *CM) BSP() *bsp.BSP {
	return cm.handle.BSP()
}

func (cm *CM) Loaded() bool {
	return cm.handle != nil
}

func (cm *CM) Name() string {
	if b := cm.BSP(); b != nil {
		return b.Name
	}
	return ""
}

func (cm *CM) Checksum() uint32 {
	if b := cm.BSP(); b != nil {
		return b.Checksum
	}
	return 0
}

func (cm *CM) NumClusters() int {
	return cm.BSP().NumClusters()
}

func (cm *CM) NumAreas() int {
	if b := cm.BSP(); b != nil {
		return len(b.Areas)
	}
	return 0
}

func (cm *CM) NumModels() int {
	if b := cm.BSP(); b != nil {
		return len(b.Models)
	}
	return 0
}

func (cm *CM) Entities() string {
	if b := cm.BSP(); b != nil {
		return b.EntityString
	}
	return ""
}

// Headnode returns the root of the world, a null headnode without a map.
func (cm *CM) Headnode() bsp.Headnode {
	if b := cm.BSP(); b != nil {
		return b.Headnode()
	}
	return bsp.Headnode{}
}

// InlineModel resolves a "*N" brush model name.
func (cm *CM) InlineModel(name string) (*bsp.Model, error) {
	b := cm.BSP()
	if b == nil {
		return nil, &bsp.Error{Kind: bsp.ErrNotFound, Msg: name}
	}
	return b.InlineModel(name)
}

// ClusterVis decompresses the PVS or PHS row of cluster into mask.
// Without a map nothing is visible.
func (cm *CM) ClusterVis(mask []byte, cluster, vis int) []byte {
	b := cm.BSP()
	if b == nil {
		clear(mask[:bsp.VisMaxBytes])
		return mask[:bsp.VisMaxBytes]
	}
	return b.ClusterVis(mask, cluster, vis)
}

// FatPVS merges the rows of all clusters touching a 16 unit box around
// org, so visibility does not pop at cluster borders.
func (cm *CM) FatPVS(mask []byte, org vec.Vec3, vis int) []byte {
	b := cm.BSP()
	if !b.HasVis() {
		return cm.ClusterVis(mask, 0, vis)
	}
	mins := vec.Sub(org, vec.Vec3{8, 8, 8})
	maxs := vec.Add(org, vec.Vec3{8, 8, 8})
	leafs, _ := cm.BoxLeafs(mins, maxs, 64)
	if len(leafs) < 1 {
		slog.Error("FatPVS: leaf count < 1")
		return b.ClusterVis(mask, -1, vis)
	}
	clusters := make([]int, len(leafs))
	for i, l := range leafs {
		clusters[i] = l.Cluster
	}
	out := b.ClusterVis(mask, clusters[0], vis)
	temp := make([]byte, bsp.VisMaxBytes)
Next:
	for i := 1; i < len(clusters); i++ {
		for j := range i {
			if clusters[i] == clusters[j] {
				continue Next
			}
		}
		src := b.ClusterVis(temp, clusters[i], vis)
		for k := range out {
			out[k] |= src[k]
		}
	}
	return out
}

// HeadnodeVisible reports whether any leaf below h is in a cluster set in
// visbits.
func HeadnodeVisible(h bsp.Headnode, visbits []byte) bool {
	if h.IsNull() {
		return false
	}
	return headnodeVisible(h.Tree(), h.Ref(), visbits)
}

func headnodeVisible(t *bsp.Tree, r bsp.Ref, visbits []byte) bool {
	for !r.IsLeaf() {
		n := t.Node(r)
		if headnodeVisible(t, n.Children[0], visbits) {
			return true
		}
		r = n.Children[1]
	}
	cluster := t.Leaf(r).Cluster
	if cluster == -1 || cluster>>3 >= len(visbits) {
		return false
	}
	return visbits[cluster>>3]&(1<<(cluster&7)) != 0
}

func noAreas() bool {
	return cvars.MapNoAreas != nil && cvars.MapNoAreas.Bool()
}

func (cm *CM) floodArea(area, floodnum int) {
	if cm.floodValid[area] == cm.floodGen {
		if cm.floodNums[area] == floodnum {
			return
		}
		slog.Error("FloodArea_r: reflooded", slog.Int("area", area))
		return
	}
	cm.floodNums[area] = floodnum
	cm.floodValid[area] = cm.floodGen
	for _, p := range cm.BSP().Areas[area].Portals {
		if cm.portalOpen[p.PortalNum] {
			cm.floodArea(p.OtherArea, floodnum)
		}
	}
}

// FloodAreaConnections recomputes which areas can reach each other
// through open portals. Area 0 is never flooded.
func (cm *CM) FloodAreaConnections() {
	if cm.BSP() == nil {
		return
	}
	// all current floods are now invalid
	cm.floodGen++
	floodnum := 0
	for i := 1; i < len(cm.floodNums); i++ {
		if cm.floodValid[i] == cm.floodGen {
			continue
		}
		floodnum++
		cm.floodArea(i, floodnum)
	}
}

func (cm *CM) SetAreaPortalState(portalnum int, open bool) {
	if cm.BSP() == nil {
		return
	}
	if portalnum < 0 || portalnum >= len(cm.portalOpen) {
		slog.Warn("SetAreaPortalState: bad portalnum", slog.Int("portal", portalnum))
		return
	}
	cm.portalOpen[portalnum] = open
	cm.FloodAreaConnections()
}

func (cm *CM) AreasConnected(area1, area2 int) bool {
	if cm.BSP() == nil {
		return false
	}
	if noAreas() {
		return true
	}
	n := len(cm.floodNums)
	if area1 < 1 || area2 < 1 || area1 >= n || area2 >= n {
		return false
	}
	return cm.floodNums[area1] == cm.floodNums[area2]
}

// WriteAreaBits writes a bit vector of all the areas that are in the same
// flood as the area parameter and returns its length. This is used by the
// client refresh to cull visibility.
func (cm *CM) WriteAreaBits(buffer []byte, area int) int {
	if cm.BSP() == nil {
		return 0
	}
	numAreas := len(cm.floodNums)
	bytes := (numAreas + 7) >> 3
	out := buffer[:bytes]
	if noAreas() || area <= 0 || area >= numAreas {
		// for debugging, send everything
		for i := range out {
			out[i] = 0xff
		}
		return bytes
	}
	clear(out)
	floodnum := cm.floodNums[area]
	for i := range numAreas {
		if cm.floodNums[i] == floodnum {
			out[i>>3] |= 1 << (i & 7)
		}
	}
	return bytes
}

// WritePortalBits stores the open state of every portal, for save games
// and demos.
func (cm *CM) WritePortalBits(buffer []byte) int {
	if cm.BSP() == nil {
		return 0
	}
	numPortals := min(len(cm.portalOpen), len(buffer)<<3)
	bytes := (numPortals + 7) >> 3
	clear(buffer[:bytes])
	for i := range numPortals {
		if cm.portalOpen[i] {
			buffer[i>>3] |= 1 << (i & 7)
		}
	}
	return bytes
}

// SetPortalStates is the inverse of WritePortalBits. An empty buffer opens
// every portal.
func (cm *CM) SetPortalStates(buffer []byte) {
	if cm.BSP() == nil {
		return
	}
	if len(buffer) == 0 {
		for i := range cm.portalOpen {
			cm.portalOpen[i] = true
		}
	} else {
		numPortals := min(len(cm.portalOpen), len(buffer)<<3)
		for i := range numPortals {
			cm.portalOpen[i] = buffer[i>>3]&(1<<(i&7)) != 0
		}
		for i := numPortals; i < len(cm.portalOpen); i++ {
			cm.portalOpen[i] = true
		}
	}
	cm.FloodAreaConnections()
}
