// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"encoding/binary"
	"log/slog"
	"math"

	"goquake2/math/vec"
)

// BSP is a loaded map. It is never modified after Parse returns.
type BSP struct {
	Tree

	Name     string
	Checksum uint32
	Extended bool
	Size     int

	Texinfo     []Texinfo
	Models      []Model
	Areas       []Area
	AreaPortals []AreaPortal
	// largest portal number used plus one
	NumPortals int

	vis        *visibility
	VisRowSize int

	EntityString string
	Lightmap     []byte
	LightGrid    LightGrid
	DecoupledLM  []DecoupledLM

	// set for the visibility patches of a few known maps
	patchVis bool
}

type visibility struct {
	numClusters int
	bitofs      [][2]uint32
	data        []byte // the complete lump, bitofs are relative to it
}

// NumClusters returns the number of PVS clusters or 0 without vis data.
func (b *BSP) NumClusters() int {
	if b == nil || b.vis == nil {
		return 0
	}
	return b.vis.numClusters
}

func (b *BSP) HasVis() bool {
	return b != nil && b.vis != nil
}

// Headnode returns the world root.
func (b *BSP) Headnode() Headnode {
	return b.Models[0].Headnode
}

type lumpReader struct {
	b   []byte
	ext bool
}

func (r *lumpReader) short() uint16 {
	v := binary.LittleEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *lumpReader) long() uint32 {
	v := binary.LittleEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *lumpReader) float() float32 {
	return math.Float32frombits(r.long())
}

func (r *lumpReader) vector() vec.Vec3 {
	return vec.Vec3{r.float(), r.float(), r.float()}
}

// extLong reads a short in standard and a long in extended maps.
func (r *lumpReader) extLong() uint32 {
	if r.ext {
		return r.long()
	}
	return uint32(r.short())
}

func (r *lumpReader) extNull() uint32 {
	if r.ext {
		return math.MaxUint32
	}
	return math.MaxUint16
}

func (r *lumpReader) skip(n int) {
	r.b = r.b[n:]
}

// Parse converts the raw file contents into a BSP.
func Parse(name string, data []byte) (*BSP, error) {
	if name == "" {
		return nil, &Error{Kind: ErrNotFound}
	}
	if len(data) < headerSize {
		return nil, &Error{Kind: ErrFileTooSmall}
	}
	b := &BSP{Name: name, Size: len(data)}
	var magic [4]byte
	copy(magic[:], data)
	switch magic {
	case idMagic:
	case extMagic:
		b.Extended = true
	default:
		return nil, &Error{Kind: ErrUnknownFormat}
	}
	if binary.LittleEndian.Uint32(data[4:]) != bspVersion {
		return nil, &Error{Kind: ErrUnknownFormat}
	}

	ext := 0
	if b.Extended {
		ext = 1
	}
	filelen := uint64(len(data))
	var maxpos uint64
	readers := make([]lumpReader, len(bspLumps))
	counts := make([]int, len(bspLumps))
	for i, info := range bspLumps {
		d := data[8+info.lump*8:]
		ofs := uint64(binary.LittleEndian.Uint32(d))
		l := uint64(binary.LittleEndian.Uint32(d[4:]))
		end := ofs + l
		if end > filelen {
			return nil, invalid("%s lump out of bounds", info.name)
		}
		if l%uint64(info.diskSize[ext]) != 0 {
			return nil, invalid("%s lump has odd size", info.name)
		}
		readers[i] = lumpReader{b: data[ofs:end], ext: b.Extended}
		counts[i] = int(l) / info.diskSize[ext]
		maxpos = max(maxpos, end)
	}

	b.Checksum = BlockChecksum(data)

	for i, info := range bspLumps {
		if err := info.load(b, &readers[i], counts[i]); err != nil {
			return nil, err
		}
	}
	if err := b.validateAreaPortals(); err != nil {
		return nil, err
	}
	if err := b.validateTree(); err != nil {
		return nil, err
	}
	b.parseExtensions(data, maxpos)
	return b, nil
}

func loadVisibility(b *BSP, r *lumpReader, count int) error {
	if count == 0 {
		return nil
	}
	if count < 4 {
		return invalid("Visibility: too small header")
	}
	all := r.b
	numClusters := r.long()
	if numClusters > MaxMapClusters {
		return invalid("Visibility: too many clusters")
	}
	hdrsize := 4 + uint64(numClusters)*8
	if uint64(count) < hdrsize {
		return invalid("Visibility: too small header")
	}
	v := &visibility{
		numClusters: int(numClusters),
		bitofs:      make([][2]uint32, numClusters),
		data:        all,
	}
	for i := range v.bitofs {
		for j := range 2 {
			ofs := r.long()
			if uint64(ofs) < hdrsize || int(ofs) >= count {
				return invalid("Visibility: bad bitofs")
			}
			v.bitofs[i][j] = ofs
		}
	}
	b.vis = v
	b.VisRowSize = (int(numClusters) + 7) >> 3
	return nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func loadTexinfo(b *BSP, r *lumpReader, count int) error {
	b.Texinfo = make([]Texinfo, count)
	for i := range b.Texinfo {
		out := &b.Texinfo[i]
		// texture axis, render only
		r.skip(32)
		out.Flags = r.long()
		out.Value = int32(r.long())
		out.Name = cString(r.b[:MaxTexName])
		r.skip(MaxTexName)
		// animation chain
		r.skip(4)
	}
	return nil
}

func loadPlanes(b *BSP, r *lumpReader, count int) error {
	b.Planes = make([]Plane, count)
	for i := range b.Planes {
		p := &b.Planes[i]
		p.Normal = r.vector()
		p.Dist = r.float()
		p.SetType()
		p.SetSignBits()
		r.skip(4)
	}
	return nil
}

func loadBrushSides(b *BSP, r *lumpReader, count int) error {
	b.BrushSides = make([]BrushSide, count)
	null := r.extNull()
	for i := range b.BrushSides {
		out := &b.BrushSides[i]
		planenum := r.extLong()
		if int(planenum) >= len(b.Planes) {
			return invalid("BrushSides: bad planenum")
		}
		out.Plane = &b.Planes[planenum]
		texinfo := r.extLong()
		if texinfo == null {
			out.Texinfo = &nullTexinfo
		} else {
			if int(texinfo) >= len(b.Texinfo) {
				return invalid("BrushSides: bad texinfo")
			}
			out.Texinfo = &b.Texinfo[texinfo]
		}
	}
	return nil
}

func loadBrushes(b *BSP, r *lumpReader, count int) error {
	b.Brushes = make([]Brush, count)
	for i := range b.Brushes {
		out := &b.Brushes[i]
		first := uint64(r.long())
		num := uint64(r.long())
		if first+num > uint64(len(b.BrushSides)) {
			return invalid("Brushes: bad brushsides")
		}
		out.ID = i
		out.Sides = b.BrushSides[first : first+num : first+num]
		out.Contents = Contents(r.long())
	}
	return nil
}

func loadLeafBrushes(b *BSP, r *lumpReader, count int) error {
	b.LeafBrushes = make([]*Brush, count)
	for i := range b.LeafBrushes {
		n := r.extLong()
		if int(n) >= len(b.Brushes) {
			return invalid("LeafBrushes: bad brushnum")
		}
		b.LeafBrushes[i] = &b.Brushes[n]
	}
	return nil
}

// area portals are validated after the areas are loaded
func loadAreaPortals(b *BSP, r *lumpReader, count int) error {
	b.AreaPortals = make([]AreaPortal, count)
	for i := range b.AreaPortals {
		b.AreaPortals[i].PortalNum = int(r.long())
		b.AreaPortals[i].OtherArea = int(r.long())
	}
	return nil
}

func loadAreas(b *BSP, r *lumpReader, count int) error {
	if count > MaxMapAreas {
		return invalid("Areas: too many areas")
	}
	b.Areas = make([]Area, count)
	for i := range b.Areas {
		num := uint64(r.long())
		first := uint64(r.long())
		if first+num > uint64(len(b.AreaPortals)) {
			return invalid("Areas: bad areaportals")
		}
		b.Areas[i].Portals = b.AreaPortals[first : first+num : first+num]
	}
	return nil
}

func loadLightmap(b *BSP, r *lumpReader, count int) error {
	if count > 0 {
		b.Lightmap = r.b[:count:count]
	}
	return nil
}

func loadLeafs(b *BSP, r *lumpReader, count int) error {
	if count == 0 {
		return invalid("Leafs: map with no leafs")
	}
	null := r.extNull()
	b.Leafs = make([]Leaf, count)
	for i := range b.Leafs {
		out := &b.Leafs[i]
		out.Contents = Contents(r.long())
		cluster := r.extLong()
		switch {
		case cluster == null:
			// solid leafs use special -1 cluster
			out.Cluster = -1
		case b.vis == nil:
			// map has no vis, use 0 as a default cluster
			out.Cluster = 0
		default:
			if int(cluster) >= b.vis.numClusters {
				return invalid("Leafs: bad cluster")
			}
			out.Cluster = int(cluster)
		}
		area := r.extLong()
		if int(area) >= len(b.Areas) {
			return invalid("Leafs: bad area")
		}
		out.Area = int(area)
		// bounds and faces, render only
		if r.ext {
			r.skip(32)
		} else {
			r.skip(16)
		}
		first := uint64(r.extLong())
		num := uint64(r.extLong())
		if first+num > uint64(len(b.LeafBrushes)) {
			return invalid("Leafs: bad leafbrushes")
		}
		out.Brushes = b.LeafBrushes[first : first+num : first+num]
	}
	if b.Leafs[0].Contents != CONTENTS_SOLID {
		return invalid("Leafs: map leaf 0 is not CONTENTS_SOLID")
	}
	return nil
}

// readChild converts a disk child reference. Leafs are stored as ^index.
func (b *BSP) readChild(c uint32, numNodes int) (Ref, bool) {
	if c&(1<<31) != 0 {
		c = ^c
		if int(c) >= len(b.Leafs) {
			return 0, false
		}
		return LeafRef(int(c)), true
	}
	if int(c) >= numNodes {
		return 0, false
	}
	return NodeRef(int(c)), true
}

func loadNodes(b *BSP, r *lumpReader, count int) error {
	if count == 0 {
		return invalid("Nodes: map with no nodes")
	}
	b.Nodes = make([]Node, count)
	for i := range b.Nodes {
		out := &b.Nodes[i]
		planenum := r.long()
		if int(planenum) >= len(b.Planes) {
			return invalid("Nodes: bad planenum")
		}
		out.Plane = &b.Planes[planenum]
		for j := range 2 {
			c := r.long()
			ref, ok := b.readChild(c, count)
			if !ok {
				if c&(1<<31) != 0 {
					return invalid("Nodes: bad leafnum")
				}
				return invalid("Nodes: bad nodenum")
			}
			out.Children[j] = ref
		}
		if r.ext {
			r.skip(32)
		} else {
			r.skip(16)
		}
	}
	return nil
}

func loadSubModels(b *BSP, r *lumpReader, count int) error {
	if count == 0 {
		return invalid("SubModels: map with no models")
	}
	if count > MaxModels-2 {
		return invalid("SubModels: too many models")
	}
	b.Models = make([]Model, count)
	for i := range b.Models {
		out := &b.Models[i]
		out.Mins = r.vector()
		out.Maxs = r.vector()
		out.Origin = r.vector()
		// spread the mins / maxs by a pixel
		for j := range 3 {
			out.Mins[j] -= 1
			out.Maxs[j] += 1
		}
		headnode := r.long()
		if headnode&(1<<31) != 0 {
			// some models have no nodes, just a leaf
			l := ^headnode
			if int(l) >= len(b.Leafs) {
				return invalid("SubModels: bad headleaf")
			}
			out.Headnode = NewHeadnode(&b.Tree, LeafRef(int(l)))
		} else {
			if int(headnode) >= len(b.Nodes) {
				return invalid("SubModels: bad headnode")
			}
			out.Headnode = NewHeadnode(&b.Tree, NodeRef(int(headnode)))
		}
		// faces, render only
		r.skip(8)
	}
	return nil
}

func loadEntString(b *BSP, r *lumpReader, count int) error {
	b.EntityString = cString(r.b[:count])
	return nil
}

// validateAreaPortals also computes the number of portals the collision
// model has to track.
func (b *BSP) validateAreaPortals() error {
	b.NumPortals = 0
	for _, p := range b.AreaPortals {
		if p.PortalNum < 0 || p.PortalNum >= len(b.AreaPortals) {
			return invalid("bad portalnum")
		}
		if p.OtherArea < 0 || p.OtherArea >= len(b.Areas) {
			return invalid("bad otherarea")
		}
		b.NumPortals = max(b.NumPortals, p.PortalNum+1)
	}
	return nil
}

type treeValidator struct {
	tree       *Tree
	nodeParent []bool
	leafParent []bool
}

func (v *treeValidator) claim(r Ref) bool {
	if r.IsLeaf() {
		if v.leafParent[r.Index()] {
			return false
		}
		v.leafParent[r.Index()] = true
		return true
	}
	if v.nodeParent[r.Index()] {
		return false
	}
	v.nodeParent[r.Index()] = true
	return true
}

// setParent walks the tree below r and fails if any node or leaf is
// reached twice.
func (v *treeValidator) setParent(r Ref) error {
	for !r.IsLeaf() {
		n := v.tree.Node(r)
		if !v.claim(n.Children[0]) {
			return &Error{Kind: ErrInfiniteLoop, Msg: "cycle encountered"}
		}
		if err := v.setParent(n.Children[0]); err != nil {
			return err
		}
		if !v.claim(n.Children[1]) {
			return &Error{Kind: ErrInfiniteLoop, Msg: "cycle encountered"}
		}
		r = n.Children[1]
	}
	return nil
}

func (b *BSP) validateTree() error {
	v := &treeValidator{
		tree:       &b.Tree,
		nodeParent: make([]bool, len(b.Nodes)),
		leafParent: make([]bool, len(b.Leafs)),
	}
	for i, m := range b.Models {
		if i == 0 && (m.Headnode.Ref().IsLeaf() || m.Headnode.Ref() != 0) {
			return invalid("map model 0 headnode is not the first node")
		}
		if err := v.setParent(m.Headnode.Ref()); err != nil {
			slog.Debug("BSP tree validation failed", slog.String("map", b.Name), slog.Int("model", i))
			return err
		}
	}
	return nil
}
