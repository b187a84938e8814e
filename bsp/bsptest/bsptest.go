// SPDX-License-Identifier: GPL-2.0-or-later

// Package bsptest writes small synthetic maps for tests.
package bsptest

import (
	"bytes"
	"encoding/binary"
	"math"
)

type Plane struct {
	Normal [3]float32
	Dist   float32
}

// Node children are node indices, or ^leaf for leafs.
type Node struct {
	Plane    int
	Children [2]int32
}

type Leaf struct {
	Contents   uint32
	Cluster    int // -1 for none
	Area       int
	FirstBrush int
	NumBrushes int
}

type Brush struct {
	FirstSide int
	NumSides  int
	Contents  uint32
}

type BrushSide struct {
	Plane   int
	Texinfo int // -1 for none
}

type Texinfo struct {
	Name  string
	Flags uint32
	Value int32
}

type Model struct {
	Mins, Maxs, Origin [3]float32
	Headnode           int32
}

type Area struct {
	NumPortals  int
	FirstPortal int
}

type AreaPortal struct {
	PortalNum int
	OtherArea int
}

type XLump struct {
	Name string
	Data []byte
}

// Map is the decoded form of a map file. Bytes encodes it.
type Map struct {
	Extended    bool
	Planes      []Plane
	Nodes       []Node
	Leafs       []Leaf
	LeafBrushes []int
	Brushes     []Brush
	BrushSides  []BrushSide
	Texinfo     []Texinfo
	Models      []Model
	Areas       []Area
	AreaPortals []AreaPortal
	// uncompressed PVS rows, one per cluster; the PHS uses the same rows
	Vis      [][]byte
	Entities string
	Lighting []byte
	BSPX     []XLump
}

const numLumps = 19

// lump numbers
const (
	lumpEntities    = 0
	lumpPlanes      = 1
	lumpVisibility  = 3
	lumpNodes       = 4
	lumpTexinfo     = 5
	lumpLighting    = 7
	lumpLeafs       = 8
	lumpLeafBrushes = 10
	lumpModels      = 13
	lumpBrushes     = 14
	lumpBrushSides  = 15
	lumpAreas       = 17
	lumpAreaPortals = 18
)

type writer struct {
	bytes.Buffer
	ext bool
}

func (w *writer) long(v uint32) {
	_ = binary.Write(&w.Buffer, binary.LittleEndian, v)
}

func (w *writer) short(v uint16) {
	_ = binary.Write(&w.Buffer, binary.LittleEndian, v)
}

func (w *writer) float(f float32) {
	w.long(math.Float32bits(f))
}

func (w *writer) vector(v [3]float32) {
	for _, f := range v {
		w.float(f)
	}
}

// extLong writes a short in standard and a long in extended maps. Negative
// values become the all ones null value.
func (w *writer) extLong(v int) {
	if w.ext {
		w.long(uint32(int32(v)))
		return
	}
	w.short(uint16(int16(v)))
}

func (w *writer) zeros(n int) {
	w.Write(make([]byte, n))
}

// Compress run length encodes a PVS row the way the map compiler does.
func Compress(row []byte) []byte {
	var out []byte
	for i := 0; i < len(row); i++ {
		if row[i] != 0 {
			out = append(out, row[i])
			continue
		}
		rep := 1
		for i+1 < len(row) && row[i+1] == 0 && rep < 255 {
			rep++
			i++
		}
		out = append(out, 0, byte(rep))
	}
	return out
}

func (m *Map) lump(n int) []byte {
	w := &writer{ext: m.Extended}
	switch n {
	case lumpEntities:
		w.WriteString(m.Entities)
		if m.Entities != "" {
			w.WriteByte(0)
		}
	case lumpPlanes:
		for _, p := range m.Planes {
			w.vector(p.Normal)
			w.float(p.Dist)
			w.long(0)
		}
	case lumpVisibility:
		if len(m.Vis) == 0 {
			break
		}
		hdr := 4 + len(m.Vis)*8
		var rows [][]byte
		ofs := hdr
		w.long(uint32(len(m.Vis)))
		for _, r := range m.Vis {
			c := Compress(r)
			rows = append(rows, c)
			w.long(uint32(ofs))
			w.long(uint32(ofs))
			ofs += len(c)
		}
		for _, c := range rows {
			w.Write(c)
		}
	case lumpNodes:
		for _, nd := range m.Nodes {
			w.long(uint32(nd.Plane))
			w.long(uint32(nd.Children[0]))
			w.long(uint32(nd.Children[1]))
			if m.Extended {
				w.zeros(32)
			} else {
				w.zeros(16)
			}
		}
	case lumpTexinfo:
		for _, t := range m.Texinfo {
			w.zeros(32)
			w.long(t.Flags)
			w.long(uint32(t.Value))
			name := make([]byte, 32)
			copy(name, t.Name)
			w.Write(name)
			w.long(0xffffffff)
		}
	case lumpLighting:
		w.Write(m.Lighting)
	case lumpLeafs:
		for _, l := range m.Leafs {
			w.long(l.Contents)
			w.extLong(l.Cluster)
			w.extLong(l.Area)
			if m.Extended {
				w.zeros(32)
			} else {
				w.zeros(16)
			}
			w.extLong(l.FirstBrush)
			w.extLong(l.NumBrushes)
		}
	case lumpLeafBrushes:
		for _, b := range m.LeafBrushes {
			w.extLong(b)
		}
	case lumpModels:
		for _, md := range m.Models {
			w.vector(md.Mins)
			w.vector(md.Maxs)
			w.vector(md.Origin)
			w.long(uint32(md.Headnode))
			w.zeros(8)
		}
	case lumpBrushes:
		for _, b := range m.Brushes {
			w.long(uint32(b.FirstSide))
			w.long(uint32(b.NumSides))
			w.long(b.Contents)
		}
	case lumpBrushSides:
		for _, s := range m.BrushSides {
			w.extLong(s.Plane)
			w.extLong(s.Texinfo)
		}
	case lumpAreas:
		for _, a := range m.Areas {
			w.long(uint32(a.NumPortals))
			w.long(uint32(a.FirstPortal))
		}
	case lumpAreaPortals:
		for _, p := range m.AreaPortals {
			w.long(uint32(p.PortalNum))
			w.long(uint32(p.OtherArea))
		}
	}
	return w.Bytes()
}

// Bytes returns the map file contents.
func (m *Map) Bytes() []byte {
	out := &writer{}
	if m.Extended {
		out.WriteString("QBSP")
	} else {
		out.WriteString("IBSP")
	}
	out.long(38)
	var lumps [numLumps][]byte
	ofs := 8 + numLumps*8
	for i := range lumps {
		lumps[i] = m.lump(i)
		out.long(uint32(ofs))
		out.long(uint32(len(lumps[i])))
		ofs += len(lumps[i])
	}
	for _, l := range lumps {
		out.Write(l)
	}
	if len(m.BSPX) > 0 {
		for out.Len()%4 != 0 {
			out.WriteByte(0)
		}
		out.WriteString("BSPX")
		out.long(uint32(len(m.BSPX)))
		ofs := out.Len() + len(m.BSPX)*32
		for _, x := range m.BSPX {
			name := make([]byte, 24)
			copy(name, x.Name)
			out.Write(name)
			out.long(uint32(ofs))
			out.long(uint32(len(x.Data)))
			ofs += len(x.Data)
		}
		for _, x := range m.BSPX {
			out.Write(x.Data)
		}
	}
	return out.Bytes()
}

// TwoLeafs is the smallest useful map: one plane at x=0 splitting the
// world into the solid leaf 0 (x < 0) and the empty leaf 1, with the two
// clusters seeing each other.
func TwoLeafs() *Map {
	return &Map{
		Planes: []Plane{{Normal: [3]float32{1, 0, 0}}},
		Nodes:  []Node{{Plane: 0, Children: [2]int32{^1, ^0}}},
		Leafs: []Leaf{
			{Contents: 1, Cluster: 0, Area: 0},
			{Contents: 0, Cluster: 1, Area: 0},
		},
		Models: []Model{{Mins: [3]float32{-64, -64, -64}, Maxs: [3]float32{64, 64, 64}}},
		Areas:  []Area{{}},
		Vis:    [][]byte{{0x03}, {0x03}},
	}
}

func boxPlanes(mins, maxs [3]float32) []Plane {
	return []Plane{
		{Normal: [3]float32{-1, 0, 0}, Dist: -mins[0]},
		{Normal: [3]float32{1, 0, 0}, Dist: maxs[0]},
		{Normal: [3]float32{0, -1, 0}, Dist: -mins[1]},
		{Normal: [3]float32{0, 1, 0}, Dist: maxs[1]},
		{Normal: [3]float32{0, 0, -1}, Dist: -mins[2]},
		{Normal: [3]float32{0, 0, 1}, Dist: maxs[2]},
	}
}

// Rooms is a map with two rooms joined by a single area portal, a solid
// wall and one inline model:
//
//	x < 0        leaf 1, cluster 0, area 1
//	0 <= x < 64  leaf 2, cluster 1, area 2
//	x >= 64      leaf 3, solid brush 0 (64..128 on x, -128..128 on y and z)
//
// Areas 1 and 2 are connected through portal 1. Model *1 is a 16 unit
// solid cube around its origin. Both clusters see each other.
func Rooms() *Map {
	planes := []Plane{
		{Normal: [3]float32{1, 0, 0}, Dist: 0},
		{Normal: [3]float32{1, 0, 0}, Dist: 64},
	}
	planes = append(planes, boxPlanes([3]float32{64, -128, -128}, [3]float32{128, 128, 128})...)
	planes = append(planes, boxPlanes([3]float32{-8, -8, -8}, [3]float32{8, 8, 8})...)
	var sides []BrushSide
	for i := 2; i < 14; i++ {
		sides = append(sides, BrushSide{Plane: i, Texinfo: 0})
	}
	return &Map{
		Planes: planes,
		Nodes: []Node{
			{Plane: 0, Children: [2]int32{1, ^1}},
			{Plane: 1, Children: [2]int32{^3, ^2}},
		},
		Leafs: []Leaf{
			{Contents: 1, Cluster: -1, Area: 0},
			{Contents: 0, Cluster: 0, Area: 1},
			{Contents: 0, Cluster: 1, Area: 2},
			{Contents: 1, Cluster: -1, Area: 0, FirstBrush: 0, NumBrushes: 1},
			{Contents: 1, Cluster: -1, Area: 0, FirstBrush: 1, NumBrushes: 1},
		},
		LeafBrushes: []int{0, 1},
		Brushes: []Brush{
			{FirstSide: 0, NumSides: 6, Contents: 1},
			{FirstSide: 6, NumSides: 6, Contents: 1},
		},
		BrushSides: sides,
		Texinfo:    []Texinfo{{Name: "e1u1/wall1"}},
		Models: []Model{
			{Mins: [3]float32{-128, -128, -128}, Maxs: [3]float32{128, 128, 128}, Headnode: 0},
			{Mins: [3]float32{-8, -8, -8}, Maxs: [3]float32{8, 8, 8}, Headnode: ^4},
		},
		Areas: []Area{
			{},
			{NumPortals: 1, FirstPortal: 1},
			{NumPortals: 1, FirstPortal: 2},
		},
		AreaPortals: []AreaPortal{{}, {PortalNum: 1, OtherArea: 2}, {PortalNum: 1, OtherArea: 1}},
		Vis:         [][]byte{{0x03}, {0x03}},
		Entities: `{
"classname" "worldspawn"
"message" "two rooms"
}
{
"classname" "info_player_start"
"origin" "-32 0 0"
}
{
"classname" "func_door"
"model" "*1"
"origin" "32 0 0"
}
{
"classname" "func_areaportal"
"style" "1"
}
`,
		Lighting: make([]byte, 12),
	}
}

// LightGridLump builds a LIGHTGRID_OCTREE lump with a single leaf of
// 2x1x1 samples at the origin: the first has style 0 with the given
// color, the second is unlit.
func LightGridLump(rgb [3]byte) []byte {
	w := &writer{}
	w.vector([3]float32{32, 32, 32}) // step
	w.long(2)
	w.long(1)
	w.long(1)
	w.vector([3]float32{0, 0, 0}) // mins
	w.WriteByte(1)                // numstyles
	w.long(1 << 31)               // root is leaf 0
	w.long(0)                     // nodes
	w.long(1)                     // leafs
	w.long(0)
	w.long(0)
	w.long(0)
	w.long(2)
	w.long(1)
	w.long(1)
	w.WriteByte(1)
	w.WriteByte(0)
	w.Write(rgb[:])
	w.WriteByte(255)
	return w.Bytes()
}
