// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"encoding/binary"
	"log/slog"
	"math"

	"goquake2/math/vec"
)

const (
	lightGridOccluded = 1 << 30
	lightGridLeaf     = 1 << 31
	xlumpSize         = xlumpNameLen + 8
)

type LightGridSample struct {
	Style byte
	RGB   [3]byte
}

type lightGridNode struct {
	point    [3]int32
	children [8]uint32
}

type lightGridLeaf struct {
	mins        [3]uint32
	size        [3]uint32
	numSamples  uint32
	firstSample uint32
}

// LightGrid is the octree of static light samples from the
// LIGHTGRID_OCTREE extension lump.
type LightGrid struct {
	Scale     vec.Vec3
	Mins      vec.Vec3
	Size      [3]uint32
	NumStyles int

	rootNode uint32
	nodes    []lightGridNode
	leafs    []lightGridLeaf
	samples  []LightGridSample
}

func (g *LightGrid) Loaded() bool {
	return len(g.leafs) > 0
}

// Lookup returns the NumStyles samples at a grid position or nil if the
// position is occluded or outside the grid.
func (g *LightGrid) Lookup(point [3]int32) []LightGridSample {
	if !g.Loaded() {
		return nil
	}
	nodenum := g.rootNode
	for {
		if nodenum&lightGridOccluded != 0 {
			return nil
		}
		if nodenum&lightGridLeaf != 0 {
			leaf := &g.leafs[nodenum&^lightGridLeaf]
			var pos [3]uint32
			for i := range 3 {
				pos[i] = uint32(point[i]) - leaf.mins[i]
			}
			w := leaf.size[0]
			h := leaf.size[1]
			index := w*(h*pos[2]+pos[1]) + pos[0]
			if index >= leaf.numSamples {
				return nil
			}
			first := int(leaf.firstSample) + int(index)*g.NumStyles
			return g.samples[first : first+g.NumStyles]
		}
		node := &g.nodes[nodenum]
		idx := 0
		for i := range 3 {
			if point[i] >= node.point[i] {
				idx |= 4 >> i
			}
		}
		nodenum = node.children[idx]
	}
}

// SampleAt looks up the samples for a world position.
func (g *LightGrid) SampleAt(p vec.Vec3) []LightGridSample {
	var point [3]int32
	for i := range 3 {
		point[i] = int32(math.Floor(float64((p[i] - g.Mins[i]) * g.Scale[i])))
	}
	return g.Lookup(point)
}

// DecoupledLM is one entry of the DECOUPLED_LM extension lump.
type DecoupledLM struct {
	Width, Height uint16
	Offset        uint32
	Axis          [2]vec.Vec3
	AxisOffset    [2]float32
}

type sizeReader struct {
	b   []byte
	pos int
	bad bool
}

func (s *sizeReader) remaining() int {
	return len(s.b) - s.pos
}

func (s *sizeReader) data(n int) []byte {
	if n < 0 || n > s.remaining() {
		s.bad = true
		s.pos = len(s.b)
		return nil
	}
	d := s.b[s.pos : s.pos+n]
	s.pos += n
	return d
}

func (s *sizeReader) byte() byte {
	d := s.data(1)
	if d == nil {
		return 0
	}
	return d[0]
}

func (s *sizeReader) long() uint32 {
	d := s.data(4)
	if d == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(d)
}

func (s *sizeReader) float() float32 {
	return math.Float32frombits(s.long())
}

func parseLightGrid(g *LightGrid, in []byte) bool {
	s := &sizeReader{b: in}
	for i := range 3 {
		g.Scale[i] = 1 / s.float()
	}
	for i := range 3 {
		g.Size[i] = s.long()
	}
	for i := range 3 {
		g.Mins[i] = s.float()
	}
	g.NumStyles = int(s.byte())
	if g.NumStyles-1 >= MaxLightmaps || g.NumStyles < 1 {
		return false
	}
	g.rootNode = s.long()
	numNodes := s.long()
	if uint64(numNodes) > uint64(s.remaining()/44) {
		return false
	}
	g.nodes = make([]lightGridNode, numNodes)
	for i := range g.nodes {
		n := &g.nodes[i]
		for j := range 3 {
			n.point[j] = int32(s.long())
		}
		for j := range 8 {
			n.children[j] = s.long()
		}
	}
	numLeafs := s.long()
	if numLeafs == 0 || uint64(numLeafs-1) >= uint64(s.remaining()/24) {
		return false
	}
	visited := make([]bool, numNodes)
	if !g.validate(g.rootNode, visited, uint32(numLeafs)) {
		return false
	}
	g.leafs = make([]lightGridLeaf, numLeafs)
	for i := range g.leafs {
		l := &g.leafs[i]
		for j := range 3 {
			l.mins[j] = s.long()
		}
		for j := range 3 {
			l.size[j] = s.long()
		}
		if s.bad {
			return false
		}
		n := uint64(l.size[0]) * uint64(l.size[1]) * uint64(l.size[2])
		if n > uint64(s.remaining()) {
			return false
		}
		l.numSamples = uint32(n)
		l.firstSample = uint32(len(g.samples))
		base := len(g.samples)
		for range n * uint64(g.NumStyles) {
			g.samples = append(g.samples, LightGridSample{Style: 255})
		}
		for k := range int(n) {
			numStyles := int(s.byte())
			if numStyles == 255 {
				continue
			}
			if numStyles > g.NumStyles {
				return false
			}
			d := s.data(numStyles * 4)
			if d == nil {
				return false
			}
			for j := range numStyles {
				smp := &g.samples[base+k*g.NumStyles+j]
				smp.Style = d[j*4]
				copy(smp.RGB[:], d[j*4+1:j*4+4])
			}
		}
	}
	return !s.bad
}

// validate makes sure the octree is acyclic and references only existing
// nodes and leafs.
func (g *LightGrid) validate(nodenum uint32, visited []bool, numLeafs uint32) bool {
	if nodenum&lightGridOccluded != 0 {
		return true
	}
	if nodenum&lightGridLeaf != 0 {
		return nodenum&^lightGridLeaf < numLeafs
	}
	if int(nodenum) >= len(g.nodes) {
		return false
	}
	if visited[nodenum] {
		return false
	}
	visited[nodenum] = true
	for _, c := range g.nodes[nodenum].children {
		if !g.validate(c, visited, numLeafs) {
			return false
		}
	}
	return true
}

func parseDecoupledLM(b *BSP, in []byte) {
	if len(in)%40 != 0 {
		return
	}
	s := &sizeReader{b: in}
	b.DecoupledLM = make([]DecoupledLM, len(in)/40)
	for i := range b.DecoupledLM {
		d := &b.DecoupledLM[i]
		d.Width = binary.LittleEndian.Uint16(s.data(2))
		d.Height = binary.LittleEndian.Uint16(s.data(2))
		d.Offset = s.long()
		if int(d.Offset) >= len(b.Lightmap) {
			d.Offset = math.MaxUint32
		}
		for j := range 2 {
			d.Axis[j] = vec.Vec3{s.float(), s.float(), s.float()}
			d.AxisOffset[j] = s.float()
		}
	}
}

// parseExtensions reads the optional BSPX directory that follows the last
// regular lump.
func (b *BSP) parseExtensions(data []byte, maxpos uint64) {
	filelen := uint64(len(data))
	pos := (maxpos + 3) &^ 3
	if filelen < 8 || pos > filelen-8 {
		return
	}
	if string(data[pos:pos+4]) != bspxMagic {
		return
	}
	numLumps := uint64(binary.LittleEndian.Uint32(data[pos+4:]))
	pos += 8
	if numLumps > (filelen-pos)/xlumpSize {
		slog.Warn("Bad BSPX header", slog.String("map", b.Name))
		return
	}
	seen := make(map[string]bool)
	for i := range numLumps {
		l := data[pos+i*xlumpSize:]
		name := cString(l[:xlumpNameLen])
		ofs := uint64(binary.LittleEndian.Uint32(l[xlumpNameLen:]))
		n := uint64(binary.LittleEndian.Uint32(l[xlumpNameLen+4:]))
		end := ofs + n
		if end <= ofs || end > filelen {
			continue
		}
		switch name {
		case "DECOUPLED_LM", "LIGHTGRID_OCTREE":
		default:
			continue
		}
		if seen[name] {
			slog.Warn("Duplicate BSPX lump", slog.String("map", b.Name), slog.String("lump", name))
			continue
		}
		seen[name] = true
		switch name {
		case "DECOUPLED_LM":
			parseDecoupledLM(b, data[ofs:end])
		case "LIGHTGRID_OCTREE":
			if b.Lightmap == nil {
				slog.Warn("Ignoring LIGHTGRID_OCTREE, map isn't lit", slog.String("map", b.Name))
				continue
			}
			var g LightGrid
			if !parseLightGrid(&g, data[ofs:end]) {
				slog.Warn("Bad LIGHTGRID_OCTREE lump", slog.String("map", b.Name))
				continue
			}
			b.LightGrid = g
		}
	}
}
