// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"slices"
)

type visPatch struct {
	checksum uint32
	clusters []int // nil matches every cluster
	bits     []int
}

// Known maps with visibility errors in their PVS data.
var visPatches = []visPatch{
	// q2dm3, pent bridge
	{0x1e5b50c5, []int{345, 384}, []int{466, 484, 692}},
	// q2dm1, above lower RL
	{0x04cfa792, []int{395}, []int{176, 183}},
	// q2dm8, CG/RG area
	{0x2c3ab9b0, []int{629, 631, 633, 639}, []int{908, 909, 910, 915, 923, 924, 927, 930, 938, 939, 947}},
	// mgu6m2, waterfall
	{0x2b2ccdd1, nil, []int{213, 214, 217}},
}

// EnableVisPatches turns the built in PVS fixups on or off for this map.
func (b *BSP) EnableVisPatches(on bool) {
	b.patchVis = on
}

// ClusterVis decompresses the PVS (vis == DVisPVS) or PHS (DVisPHS) row of
// cluster into mask, which must hold VisMaxBytes. Without vis data
// everything is visible, cluster -1 sees nothing.
func (b *BSP) ClusterVis(mask []byte, cluster int, vis int) []byte {
	if b == nil || b.vis == nil {
		for i := range mask[:VisMaxBytes] {
			mask[i] = 0xff
		}
		return mask[:VisMaxBytes]
	}
	out := mask[:b.VisRowSize]
	if cluster < 0 || cluster >= b.vis.numClusters {
		clear(out)
		return out
	}
	in := b.vis.data
	pos := int(b.vis.bitofs[cluster][vis])
	o := 0
	for o < len(out) {
		if pos >= len(in) {
			clear(out[o:])
			break
		}
		if in[pos] != 0 {
			out[o] = in[pos]
			o++
			pos++
			continue
		}
		if pos+1 >= len(in) {
			clear(out[o:])
			break
		}
		c := int(in[pos+1])
		pos += 2
		if c > len(out)-o {
			c = len(out) - o
		}
		clear(out[o : o+c])
		o += c
	}
	if b.patchVis {
		b.applyVisPatches(out, cluster)
	}
	return out
}

func (b *BSP) applyVisPatches(mask []byte, cluster int) {
	for _, p := range visPatches {
		if p.checksum != b.Checksum {
			continue
		}
		if p.clusters != nil && !slices.Contains(p.clusters, cluster) {
			return
		}
		for _, bit := range p.bits {
			if bit>>3 < len(mask) {
				mask[bit>>3] |= 1 << (bit & 7)
			}
		}
		return
	}
}
