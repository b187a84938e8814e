// SPDX-License-Identifier: GPL-2.0-or-later

package cmodel

import (
	"goquake2/bsp"
	"goquake2/math/vec"
)

// PointLeaf returns the world leaf containing p, the null leaf without a
// map.
func (cm *CM) PointLeaf(p vec.Vec3) *bsp.Leaf {
	return cm.Headnode().PointLeaf(p)
}

// PointContents returns the contents of the leaf below headnode
// containing p.
func PointContents(p vec.Vec3, headnode bsp.Headnode) bsp.Contents {
	if headnode.IsNull() {
		return 0
	}
	return headnode.PointLeaf(p).Contents
}

func (cm *CM) PointContents(p vec.Vec3) bsp.Contents {
	return PointContents(p, cm.Headnode())
}

// TransformedPointContents handles offseted and rotated bmodels.
func (cm *CM) TransformedPointContents(p vec.Vec3, headnode bsp.Headnode, origin, angles vec.Vec3) bsp.Contents {
	// subtract origin offset
	pl := vec.Sub(p, origin)

	// rotate start and end into the models frame of reference
	if !cm.isBox(headnode) && !angles.IsZero() {
		pl = vec.AnglesToAxis(angles).Rotate(pl)
	}
	return PointContents(pl, headnode)
}

type boxLeafs struct {
	tree    *bsp.Tree
	mins    vec.Vec3
	maxs    vec.Vec3
	list    []*bsp.Leaf
	max     int
	topnode bsp.Ref
	hasTop  bool
}

func (bl *boxLeafs) walk(r bsp.Ref) {
	for {
		if r.IsLeaf() {
			if len(bl.list) >= bl.max {
				return
			}
			bl.list = append(bl.list, bl.tree.Leaf(r))
			return
		}
		node := bl.tree.Node(r)
		switch node.Plane.BoxOnPlaneSide(bl.mins, bl.maxs) {
		case 1:
			r = node.Children[0]
		case 2:
			r = node.Children[1]
		default:
			// go down both
			if !bl.hasTop {
				bl.topnode = r
				bl.hasTop = true
			}
			bl.walk(node.Children[0])
			r = node.Children[1]
		}
	}
}

// BoxLeafs returns up to maxCount leafs below headnode touched by the box.
// topnode is the first node that splits the box, a null headnode if the
// box ends up in a single leaf.
func BoxLeafs(headnode bsp.Headnode, mins, maxs vec.Vec3, maxCount int) (leafs []*bsp.Leaf, topnode bsp.Headnode) {
	if headnode.IsNull() {
		return nil, bsp.Headnode{}
	}
	bl := &boxLeafs{
		tree: headnode.Tree(),
		mins: mins,
		maxs: maxs,
		max:  maxCount,
	}
	bl.walk(headnode.Ref())
	if bl.hasTop {
		topnode = bsp.NewHeadnode(bl.tree, bl.topnode)
	}
	return bl.list, topnode
}

// BoxLeafs runs BoxLeafs against the world.
func (cm *CM) BoxLeafs(mins, maxs vec.Vec3, maxCount int) ([]*bsp.Leaf, bsp.Headnode) {
	return BoxLeafs(cm.Headnode(), mins, maxs, maxCount)
}

// BoxContents returns the union of the contents of all world leafs the box
// touches.
func (cm *CM) BoxContents(mins, maxs vec.Vec3) bsp.Contents {
	leafs, _ := cm.BoxLeafs(mins, maxs, 1024)
	var c bsp.Contents
	for _, l := range leafs {
		c |= l.Contents
	}
	return c
}

// boxHull is a tiny tree of six axial planes enclosing one brush. It lets
// entity bounding boxes be clipped with the same code as the world.
type boxHull struct {
	tree   bsp.Tree
	inited bool
}

func (bh *boxHull) init() {
	t := &bh.tree
	t.Planes = make([]bsp.Plane, 12)
	t.Nodes = make([]bsp.Node, 6)
	t.BrushSides = make([]bsp.BrushSide, 6)
	t.Brushes = []bsp.Brush{{Contents: bsp.CONTENTS_MONSTER}}
	t.LeafBrushes = []*bsp.Brush{&t.Brushes[0]}
	t.Leafs = []bsp.Leaf{
		{Contents: bsp.CONTENTS_MONSTER, Brushes: t.LeafBrushes},
		{},
	}
	const boxLeaf, emptyLeaf = 0, 1

	for i := range 6 {
		side := i & 1

		// brush sides
		t.BrushSides[i] = bsp.BrushSide{Plane: &t.Planes[i*2+side], Texinfo: &nullSurface}

		// nodes
		n := &t.Nodes[i]
		n.Plane = &t.Planes[i*2]
		n.Children[side] = bsp.LeafRef(emptyLeaf)
		if i != 5 {
			n.Children[side^1] = bsp.NodeRef(i + 1)
		} else {
			n.Children[side^1] = bsp.LeafRef(boxLeaf)
		}

		// planes
		p := &t.Planes[i*2]
		p.Type = byte(i >> 1)
		p.Normal[i>>1] = 1
		p.SetSignBits()

		p = &t.Planes[i*2+1]
		p.Normal[i>>1] = -1
		p.SetType()
		p.SetSignBits()
	}
	t.Brushes[0].Sides = t.BrushSides
	bh.inited = true
}

// HeadnodeForBox sets the box hull to the given bounds and returns its
// headnode. Every call reuses the same hull, so the result is only valid
// until the next call on this CM.
func (cm *CM) HeadnodeForBox(mins, maxs vec.Vec3) bsp.Headnode {
	bh := &cm.box
	if !bh.inited {
		bh.init()
	}
	p := bh.tree.Planes
	for a := range 3 {
		p[a*4+0].Dist = maxs[a]
		p[a*4+1].Dist = -maxs[a]
		p[a*4+2].Dist = mins[a]
		p[a*4+3].Dist = -mins[a]
	}
	return bsp.NewHeadnode(&bh.tree, bsp.NodeRef(0))
}

func (cm *CM) isBox(h bsp.Headnode) bool {
	return h.Tree() == &cm.box.tree
}
