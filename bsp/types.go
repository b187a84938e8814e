// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"goquake2/math/vec"
)

// Ref addresses either a node or a leaf of a Tree. Non negative values are
// node indices, negative values are ^leafIndex.
type Ref int32

func NodeRef(i int) Ref { return Ref(i) }
func LeafRef(i int) Ref { return Ref(^int32(i)) }

func (r Ref) IsLeaf() bool { return r < 0 }

// Index returns the node or leaf index r refers to.
func (r Ref) Index() int {
	if r < 0 {
		return int(^r)
	}
	return int(r)
}

type Plane struct {
	Normal   vec.Vec3
	Dist     float32
	Type     byte
	SignBits byte
}

// Node is an internal tree node. Plane is never nil.
type Node struct {
	Plane    *Plane
	Children [2]Ref
}

type Leaf struct {
	Contents Contents
	Cluster  int
	Area     int
	Brushes  []*Brush
}

type Texinfo struct {
	Name  string
	Flags uint32
	Value int32
}

type BrushSide struct {
	Plane   *Plane
	Texinfo *Texinfo
}

type Brush struct {
	ID       int // index in Tree.Brushes
	Contents Contents
	Sides    []BrushSide
}

type Area struct {
	Portals []AreaPortal
}

type AreaPortal struct {
	PortalNum int
	OtherArea int
}

// Model is an inline (brush) model. Model 0 is the world.
type Model struct {
	Mins, Maxs vec.Vec3
	Origin     vec.Vec3
	Headnode   Headnode
}

// Tree holds the arrays a collision tree is built from. All references
// between them are resolved at load time and never change afterwards.
type Tree struct {
	Planes      []Plane
	Nodes       []Node
	Leafs       []Leaf
	Brushes     []Brush
	BrushSides  []BrushSide
	LeafBrushes []*Brush
}

func (t *Tree) Node(r Ref) *Node { return &t.Nodes[r] }
func (t *Tree) Leaf(r Ref) *Leaf { return &t.Leafs[^r] }

// nullLeaf is what queries answer when no map is loaded. Callers get a
// copy.
var nullLeaf = Leaf{Cluster: -1}

var nullTexinfo = Texinfo{}

// Headnode is the root of a (sub)tree to run queries on. The zero value
// means "no map" and every query on it yields an empty result.
type Headnode struct {
	tree *Tree
	ref  Ref
}

func NewHeadnode(t *Tree, r Ref) Headnode {
	return Headnode{tree: t, ref: r}
}

func (h Headnode) IsNull() bool { return h.tree == nil }
func (h Headnode) Tree() *Tree  { return h.tree }
func (h Headnode) Ref() Ref     { return h.ref }

// Child returns the headnode of the given child of h, which must be a node.
func (h Headnode) Child(side int) Headnode {
	return Headnode{tree: h.tree, ref: h.tree.Node(h.ref).Children[side]}
}

// PointLeaf descends the tree to the leaf containing p.
func (h Headnode) PointLeaf(p vec.Vec3) *Leaf {
	if h.tree == nil {
		l := nullLeaf
		return &l
	}
	t := h.tree
	r := h.ref
	for !r.IsLeaf() {
		n := t.Node(r)
		if n.Plane.DiffFast(p) < 0 {
			r = n.Children[1]
		} else {
			r = n.Children[0]
		}
	}
	return t.Leaf(r)
}

// LeafIndex returns the index of the leaf containing p or -1 without a map.
func (h Headnode) LeafIndex(p vec.Vec3) int {
	if h.tree == nil {
		return -1
	}
	t := h.tree
	r := h.ref
	for !r.IsLeaf() {
		n := t.Node(r)
		if n.Plane.DiffFast(p) < 0 {
			r = n.Children[1]
		} else {
			r = n.Children[0]
		}
	}
	return r.Index()
}
