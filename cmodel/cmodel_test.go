// SPDX-License-Identifier: GPL-2.0-or-later

package cmodel

import (
	"io/fs"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goquake2/bsp"
	"goquake2/bsp/bsptest"
	"goquake2/math/vec"
)

func loadRooms(t *testing.T) *CM {
	t.Helper()
	data := bsptest.Rooms().Bytes()
	cache := bsp.NewCache(func(name string) ([]byte, error) {
		if name != "maps/rooms.bsp" {
			return nil, fs.ErrNotExist
		}
		return data, nil
	})
	cm := &CM{}
	require.NoError(t, cm.Load(cache, "maps/rooms.bsp"))
	t.Cleanup(cm.Free)
	return cm
}

func TestEmpty(t *testing.T) {
	var cm CM
	l := cm.PointLeaf(vec.Vec3{1, 2, 3})
	assert.Equal(t, -1, l.Cluster)
	l.Cluster = 5
	l.Contents = bsp.CONTENTS_SOLID
	assert.Equal(t, -1, cm.PointLeaf(vec.Vec3{}).Cluster)
	assert.Zero(t, cm.PointLeaf(vec.Vec3{}).Contents)
	assert.Zero(t, cm.PointContents(vec.Vec3{}))
	assert.Zero(t, cm.BoxContents(vec.Vec3{-1, -1, -1}, vec.Vec3{1, 1, 1}))
	tr := cm.BoxTrace(vec.Vec3{}, vec.Vec3{100, 0, 0}, vec.Vec3{}, vec.Vec3{}, bsp.MASK_SOLID)
	assert.Equal(t, float32(1), tr.Fraction)
	assert.Equal(t, vec.Vec3{100, 0, 0}, tr.EndPos)
	assert.False(t, cm.AreasConnected(1, 2))
	assert.Zero(t, cm.NumClusters())
	assert.Zero(t, cm.WriteAreaBits(make([]byte, 32), 1))
	mask := cm.FatPVS(make([]byte, bsp.VisMaxBytes), vec.Vec3{}, bsp.DVisPVS)
	for _, b := range mask {
		if b != 0 {
			t.Fatalf("empty CM sees something")
		}
	}
	_, err := cm.InlineModel("*1")
	assert.Error(t, err)
	cm.SetAreaPortalState(1, true)
	cm.Free()
}

func TestPointQueries(t *testing.T) {
	cm := loadRooms(t)
	assert.Equal(t, 0, cm.PointLeaf(vec.Vec3{-10, 0, 0}).Cluster)
	assert.Equal(t, 1, cm.PointLeaf(vec.Vec3{10, 0, 0}).Cluster)
	assert.Equal(t, 2, cm.PointLeaf(vec.Vec3{10, 0, 0}).Area)
	assert.Equal(t, bsp.CONTENTS_SOLID, cm.PointContents(vec.Vec3{100, 0, 0}))
	assert.Zero(t, cm.PointContents(vec.Vec3{-100, 0, 0}))

	leafs, top := cm.BoxLeafs(vec.Vec3{-8, -8, -8}, vec.Vec3{8, 8, 8}, 64)
	assert.Len(t, leafs, 2)
	assert.False(t, top.IsNull())
	assert.Equal(t, bsp.NodeRef(0), top.Ref())

	leafs, top = cm.BoxLeafs(vec.Vec3{-40, -8, -8}, vec.Vec3{-20, 8, 8}, 64)
	assert.Len(t, leafs, 1)
	assert.True(t, top.IsNull())

	assert.Equal(t, bsp.CONTENTS_SOLID, cm.BoxContents(vec.Vec3{50, 0, 0}, vec.Vec3{70, 0, 0}))
}

func TestTracePoint(t *testing.T) {
	cm := loadRooms(t)
	tr := cm.BoxTrace(vec.Vec3{0, 0, 0}, vec.Vec3{128, 0, 0}, vec.Vec3{}, vec.Vec3{}, bsp.MASK_SOLID)
	assert.False(t, tr.StartSolid)
	assert.InDelta(t, (64-distEpsilon)/128, tr.Fraction, 1e-5)
	assert.InDelta(t, 64-distEpsilon, tr.EndPos[0], 1e-3)
	assert.Equal(t, vec.Vec3{-1, 0, 0}, tr.Plane.Normal)
	assert.Equal(t, "e1u1/wall1", tr.Surface.Name)
	assert.Equal(t, bsp.CONTENTS_SOLID, tr.Contents)

	// water does not block
	tr = cm.BoxTrace(vec.Vec3{0, 0, 0}, vec.Vec3{128, 0, 0}, vec.Vec3{}, vec.Vec3{}, bsp.MASK_WATER)
	assert.Equal(t, float32(1), tr.Fraction)
}

func TestTraceBox(t *testing.T) {
	cm := loadRooms(t)
	mins := vec.Vec3{-16, -16, -16}
	maxs := vec.Vec3{16, 16, 16}
	tr := cm.BoxTrace(vec.Vec3{0, 0, 0}, vec.Vec3{128, 0, 0}, mins, maxs, bsp.MASK_SOLID)
	assert.InDelta(t, 48-distEpsilon, tr.EndPos[0], 1e-3)

	// position test inside the wall
	tr = cm.BoxTrace(vec.Vec3{100, 0, 0}, vec.Vec3{100, 0, 0}, vec.Vec3{}, vec.Vec3{}, bsp.MASK_SOLID)
	assert.True(t, tr.StartSolid)
	assert.True(t, tr.AllSolid)
	assert.Zero(t, tr.Fraction)

	// starting inside, getting out
	tr = cm.BoxTrace(vec.Vec3{100, 0, 0}, vec.Vec3{10, 0, 0}, vec.Vec3{}, vec.Vec3{}, bsp.MASK_SOLID)
	assert.True(t, tr.StartSolid)
	assert.False(t, tr.AllSolid)
}

func TestHeadnodeForBox(t *testing.T) {
	cm := loadRooms(t)
	h := cm.HeadnodeForBox(vec.Vec3{-8, -8, -8}, vec.Vec3{8, 8, 8})
	assert.Equal(t, bsp.CONTENTS_MONSTER, PointContents(vec.Vec3{}, h))
	assert.Zero(t, PointContents(vec.Vec3{10, 0, 0}, h))

	origin := vec.Vec3{100, 0, 0}
	tr := cm.TransformedBoxTrace(vec.Vec3{68, 0, 0}, vec.Vec3{132, 0, 0}, vec.Vec3{}, vec.Vec3{}, h, bsp.MASK_PLAYERSOLID, origin, vec.Vec3{})
	assert.InDelta(t, 92-distEpsilon, tr.EndPos[0], 1e-3)
	assert.Equal(t, bsp.CONTENTS_MONSTER, tr.Contents)
	assert.Equal(t, vec.Vec3{-1, 0, 0}, tr.Plane.Normal)

	// angles are ignored for boxes
	tr = cm.TransformedBoxTrace(vec.Vec3{68, 0, 0}, vec.Vec3{132, 0, 0}, vec.Vec3{}, vec.Vec3{}, h, bsp.MASK_PLAYERSOLID, origin, vec.Vec3{0, 45, 0})
	assert.InDelta(t, 92-distEpsilon, tr.EndPos[0], 1e-3)
}

func TestTransformedInlineModel(t *testing.T) {
	cm := loadRooms(t)
	mdl, err := cm.InlineModel("*1")
	require.NoError(t, err)
	origin := vec.Vec3{100, 0, 0}
	start := vec.Vec3{80, 0, 0}
	end := vec.Vec3{120, 0, 0}

	tr := cm.TransformedBoxTrace(start, end, vec.Vec3{}, vec.Vec3{}, mdl.Headnode, bsp.MASK_SOLID, origin, vec.Vec3{})
	assert.InDelta(t, 92-distEpsilon, tr.EndPos[0], 1e-3)

	tr = cm.TransformedBoxTrace(start, end, vec.Vec3{}, vec.Vec3{}, mdl.Headnode, bsp.MASK_SOLID, origin, vec.Vec3{0, 90, 0})
	assert.InDelta(t, 92-distEpsilon, tr.EndPos[0], 1e-3)
	assert.InDelta(t, -1, tr.Plane.Normal[0], 1e-4)
	assert.InDelta(t, 0, tr.Plane.Normal[1], 1e-4)
}

func TestAreaPortals(t *testing.T) {
	cm := loadRooms(t)
	buf := make([]byte, 32)

	// portals start closed
	assert.False(t, cm.AreasConnected(1, 2))
	assert.Equal(t, 1, cm.WriteAreaBits(buf, 1))
	assert.Equal(t, byte(0x02), buf[0])

	cm.SetAreaPortalState(1, true)
	assert.True(t, cm.AreasConnected(1, 2))
	assert.True(t, cm.AreasConnected(2, 1))
	cm.WriteAreaBits(buf, 1)
	assert.Equal(t, byte(0x06), buf[0])
	assert.Equal(t, 1, cm.WritePortalBits(buf))
	assert.Equal(t, byte(0x02), buf[0])

	cm.SetAreaPortalState(1, false)
	assert.False(t, cm.AreasConnected(1, 2))
	cm.SetAreaPortalState(1, true)
	assert.True(t, cm.AreasConnected(1, 2))

	cm.SetPortalStates([]byte{0})
	assert.False(t, cm.AreasConnected(1, 2))
	cm.SetPortalStates(nil)
	assert.True(t, cm.AreasConnected(1, 2))

	// area 0 is never connected
	assert.False(t, cm.AreasConnected(0, 1))
	// bad portal numbers are ignored
	cm.SetAreaPortalState(7, false)
	assert.True(t, cm.AreasConnected(1, 2))
}

func TestFatPVS(t *testing.T) {
	cm := loadRooms(t)
	for _, org := range []vec.Vec3{{-32, 0, 0}, {2, 0, 0}, {32, 0, 0}} {
		plain := cm.ClusterVis(make([]byte, bsp.VisMaxBytes), cm.PointLeaf(org).Cluster, bsp.DVisPVS)
		fat := cm.FatPVS(make([]byte, bsp.VisMaxBytes), org, bsp.DVisPVS)
		require.Len(t, fat, len(plain))
		for i := range plain {
			assert.Equal(t, plain[i], plain[i]&fat[i], "org %v", org)
		}
	}
}

func TestHeadnodeVisible(t *testing.T) {
	cm := loadRooms(t)
	assert.True(t, HeadnodeVisible(cm.Headnode(), []byte{0x01}))
	assert.True(t, HeadnodeVisible(cm.Headnode(), []byte{0x02}))
	assert.False(t, HeadnodeVisible(cm.Headnode(), []byte{0x00}))
	mdl, err := cm.InlineModel("*1")
	require.NoError(t, err)
	// solid leafs have no cluster
	assert.False(t, HeadnodeVisible(mdl.Headnode, []byte{0xff}))
	assert.False(t, HeadnodeVisible(bsp.Headnode{}, []byte{0xff}))
}

type step struct {
	node *bsp.Node
	side int
}

// leafPaths lists every root to leaf path below r.
func leafPaths(t *bsp.Tree, r bsp.Ref, path []step, out map[*bsp.Leaf][][]step) {
	if r.IsLeaf() {
		l := t.Leaf(r)
		out[l] = append(out[l], append([]step(nil), path...))
		return
	}
	n := t.Node(r)
	for side, c := range n.Children {
		leafPaths(t, c, append(path, step{n, side}), out)
	}
}

// onPath reports whether p is on the recorded side of every plane of one
// of the paths.
func onPath(paths [][]step, p vec.Vec3) bool {
	for _, path := range paths {
		ok := true
		for _, s := range path {
			d := s.node.Plane.Diff(p)
			if (s.side == 0) != (d >= 0) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func randomPoint(vals []reflect.Value, rng *rand.Rand) {
	var p vec.Vec3
	for i := range p {
		switch rng.Intn(4) {
		case 0:
			// plane coordinates of the test maps
			p[i] = float32([]int{-64, -8, 0, 8, 64, 96}[rng.Intn(6)])
		default:
			p[i] = (rng.Float32()*2 - 1) * 8192
		}
	}
	vals[0] = reflect.ValueOf(p)
}

func TestPointLeafTotal(t *testing.T) {
	cm := loadRooms(t)
	for _, h := range []bsp.Headnode{
		cm.Headnode(),
		cm.HeadnodeForBox(vec.Vec3{-8, -8, -8}, vec.Vec3{8, 8, 64}),
	} {
		paths := map[*bsp.Leaf][][]step{}
		leafPaths(h.Tree(), h.Ref(), nil, paths)
		f := func(p vec.Vec3) bool {
			l := h.PointLeaf(p)
			return l != nil && onPath(paths[l], p)
		}
		cfg := &quick.Config{MaxCount: 2000, Values: randomPoint, Rand: rand.New(rand.NewSource(1))}
		if err := quick.Check(f, cfg); err != nil {
			t.Error(err)
		}
	}
}

func TestTraceSeenBrush(t *testing.T) {
	tree := &bsp.Tree{Brushes: make([]bsp.Brush, 130)}
	for i := range tree.Brushes {
		tree.Brushes[i].ID = i
	}
	tc := &tracer{tree: tree}
	for _, id := range []int{0, 63, 64, 129} {
		assert.False(t, tc.seen(&tree.Brushes[id]), "brush %d", id)
	}
	for _, id := range []int{0, 63, 64, 129} {
		assert.True(t, tc.seen(&tree.Brushes[id]), "brush %d", id)
	}
	assert.False(t, tc.seen(&tree.Brushes[1]))
}
