// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"encoding/binary"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goquake2/bsp/bsptest"
	"goquake2/math/vec"
)

func TestTwoLeafs(t *testing.T) {
	b, err := Parse("maps/two.bsp", bsptest.TwoLeafs().Bytes())
	require.NoError(t, err)

	h := b.Headnode()
	assert.Equal(t, 0, h.LeafIndex(vec.Vec3{-1, 0, 0}))
	assert.Equal(t, 1, h.LeafIndex(vec.Vec3{1, 0, 0}))
	assert.Equal(t, CONTENTS_SOLID, h.PointLeaf(vec.Vec3{-1, 0, 0}).Contents)

	assert.Equal(t, 2, b.NumClusters())
	row := b.ClusterVis(make([]byte, VisMaxBytes), 0, DVisPVS)
	require.Len(t, row, 1)
	assert.NotZero(t, row[0]&(1<<1))
	// every cluster sees itself
	for c := range b.NumClusters() {
		row := b.ClusterVis(make([]byte, VisMaxBytes), c, DVisPVS)
		assert.NotZero(t, row[c>>3]&(1<<(c&7)), "cluster %d", c)
	}
}

func TestRooms(t *testing.T) {
	m := bsptest.Rooms()
	m.BSPX = []bsptest.XLump{{Name: "LIGHTGRID_OCTREE", Data: bsptest.LightGridLump([3]byte{10, 20, 30})}}
	b, err := Parse("maps/rooms.bsp", m.Bytes())
	require.NoError(t, err)

	assert.Len(t, b.Leafs, 5)
	assert.Len(t, b.Models, 2)
	assert.Equal(t, 2, b.NumPortals)
	assert.Len(t, b.Areas[1].Portals, 1)
	assert.Equal(t, 2, b.Areas[1].Portals[0].OtherArea)
	assert.Equal(t, "e1u1/wall1", b.Brushes[0].Sides[0].Texinfo.Name)
	assert.Len(t, b.Leafs[3].Brushes, 1)
	assert.Same(t, &b.Brushes[0], b.Leafs[3].Brushes[0])

	// the models are spread by a unit
	assert.Equal(t, vec.Vec3{-9, -9, -9}, b.Models[1].Mins)
	mdl, err := b.InlineModel("*1")
	require.NoError(t, err)
	assert.True(t, mdl.Headnode.Ref().IsLeaf())
	assert.Equal(t, 4, mdl.Headnode.Ref().Index())
	_, err = b.InlineModel("*0")
	assert.Error(t, err)
	_, err = b.InlineModel("*2")
	assert.Error(t, err)

	ents := ParseEntities(b.EntityString)
	require.Len(t, ents, 4)
	cn, _ := ents[2].Name()
	assert.Equal(t, "func_door", cn)

	require.True(t, b.LightGrid.Loaded())
	s := b.LightGrid.SampleAt(vec.Vec3{1, 1, 1})
	require.Len(t, s, 1)
	assert.Equal(t, LightGridSample{Style: 0, RGB: [3]byte{10, 20, 30}}, s[0])
	s = b.LightGrid.SampleAt(vec.Vec3{40, 0, 0})
	require.Len(t, s, 1)
	assert.Equal(t, byte(255), s[0].Style)
	assert.Nil(t, b.LightGrid.SampleAt(vec.Vec3{100, 0, 0}))
}

func TestExtended(t *testing.T) {
	m := bsptest.Rooms()
	m.Extended = true
	b, err := Parse("maps/rooms.bsp", m.Bytes())
	require.NoError(t, err)
	assert.True(t, b.Extended)
	assert.Equal(t, -1, b.Leafs[3].Cluster)
	assert.Len(t, b.Leafs[4].Brushes, 1)
}

func TestLightGridNeedsLightmap(t *testing.T) {
	m := bsptest.Rooms()
	m.Lighting = nil
	m.BSPX = []bsptest.XLump{{Name: "LIGHTGRID_OCTREE", Data: bsptest.LightGridLump([3]byte{1, 2, 3})}}
	b, err := Parse("maps/rooms.bsp", m.Bytes())
	require.NoError(t, err)
	assert.False(t, b.LightGrid.Loaded())
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(m *bsptest.Map)
		raw    func(d []byte) []byte
		kind   ErrorKind
		msg    string
	}{
		{
			name: "too small",
			raw:  func(d []byte) []byte { return d[:20] },
			kind: ErrFileTooSmall,
		}, {
			name: "magic",
			raw:  func(d []byte) []byte { d[0] = 'X'; return d },
			kind: ErrUnknownFormat,
		}, {
			name: "version",
			raw:  func(d []byte) []byte { d[4] = 37; return d },
			kind: ErrUnknownFormat,
		}, {
			name: "lump out of bounds",
			raw: func(d []byte) []byte {
				binary.LittleEndian.PutUint32(d[8+8*LumpPlanes+4:], 1<<20)
				return d
			},
			kind: ErrInvalidFormat,
			msg:  "Planes lump out of bounds",
		}, {
			name: "odd size",
			raw: func(d []byte) []byte {
				binary.LittleEndian.PutUint32(d[8+8*LumpPlanes+4:], 19)
				return d
			},
			kind: ErrInvalidFormat,
			msg:  "Planes lump has odd size",
		}, {
			name:   "leaf 0 not solid",
			modify: func(m *bsptest.Map) { m.Leafs[0].Contents = 0 },
			kind:   ErrInvalidFormat,
			msg:    "Leafs: map leaf 0 is not CONTENTS_SOLID",
		}, {
			name:   "bad cluster",
			modify: func(m *bsptest.Map) { m.Leafs[1].Cluster = 7 },
			kind:   ErrInvalidFormat,
			msg:    "Leafs: bad cluster",
		}, {
			name:   "bad leafnum",
			modify: func(m *bsptest.Map) { m.Nodes[1].Children[0] = ^9 },
			kind:   ErrInvalidFormat,
			msg:    "Nodes: bad leafnum",
		}, {
			name:   "bad portal",
			modify: func(m *bsptest.Map) { m.AreaPortals[1].OtherArea = 5 },
			kind:   ErrInvalidFormat,
			msg:    "bad otherarea",
		}, {
			name:   "shared child",
			modify: func(m *bsptest.Map) { m.Nodes[1].Children[1] = ^1 },
			kind:   ErrInfiniteLoop,
			msg:    "cycle encountered",
		}, {
			name:   "node loop",
			modify: func(m *bsptest.Map) { m.Nodes[1].Children[0] = 0 },
			kind:   ErrInfiniteLoop,
		}, {
			name:   "world not on node 0",
			modify: func(m *bsptest.Map) { m.Models[0].Headnode = 1 },
			kind:   ErrInvalidFormat,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := bsptest.Rooms()
			if tc.modify != nil {
				tc.modify(m)
			}
			d := m.Bytes()
			if tc.raw != nil {
				d = tc.raw(d)
			}
			_, err := Parse("maps/bad.bsp", d)
			require.Error(t, err)
			assert.True(t, IsKind(err, tc.kind), "got %v", err)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, ErrorString(err))
			}
		})
	}
}

func TestCache(t *testing.T) {
	reads := 0
	files := map[string][]byte{"maps/rooms.bsp": bsptest.Rooms().Bytes()}
	c := NewCache(func(name string) ([]byte, error) {
		reads++
		d, ok := files[name]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return d, nil
	})
	c.PatchVis = func() bool { return true }

	h1, err := c.Acquire("maps/rooms.bsp")
	require.NoError(t, err)
	h2, err := c.Acquire("MAPS/rooms.bsp")
	require.NoError(t, err)
	assert.Equal(t, 1, reads)
	assert.Same(t, h1.BSP(), h2.BSP())
	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, 2, c.Refs("maps/rooms.bsp"))

	h1.Release()
	h1.Release()
	assert.Equal(t, 1, c.Refs("maps/rooms.bsp"))
	h2.Release()
	assert.Equal(t, 0, c.Refs("maps/rooms.bsp"))

	_, err = c.Acquire("maps/rooms.bsp")
	require.NoError(t, err)
	assert.Equal(t, 2, reads)

	_, err = c.Acquire("maps/missing.bsp")
	assert.True(t, IsKind(err, ErrNotFound))
	assert.Equal(t, "No such file or directory", ErrorString(err))
}
