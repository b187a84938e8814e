// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

const (
	bspVersion   = 38
	headerLumps  = 19
	headerSize   = 8 + headerLumps*8
	bspxMagic    = "BSPX"
	xlumpNameLen = 24
)

var (
	idMagic  = [4]byte{'I', 'B', 'S', 'P'}
	extMagic = [4]byte{'Q', 'B', 'S', 'P'}
)

// lump numbers in the header directory
const (
	LumpEntities = iota
	LumpPlanes
	LumpVertexes
	LumpVisibility
	LumpNodes
	LumpTexinfo
	LumpFaces
	LumpLighting
	LumpLeafs
	LumpLeafFaces
	LumpLeafBrushes
	LumpEdges
	LumpSurfEdges
	LumpModels
	LumpBrushes
	LumpBrushSides
	LumpPop
	LumpAreas
	LumpAreaPortals
)

const (
	MaxMapClusters = 8192
	MaxMapAreas    = 256
	MaxModels      = 256
	MaxLightmaps   = 4
	MaxTexName     = 32
	VisMaxBytes    = MaxMapClusters >> 3

	// which row of the visibility lump
	DVisPVS = 0
	DVisPHS = 1
)

type Contents uint32

const (
	CONTENTS_SOLID        Contents = 1
	CONTENTS_WINDOW       Contents = 2
	CONTENTS_AUX          Contents = 4
	CONTENTS_LAVA         Contents = 8
	CONTENTS_SLIME        Contents = 16
	CONTENTS_WATER        Contents = 32
	CONTENTS_MIST         Contents = 64
	CONTENTS_AREAPORTAL   Contents = 0x8000
	CONTENTS_PLAYERCLIP   Contents = 0x10000
	CONTENTS_MONSTERCLIP  Contents = 0x20000
	CONTENTS_CURRENT_0    Contents = 0x40000
	CONTENTS_CURRENT_90   Contents = 0x80000
	CONTENTS_CURRENT_180  Contents = 0x100000
	CONTENTS_CURRENT_270  Contents = 0x200000
	CONTENTS_CURRENT_UP   Contents = 0x400000
	CONTENTS_CURRENT_DOWN Contents = 0x800000
	CONTENTS_ORIGIN       Contents = 0x1000000
	CONTENTS_MONSTER      Contents = 0x2000000
	CONTENTS_DEADMONSTER  Contents = 0x4000000
	CONTENTS_DETAIL       Contents = 0x8000000
	CONTENTS_TRANSLUCENT  Contents = 0x10000000
	CONTENTS_LADDER       Contents = 0x20000000
	CONTENTS_PLAYER       Contents = 0x40000000
	CONTENTS_PROJECTILE   Contents = 0x80000000

	MASK_ALL          Contents = 0xffffffff
	MASK_SOLID                 = CONTENTS_SOLID | CONTENTS_WINDOW
	MASK_PLAYERSOLID           = CONTENTS_SOLID | CONTENTS_PLAYERCLIP | CONTENTS_WINDOW | CONTENTS_MONSTER
	MASK_DEADSOLID             = CONTENTS_SOLID | CONTENTS_PLAYERCLIP | CONTENTS_WINDOW
	MASK_MONSTERSOLID          = CONTENTS_SOLID | CONTENTS_MONSTERCLIP | CONTENTS_WINDOW | CONTENTS_MONSTER
	MASK_WATER                 = CONTENTS_WATER | CONTENTS_LAVA | CONTENTS_SLIME
	MASK_OPAQUE                = CONTENTS_SOLID | CONTENTS_SLIME | CONTENTS_LAVA
	MASK_SHOT                  = CONTENTS_SOLID | CONTENTS_MONSTER | CONTENTS_WINDOW | CONTENTS_DEADMONSTER
)

// texinfo surface flags
const (
	SURF_LIGHT     = 0x1
	SURF_SLICK     = 0x2
	SURF_SKY       = 0x4
	SURF_WARP      = 0x8
	SURF_TRANS33   = 0x10
	SURF_TRANS66   = 0x20
	SURF_FLOWING   = 0x40
	SURF_NODRAW    = 0x80
	SURF_ALPHATEST = 0x02000000
)

// lumpInfo describes one lump in load order. The loaders depend on the
// lumps loaded before them.
type lumpInfo struct {
	name     string
	lump     int
	diskSize [2]int // standard, extended
	load     func(b *BSP, r *lumpReader, count int) error
}

var bspLumps = []lumpInfo{
	{"Visibility", LumpVisibility, [2]int{1, 1}, loadVisibility},
	{"Texinfo", LumpTexinfo, [2]int{76, 76}, loadTexinfo},
	{"Planes", LumpPlanes, [2]int{20, 20}, loadPlanes},
	{"BrushSides", LumpBrushSides, [2]int{4, 8}, loadBrushSides},
	{"Brushes", LumpBrushes, [2]int{12, 12}, loadBrushes},
	{"LeafBrushes", LumpLeafBrushes, [2]int{2, 4}, loadLeafBrushes},
	{"AreaPortals", LumpAreaPortals, [2]int{8, 8}, loadAreaPortals},
	{"Areas", LumpAreas, [2]int{8, 8}, loadAreas},
	{"Lightmap", LumpLighting, [2]int{1, 1}, loadLightmap},
	{"Leafs", LumpLeafs, [2]int{28, 52}, loadLeafs},
	{"Nodes", LumpNodes, [2]int{28, 44}, loadNodes},
	{"SubModels", LumpModels, [2]int{48, 48}, loadSubModels},
	{"EntString", LumpEntities, [2]int{1, 1}, loadEntString},
}
