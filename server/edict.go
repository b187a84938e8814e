// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"strconv"
	"strings"

	"goquake2/bsp"
	"goquake2/math/vec"
	"goquake2/protocol"
)

type Solid int

const (
	SolidNot     Solid = iota // no interaction with other objects
	SolidTrigger              // only touch when inside, after moving
	SolidBBox                 // touch on edge
	SolidBSP                  // bsp clip, touch on edge
)

// edict->svflags
const (
	SVF_NOCLIENT    = 1 << 0 // don't send entity to clients, even if it has effects
	SVF_DEADMONSTER = 1 << 1 // treat as CONTENTS_DEADMONSTER for collision
	SVF_MONSTER     = 1 << 2 // treat as CONTENTS_MONSTER for collision
)

const (
	maxEntClusters   = 16
	maxTotalEntLeafs = 128
)

// Edict is a server side entity. The part clients see is S.
type Edict struct {
	S         protocol.EntityState
	InUse     bool
	ClassName string
	Model     string

	Origin vec.Vec3
	Angles vec.Vec3
	Mins   vec.Vec3
	Maxs   vec.Vec3
	AbsMin vec.Vec3
	AbsMax vec.Vec3
	Size   vec.Vec3

	Solid   Solid
	SvFlags int
	Owner   *Edict
	Client  *Client

	// set by linkEdict
	linked      bool
	node        *areaNode
	linkCount   int
	numClusters int // -1 if headnode is used instead
	clusters    [maxEntClusters]int
	headnode    bsp.Headnode
	areanum     int
	areanum2    int

	bmodel    bsp.Headnode // inline model for SolidBSP
	spawnArgs *bsp.Entity
}

func (e *Edict) Index() int {
	return e.S.Number
}

func (e *Edict) Linked() bool {
	return e.linked
}

// spawnFunc fills in an edict from its map entity. It returns false if
// the entity should be freed again.
type spawnFunc func(s *Server, e *Edict) bool

var spawnFuncs = map[string]spawnFunc{
	"worldspawn":             spawnWorld,
	"info_player_start":      spawnPlayerStart,
	"info_player_deathmatch": spawnPlayerStart,
	"func_areaportal":        spawnAreaPortal,
	"func_door":              spawnBrushModel,
	"func_wall":              spawnBrushModel,
	"func_plat":              spawnBrushModel,
	"func_rotating":          spawnBrushModel,
	"misc_model":             spawnMiscModel,
	"light":                  nil,
}

func spawnWorld(s *Server, e *Edict) bool {
	if msg, ok := e.spawnArgs.Property("message"); ok {
		s.setConfigString(protocol.CsName, msg)
	}
	if sky, ok := e.spawnArgs.Property("sky"); ok {
		s.setConfigString(protocol.CsSky, sky)
	}
	return true
}

func spawnPlayerStart(s *Server, e *Edict) bool {
	s.spawnPoints = append(s.spawnPoints, spawnPoint{origin: e.Origin, angles: e.Angles})
	return false
}

func spawnAreaPortal(s *Server, e *Edict) bool {
	style, ok := e.spawnArgs.Property("style")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(style)
	if err != nil {
		return false
	}
	// portals start closed, doors open them
	s.cm.SetAreaPortalState(n, false)
	return false
}

func spawnBrushModel(s *Server, e *Edict) bool {
	if !strings.HasPrefix(e.Model, "*") {
		return false
	}
	if err := s.setModel(e, e.Model); err != nil {
		return false
	}
	e.Solid = SolidBSP
	s.linkEdict(e)
	return true
}

func spawnMiscModel(s *Server, e *Edict) bool {
	if e.Model == "" {
		return false
	}
	e.S.ModelIndex[0] = uint8(s.modelIndex(e.Model))
	e.Mins = vec.Vec3{-16, -16, -16}
	e.Maxs = vec.Vec3{16, 16, 16}
	e.Solid = SolidBBox
	s.linkEdict(e)
	return true
}

// spawnEntities creates the edicts of the map entity string. The first
// entity has to be the worldspawn.
func (s *Server) spawnEntities(entities string) {
	for i, ent := range bsp.ParseEntities(entities) {
		classname, _ := ent.Name()
		var e *Edict
		if i == 0 {
			if classname != "worldspawn" {
				s.log.Warn("first entity is not worldspawn", "classname", classname)
			}
			e = &s.edicts[0]
			e.InUse = true
		} else {
			e = s.spawn()
			if e == nil {
				s.log.Warn("no free edicts")
				return
			}
		}
		e.ClassName = classname
		e.spawnArgs = ent
		if o, ok := ent.Vector("origin"); ok {
			e.Origin = o
		}
		if a, ok := ent.Vector("angles"); ok {
			e.Angles = a
		} else if a, ok := ent.Float("angle"); ok {
			e.Angles = vec.Vec3{0, a, 0}
		}
		e.Model, _ = ent.Property("model")

		f, known := spawnFuncs[classname]
		if !known {
			s.log.Debug("no spawn function", "classname", classname)
		}
		if i == 0 {
			spawnWorld(s, e)
			continue
		}
		if f == nil || !f(s, e) {
			s.free(e)
		}
	}
}

// spawn returns a free edict after the client slots.
func (s *Server) spawn() *Edict {
	for i := s.maxClients + 1; i < len(s.edicts); i++ {
		e := &s.edicts[i]
		if !e.InUse {
			s.initEdict(e, i)
			if i >= s.numEdicts {
				s.numEdicts = i + 1
			}
			return e
		}
	}
	return nil
}

func (s *Server) initEdict(e *Edict, i int) {
	*e = Edict{InUse: true}
	e.S.Number = i
}

func (s *Server) free(e *Edict) {
	s.unlinkEdict(e)
	n := e.S.Number
	*e = Edict{}
	e.S.Number = n
}

// setModel sets the model index and for inline models the bounds.
func (s *Server) setModel(e *Edict, name string) error {
	e.S.ModelIndex[0] = uint8(s.modelIndex(name))
	if strings.HasPrefix(name, "*") {
		m, err := s.cm.InlineModel(name)
		if err != nil {
			return err
		}
		e.Mins = m.Mins
		e.Maxs = m.Maxs
		e.bmodel = m.Headnode
	}
	return nil
}
