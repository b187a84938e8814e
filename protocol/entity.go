// SPDX-License-Identifier: GPL-2.0-or-later

package protocol

import (
	qmath "goquake2/math"
	"goquake2/math/vec"
	"goquake2/net"
)

// entity_state_t communication
const (
	// first byte
	U_ORIGIN1   = 1 << 0
	U_ORIGIN2   = 1 << 1
	U_ANGLE2    = 1 << 2
	U_ANGLE3    = 1 << 3
	U_FRAME8    = 1 << 4 // frame is a byte
	U_EVENT     = 1 << 5
	U_REMOVE    = 1 << 6 // REMOVE this entity, don't add it
	U_MOREBITS1 = 1 << 7 // read one additional byte

	// second byte
	U_NUMBER16  = 1 << 8 // NUMBER8 is implicit if not set
	U_ORIGIN3   = 1 << 9
	U_ANGLE1    = 1 << 10
	U_MODEL     = 1 << 11
	U_RENDERFX8 = 1 << 12 // fullbright, etc
	U_EFFECTS8  = 1 << 14 // autorotate, trails, etc
	U_MOREBITS2 = 1 << 15 // read one additional byte

	// third byte
	U_SKIN8      = 1 << 16
	U_FRAME16    = 1 << 17 // frame is a short
	U_RENDERFX16 = 1 << 18 // 8 + 16 = 32
	U_EFFECTS16  = 1 << 19 // 8 + 16 = 32
	U_MODEL2     = 1 << 20 // weapons, flags, etc
	U_MODEL3     = 1 << 21
	U_MODEL4     = 1 << 22
	U_MOREBITS3  = 1 << 23 // read one additional byte

	// fourth byte
	U_OLDORIGIN = 1 << 24
	U_SKIN16    = 1 << 25
	U_SOUND     = 1 << 26
	U_SOLID     = 1 << 27
)

// RenderFX bits the protocol looks at.
const (
	RF_BEAM = 128
)

// EntityState is the part of an entity the clients see, in wire precision.
// Origins are in 1/8 units, angles in 1/256 of a turn.
type EntityState struct {
	Number     int
	Origin     [3]int16
	Angles     [3]uint8
	OldOrigin  [3]int16
	ModelIndex [4]uint8
	Frame      uint16
	Skin       uint32
	Effects    uint32
	RenderFX   uint32
	Solid      uint16
	Sound      uint8
	Event      uint8
}

// PackOrigin stores o with wire precision.
func PackOrigin(o vec.Vec3) [3]int16 {
	return [3]int16{qmath.CoordToShort(o[0]), qmath.CoordToShort(o[1]), qmath.CoordToShort(o[2])}
}

// UnpackOrigin is the inverse of PackOrigin.
func UnpackOrigin(p [3]int16) vec.Vec3 {
	return vec.Vec3{qmath.ShortToCoord(p[0]), qmath.ShortToCoord(p[1]), qmath.ShortToCoord(p[2])}
}

func (s *EntityState) SetOrigin(o vec.Vec3) {
	s.Origin = PackOrigin(o)
}

func (s *EntityState) SetOldOrigin(o vec.Vec3) {
	s.OldOrigin = PackOrigin(o)
}

func (s *EntityState) SetAngles(a vec.Vec3) {
	s.Angles = [3]uint8{qmath.AngleToByte(a[0]), qmath.AngleToByte(a[1]), qmath.AngleToByte(a[2])}
}

func (s *EntityState) OriginVec() vec.Vec3 {
	return UnpackOrigin(s.Origin)
}

func (s *EntityState) AnglesVec() vec.Vec3 {
	return vec.Vec3{qmath.ByteToAngle(s.Angles[0]), qmath.ByteToAngle(s.Angles[1]), qmath.ByteToAngle(s.Angles[2])}
}

// EntityFlags change how WriteDeltaEntity encodes a record.
type EntityFlags int

const (
	// EsForce writes the header even if nothing changed.
	EsForce EntityFlags = 1 << iota
	// EsNewEntity marks an entity that was not in the old frame. Its
	// old origin is always sent.
	EsNewEntity
)

func deltaBits32(to, from uint32, b8, b16 int) int {
	if to == from {
		return 0
	}
	switch {
	case to&0xffff0000 != 0:
		return b8 | b16
	case to&0x0000ff00 != 0:
		return b16
	default:
		return b8
	}
}

// EntityBits computes the U_* bits needed to go from from to to.
func EntityBits(from, to *EntityState, flags EntityFlags) int {
	bits := 0
	if to.Origin[0] != from.Origin[0] {
		bits |= U_ORIGIN1
	}
	if to.Origin[1] != from.Origin[1] {
		bits |= U_ORIGIN2
	}
	if to.Origin[2] != from.Origin[2] {
		bits |= U_ORIGIN3
	}
	if to.Angles[0] != from.Angles[0] {
		bits |= U_ANGLE1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= U_ANGLE2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= U_ANGLE3
	}

	bits |= deltaBits32(to.Skin, from.Skin, U_SKIN8, U_SKIN16)
	bits |= deltaBits32(to.Effects, from.Effects, U_EFFECTS8, U_EFFECTS16)
	bits |= deltaBits32(to.RenderFX, from.RenderFX, U_RENDERFX8, U_RENDERFX16)

	if to.Frame != from.Frame {
		if to.Frame&0xff00 != 0 {
			bits |= U_FRAME16
		} else {
			bits |= U_FRAME8
		}
	}
	if to.Solid != from.Solid {
		bits |= U_SOLID
	}
	// events are not delta compressed, just 0 compressed
	if to.Event != 0 {
		bits |= U_EVENT
	}
	if to.ModelIndex[0] != from.ModelIndex[0] {
		bits |= U_MODEL
	}
	if to.ModelIndex[1] != from.ModelIndex[1] {
		bits |= U_MODEL2
	}
	if to.ModelIndex[2] != from.ModelIndex[2] {
		bits |= U_MODEL3
	}
	if to.ModelIndex[3] != from.ModelIndex[3] {
		bits |= U_MODEL4
	}
	if to.Sound != from.Sound {
		bits |= U_SOUND
	}
	if to.OldOrigin != from.OldOrigin || to.RenderFX&RF_BEAM != 0 ||
		(flags&EsNewEntity != 0 && to.OldOrigin != to.Origin) {
		bits |= U_OLDORIGIN
	}
	return bits
}

func writeEntityHeader(msg *net.Message, bits, number int) {
	if number&0xff00 != 0 {
		bits |= U_NUMBER16
	}
	switch {
	case bits&0xff000000 != 0:
		bits |= U_MOREBITS3 | U_MOREBITS2 | U_MOREBITS1
	case bits&0x00ff0000 != 0:
		bits |= U_MOREBITS2 | U_MOREBITS1
	case bits&0x0000ff00 != 0:
		bits |= U_MOREBITS1
	}

	msg.WriteByte(bits & 255)
	if bits&U_MOREBITS1 != 0 {
		msg.WriteByte((bits >> 8) & 255)
	}
	if bits&U_MOREBITS2 != 0 {
		msg.WriteByte((bits >> 16) & 255)
	}
	if bits&U_MOREBITS3 != 0 {
		msg.WriteByte((bits >> 24) & 255)
	}

	if bits&U_NUMBER16 != 0 {
		msg.WriteShort(number)
	} else {
		msg.WriteByte(number)
	}
}

func writeBits32(msg *net.Message, v uint32, bits, b8, b16 int) {
	switch {
	case bits&(b8|b16) == b8|b16:
		msg.WriteLong(int(v))
	case bits&b8 != 0:
		msg.WriteByte(int(v))
	case bits&b16 != 0:
		msg.WriteShort(int(v))
	}
}

// WriteDeltaEntity writes the changes from from to to. A nil to removes
// the entity with number from.Number. Nothing is written if nothing
// changed, unless EsForce is given.
func WriteDeltaEntity(msg *net.Message, from, to *EntityState, flags EntityFlags) {
	if to == nil {
		writeEntityHeader(msg, U_REMOVE, from.Number)
		return
	}
	if to.Number < 1 || to.Number >= MaxEdicts {
		panic("WriteDeltaEntity: bad entity number")
	}

	bits := EntityBits(from, to, flags)
	if bits == 0 && flags&EsForce == 0 {
		return // nothing to send
	}
	writeEntityHeader(msg, bits, to.Number)

	if bits&U_MODEL != 0 {
		msg.WriteByte(int(to.ModelIndex[0]))
	}
	if bits&U_MODEL2 != 0 {
		msg.WriteByte(int(to.ModelIndex[1]))
	}
	if bits&U_MODEL3 != 0 {
		msg.WriteByte(int(to.ModelIndex[2]))
	}
	if bits&U_MODEL4 != 0 {
		msg.WriteByte(int(to.ModelIndex[3]))
	}

	if bits&U_FRAME8 != 0 {
		msg.WriteByte(int(to.Frame))
	} else if bits&U_FRAME16 != 0 {
		msg.WriteShort(int(to.Frame))
	}

	writeBits32(msg, to.Skin, bits, U_SKIN8, U_SKIN16)
	writeBits32(msg, to.Effects, bits, U_EFFECTS8, U_EFFECTS16)
	writeBits32(msg, to.RenderFX, bits, U_RENDERFX8, U_RENDERFX16)

	if bits&U_ORIGIN1 != 0 {
		msg.WriteShort(int(to.Origin[0]))
	}
	if bits&U_ORIGIN2 != 0 {
		msg.WriteShort(int(to.Origin[1]))
	}
	if bits&U_ORIGIN3 != 0 {
		msg.WriteShort(int(to.Origin[2]))
	}

	if bits&U_ANGLE1 != 0 {
		msg.WriteByte(int(to.Angles[0]))
	}
	if bits&U_ANGLE2 != 0 {
		msg.WriteByte(int(to.Angles[1]))
	}
	if bits&U_ANGLE3 != 0 {
		msg.WriteByte(int(to.Angles[2]))
	}

	if bits&U_OLDORIGIN != 0 {
		msg.WriteShort(int(to.OldOrigin[0]))
		msg.WriteShort(int(to.OldOrigin[1]))
		msg.WriteShort(int(to.OldOrigin[2]))
	}

	if bits&U_SOUND != 0 {
		msg.WriteByte(int(to.Sound))
	}
	if bits&U_EVENT != 0 {
		msg.WriteByte(int(to.Event))
	}
	if bits&U_SOLID != 0 {
		msg.WriteShort(int(to.Solid))
	}
}

// ReadEntityBits reads the header of an entity record. A zero number with
// no error marks the end of a packet entities list.
func ReadEntityBits(r *net.Reader) (bits, number int) {
	bits = r.ReadUint8()
	if bits&U_MOREBITS1 != 0 {
		bits |= r.ReadUint8() << 8
	}
	if bits&U_MOREBITS2 != 0 {
		bits |= r.ReadUint8() << 16
	}
	if bits&U_MOREBITS3 != 0 {
		bits |= r.ReadUint8() << 24
	}
	if bits&U_NUMBER16 != 0 {
		number = r.ReadWord()
	} else {
		number = r.ReadUint8()
	}
	return bits, number
}

func readBits32(r *net.Reader, v uint32, bits, b8, b16 int) uint32 {
	switch {
	case bits&(b8|b16) == b8|b16:
		return uint32(r.ReadLong())
	case bits&b8 != 0:
		return uint32(r.ReadUint8())
	case bits&b16 != 0:
		return uint32(r.ReadWord())
	}
	return v
}

// ReadDeltaEntity applies the fields announced by bits on top of from.
// The event is cleared unless it was sent.
func ReadDeltaEntity(r *net.Reader, from *EntityState, number, bits int) EntityState {
	to := *from
	to.Number = number
	to.Event = 0

	if bits&U_MODEL != 0 {
		to.ModelIndex[0] = uint8(r.ReadUint8())
	}
	if bits&U_MODEL2 != 0 {
		to.ModelIndex[1] = uint8(r.ReadUint8())
	}
	if bits&U_MODEL3 != 0 {
		to.ModelIndex[2] = uint8(r.ReadUint8())
	}
	if bits&U_MODEL4 != 0 {
		to.ModelIndex[3] = uint8(r.ReadUint8())
	}

	if bits&U_FRAME8 != 0 {
		to.Frame = uint16(r.ReadUint8())
	}
	if bits&U_FRAME16 != 0 {
		to.Frame = uint16(r.ReadWord())
	}

	to.Skin = readBits32(r, to.Skin, bits, U_SKIN8, U_SKIN16)
	to.Effects = readBits32(r, to.Effects, bits, U_EFFECTS8, U_EFFECTS16)
	to.RenderFX = readBits32(r, to.RenderFX, bits, U_RENDERFX8, U_RENDERFX16)

	if bits&U_ORIGIN1 != 0 {
		to.Origin[0] = int16(r.ReadShort())
	}
	if bits&U_ORIGIN2 != 0 {
		to.Origin[1] = int16(r.ReadShort())
	}
	if bits&U_ORIGIN3 != 0 {
		to.Origin[2] = int16(r.ReadShort())
	}

	if bits&U_ANGLE1 != 0 {
		to.Angles[0] = uint8(r.ReadUint8())
	}
	if bits&U_ANGLE2 != 0 {
		to.Angles[1] = uint8(r.ReadUint8())
	}
	if bits&U_ANGLE3 != 0 {
		to.Angles[2] = uint8(r.ReadUint8())
	}

	if bits&U_OLDORIGIN != 0 {
		to.OldOrigin[0] = int16(r.ReadShort())
		to.OldOrigin[1] = int16(r.ReadShort())
		to.OldOrigin[2] = int16(r.ReadShort())
	}

	if bits&U_SOUND != 0 {
		to.Sound = uint8(r.ReadUint8())
	}
	if bits&U_EVENT != 0 {
		to.Event = uint8(r.ReadUint8())
	}
	if bits&U_SOLID != 0 {
		to.Solid = uint16(r.ReadWord())
	}
	return to
}

// SolidBSP is the packed solid of inline models. Clients look up their
// shape from the model index.
const SolidBSP = 31

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// PackSolid encodes a box symmetric in x and y for client side
// prediction: x/y extent, how far it reaches down and how far up.
func PackSolid(mins, maxs vec.Vec3) uint16 {
	i := clampInt(int(maxs[0]/8), 1, 31)
	j := clampInt(int(-mins[2]/8), 1, 31)
	k := clampInt(int((maxs[2]+32)/8), 1, 63)
	return uint16(k<<10 | j<<5 | i)
}

// UnpackSolid is the inverse of PackSolid.
func UnpackSolid(s uint16) (mins, maxs vec.Vec3) {
	x := float32(8 * (s & 31))
	zd := float32(8 * ((s >> 5) & 31))
	zu := float32(8*((s>>10)&63)) - 32
	return vec.Vec3{-x, -x, -zd}, vec.Vec3{x, x, zu}
}
