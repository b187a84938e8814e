// SPDX-License-Identifier: GPL-2.0-or-later

package protocol

import (
	"goquake2/net"
)

// player_state_t communication
const (
	PS_M_TYPE         = 1 << 0
	PS_M_ORIGIN       = 1 << 1
	PS_M_VELOCITY     = 1 << 2
	PS_M_TIME         = 1 << 3
	PS_M_FLAGS        = 1 << 4
	PS_M_GRAVITY      = 1 << 5
	PS_M_DELTA_ANGLES = 1 << 6
	PS_VIEWOFFSET     = 1 << 7
	PS_VIEWANGLES     = 1 << 8
	PS_KICKANGLES     = 1 << 9
	PS_BLEND          = 1 << 10
	PS_FOV            = 1 << 11
	PS_WEAPONINDEX    = 1 << 12
	PS_WEAPONFRAME    = 1 << 13
	PS_RDFLAGS        = 1 << 14
)

// pmove types
const (
	PmNormal    = iota // can accelerate and turn
	PmSpectator        // flying without collision
	PmDead             // no acceleration or turning
	PmGib              // different bounding box
	PmFreeze
)

// pmove flags
const (
	PMF_DUCKED         = 1 << 0
	PMF_JUMP_HELD      = 1 << 1
	PMF_ON_GROUND      = 1 << 2
	PMF_TIME_WATERJUMP = 1 << 3
	PMF_TIME_LAND      = 1 << 4
	PMF_TIME_TELEPORT  = 1 << 5
	PMF_NO_PREDICTION  = 1 << 6 // temporarily disables prediction
)

// PMoveState is everything the client needs to predict the player, in
// wire precision: origin in 1/8 units, velocity in 1/8 units per second.
type PMoveState struct {
	Type        uint8
	Origin      [3]int16
	Velocity    [3]int16
	Flags       uint8
	Time        uint8 // each unit = 8 ms
	Gravity     int16
	DeltaAngles [3]int16 // add to command angles to get view direction
}

// PlayerState is sent every frame to the client it belongs to.
type PlayerState struct {
	PMove PMoveState

	ViewAngles [3]int16 // 16 bit angles
	ViewOffset [3]int8  // 1/4 units
	KickAngles [3]int8  // 1/4 degrees
	GunAngles  [3]int8
	GunOffset  [3]int8
	GunIndex   uint8
	GunFrame   uint8
	Blend      [4]uint8 // rgba full screen effect
	FOV        uint8
	RDFlags    uint8
	Stats      [MaxStats]int16
}

// PlayerBits computes the PS_* bits needed to go from from to to.
func PlayerBits(from, to *PlayerState) int {
	bits := 0
	if to.PMove.Type != from.PMove.Type {
		bits |= PS_M_TYPE
	}
	if to.PMove.Origin != from.PMove.Origin {
		bits |= PS_M_ORIGIN
	}
	if to.PMove.Velocity != from.PMove.Velocity {
		bits |= PS_M_VELOCITY
	}
	if to.PMove.Time != from.PMove.Time {
		bits |= PS_M_TIME
	}
	if to.PMove.Flags != from.PMove.Flags {
		bits |= PS_M_FLAGS
	}
	if to.PMove.Gravity != from.PMove.Gravity {
		bits |= PS_M_GRAVITY
	}
	if to.PMove.DeltaAngles != from.PMove.DeltaAngles {
		bits |= PS_M_DELTA_ANGLES
	}
	if to.ViewOffset != from.ViewOffset {
		bits |= PS_VIEWOFFSET
	}
	if to.ViewAngles != from.ViewAngles {
		bits |= PS_VIEWANGLES
	}
	if to.KickAngles != from.KickAngles {
		bits |= PS_KICKANGLES
	}
	if to.Blend != from.Blend {
		bits |= PS_BLEND
	}
	if to.FOV != from.FOV {
		bits |= PS_FOV
	}
	if to.RDFlags != from.RDFlags {
		bits |= PS_RDFLAGS
	}
	if to.GunFrame != from.GunFrame || to.GunOffset != from.GunOffset ||
		to.GunAngles != from.GunAngles {
		bits |= PS_WEAPONFRAME
	}
	if to.GunIndex != from.GunIndex {
		bits |= PS_WEAPONINDEX
	}
	return bits
}

func writeShorts(msg *net.Message, v [3]int16) {
	msg.WriteShort(int(v[0]))
	msg.WriteShort(int(v[1]))
	msg.WriteShort(int(v[2]))
}

func writeChars(msg *net.Message, v [3]int8) {
	msg.WriteChar(int(v[0]))
	msg.WriteChar(int(v[1]))
	msg.WriteChar(int(v[2]))
}

func readShorts(r *net.Reader) [3]int16 {
	return [3]int16{int16(r.ReadShort()), int16(r.ReadShort()), int16(r.ReadShort())}
}

func readChars(r *net.Reader) [3]int8 {
	return [3]int8{int8(r.ReadChar()), int8(r.ReadChar()), int8(r.ReadChar())}
}

// WriteDeltaPlayerstate writes the changes from from to to. A nil from
// means a full update against the zero state.
func WriteDeltaPlayerstate(msg *net.Message, from, to *PlayerState) {
	if from == nil {
		from = &PlayerState{}
	}
	bits := PlayerBits(from, to)

	msg.WriteShort(bits)

	if bits&PS_M_TYPE != 0 {
		msg.WriteByte(int(to.PMove.Type))
	}
	if bits&PS_M_ORIGIN != 0 {
		writeShorts(msg, to.PMove.Origin)
	}
	if bits&PS_M_VELOCITY != 0 {
		writeShorts(msg, to.PMove.Velocity)
	}
	if bits&PS_M_TIME != 0 {
		msg.WriteByte(int(to.PMove.Time))
	}
	if bits&PS_M_FLAGS != 0 {
		msg.WriteByte(int(to.PMove.Flags))
	}
	if bits&PS_M_GRAVITY != 0 {
		msg.WriteShort(int(to.PMove.Gravity))
	}
	if bits&PS_M_DELTA_ANGLES != 0 {
		writeShorts(msg, to.PMove.DeltaAngles)
	}

	if bits&PS_VIEWOFFSET != 0 {
		writeChars(msg, to.ViewOffset)
	}
	if bits&PS_VIEWANGLES != 0 {
		writeShorts(msg, to.ViewAngles)
	}
	if bits&PS_KICKANGLES != 0 {
		writeChars(msg, to.KickAngles)
	}

	if bits&PS_WEAPONINDEX != 0 {
		msg.WriteByte(int(to.GunIndex))
	}
	if bits&PS_WEAPONFRAME != 0 {
		msg.WriteByte(int(to.GunFrame))
		writeChars(msg, to.GunOffset)
		writeChars(msg, to.GunAngles)
	}

	if bits&PS_BLEND != 0 {
		for _, b := range to.Blend {
			msg.WriteByte(int(b))
		}
	}
	if bits&PS_FOV != 0 {
		msg.WriteByte(int(to.FOV))
	}
	if bits&PS_RDFLAGS != 0 {
		msg.WriteByte(int(to.RDFlags))
	}

	// send stats
	statbits := uint32(0)
	for i := range MaxStats {
		if to.Stats[i] != from.Stats[i] {
			statbits |= 1 << i
		}
	}
	msg.WriteLong(int(statbits))
	for i := range MaxStats {
		if statbits&(1<<i) != 0 {
			msg.WriteShort(int(to.Stats[i]))
		}
	}
}

// ReadDeltaPlayerstate applies a player state delta on top of from. A nil
// from reads a full update.
func ReadDeltaPlayerstate(r *net.Reader, from *PlayerState) PlayerState {
	var to PlayerState
	if from != nil {
		to = *from
	}
	bits := r.ReadWord()

	if bits&PS_M_TYPE != 0 {
		to.PMove.Type = uint8(r.ReadUint8())
	}
	if bits&PS_M_ORIGIN != 0 {
		to.PMove.Origin = readShorts(r)
	}
	if bits&PS_M_VELOCITY != 0 {
		to.PMove.Velocity = readShorts(r)
	}
	if bits&PS_M_TIME != 0 {
		to.PMove.Time = uint8(r.ReadUint8())
	}
	if bits&PS_M_FLAGS != 0 {
		to.PMove.Flags = uint8(r.ReadUint8())
	}
	if bits&PS_M_GRAVITY != 0 {
		to.PMove.Gravity = int16(r.ReadShort())
	}
	if bits&PS_M_DELTA_ANGLES != 0 {
		to.PMove.DeltaAngles = readShorts(r)
	}

	if bits&PS_VIEWOFFSET != 0 {
		to.ViewOffset = readChars(r)
	}
	if bits&PS_VIEWANGLES != 0 {
		to.ViewAngles = readShorts(r)
	}
	if bits&PS_KICKANGLES != 0 {
		to.KickAngles = readChars(r)
	}

	if bits&PS_WEAPONINDEX != 0 {
		to.GunIndex = uint8(r.ReadUint8())
	}
	if bits&PS_WEAPONFRAME != 0 {
		to.GunFrame = uint8(r.ReadUint8())
		to.GunOffset = readChars(r)
		to.GunAngles = readChars(r)
	}

	if bits&PS_BLEND != 0 {
		for i := range to.Blend {
			to.Blend[i] = uint8(r.ReadUint8())
		}
	}
	if bits&PS_FOV != 0 {
		to.FOV = uint8(r.ReadUint8())
	}
	if bits&PS_RDFLAGS != 0 {
		to.RDFlags = uint8(r.ReadUint8())
	}

	// parse stats
	statbits := uint32(r.ReadLong())
	for i := range MaxStats {
		if statbits&(1<<i) != 0 {
			to.Stats[i] = int16(r.ReadShort())
		}
	}
	return to
}
