// SPDX-License-Identifier: GPL-2.0-or-later

package protocol

import (
	"goquake2/crc"
	"goquake2/net"
)

// usercmd_t communication
const (
	CM_ANGLE1  = 1 << 0
	CM_ANGLE2  = 1 << 1
	CM_ANGLE3  = 1 << 2
	CM_FORWARD = 1 << 3
	CM_SIDE    = 1 << 4
	CM_UP      = 1 << 5
	CM_BUTTONS = 1 << 6
	CM_IMPULSE = 1 << 7
)

const (
	ButtonAttack = 1
	ButtonUse    = 2
	ButtonAny    = 128
)

// UserCmd is sent to the server each client frame.
type UserCmd struct {
	Msec       uint8
	Buttons    uint8
	Angles     [3]int16
	Forward    int16
	Side       int16
	Up         int16
	Impulse    uint8
	LightLevel uint8
}

// WriteDeltaUsercmd writes the changes from from to to. Msec and light
// level are always sent.
func WriteDeltaUsercmd(msg *net.Message, from, to *UserCmd) {
	bits := 0
	if to.Angles[0] != from.Angles[0] {
		bits |= CM_ANGLE1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= CM_ANGLE2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= CM_ANGLE3
	}
	if to.Forward != from.Forward {
		bits |= CM_FORWARD
	}
	if to.Side != from.Side {
		bits |= CM_SIDE
	}
	if to.Up != from.Up {
		bits |= CM_UP
	}
	if to.Buttons != from.Buttons {
		bits |= CM_BUTTONS
	}
	if to.Impulse != from.Impulse {
		bits |= CM_IMPULSE
	}

	msg.WriteByte(bits)

	if bits&CM_ANGLE1 != 0 {
		msg.WriteShort(int(to.Angles[0]))
	}
	if bits&CM_ANGLE2 != 0 {
		msg.WriteShort(int(to.Angles[1]))
	}
	if bits&CM_ANGLE3 != 0 {
		msg.WriteShort(int(to.Angles[2]))
	}
	if bits&CM_FORWARD != 0 {
		msg.WriteShort(int(to.Forward))
	}
	if bits&CM_SIDE != 0 {
		msg.WriteShort(int(to.Side))
	}
	if bits&CM_UP != 0 {
		msg.WriteShort(int(to.Up))
	}
	if bits&CM_BUTTONS != 0 {
		msg.WriteByte(int(to.Buttons))
	}
	if bits&CM_IMPULSE != 0 {
		msg.WriteByte(int(to.Impulse))
	}
	msg.WriteByte(int(to.Msec))
	msg.WriteByte(int(to.LightLevel))
}

// ReadDeltaUsercmd is the inverse of WriteDeltaUsercmd.
func ReadDeltaUsercmd(r *net.Reader, from *UserCmd) UserCmd {
	to := *from
	bits := r.ReadUint8()

	if bits&CM_ANGLE1 != 0 {
		to.Angles[0] = int16(r.ReadShort())
	}
	if bits&CM_ANGLE2 != 0 {
		to.Angles[1] = int16(r.ReadShort())
	}
	if bits&CM_ANGLE3 != 0 {
		to.Angles[2] = int16(r.ReadShort())
	}
	if bits&CM_FORWARD != 0 {
		to.Forward = int16(r.ReadShort())
	}
	if bits&CM_SIDE != 0 {
		to.Side = int16(r.ReadShort())
	}
	if bits&CM_UP != 0 {
		to.Up = int16(r.ReadShort())
	}
	if bits&CM_BUTTONS != 0 {
		to.Buttons = uint8(r.ReadUint8())
	}
	if bits&CM_IMPULSE != 0 {
		to.Impulse = uint8(r.ReadUint8())
	}
	to.Msec = uint8(r.ReadUint8())
	to.LightLevel = uint8(r.ReadUint8())
	return to
}

// SequenceChecksum protects a clc_move payload against replays from
// another sequence. Only the first 60 bytes are covered.
func SequenceChecksum(data []byte, sequence int) byte {
	if len(data) > 60 {
		data = data[:60]
	}
	buf := make([]byte, 0, len(data)+4)
	buf = append(buf, data...)
	buf = append(buf, byte(sequence), byte(sequence>>8), byte(sequence>>16), byte(sequence>>24))
	c := crc.Block(buf)
	x := uint16(0)
	for _, b := range buf {
		x += uint16(b)
	}
	return byte(c ^ x)
}

// Move is the content of a clc_move: the last frame the client got and
// the three most recent commands.
type Move struct {
	LastFrame int
	Cmds      [3]UserCmd // oldest first
}

// WriteMove writes a checksummed clc_move. sequence is the outgoing
// sequence of the packet that will carry it.
func WriteMove(msg *net.Message, m *Move, sequence int) {
	msg.WriteByte(ClcMove)
	checksumIndex := msg.Len()
	msg.WriteByte(0)
	msg.WriteLong(m.LastFrame)

	var null UserCmd
	WriteDeltaUsercmd(msg, &null, &m.Cmds[0])
	WriteDeltaUsercmd(msg, &m.Cmds[0], &m.Cmds[1])
	WriteDeltaUsercmd(msg, &m.Cmds[1], &m.Cmds[2])

	if msg.Overflowed() {
		return
	}
	b := msg.Bytes()
	b[checksumIndex] = SequenceChecksum(b[checksumIndex+1:], sequence)
}

// ReadMove reads a clc_move after its opcode. ok is false if the
// checksum does not match the incoming sequence.
func ReadMove(r *net.Reader, sequence int) (m Move, ok bool) {
	checksumIndex := r.Pos()
	checksum := r.ReadUint8()
	m.LastFrame = r.ReadLong()

	var null UserCmd
	m.Cmds[0] = ReadDeltaUsercmd(r, &null)
	m.Cmds[1] = ReadDeltaUsercmd(r, &m.Cmds[0])
	m.Cmds[2] = ReadDeltaUsercmd(r, &m.Cmds[1])
	if r.Overread() {
		return m, false
	}
	calculated := SequenceChecksum(r.Bytes()[checksumIndex+1:r.Pos()], sequence)
	return m, int(calculated) == checksum
}
