// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"encoding/binary"
	"log/slog"
	"math"

	qmath "goquake2/math"
	"goquake2/math/vec"
)

const (
	MaxPacketLen         = 4096 // max length of a single packet
	PacketHeader         = 11   // two ints, qport byte and fragment offset (worst case)
	MaxPacketLenDefault  = 1400 // default quake2 limit
	MaxPacketLenWritable = MaxPacketLen - PacketHeader

	MaxPacketLenWritableDefault = MaxPacketLenDefault - PacketHeader

	MaxMsgLen    = 0x8000 // max length of a message, which may be fragmented
	MaxNetString = 2048
)

// Message is a bounded write buffer. A write that does not fit clears the
// buffer and marks it overflowed instead of growing it.
type Message struct {
	data       []byte
	maxsize    int
	overflowed bool
	tag        string
}

func NewMessage(maxsize int, tag string) *Message {
	return &Message{
		data:    make([]byte, 0, min(maxsize, MaxPacketLen)),
		maxsize: maxsize,
		tag:     tag,
	}
}

func (m *Message) Bytes() []byte {
	return m.data
}

func (m *Message) Len() int {
	return len(m.data)
}

func (m *Message) MaxSize() int {
	return m.maxsize
}

// SetMaxSize changes the limit. The content is dropped.
func (m *Message) SetMaxSize(n int) {
	m.maxsize = n
	m.Clear()
}

// Remaining is the number of bytes that can still be written.
func (m *Message) Remaining() int {
	return m.maxsize - len(m.data)
}

func (m *Message) Overflowed() bool {
	return m.overflowed
}

func (m *Message) HasMessage() bool {
	return len(m.data) > 0
}

func (m *Message) Clear() {
	m.data = m.data[:0]
	m.overflowed = false
}

func (m *Message) space(n int) []byte {
	if n > m.maxsize-len(m.data) {
		slog.Debug("Message overflow", slog.String("tag", m.tag), slog.Int("len", n), slog.Int("size", m.maxsize))
		m.data = m.data[:0]
		m.overflowed = true
		if n > m.maxsize {
			return make([]byte, n)
		}
	}
	l := len(m.data)
	m.data = append(m.data, make([]byte, n)...)
	return m.data[l : l+n]
}

func (m *Message) WriteChar(c int) {
	m.space(1)[0] = byte(int8(c))
}

func (m *Message) WriteByte(c int) {
	m.space(1)[0] = byte(c)
}

func (m *Message) WriteShort(c int) {
	binary.LittleEndian.PutUint16(m.space(2), uint16(c))
}

func (m *Message) WriteLong(c int) {
	binary.LittleEndian.PutUint32(m.space(4), uint32(c))
}

func (m *Message) WriteFloat(f float32) {
	binary.LittleEndian.PutUint32(m.space(4), math.Float32bits(f))
}

func (m *Message) WriteBytes(b []byte) {
	copy(m.space(len(b)), b)
}

// WriteString writes s zero terminated. Strings that are too long are
// replaced by the empty string.
func (m *Message) WriteString(s string) {
	if len(s) >= MaxNetString {
		slog.Warn("WriteString: overflow", slog.Int("len", len(s)))
		s = ""
	}
	b := m.space(len(s) + 1)
	copy(b, s)
	b[len(s)] = 0
}

// coords are 13.3 fixed point
func (m *Message) WriteCoord(f float32) {
	m.WriteShort(int(qmath.CoordToShort(f)))
}

func (m *Message) WritePos(p vec.Vec3) {
	m.WriteCoord(p[0])
	m.WriteCoord(p[1])
	m.WriteCoord(p[2])
}

func (m *Message) WriteAngle(f float32) {
	m.WriteByte(int(qmath.AngleToByte(f)))
}

func (m *Message) WriteAngle16(f float32) {
	m.WriteShort(int(qmath.AngleToShort(f)))
}
