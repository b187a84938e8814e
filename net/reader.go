// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"encoding/binary"
	"math"
	"strings"

	qmath "goquake2/math"
	"goquake2/math/vec"
)

// Reader reads little endian values from a received message. Reading past
// the end does not fail, it returns -1 (or an empty value) and marks the
// reader as overread.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	if r.pos > len(r.data) {
		return 0
	}
	return len(r.data) - r.pos
}

func (r *Reader) Pos() int {
	return r.pos
}

// Size is the size of the whole message.
func (r *Reader) Size() int {
	return len(r.data)
}

// Overread reports whether a read went past the end.
func (r *Reader) Overread() bool {
	return r.pos > len(r.data)
}

// Bytes returns the whole message.
func (r *Reader) Bytes() []byte {
	return r.data
}

func (r *Reader) BeginReading() {
	r.pos = 0
}

// Seek moves to an absolute position.
func (r *Reader) Seek(pos int) {
	r.pos = pos
}

// ReadData returns the next n bytes or nil.
func (r *Reader) ReadData(n int) []byte {
	if r.pos > len(r.data) || n > len(r.data)-r.pos {
		r.pos = len(r.data) + 1
		return nil
	}
	d := r.data[r.pos : r.pos+n]
	r.pos += n
	return d
}

func (r *Reader) ReadChar() int {
	b := r.ReadData(1)
	if b == nil {
		return -1
	}
	return int(int8(b[0]))
}

func (r *Reader) ReadUint8() int {
	b := r.ReadData(1)
	if b == nil {
		return -1
	}
	return int(b[0])
}

func (r *Reader) ReadShort() int {
	b := r.ReadData(2)
	if b == nil {
		return -1
	}
	return int(int16(binary.LittleEndian.Uint16(b)))
}

func (r *Reader) ReadWord() int {
	b := r.ReadData(2)
	if b == nil {
		return -1
	}
	return int(binary.LittleEndian.Uint16(b))
}

func (r *Reader) ReadLong() int {
	b := r.ReadData(4)
	if b == nil {
		return -1
	}
	return int(int32(binary.LittleEndian.Uint32(b)))
}

func (r *Reader) ReadFloat() float32 {
	b := r.ReadData(4)
	if b == nil {
		return -1
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// ReadString reads up to the terminating zero or the end of the message.
func (r *Reader) ReadString() string {
	var sb strings.Builder
	for {
		c := r.ReadUint8()
		if c == -1 || c == 0 {
			break
		}
		if sb.Len() < MaxNetString-1 {
			sb.WriteByte(byte(c))
		}
	}
	return sb.String()
}

// ReadStringLine stops at newlines too.
func (r *Reader) ReadStringLine() string {
	var sb strings.Builder
	for {
		c := r.ReadUint8()
		if c == -1 || c == 0 || c == '\n' {
			break
		}
		if sb.Len() < MaxNetString-1 {
			sb.WriteByte(byte(c))
		}
	}
	return sb.String()
}

func (r *Reader) ReadCoord() float32 {
	return qmath.ShortToCoord(int16(r.ReadShort()))
}

func (r *Reader) ReadPos() vec.Vec3 {
	return vec.Vec3{r.ReadCoord(), r.ReadCoord(), r.ReadCoord()}
}

func (r *Reader) ReadAngle() float32 {
	return qmath.ByteToAngle(byte(r.ReadChar()))
}

func (r *Reader) ReadAngle16() float32 {
	return qmath.ShortToAngle(int16(r.ReadShort()))
}
