// SPDX-License-Identifier: GPL-2.0-or-later

package protocol

import (
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goquake2/math/vec"
	"goquake2/net"
)

func fixNumber(n int) int {
	if n < 0 {
		n = -n
	}
	return 1 + n%(MaxEdicts-1)
}

func TestEntityDeltaIdentity(t *testing.T) {
	f := func(from, to EntityState) bool {
		to.Number = fixNumber(to.Number)
		msg := net.NewMessage(net.MaxMsgLen, "test")
		WriteDeltaEntity(msg, &from, &to, EsForce)
		r := net.NewReader(msg.Bytes())
		bits, num := ReadEntityBits(r)
		got := ReadDeltaEntity(r, &from, num, bits)
		return !r.Overread() && r.Len() == 0 && got == to
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestEntityNoChange(t *testing.T) {
	s := EntityState{Number: 3, Skin: 70000, Frame: 12}
	s.SetOrigin(vec.Vec3{1, 2, 3})
	msg := net.NewMessage(64, "test")
	WriteDeltaEntity(msg, &s, &s, 0)
	assert.Zero(t, msg.Len())

	// the event is not part of the delta
	s2 := s
	s2.Event = 4
	WriteDeltaEntity(msg, &s, &s2, 0)
	assert.Equal(t, []byte{U_EVENT, 3, 4}, msg.Bytes())
}

func TestEntityBytes(t *testing.T) {
	tests := []struct {
		name string
		to   EntityState
		want []byte
	}{
		{"origin", EntityState{Number: 5, Origin: [3]int16{8, 0, 0}}, []byte{U_ORIGIN1, 5, 8, 0}},
		{"number16", EntityState{Number: 300, Frame: 1}, []byte{U_FRAME8 | U_MOREBITS1, 1, 0x2c, 0x01, 1}},
		{"skin16", EntityState{Number: 1, Skin: 0x1234}, []byte{U_MOREBITS1, U_MOREBITS2 >> 8, U_MOREBITS3 >> 16, U_SKIN16 >> 24, 1, 0x34, 0x12}},
		{"skin32", EntityState{Number: 1, Skin: 0x10000}, []byte{U_MOREBITS1, U_MOREBITS2 >> 8, (U_SKIN8 | U_MOREBITS3) >> 16, U_SKIN16 >> 24, 1, 0, 0, 1, 0}},
	}
	for _, tt := range tests {
		msg := net.NewMessage(64, "test")
		WriteDeltaEntity(msg, &EntityState{}, &tt.to, 0)
		assert.Equal(t, tt.want, msg.Bytes(), tt.name)
	}
}

func TestEntityRemove(t *testing.T) {
	msg := net.NewMessage(64, "test")
	WriteDeltaEntity(msg, &EntityState{Number: 7}, nil, EsForce)
	r := net.NewReader(msg.Bytes())
	bits, num := ReadEntityBits(r)
	assert.Equal(t, 7, num)
	assert.NotZero(t, bits&U_REMOVE)
}

func TestNewEntityOldOrigin(t *testing.T) {
	to := EntityState{Number: 2, Origin: [3]int16{8, 8, 8}}
	assert.NotZero(t, EntityBits(&to, &to, EsNewEntity)&U_OLDORIGIN)
	assert.Zero(t, EntityBits(&to, &to, 0))
	to.RenderFX = RF_BEAM
	assert.NotZero(t, EntityBits(&to, &to, 0)&U_OLDORIGIN)
}

func TestPlayerDeltaIdentity(t *testing.T) {
	f := func(from, to PlayerState) bool {
		msg := net.NewMessage(net.MaxMsgLen, "test")
		WriteDeltaPlayerstate(msg, &from, &to)
		r := net.NewReader(msg.Bytes())
		got := ReadDeltaPlayerstate(r, &from)
		return !r.Overread() && r.Len() == 0 && got == to
	}
	require.NoError(t, quick.Check(f, nil))

	// full update
	var ps PlayerState
	ps.Stats[3] = 100
	ps.PMove.Origin = [3]int16{1, 2, 3}
	msg := net.NewMessage(net.MaxMsgLen, "test")
	WriteDeltaPlayerstate(msg, nil, &ps)
	got := ReadDeltaPlayerstate(net.NewReader(msg.Bytes()), nil)
	assert.Equal(t, ps, got)
	// bits, origin, statbits and one stat
	assert.Equal(t, 2+6+4+2, msg.Len())
}

func TestUsercmdIdentity(t *testing.T) {
	f := func(from, to UserCmd) bool {
		msg := net.NewMessage(net.MaxMsgLen, "test")
		WriteDeltaUsercmd(msg, &from, &to)
		r := net.NewReader(msg.Bytes())
		got := ReadDeltaUsercmd(r, &from)
		return !r.Overread() && r.Len() == 0 && got == to
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestMoveChecksum(t *testing.T) {
	m := Move{LastFrame: 42}
	m.Cmds[2] = UserCmd{Msec: 16, Forward: 400, Angles: [3]int16{1, 2, 3}}
	m.Cmds[1] = UserCmd{Msec: 16, Forward: 200}

	msg := net.NewMessage(net.MaxMsgLen, "test")
	WriteMove(msg, &m, 1234)
	data := msg.Bytes()
	require.Equal(t, byte(ClcMove), data[0])

	r := net.NewReader(data[1:])
	got, ok := ReadMove(r, 1234)
	assert.True(t, ok)
	assert.Equal(t, m, got)
	assert.Zero(t, r.Len())

	// a replay in another packet is caught most of the time
	failed := 0
	for seq := 1235; seq < 1245; seq++ {
		if _, ok := ReadMove(net.NewReader(data[1:]), seq); !ok {
			failed++
		}
	}
	assert.NotZero(t, failed)

	data[1] ^= 0x40
	_, ok = ReadMove(net.NewReader(data[1:]), 1234)
	assert.False(t, ok, "tampered")

	_, ok = ReadMove(net.NewReader(data[1:5]), 1234)
	assert.False(t, ok, "short")
}

func ents(nums ...int) []EntityState {
	var l []EntityState
	for _, n := range nums {
		l = append(l, EntityState{Number: n, ModelIndex: [4]uint8{uint8(n)}})
	}
	return l
}

func TestPacketEntitiesMerge(t *testing.T) {
	baselines := map[int]*EntityState{
		5: {Number: 5, Skin: 3, Origin: [3]int16{80, 80, 80}},
	}
	base := func(n int) *EntityState { return baselines[n] }
	from := ents(1, 2, 3)
	to := ents(2, 3, 5)
	to[0].Frame = 9
	to[2].Skin = 3
	to[2].Origin = [3]int16{80, 80, 80}

	msg := net.NewMessage(net.MaxMsgLen, "test")
	sent, ok := WritePacketEntities(msg, from, to, EmitOptions{Baselines: base})
	require.True(t, ok)
	assert.Equal(t, to, sent)

	r := net.NewReader(msg.Bytes())
	got, err := ReadPacketEntities(r, from, base)
	require.NoError(t, err)
	assert.Equal(t, to, got)
	assert.Zero(t, r.Len())
}

func randomEntities(rng *rand.Rand) []EntityState {
	var l []EntityState
	for n := 1; n < 200; n++ {
		if rng.Intn(3) != 0 {
			continue
		}
		v, _ := quick.Value(reflect.TypeOf(EntityState{}), rng)
		s := v.Interface().(EntityState)
		s.Number = n
		if rng.Intn(2) == 0 {
			s.Event = 0
		}
		l = append(l, s)
	}
	return l
}

func TestPacketEntitiesRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for range 50 {
		from := randomEntities(rng)
		to := randomEntities(rng)
		// the client holds from without the events it has already seen
		held := make([]EntityState, len(from))
		for i, s := range from {
			s.Event = 0
			held[i] = s
		}
		msg := net.NewMessage(net.MaxMsgLen, "test")
		sent, ok := WritePacketEntities(msg, held, to, EmitOptions{})
		require.True(t, ok)
		got, err := ReadPacketEntities(net.NewReader(msg.Bytes()), held, nil)
		require.NoError(t, err)
		assert.Equal(t, sent, got)
		assert.Equal(t, to, got)
	}
}

func TestPacketEntitiesTruncate(t *testing.T) {
	from := ents(1, 2, 3, 4)
	to := ents(2, 4, 6, 7, 8, 9, 10)
	for i := range to {
		to[i].Frame = 300
		to[i].Skin = 0x12345678
	}
	msg := net.NewMessage(net.MaxMsgLen, "test")
	sent, ok := WritePacketEntities(msg, from, to, EmitOptions{MaxSize: MaxPacketEntityBytes + 20})
	assert.False(t, ok)
	assert.Less(t, len(sent), len(to)+2)

	got, err := ReadPacketEntities(net.NewReader(msg.Bytes()), from, nil)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestPacketEntitiesErrors(t *testing.T) {
	_, err := ReadPacketEntities(net.NewReader([]byte{U_ORIGIN1, 5, 8}), nil, nil)
	assert.Error(t, err)
	_, err = ReadPacketEntities(net.NewReader([]byte{U_MOREBITS1, U_NUMBER16 >> 8, 0xff, 0xff}), nil, nil)
	assert.Error(t, err)
	_, err = ReadPacketEntities(net.NewReader(nil), nil, nil)
	assert.Error(t, err)
}

func TestFrame(t *testing.T) {
	h := FrameHeader{Number: 10, Delta: 8, Suppress: 1, AreaBits: []byte{0x06}}
	oldps := &PlayerState{FOV: 90}
	ps := &PlayerState{FOV: 110}
	msg := net.NewMessage(net.MaxMsgLen, "test")
	_, ok := WriteFrame(msg, &h, oldps, ps, ents(1), ents(1, 2), EmitOptions{})
	require.True(t, ok)

	r := net.NewReader(msg.Bytes())
	require.Equal(t, SvcFrame, r.ReadUint8())
	got, err := ReadFrameHeader(r)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	require.Equal(t, SvcPlayerInfo, r.ReadUint8())
	assert.Equal(t, *ps, ReadDeltaPlayerstate(r, oldps))
	require.Equal(t, SvcPacketEntities, r.ReadUint8())
	l, err := ReadPacketEntities(r, ents(1), nil)
	require.NoError(t, err)
	assert.Equal(t, ents(1, 2), l)

	_, err = ReadFrameHeader(net.NewReader([]byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 33}))
	assert.Error(t, err)
}

func TestSolid(t *testing.T) {
	s := PackSolid(vec.Vec3{-16, -16, -24}, vec.Vec3{16, 16, 32})
	mins, maxs := UnpackSolid(s)
	assert.Equal(t, vec.Vec3{-16, -16, -24}, mins)
	assert.Equal(t, vec.Vec3{16, 16, 32}, maxs)
	assert.NotEqual(t, uint16(SolidBSP), s)
}

func TestInfo(t *testing.T) {
	s, ok := InfoSetValueForKey("", "name", "player")
	require.True(t, ok)
	s, ok = InfoSetValueForKey(s, "rate", "25000")
	require.True(t, ok)
	assert.Equal(t, `\name\player\rate\25000`, s)
	assert.True(t, InfoValidate(s))
	assert.Equal(t, "player", InfoValueForKey(s, "name"))
	assert.Equal(t, "", InfoValueForKey(s, "skin"))

	s, ok = InfoSetValueForKey(s, "name", "other")
	require.True(t, ok)
	assert.Equal(t, `\rate\25000\name\other`, s)
	s, _ = InfoSetValueForKey(s, "rate", "")
	assert.Equal(t, `\name\other`, s)

	_, ok = InfoSetValueForKey(s, "bad\\key", "x")
	assert.False(t, ok)
	assert.False(t, InfoValidate(`\name`))
	assert.False(t, InfoValidate(`name\x`))
	assert.False(t, InfoValidate(`\name\a;b`))
	assert.True(t, InfoValidate(""))
}
