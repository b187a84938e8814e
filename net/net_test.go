// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	for _, tc := range []struct {
		in   string
		ok   bool
		typ  AddrType
		want string
	}{
		{"192.246.40.70", true, AddrIP, "192.246.40.70:27910"},
		{"192.246.40.70:28000", true, AddrIP, "192.246.40.70:28000"},
		{"[::1]:28000", true, AddrIP6, "[::1]:28000"},
		{"[::1]", true, AddrIP6, "[::1]:27910"},
		{"loopback", true, AddrLoopback, "loopback"},
		{"", false, 0, ""},
		{"1.2.3.4:abc", false, 0, ""},
		{"[::1", false, 0, ""},
	} {
		a, ok := ParseAddr(tc.in, 27910)
		if !assert.Equal(t, tc.ok, ok, tc.in) || !ok {
			continue
		}
		assert.Equal(t, tc.typ, a.Type, tc.in)
		assert.Equal(t, tc.want, a.String(), tc.in)
	}
	a, _ := ParseAddr("10.0.0.1:5", 0)
	assert.Equal(t, "10.0.0.1", a.BaseString())
	assert.Equal(t, "<unspecified>", Addr{}.String())
}

func TestAddrCompare(t *testing.T) {
	a, _ := ParseAddr("10.0.0.1:27910", 0)
	b, _ := ParseAddr("10.0.0.1:27911", 0)
	c, _ := ParseAddr("10.0.0.200:27910", 0)
	assert.True(t, IsEqualBase(a, b))
	assert.False(t, IsEqual(a, b))
	assert.True(t, IsEqual(a, a))
	assert.True(t, IsEqualBaseMask(a, c, 24))
	assert.False(t, IsEqualBaseMask(a, c, 32))
	assert.False(t, IsEqual(a, LoopbackAddr))

	// loopback addresses always match
	assert.True(t, IsEqual(LoopbackAddr, Addr{Type: AddrLoopback, Port: 7}))

	assert.True(t, IsLAN(a))
	assert.True(t, IsLAN(LoopbackAddr))
	pub, _ := ParseAddr("8.8.8.8", 53)
	assert.False(t, IsLAN(pub))
}

func TestMessageOverflow(t *testing.T) {
	m := NewMessage(4, "test")
	m.WriteLong(1)
	assert.False(t, m.Overflowed())
	assert.Equal(t, 0, m.Remaining())
	m.WriteByte(2)
	assert.True(t, m.Overflowed())
	assert.Equal(t, []byte{2}, m.Bytes())
	m.Clear()
	assert.False(t, m.Overflowed())
	assert.False(t, m.HasMessage())
}

func TestMessageReader(t *testing.T) {
	m := NewMessage(MaxMsgLen, "test")
	m.WriteChar(-3)
	m.WriteByte(200)
	m.WriteShort(-2)
	m.WriteShort(0xfffe)
	m.WriteLong(123456)
	m.WriteFloat(1.25)
	m.WriteString("hello")
	m.WriteCoord(-12.5)
	m.WriteAngle(90)
	m.WriteAngle16(-90)

	r := NewReader(m.Bytes())
	assert.Equal(t, -3, r.ReadChar())
	assert.Equal(t, 200, r.ReadUint8())
	assert.Equal(t, -2, r.ReadShort())
	assert.Equal(t, 0xfffe, r.ReadWord())
	assert.Equal(t, 123456, r.ReadLong())
	assert.Equal(t, float32(1.25), r.ReadFloat())
	assert.Equal(t, "hello", r.ReadString())
	assert.Equal(t, float32(-12.5), r.ReadCoord())
	assert.Equal(t, float32(90), r.ReadAngle())
	assert.Equal(t, float32(-90), r.ReadAngle16())
	assert.Zero(t, r.Len())
	assert.False(t, r.Overread())

	// reading past the end is not an error
	assert.Equal(t, -1, r.ReadUint8())
	assert.Equal(t, -1, r.ReadLong())
	assert.Equal(t, "", r.ReadString())
	assert.True(t, r.Overread())
}

func TestReaderShort(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	assert.Equal(t, 0x0201, r.ReadShort())
	assert.Equal(t, -1, r.ReadShort())
	assert.True(t, r.Overread())
	r.BeginReading()
	assert.Equal(t, "\x01\x02\x03", r.ReadString())
}

func TestLoopbackRing(t *testing.T) {
	loop := NewLoopback()
	cl := NewTransport(ClientSide, loop)
	sv := NewTransport(ServerSide, loop)
	for i := range 6 {
		require.True(t, cl.SendPacket([]byte{byte(i)}, LoopbackAddr))
	}
	var got []byte
	sv.GetPackets(func(p Packet) {
		assert.Equal(t, AddrLoopback, p.From.Type)
		got = append(got, p.Data...)
	})
	// the oldest packets were overwritten
	assert.Equal(t, []byte{2, 3, 4, 5}, got)

	// nothing went to the sender itself
	cl.GetPackets(func(p Packet) { t.Errorf("unexpected packet %v", p) })
}

func TestSendPacketRejects(t *testing.T) {
	tr := NewTransport(ClientSide, NewLoopback())
	assert.False(t, tr.SendPacket(nil, LoopbackAddr))
	assert.False(t, tr.SendPacket(make([]byte, MaxPacketLen+1), LoopbackAddr))
	assert.False(t, tr.SendPacket([]byte{1}, Addr{}))
	ip, _ := ParseAddr("127.0.0.1:1", 0)
	// no socket
	assert.False(t, tr.SendPacket([]byte{1}, ip))
}

func TestOutOfBand(t *testing.T) {
	loop := NewLoopback()
	cl := NewTransport(ClientSide, loop)
	sv := NewTransport(ServerSide, loop)
	require.True(t, OutOfBand(cl, LoopbackAddr, "ping %d", 3))
	n := 0
	sv.GetPackets(func(p Packet) {
		n++
		require.True(t, IsOutOfBand(p.Data))
		assert.Equal(t, "ping 3", string(OutOfBandData(p.Data)))
	})
	assert.Equal(t, 1, n)
	assert.False(t, IsOutOfBand([]byte{0xff, 0xff, 0xff}))
	assert.Nil(t, OutOfBandData([]byte{1, 2, 3, 4, 5}))
}

func waitPacket(t *testing.T, tr *Transport) Packet {
	t.Helper()
	var got Packet
	require.Eventually(t, func() bool {
		ok := false
		tr.GetPackets(func(p Packet) {
			got = p
			ok = true
		})
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestUDP(t *testing.T) {
	s1, err := ListenUDP("127.0.0.1", 0)
	require.NoError(t, err)
	s2, err := ListenUDP("127.0.0.1", 0)
	require.NoError(t, err)
	t1 := NewTransport(ClientSide, nil)
	t1.SetSocket(s1)
	t2 := NewTransport(ServerSide, nil)
	t2.SetSocket(s2)
	defer t1.Close()
	defer t2.Close()

	require.True(t, t1.SendPacket([]byte("abc"), s2.LocalAddr()))
	p := waitPacket(t, t2)
	assert.Equal(t, []byte("abc"), p.Data)
	assert.True(t, IsEqual(p.From, s1.LocalAddr()))

	assert.Equal(t, uint64(1), t1.Stats().PacketsSent)
	assert.Equal(t, uint64(3), t2.Stats().BytesRcvd)

	_, e := s1.Recv()
	assert.Equal(t, Again, e)
	s1.Close()
	require.Eventually(t, func() bool {
		_, e := s1.Recv()
		return e == Closed
	}, 5*time.Second, 5*time.Millisecond)
}

func TestWebSocket(t *testing.T) {
	srv, err := ListenWebSocket("127.0.0.1", 0)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cl, err := DialWebSocket(ctx, srv.LocalAddr())
	require.NoError(t, err)

	st := NewTransport(ServerSide, nil)
	st.SetSocket(srv)
	ct := NewTransport(ClientSide, nil)
	ct.SetSocket(cl)
	defer st.Close()
	defer ct.Close()

	require.True(t, ct.SendPacket([]byte("hello"), srv.LocalAddr()))
	p := waitPacket(t, st)
	assert.Equal(t, []byte("hello"), p.Data)

	require.True(t, st.SendPacket([]byte("world"), p.From))
	p = waitPacket(t, ct)
	assert.Equal(t, []byte("world"), p.Data)
	assert.True(t, IsEqual(p.From, srv.LocalAddr()))
}

func TestPacketLog(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewPacketLog(&buf, 0)
	require.NoError(t, err)
	tr := NewTransport(ClientSide, NewLoopback())
	tr.SetLog(l)
	require.True(t, tr.SendPacket([]byte("hello"), LoopbackAddr))
	require.NoError(t, l.Close())
	// logging into a closed log is ignored
	l.Packet(LoopbackAddr, "LP send", []byte{1})

	dec, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer dec.Close()
	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, " : LP send : loopback : 5 bytes\n")
	assert.Contains(t, s, "0000 : 68 65 6c 6c 6f ")
	assert.True(t, strings.HasSuffix(s, ": hello           \n\n"))
}
