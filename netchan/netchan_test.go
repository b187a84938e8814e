// SPDX-License-Identifier: GPL-2.0-or-later

package netchan

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goquake2/net"
)

type recorder struct {
	pkts [][]byte
}

func (r *recorder) SendPacket(data []byte, to net.Addr) bool {
	r.pkts = append(r.pkts, append([]byte(nil), data...))
	return true
}

func (r *recorder) take() [][]byte {
	p := r.pkts
	r.pkts = nil
	return p
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type pair struct {
	ct, st *net.Transport
	cl, sv *Channel
}

func newPair(t Type, maxPacketLen int) *pair {
	loop := net.NewLoopback()
	p := &pair{
		ct: net.NewTransport(net.ClientSide, loop),
		st: net.NewTransport(net.ServerSide, loop),
	}
	p.cl = Setup(p.ct, net.ClientSide, t, net.LoopbackAddr, 7, maxPacketLen, 0)
	p.sv = Setup(p.st, net.ServerSide, t, net.LoopbackAddr, 7, maxPacketLen, 0)
	return p
}

// drain processes everything queued for ch and returns the accepted
// payloads and the number of packets seen.
func drain(tr *net.Transport, ch *Channel) (payloads [][]byte, packets int) {
	tr.GetPackets(func(p net.Packet) {
		packets++
		if d, ok := ch.Process(p.Data); ok {
			payloads = append(payloads, append([]byte(nil), d...))
		}
	})
	return payloads, packets
}

func TestReliableRoundTrip(t *testing.T) {
	p := newPair(New, 1390)
	for i := range 5 {
		want := fmt.Sprintf("msg%d", i)
		p.cl.Message.WriteString(want)
		_, err := p.cl.Transmit([]byte("u"), 1)
		require.NoError(t, err)
		assert.True(t, p.cl.ReliablePending())
		// the bit flips once per new reliable message
		assert.Equal(t, i%2 == 0, p.cl.reliableSequence)

		got, _ := drain(p.st, p.sv)
		require.Len(t, got, 1)
		assert.Equal(t, want+"\x00u", string(got[0]))
		assert.Equal(t, i%2 == 0, p.sv.incomingReliableSequence)
		assert.True(t, p.sv.ShouldUpdate())

		_, err = p.sv.Transmit(nil, 1)
		require.NoError(t, err)
		got, _ = drain(p.ct, p.cl)
		require.Len(t, got, 1)
		assert.Empty(t, got[0])
		assert.False(t, p.cl.ReliablePending())
	}
	assert.Equal(t, 5, p.sv.TotalReceived)
	assert.Zero(t, p.sv.TotalDropped)
}

func TestFragments(t *testing.T) {
	p := newPair(New, 64)
	big := make([]byte, 200)
	for i := range big {
		big[i] = byte(i)
	}
	p.cl.Message.WriteBytes(big)

	n, err := p.cl.Transmit(nil, 1)
	require.NoError(t, err)
	// header, qport, fragment offset and data
	assert.Equal(t, 8+1+2+64, n)
	sends := 1
	var got [][]byte
	for {
		payloads, packets := drain(p.st, p.sv)
		require.Equal(t, 1, packets)
		got = append(got, payloads...)
		if !p.cl.FragmentPending() {
			break
		}
		if sends < 3 {
			assert.Empty(t, got, "assembled early after %d fragments", sends)
		}
		n = p.cl.TransmitNextFragment()
		sends++
	}
	assert.Equal(t, 4, sends)
	assert.Equal(t, 8+1+2+8, n)
	require.Len(t, got, 1)
	assert.Equal(t, big, got[0])
	assert.Equal(t, 2, p.cl.OutgoingSequence())

	// a new reliable message waits for the ack of the fragmented one
	p.cl.Message.WriteString("next")
	_, err = p.cl.Transmit(nil, 1)
	require.NoError(t, err)
	got, _ = drain(p.st, p.sv)
	require.Len(t, got, 1)
	assert.Empty(t, got[0])
	assert.True(t, p.cl.Message.HasMessage())

	_, err = p.sv.Transmit(nil, 1)
	require.NoError(t, err)
	drain(p.ct, p.cl)
	assert.False(t, p.cl.ReliablePending())

	_, err = p.cl.Transmit(nil, 1)
	require.NoError(t, err)
	got, _ = drain(p.st, p.sv)
	require.Len(t, got, 1)
	assert.Equal(t, "next\x00", string(got[0]))
}

func TestFragmentSizes(t *testing.T) {
	for _, tc := range []struct {
		packetLen, size int
	}{
		{64, 65},
		{64, 128},
		{64, 1000},
		{64, net.MaxMsgLen - 64},
		{64, net.MaxMsgLen},
		{1390, 1391},
		{1390, net.MaxMsgLen},
		{net.MaxPacketLenWritable, net.MaxPacketLenWritable + 1},
		{net.MaxPacketLenWritable, 5000},
		{net.MaxPacketLenWritable, net.MaxMsgLen},
	} {
		p := newPair(New, tc.packetLen)
		msg := make([]byte, tc.size)
		for i := range msg {
			msg[i] = byte(i * 7)
		}
		p.cl.Message.WriteBytes(msg)
		require.False(t, p.cl.Message.Overflowed(), "%+v", tc)
		_, err := p.cl.Transmit(nil, 1)
		require.NoError(t, err)
		var got [][]byte
		for {
			payloads, _ := drain(p.st, p.sv)
			got = append(got, payloads...)
			if !p.cl.FragmentPending() {
				break
			}
			p.cl.TransmitNextFragment()
		}
		require.Len(t, got, 1, "%+v", tc)
		assert.Equal(t, msg, got[0], "%+v", tc)
	}
}

func TestFragmentHeaderFits(t *testing.T) {
	rec := &recorder{}
	cl := Setup(rec, net.ClientSide, New, net.LoopbackAddr, 255, net.MaxPacketLenWritable, 0)
	cl.Message.WriteBytes(make([]byte, 5000))
	cl.Transmit(nil, 1)
	for cl.FragmentPending() {
		cl.TransmitNextFragment()
	}
	frags := rec.take()
	require.Len(t, frags, 2)
	assert.Len(t, frags[0], net.MaxPacketLen)
	for _, f := range frags {
		require.GreaterOrEqual(t, len(f), 11)
		assert.LessOrEqual(t, len(f), net.MaxPacketLen)
		r := net.NewReader(f)
		assert.NotZero(t, r.ReadLong()&fragmentBit)
		r.ReadLong()
		assert.Equal(t, 255, r.ReadUint8())
	}
}

func TestFragmentOutOfOrder(t *testing.T) {
	rec := &recorder{}
	cl := Setup(rec, net.ClientSide, New, net.LoopbackAddr, 0, 64, 0)
	sv := Setup(&recorder{}, net.ServerSide, New, net.LoopbackAddr, 0, 64, 0)
	cl.Message.WriteBytes(make([]byte, 150))
	cl.Transmit(nil, 1)
	for cl.FragmentPending() {
		cl.TransmitNextFragment()
	}
	frags := rec.take()
	require.Len(t, frags, 3)

	// a missing fragment stops the assembly
	_, ok := sv.Process(frags[0])
	assert.False(t, ok)
	_, ok = sv.Process(frags[2])
	assert.False(t, ok)
	// a repeated fragment is dropped as well
	_, ok = sv.Process(frags[0])
	assert.False(t, ok)
	_, ok = sv.Process(frags[1])
	assert.False(t, ok)
	d, ok := sv.Process(frags[2])
	assert.True(t, ok)
	assert.Len(t, d, 150)
	assert.Equal(t, fragEmpty, sv.fragIn.state)
}

func TestStaleAndDropped(t *testing.T) {
	rec := &recorder{}
	cl := Setup(rec, net.ClientSide, New, net.LoopbackAddr, 0, 1390, 0)
	sv := Setup(&recorder{}, net.ServerSide, New, net.LoopbackAddr, 0, 1390, 0)
	for i := range 3 {
		cl.Transmit([]byte{byte(i)}, 1)
	}
	pkts := rec.take()
	require.Len(t, pkts, 3)

	d, ok := sv.Process(pkts[0])
	require.True(t, ok)
	assert.Equal(t, []byte{0}, d)
	_, ok = sv.Process(pkts[0])
	assert.False(t, ok, "duplicate")

	d, ok = sv.Process(pkts[2])
	require.True(t, ok)
	assert.Equal(t, []byte{2}, d)
	assert.Equal(t, 1, sv.Dropped)
	assert.Equal(t, 1, sv.TotalDropped)

	_, ok = sv.Process(pkts[1])
	assert.False(t, ok, "stale")

	_, ok = sv.Process([]byte{1, 2, 3})
	assert.False(t, ok, "runt")
	assert.Equal(t, 2, sv.TotalReceived)
}

func TestResendReliable(t *testing.T) {
	crec, srec := &recorder{}, &recorder{}
	cl := Setup(crec, net.ClientSide, New, net.LoopbackAddr, 0, 1390, 0)
	sv := Setup(srec, net.ServerSide, New, net.LoopbackAddr, 0, 1390, 0)

	cl.Message.WriteString("important")
	cl.Transmit(nil, 1)
	crec.take() // lost

	// without news from the server there is no resend
	cl.Transmit([]byte{1}, 1)
	pkts := crec.take()
	require.Len(t, pkts, 1)
	d, ok := sv.Process(pkts[0])
	require.True(t, ok)
	assert.Equal(t, []byte{1}, d)

	// the server acks packet 2 without flipping the reliable bit
	sv.Transmit(nil, 1)
	_, ok = cl.Process(srec.take()[0])
	require.True(t, ok)
	assert.True(t, cl.resendReliable())

	cl.Transmit([]byte{2}, 1)
	d, ok = sv.Process(crec.take()[0])
	require.True(t, ok)
	assert.Equal(t, "important\x00\x02", string(d))

	sv.Transmit(nil, 1)
	cl.Process(srec.take()[0])
	assert.False(t, cl.ReliablePending())
}

func TestHeader(t *testing.T) {
	rec := &recorder{}
	cl := Setup(rec, net.ClientSide, New, net.LoopbackAddr, 7, 1390, 0)
	cl.Message.WriteByte(5)
	n, err := cl.Transmit([]byte{9}, 2)
	require.NoError(t, err)
	assert.Equal(t, 22, n)
	pkts := rec.take()
	require.Len(t, pkts, 2)
	assert.Equal(t, []byte{1, 0, 0, 0x80, 0, 0, 0, 0, 7, 5, 9}, pkts[0])

	sv := Setup(rec, net.ServerSide, New, net.LoopbackAddr, 7, 1390, 0)
	d, ok := sv.Process(pkts[0])
	require.True(t, ok)
	assert.Equal(t, []byte{5, 9}, d)
	// the copy is a duplicate
	_, ok = sv.Process(pkts[1])
	assert.False(t, ok)
}

func TestOldChannel(t *testing.T) {
	rec := &recorder{}
	cl := Setup(rec, net.ClientSide, Old, net.LoopbackAddr, 1234, 64, 0)
	cl.Message.WriteByte(5)
	_, err := cl.Transmit([]byte{9}, 1)
	require.NoError(t, err)
	pkts := rec.take()
	require.Len(t, pkts, 1)
	assert.Equal(t, []byte{1, 0, 0, 0x80, 0, 0, 0, 0, 0xd2, 0x04, 5, 9}, pkts[0])

	sv := Setup(rec, net.ServerSide, Old, net.LoopbackAddr, 1234, 64, 0)
	d, ok := sv.Process(pkts[0])
	require.True(t, ok)
	assert.Equal(t, []byte{5, 9}, d)
	assert.True(t, sv.ShouldUpdate())

	// no fragments on the old channel
	assert.Zero(t, cl.TransmitNextFragment())
	cl.Message.WriteBytes(make([]byte, 100))
	_, err = cl.Transmit(nil, 1)
	assert.Error(t, err)
}

func TestOldRoundTrip(t *testing.T) {
	p := newPair(Old, 1390)
	for i := range 3 {
		p.cl.Message.WriteString(fmt.Sprint(i))
		p.cl.Transmit(nil, 1)
		got, _ := drain(p.st, p.sv)
		require.Len(t, got, 1)
		assert.Equal(t, fmt.Sprint(i)+"\x00", string(got[0]))
		p.sv.Transmit(nil, 1)
		drain(p.ct, p.cl)
		assert.False(t, p.cl.ReliablePending())
	}
}

func TestShouldUpdate(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	loop := net.NewLoopback()
	ct := net.NewTransport(net.ClientSide, loop)
	st := net.NewTransport(net.ServerSide, loop)
	ch := Setup(ct, net.ClientSide, New, net.LoopbackAddr, 0, 1390, 0, WithClock(c.now))
	sv := Setup(st, net.ServerSide, New, net.LoopbackAddr, 0, 1390, 0, WithClock(c.now))
	assert.False(t, ch.ShouldUpdate())

	ch.Transmit(nil, 1)
	assert.False(t, ch.ShouldUpdate())
	c.advance(1001 * time.Millisecond)
	assert.True(t, ch.ShouldUpdate())
	ch.Transmit(nil, 1)
	assert.False(t, ch.ShouldUpdate())
	assert.Equal(t, c.t, ch.LastSent)

	// an unacknowledged reliable keeps asking for updates
	ch.Message.WriteByte(1)
	assert.True(t, ch.ShouldUpdate())
	ch.Transmit(nil, 1)
	assert.True(t, ch.ReliablePending())
	assert.True(t, ch.ShouldUpdate())

	drain(st, sv)
	sv.Transmit(nil, 1)
	drain(ct, ch)
	assert.False(t, ch.ReliablePending())
	assert.False(t, ch.ShouldUpdate())

	ch.Message.WriteByte(2)
	ch.Transmit(nil, 1)
	ch.Close()
	assert.False(t, ch.ReliablePending())
}
