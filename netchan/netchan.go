// SPDX-License-Identifier: GPL-2.0-or-later

// Package netchan implements the sequenced network channel between a
// client and a server.
//
// Every packet carries a sequence number and the last sequence received
// from the other side. One reliable message may be in flight at a time.
// It is resent until the peer acknowledges it by flipping its reliable
// bit. Stale or duplicated packets are dropped, there is no reordering.
//
// Packet header of the New channel:
//
//	31	sequence
//	1	does this message contain reliable payload
//	31	acknowledge sequence
//	1	acknowledge receipt of even/odd message
//	8	qport (client to server only, when not zero)
//
// Bit 30 of the sequence marks a fragment, which is followed by a 16 bit
// offset word whose top bit says more fragments follow.
package netchan

import (
	"fmt"
	"log/slog"
	"time"

	"goquake2/cvars"
	"goquake2/net"
)

type Type int

const (
	// Old is the original Quake II channel: short qport, no fragments.
	Old Type = iota
	// New supports fragmented messages and a byte qport.
	New
)

func (t Type) String() string {
	if t == Old {
		return "old"
	}
	return "new"
}

const (
	fragmentBit  = 1 << 30
	reliableBit  = 1 << 31
	moreFragBit  = 1 << 15
	oldSeqMask   = 0x7FFFFFFF
	newSeqMask   = 0x3FFFFFFF
	fragOffsMask = 0x7FFF

	// a channel with nothing to say still sends a packet this often
	keepalive = time.Second
)

// pendingReliable is a sent but not yet acknowledged reliable message.
type pendingReliable struct {
	data     []byte
	sequence bool // the reliable bit it was sent with
}

type fragmentState int

const (
	fragEmpty fragmentState = iota
	fragAssembling
	fragComplete
)

type fragmentIn struct {
	state    fragmentState
	sequence int
	buf      []byte
}

func (f *fragmentIn) reset() {
	f.state = fragEmpty
	f.buf = f.buf[:0]
}

type fragmentOut struct {
	buf      []byte
	pos      int
	reliable bool // buf starts with the pending reliable message
}

func (f *fragmentOut) pending() bool {
	return len(f.buf) > 0
}

// Channel is the state of one connection.
type Channel struct {
	Type          Type
	Protocol      int
	MaxPacketLen  int
	Qport         int // written by clients, skipped by servers
	RemoteAddress net.Addr

	// Message collects reliable data, it is moved out on the next Transmit
	// that is allowed to send a new reliable message.
	Message *net.Message

	Dropped       int // between last packet and previous
	TotalDropped  int
	TotalReceived int

	LastReceived time.Time // for timeouts
	LastSent     time.Time // for retransmits

	sock net.PacketSender
	side net.Side

	reliableAckPending bool // set each time a reliable message is received

	incomingSequence     int
	incomingAcknowledged int
	outgoingSequence     int

	incomingReliableAcknowledged bool // single bit
	incomingReliableSequence     bool // single bit, maintained local
	reliableSequence             bool // single bit
	lastReliableSequence         int  // sequence number of last send

	reliable *pendingReliable

	fragIn  fragmentIn
	fragOut fragmentOut

	now func() time.Time
}

// Option changes the Setup defaults.
type Option func(*Channel)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// Setup creates a channel to adr. side decides whether the qport is
// written (client) or skipped (server).
func Setup(sock net.PacketSender, side net.Side, t Type, adr net.Addr, qport, maxPacketLen, protocol int, opts ...Option) *Channel {
	if maxPacketLen <= 0 || maxPacketLen > net.MaxPacketLenWritable {
		maxPacketLen = net.MaxPacketLenWritable
	}
	c := &Channel{
		Type:             t,
		Protocol:         protocol,
		MaxPacketLen:     maxPacketLen,
		Qport:            qport,
		RemoteAddress:    adr,
		sock:             sock,
		side:             side,
		incomingSequence: 0,
		outgoingSequence: 1,
		now:              time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if t == New {
		c.Message = net.NewMessage(net.MaxMsgLen, "nc_message")
	} else {
		c.Message = net.NewMessage(maxPacketLen, "nc_message")
	}
	c.LastReceived = c.now()
	c.LastSent = c.LastReceived
	return c
}

// OutOfBand sends a connectionless text packet to the remote address.
func (c *Channel) OutOfBand(format string, v ...any) bool {
	return net.OutOfBand(c.sock, c.RemoteAddress, format, v...)
}

// OutgoingSequence is the sequence number of the next packet.
func (c *Channel) OutgoingSequence() int {
	return c.outgoingSequence
}

// IncomingSequence is the sequence number of the last accepted packet.
func (c *Channel) IncomingSequence() int {
	return c.incomingSequence
}

// IncomingAcknowledged is the last of our sequence numbers the peer saw.
func (c *Channel) IncomingAcknowledged() int {
	return c.incomingAcknowledged
}

// ReliablePending reports whether a reliable message waits for its ack.
func (c *Channel) ReliablePending() bool {
	return c.reliable != nil
}

// FragmentPending reports whether a fragmented message is still being
// sent. TransmitNextFragment should be called until it is false.
func (c *Channel) FragmentPending() bool {
	return c.fragOut.pending()
}

func showPackets() bool {
	return cvars.ShowPackets != nil && cvars.ShowPackets.Bool()
}

func showDrop() bool {
	return cvars.ShowDrop != nil && cvars.ShowDrop.Bool()
}

func (c *Channel) resendReliable() bool {
	return c.reliable != nil &&
		c.incomingAcknowledged > c.lastReliableSequence &&
		c.incomingReliableAcknowledged != c.reliableSequence
}

// takeReliable moves Message into the retransmit slot if the slot is free.
func (c *Channel) takeReliable() bool {
	if c.reliable != nil || !c.Message.HasMessage() {
		return false
	}
	c.reliableSequence = !c.reliableSequence
	c.reliable = &pendingReliable{
		data:     append([]byte(nil), c.Message.Bytes()...),
		sequence: c.reliableSequence,
	}
	c.Message.Clear()
	return true
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Transmit sends data as unreliable payload, preceded by the reliable
// message if one is due. Each datagram is sent numPackets times. It
// returns the number of bytes sent.
//
// An overflowed Message is an error. The connection can not continue.
func (c *Channel) Transmit(data []byte, numPackets int) (int, error) {
	if c.Message.Overflowed() {
		slog.Warn("Transmit: outgoing message overflow", slog.String("to", c.RemoteAddress.String()))
		return 0, fmt.Errorf("%s: outgoing message overflow", c.RemoteAddress)
	}
	if c.Type == Old {
		return c.transmitOld(data, numPackets), nil
	}
	if c.fragOut.pending() {
		// the previous message still goes out, unreliable data is stale
		return c.TransmitNextFragment(), nil
	}

	// if the remote side dropped the last reliable message, resend
	sendReliable := c.resendReliable()
	// if the reliable transmit buffer is empty, copy the current message out
	if c.takeReliable() {
		sendReliable = true
	}

	if len(data) > c.MaxPacketLen || (sendReliable && len(c.reliable.data)+len(data) > c.MaxPacketLen) {
		c.fragOut.buf = c.fragOut.buf[:0]
		c.fragOut.reliable = sendReliable
		if sendReliable {
			c.lastReliableSequence = c.outgoingSequence
			c.fragOut.buf = append(c.fragOut.buf, c.reliable.data...)
		}
		// add the unreliable part if space is available
		if net.MaxMsgLen-len(c.fragOut.buf) >= len(data) {
			c.fragOut.buf = append(c.fragOut.buf, data...)
		} else {
			slog.Warn("Transmit: dumped unreliable", slog.String("to", c.RemoteAddress.String()))
		}
		c.fragOut.pos = 0
		return c.TransmitNextFragment(), nil
	}

	w1 := c.outgoingSequence&newSeqMask | b2i(sendReliable)<<31
	w2 := c.incomingSequence&newSeqMask | b2i(c.incomingReliableSequence)<<31

	send := net.NewMessage(net.MaxPacketLen, "nc_send_new")
	send.WriteLong(w1)
	send.WriteLong(w2)
	// send the qport if we are a client
	if c.side == net.ClientSide && c.Qport != 0 {
		send.WriteByte(c.Qport)
	}
	// copy the reliable message to the packet first
	if sendReliable {
		send.WriteBytes(c.reliable.data)
		c.lastReliableSequence = c.outgoingSequence
	}
	send.WriteBytes(data)

	if showPackets() {
		slog.Debug("send",
			slog.String("to", c.RemoteAddress.String()),
			slog.Int("size", send.Len()),
			slog.Int("seq", c.outgoingSequence),
			slog.Int("ack", c.incomingSequence),
			slog.Bool("reliable", sendReliable))
	}

	for range numPackets {
		c.sock.SendPacket(send.Bytes(), c.RemoteAddress)
	}
	c.outgoingSequence++
	c.reliableAckPending = false
	c.LastSent = c.now()
	return send.Len() * numPackets, nil
}

// TransmitNextFragment sends the next piece of a fragmented message. All
// fragments share one sequence number, it advances after the last one.
func (c *Channel) TransmitNextFragment() int {
	if c.Type == Old || !c.fragOut.pending() {
		return 0
	}
	sendReliable := c.fragOut.reliable

	w1 := c.outgoingSequence&newSeqMask | fragmentBit | b2i(sendReliable)<<31
	w2 := c.incomingSequence&newSeqMask | b2i(c.incomingReliableSequence)<<31

	send := net.NewMessage(net.MaxPacketLen, "nc_send_frg")
	send.WriteLong(w1)
	send.WriteLong(w2)
	if c.side == net.ClientSide && c.Qport != 0 {
		send.WriteByte(c.Qport)
	}

	remaining := min(len(c.fragOut.buf)-c.fragOut.pos, c.MaxPacketLen)
	more := c.fragOut.pos+remaining != len(c.fragOut.buf)

	// write fragment offset
	send.WriteShort(c.fragOut.pos&fragOffsMask | b2i(more)<<15)
	send.WriteBytes(c.fragOut.buf[c.fragOut.pos : c.fragOut.pos+remaining])

	if showPackets() {
		slog.Debug("send fragment",
			slog.String("to", c.RemoteAddress.String()),
			slog.Int("size", send.Len()),
			slog.Int("seq", c.outgoingSequence),
			slog.Int("offset", c.fragOut.pos),
			slog.Bool("more", more))
	}

	c.fragOut.pos += remaining
	// if the message has been sent completely, clear the fragment buffer
	if !more {
		c.outgoingSequence++
		c.LastSent = c.now()
		c.fragOut.buf = c.fragOut.buf[:0]
		c.fragOut.pos = 0
	}
	c.reliableAckPending = false

	c.sock.SendPacket(send.Bytes(), c.RemoteAddress)
	return send.Len()
}

// Process checks the header of a packet received from the remote address
// and returns the message payload. It returns false for packets that must
// not be parsed: stale, duplicated or malformed ones, and fragments of a
// message that is not complete yet.
func (c *Channel) Process(packet []byte) ([]byte, bool) {
	if c.Type == Old {
		return c.processOld(packet)
	}
	r := net.NewReader(packet)

	sequence := uint32(r.ReadLong())
	sequenceAck := uint32(r.ReadLong())

	// read the qport if we are a server
	if c.side == net.ServerSide && c.Qport != 0 {
		r.ReadUint8()
	}

	reliableMessage := sequence&reliableBit != 0
	reliableAck := sequenceAck&reliableBit != 0
	fragmented := sequence&fragmentBit != 0

	seq := int(sequence & newSeqMask)
	seqAck := int(sequenceAck & newSeqMask)

	fragmentOffset := 0
	moreFragments := false
	if fragmented {
		w := r.ReadWord()
		moreFragments = w&moreFragBit != 0
		fragmentOffset = w & fragOffsMask
	}

	if r.Overread() {
		slog.Debug("runt packet", slog.String("from", c.RemoteAddress.String()))
		return nil, false
	}

	if showPackets() {
		slog.Debug("recv",
			slog.String("from", c.RemoteAddress.String()),
			slog.Int("size", len(packet)),
			slog.Int("seq", seq),
			slog.Int("ack", seqAck),
			slog.Bool("reliable", reliableMessage),
			slog.Bool("fragment", fragmented))
	}

	// discard stale or duplicated packets
	if seq <= c.incomingSequence {
		if showDrop() {
			slog.Debug("out of order packet", slog.String("from", c.RemoteAddress.String()),
				slog.Int("seq", seq), slog.Int("expected", c.incomingSequence+1))
		}
		return nil, false
	}

	// dropped packets don't keep the message from being used
	c.Dropped = seq - (c.incomingSequence + 1)
	if c.Dropped > 0 && showDrop() {
		slog.Debug("dropped packets", slog.String("from", c.RemoteAddress.String()),
			slog.Int("count", c.Dropped), slog.Int("seq", seq))
	}

	// if the current outgoing reliable message has been acknowledged,
	// clear the buffer to make way for the next
	c.incomingReliableAcknowledged = reliableAck
	if c.reliable != nil && reliableAck == c.reliable.sequence {
		c.reliable = nil
	}

	payload := packet[r.Pos():]

	if fragmented {
		f := &c.fragIn
		if f.state == fragEmpty || f.sequence != seq {
			// start new receive sequence
			f.sequence = seq
			f.buf = f.buf[:0]
			f.state = fragAssembling
		}
		if fragmentOffset < len(f.buf) {
			if showDrop() {
				slog.Debug("out of order fragment", slog.String("from", c.RemoteAddress.String()), slog.Int("seq", seq))
			}
			return nil, false
		}
		if fragmentOffset > len(f.buf) {
			if showDrop() {
				slog.Debug("dropped fragment(s)", slog.String("from", c.RemoteAddress.String()), slog.Int("seq", seq))
			}
			return nil, false
		}
		if len(f.buf)+len(payload) > net.MaxMsgLen {
			slog.Debug("oversize fragment", slog.String("from", c.RemoteAddress.String()), slog.Int("seq", seq))
			return nil, false
		}
		f.buf = append(f.buf, payload...)
		if moreFragments {
			return nil, false
		}
		// message has been successfully assembled
		f.state = fragComplete
		payload = append([]byte(nil), f.buf...)
		f.reset()
	}

	c.incomingSequence = seq
	c.incomingAcknowledged = seqAck

	// if this message contains a reliable message, bump
	// incomingReliableSequence
	if reliableMessage {
		c.reliableAckPending = true
		c.incomingReliableSequence = !c.incomingReliableSequence
	}

	c.LastReceived = c.now()
	c.TotalDropped += c.Dropped
	c.TotalReceived++
	return payload, true
}

// ShouldUpdate reports whether the channel has something to send: new
// reliable data, an unacknowledged reliable, an ack to deliver, fragments
// or a due keepalive.
func (c *Channel) ShouldUpdate() bool {
	return c.Message.HasMessage() ||
		c.reliable != nil ||
		c.reliableAckPending ||
		c.fragOut.pending() ||
		c.now().Sub(c.LastSent) > keepalive
}

// Close drops all buffered state. The channel must not be used afterwards.
func (c *Channel) Close() {
	c.reliable = nil
	c.fragIn.reset()
	c.fragIn.buf = nil
	c.fragOut = fragmentOut{}
	c.Message.Clear()
	c.reliableAckPending = false
}
