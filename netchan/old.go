// SPDX-License-Identifier: GPL-2.0-or-later

package netchan

import (
	"log/slog"

	"goquake2/net"
)

// The Old channel is kept for clients speaking the original protocol. It
// has 31 bit sequences, a 16 bit qport that is always present and no
// fragments: a reliable message has to fit into one packet.

func (c *Channel) transmitOld(data []byte, numPackets int) int {
	// if the remote side dropped the last reliable message, resend
	sendReliable := c.resendReliable()
	// if the reliable transmit buffer is empty, copy the current message out
	if c.takeReliable() {
		sendReliable = true
	}

	w1 := c.outgoingSequence&oldSeqMask | b2i(sendReliable)<<31
	w2 := c.incomingSequence&oldSeqMask | b2i(c.incomingReliableSequence)<<31

	send := net.NewMessage(c.MaxPacketLen+net.PacketHeader, "nc_send_old")
	c.outgoingSequence++
	c.LastSent = c.now()

	send.WriteLong(w1)
	send.WriteLong(w2)
	// send the qport if we are a client
	if c.side == net.ClientSide {
		send.WriteShort(c.Qport)
	}
	// copy the reliable message to the packet first
	if sendReliable {
		send.WriteBytes(c.reliable.data)
		c.lastReliableSequence = c.outgoingSequence
	}

	// add the unreliable part if space is available
	if send.Remaining() >= len(data) {
		send.WriteBytes(data)
	} else {
		slog.Warn("Transmit: dumped unreliable", slog.String("to", c.RemoteAddress.String()))
	}

	if showPackets() {
		slog.Debug("send",
			slog.String("to", c.RemoteAddress.String()),
			slog.Int("size", send.Len()),
			slog.Int("seq", c.outgoingSequence-1),
			slog.Int("ack", c.incomingSequence),
			slog.Bool("reliable", sendReliable))
	}

	for range numPackets {
		c.sock.SendPacket(send.Bytes(), c.RemoteAddress)
	}
	c.reliableAckPending = false
	return send.Len() * numPackets
}

func (c *Channel) processOld(packet []byte) ([]byte, bool) {
	r := net.NewReader(packet)
	sequence := uint32(r.ReadLong())
	sequenceAck := uint32(r.ReadLong())
	if c.side == net.ServerSide {
		r.ReadShort()
	}
	if r.Overread() {
		slog.Debug("runt packet", slog.String("from", c.RemoteAddress.String()))
		return nil, false
	}

	reliableMessage := sequence&reliableBit != 0
	reliableAck := sequenceAck&reliableBit != 0
	seq := int(sequence & oldSeqMask)
	seqAck := int(sequenceAck & oldSeqMask)

	if showPackets() {
		slog.Debug("recv",
			slog.String("from", c.RemoteAddress.String()),
			slog.Int("size", len(packet)),
			slog.Int("seq", seq),
			slog.Int("ack", seqAck),
			slog.Bool("reliable", reliableMessage))
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
	if c.reliable != nil && reliableAck == c.reliable.sequence {
		c.reliable = nil
	}

	c.incomingSequence = seq
	c.incomingAcknowledged = seqAck
	c.incomingReliableAcknowledged = reliableAck
	if reliableMessage {
		c.reliableAckPending = true
		c.incomingReliableSequence = !c.incomingReliableSequence
	}

	c.LastReceived = c.now()
	c.TotalDropped += c.Dropped
	c.TotalReceived++
	return packet[r.Pos():], true
}
