// SPDX-License-Identifier: GPL-2.0-or-later

package net

// Err is the result of a socket operation.
type Err int

const (
	OK Err = iota
	Error
	// Again means there is nothing to read or the send would block. It is
	// never fatal.
	Again
	// Closed is an orderly shutdown of the socket or the peer.
	Closed
)

func (e Err) String() string {
	switch e {
	case OK:
		return "ok"
	case Error:
		return "error"
	case Again:
		return "again"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Packet is one received datagram.
type Packet struct {
	From Addr
	Data []byte
}

// Socket is a datagram backend. Recv never blocks.
type Socket interface {
	Send(data []byte, to Addr) (int, Err)
	Recv() (Packet, Err)
	// ErrorString describes the last Error result.
	ErrorString() string
	LocalAddr() Addr
	Close() error
}
