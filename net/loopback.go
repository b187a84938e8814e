// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"sync"
)

const maxLoopback = 4

// Side selects one end of the loopback.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client"
	}
	return "server"
}

type loopRing struct {
	msgs [maxLoopback][]byte
	get  uint
	send uint
}

// Loopback connects a client and a server in the same process without
// touching the network. Each direction holds the latest four packets,
// older ones are lost.
type Loopback struct {
	mu    sync.Mutex
	rings [2]loopRing // indexed by receiving side
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

// send queues data for the side opposite to from.
func (l *Loopback) send(from Side, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := &l.rings[from^1]
	r.msgs[r.send&(maxLoopback-1)] = append([]byte(nil), data...)
	r.send++
}

// recv returns the next packet queued for side.
func (l *Loopback) recv(side Side) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := &l.rings[side]
	if r.send-r.get > maxLoopback {
		r.get = r.send - maxLoopback
	}
	if r.get == r.send {
		return nil, false
	}
	m := r.msgs[r.get&(maxLoopback-1)]
	r.get++
	return m, true
}

// Clear drops everything queued in both directions.
func (l *Loopback) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rings = [2]loopRing{}
}
