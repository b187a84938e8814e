// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"log/slog"
	"sync"
	"time"

	"goquake2/conlog"
	"goquake2/cvars"
	"goquake2/rand"
)

const rateSecs = 3

type Stats struct {
	BytesSent   uint64
	BytesRcvd   uint64
	PacketsSent uint64
	PacketsRcvd uint64
	SendErrors  uint64
	RecvErrors  uint64
	// bytes per second, averaged over the last few seconds
	RateUp   int
	RateDown int
}

// Transport is one side (client or server) of the network layer. It
// delivers packets over the loopback and over an optional IP socket.
type Transport struct {
	side Side
	loop *Loopback

	mu   sync.Mutex
	sock Socket
	log  *PacketLog
	rng  rand.Generator

	stats    Stats
	rateSent int
	rateRcvd int
	rateTime time.Time
	start    time.Time
}

func NewTransport(side Side, loop *Loopback) *Transport {
	now := time.Now()
	return &Transport{
		side:     side,
		loop:     loop,
		rng:      rand.New(uint32(now.UnixNano())),
		rateTime: now,
		start:    now,
	}
}

func (t *Transport) Side() Side {
	return t.side
}

// SetSocket replaces the IP socket, closing the previous one.
func (t *Transport) SetSocket(s Socket) {
	t.mu.Lock()
	old := t.sock
	t.sock = s
	t.mu.Unlock()
	if old != nil && old != s {
		old.Close()
	}
}

func (t *Transport) Socket() Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sock
}

// SetLog starts logging packets to l, nil stops it.
func (t *Transport) SetLog(l *PacketLog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = l
}

func (t *Transport) dropSim() bool {
	if cvars.NetDropSim == nil {
		return false
	}
	p := cvars.NetDropSim.Int()
	return p > 0 && t.rng.Intn(100) < p
}

// SendPacket sends one datagram. It reports false if nothing was sent.
func (t *Transport) SendPacket(data []byte, to Addr) bool {
	if len(data) == 0 {
		return false
	}
	if len(data) > MaxPacketLen {
		slog.Error("SendPacket: oversize packet", slog.String("to", to.String()), slog.Int("len", len(data)))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch to.Type {
	case AddrUnspecified:
		return false
	case AddrLoopback:
		if t.loop == nil {
			return false
		}
		if t.dropSim() {
			return false
		}
		t.loop.send(t.side, data)
		t.log.Packet(to, "LP send", data)
		if t.side == ClientSide {
			t.rateSent += len(data)
		}
		return true
	}

	if t.sock == nil {
		return false
	}
	n, err := t.sock.Send(data, to)
	switch err {
	case Again, Closed:
		return false
	case Error:
		slog.Debug("SendPacket failed", slog.String("to", to.String()), slog.String("err", t.sock.ErrorString()))
		t.stats.SendErrors++
		return false
	}
	if n < len(data) {
		slog.Warn("SendPacket: short send", slog.String("to", to.String()))
	}
	t.log.Packet(to, "UDP send", data[:n])
	t.rateSent += n
	t.stats.BytesSent += uint64(n)
	t.stats.PacketsSent++
	return true
}

// GetPackets calls f for every queued packet, loopback first. It returns
// when every source reports Again.
func (t *Transport) GetPackets(f func(p Packet)) {
	if t.loop != nil {
		for {
			data, ok := t.loop.recv(t.side)
			if !ok {
				break
			}
			t.mu.Lock()
			t.log.Packet(LoopbackAddr, "LP recv", data)
			if t.side == ClientSide {
				t.rateRcvd += len(data)
			}
			t.mu.Unlock()
			f(Packet{From: LoopbackAddr, Data: data})
		}
	}

	s := t.Socket()
	if s == nil {
		return
	}
	for {
		p, err := s.Recv()
		switch err {
		case Again, Closed:
			return
		case Error:
			slog.Debug("GetPackets failed", slog.String("err", s.ErrorString()))
			t.mu.Lock()
			t.stats.RecvErrors++
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		t.log.Packet(p.From, "UDP recv", p.Data)
		t.rateRcvd += len(p.Data)
		t.stats.BytesRcvd += uint64(len(p.Data))
		t.stats.PacketsRcvd++
		t.mu.Unlock()
		f(p)
	}
}

// UpdateStats recomputes the rates every few seconds.
func (t *Transport) UpdateStats(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rateTime.After(now) {
		t.rateTime = now
	}
	if now.Sub(t.rateTime) < rateSecs*time.Second {
		return
	}
	t.rateTime = now
	t.stats.RateDown = t.rateRcvd / rateSecs
	t.stats.RateUp = t.rateSent / rateSecs
	t.rateSent = 0
	t.rateRcvd = 0
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// PrintStats prints the counters to the console.
func (t *Transport) PrintStats() {
	s := t.Stats()
	diff := uint64(time.Since(t.start).Seconds())
	if diff < 1 {
		diff = 1
	}
	conlog.Printf("Network uptime (%v): %v\n", t.side, time.Duration(diff)*time.Second)
	conlog.Printf("Bytes sent: %d (%d bytes/sec)\n", s.BytesSent, s.BytesSent/diff)
	conlog.Printf("Bytes rcvd: %d (%d bytes/sec)\n", s.BytesRcvd, s.BytesRcvd/diff)
	conlog.Printf("Packets sent: %d (%d packets/sec)\n", s.PacketsSent, s.PacketsSent/diff)
	conlog.Printf("Packets rcvd: %d (%d packets/sec)\n", s.PacketsRcvd, s.PacketsRcvd/diff)
	conlog.Printf("Total errors: %d/%d (send/recv)\n", s.SendErrors, s.RecvErrors)
	conlog.Printf("Current upload rate: %d bytes/sec\n", s.RateUp)
	conlog.Printf("Current download rate: %d bytes/sec\n", s.RateDown)
}

// Close closes the IP socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	s := t.sock
	t.sock = nil
	t.mu.Unlock()
	if s != nil {
		return s.Close()
	}
	return nil
}
