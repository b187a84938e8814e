// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

const (
	// queued received datagrams per socket before new ones get dropped
	recvQueueLength = 256
)

// UDPSocket is the UDP backend. A goroutine reads datagrams into a queue,
// Recv polls that queue.
type UDPSocket struct {
	con   *net.UDPConn
	in    chan Packet
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	err   error
	local Addr
}

// ListenUDP opens a UDP socket on ip:port. An empty ip binds to all
// interfaces, port 0 picks a free port.
func ListenUDP(ip string, port int) (*UDPSocket, error) {
	addr := netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))
	if ip != "" && ip != "localhost" {
		a, err := netip.ParseAddr(ip)
		if err != nil {
			return nil, fmt.Errorf("bad interface address %q: %v", ip, err)
		}
		addr = netip.AddrPortFrom(a, uint16(port))
	} else if ip == "localhost" {
		addr = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), uint16(port))
	}
	con, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("could not listen on %v: %v", addr, err)
	}
	s := &UDPSocket{
		con:   con,
		in:    make(chan Packet, recvQueueLength),
		done:  make(chan struct{}),
		local: AddrFromAddrPort(con.LocalAddr().(*net.UDPAddr).AddrPort()),
	}
	go s.readUDP()
	return s, nil
}

func (s *UDPSocket) readUDP() {
	defer close(s.in)
	b := make([]byte, MaxPacketLen)
	for {
		n, from, err := s.con.ReadFromUDPAddrPort(b)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.setErr(err)
			slog.Debug("UDP read failed", slog.Any("err", err))
			continue
		}
		// make sure the data moved out is a different slice
		o := make([]byte, n)
		copy(o, b[:n])
		select {
		case s.in <- Packet{From: AddrFromAddrPort(from), Data: o}:
		case <-s.done:
			return
		default:
			slog.Debug("UDP receive queue full", slog.String("from", from.String()))
		}
	}
}

func (s *UDPSocket) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *UDPSocket) ErrorString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return "no error"
	}
	return s.err.Error()
}

func (s *UDPSocket) LocalAddr() Addr {
	return s.local
}

func (s *UDPSocket) Send(data []byte, to Addr) (int, Err) {
	if to.Type != AddrIP && to.Type != AddrIP6 && to.Type != AddrBroadcast {
		return 0, Error
	}
	n, err := s.con.WriteToUDPAddrPort(data, to.AddrPort())
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, Closed
		}
		s.setErr(err)
		return 0, Error
	}
	return n, OK
}

func (s *UDPSocket) Recv() (Packet, Err) {
	select {
	case p, ok := <-s.in:
		if !ok {
			return Packet{}, Closed
		}
		return p, OK
	default:
		return Packet{}, Again
	}
}

func (s *UDPSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.con.Close()
	})
	return err
}
