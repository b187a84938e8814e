// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

type AddrType int

const (
	AddrUnspecified AddrType = iota
	AddrLoopback
	AddrBroadcast
	AddrIP
	AddrIP6
)

// Addr is a network address. Only AddrIP and AddrIP6 carry an IP and a
// port.
type Addr struct {
	Type AddrType
	IP   netip.Addr
	Port uint16
}

// LoopbackAddr is the address of the in-process peer.
var LoopbackAddr = Addr{Type: AddrLoopback}

// AddrFromAddrPort converts a socket address. IPv4 mapped IPv6 addresses
// are unmapped.
func AddrFromAddrPort(ap netip.AddrPort) Addr {
	ip := ap.Addr().Unmap()
	t := AddrIP
	if ip.Is6() {
		t = AddrIP6
	}
	return Addr{Type: t, IP: ip, Port: ap.Port()}
}

func (a Addr) AddrPort() netip.AddrPort {
	if a.Type == AddrBroadcast {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), a.Port)
	}
	return netip.AddrPortFrom(a.IP, a.Port)
}

// BaseString is the address without the port.
func (a Addr) BaseString() string {
	switch a.Type {
	case AddrUnspecified:
		return "<unspecified>"
	case AddrLoopback:
		return "loopback"
	case AddrBroadcast:
		return "255.255.255.255"
	case AddrIP, AddrIP6:
		if !a.IP.IsValid() {
			return "<invalid>"
		}
		return a.IP.String()
	}
	return "<invalid>"
}

func (a Addr) String() string {
	switch a.Type {
	case AddrUnspecified, AddrLoopback:
		return a.BaseString()
	case AddrIP6:
		return fmt.Sprintf("[%s]:%d", a.BaseString(), a.Port)
	}
	return fmt.Sprintf("%s:%d", a.BaseString(), a.Port)
}

func (a Addr) IsUnspecified() bool {
	return a.Type == AddrUnspecified
}

// ParseAddr understands
//
//	loopback
//	localhost
//	idnewt:28000
//	192.246.40.70
//	[::1]:28000
//
// A missing port is replaced by defaultPort.
func ParseAddr(s string, defaultPort int) (Addr, bool) {
	if strings.EqualFold(s, "loopback") {
		return LoopbackAddr, true
	}
	host, port := s, ""
	if strings.HasPrefix(host, "[") {
		end := strings.IndexByte(host, ']')
		if end < 0 {
			return Addr{}, false
		}
		host, port = host[1:end], host[end+1:]
		if port != "" {
			if port[0] != ':' {
				return Addr{}, false
			}
			port = port[1:]
		}
	} else if i := strings.IndexByte(host, ':'); i >= 0 {
		host, port = host[:i], host[i+1:]
	}
	if host == "" {
		return Addr{}, false
	}

	p := defaultPort
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return Addr{}, false
		}
		p = int(n)
	}
	if p == 0 {
		p = defaultPort
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		ips, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", host)
		if err != nil || len(ips) == 0 {
			return Addr{}, false
		}
		// prefer IPv4
		ip = ips[0]
		for _, i := range ips {
			if i.Unmap().Is4() {
				ip = i
				break
			}
		}
	}
	return AddrFromAddrPort(netip.AddrPortFrom(ip, uint16(p))), true
}

// IsEqualBase compares two addresses ignoring the port.
func IsEqualBase(a, b Addr) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case AddrLoopback:
		return true
	case AddrIP, AddrIP6, AddrBroadcast:
		return a.IP == b.IP
	}
	return false
}

func IsEqual(a, b Addr) bool {
	if !IsEqualBase(a, b) {
		return false
	}
	return a.Type == AddrLoopback || a.Port == b.Port
}

// IsEqualBaseMask reports whether a and b share the first bits of their
// IP.
func IsEqualBaseMask(a, b Addr, bits int) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case AddrLoopback:
		return true
	case AddrIP, AddrIP6:
		p, err := a.IP.Prefix(bits)
		if err != nil {
			return false
		}
		return p.Contains(b.IP)
	}
	return false
}

// IsLAN reports whether a is on a local network.
func IsLAN(a Addr) bool {
	switch a.Type {
	case AddrLoopback:
		return true
	case AddrIP, AddrIP6:
		return a.IP.IsLoopback() || a.IP.IsPrivate() || a.IP.IsLinkLocalUnicast()
	}
	return false
}
