// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a datagram backend for browser clients. Every datagram
// travels as one binary frame. Peers are addressed by the remote TCP
// address of their connection.
type WebSocket struct {
	in    chan Packet
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	peers map[Addr]*wsPeer
	err   error
	local Addr

	upgrader websocket.Upgrader
	srv      *http.Server
}

type wsPeer struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func newWebSocket() *WebSocket {
	return &WebSocket{
		in:    make(chan Packet, recvQueueLength),
		done:  make(chan struct{}),
		peers: make(map[Addr]*wsPeer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  MaxPacketLen,
			WriteBufferSize: MaxPacketLen,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ListenWebSocket accepts websocket connections on ip:port.
func ListenWebSocket(ip string, port int) (*WebSocket, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s:%d: %v", ip, port, err)
	}
	s := newWebSocket()
	s.local = AddrFromAddrPort(ln.Addr().(*net.TCPAddr).AddrPort())
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.setErr(err)
			slog.Error("websocket server failed", slog.Any("err", err))
		}
	}()
	return s, nil
}

// DialWebSocket connects to a server listening with ListenWebSocket.
// Everything received is reported as coming from to.
func DialWebSocket(ctx context.Context, to Addr) (*WebSocket, error) {
	u := url.URL{Scheme: "ws", Host: to.AddrPort().String(), Path: "/"}
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	c, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %v", u.String(), err)
	}
	s := newWebSocket()
	if a, ok := c.LocalAddr().(*net.TCPAddr); ok {
		s.local = AddrFromAddrPort(a.AddrPort())
	}
	s.addPeer(to, c)
	return s, nil
}

func (s *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		http.Error(w, "bad remote address", http.StatusBadRequest)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.addPeer(AddrFromAddrPort(ap), c)
}

func (s *WebSocket) addPeer(from Addr, c *websocket.Conn) {
	s.mu.Lock()
	if old, ok := s.peers[from]; ok {
		old.c.Close()
	}
	s.peers[from] = &wsPeer{c: c}
	s.mu.Unlock()
	go s.readLoop(from, c)
}

func (s *WebSocket) readLoop(from Addr, c *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if p, ok := s.peers[from]; ok && p.c == c {
			delete(s.peers, from)
		}
		s.mu.Unlock()
		c.Close()
	}()
	c.SetReadLimit(MaxPacketLen)
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", slog.String("from", from.String()), slog.Any("err", err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		select {
		case s.in <- Packet{From: from, Data: data}:
		case <-s.done:
			return
		default:
			slog.Debug("websocket receive queue full", slog.String("from", from.String()))
		}
	}
}

func (s *WebSocket) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *WebSocket) ErrorString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return "no error"
	}
	return s.err.Error()
}

func (s *WebSocket) LocalAddr() Addr {
	return s.local
}

func (s *WebSocket) Send(data []byte, to Addr) (int, Err) {
	select {
	case <-s.done:
		return 0, Closed
	default:
	}
	s.mu.Lock()
	p, ok := s.peers[to]
	s.mu.Unlock()
	if !ok {
		s.setErr(fmt.Errorf("no connection to %s", to))
		return 0, Error
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.SetWriteDeadline(time.Now().Add(time.Second))
	if err := p.c.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.setErr(err)
		return 0, Error
	}
	return len(data), OK
}

func (s *WebSocket) Recv() (Packet, Err) {
	select {
	case p := <-s.in:
		return p, OK
	case <-s.done:
		return Packet{}, Closed
	default:
		return Packet{}, Again
	}
}

func (s *WebSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.srv != nil {
			err = s.srv.Close()
		}
		s.mu.Lock()
		for a, p := range s.peers {
			p.c.Close()
			delete(s.peers, a)
		}
		s.mu.Unlock()
	})
	return err
}
