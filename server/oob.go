// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"goquake2/cmd"
	"goquake2/conlog"
	"goquake2/cvar"
	"goquake2/cvars"
	"goquake2/net"
	"goquake2/netchan"
	"goquake2/protocol"
)

const (
	maxChallenges = 1024
	// minimum size a client may ask for with maxmsglen
	minPacketLen = 512
	// rcon output is split into packets of this size
	rconChunk = 1024
)

type challenge struct {
	adr       net.Addr
	challenge int
	time      time.Time
}

type rconRequest struct {
	from    net.Addr
	command string
}

// connectionlessPacket handles a packet starting with the -1 sequence. It
// is text, one command line with arguments.
func (s *Server) connectionlessPacket(from net.Addr, data []byte) {
	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 && !strings.HasPrefix(line, "rcon") {
		line = line[:i]
	}
	args := cmd.Parse(line)
	if len(args.Args()) == 0 {
		return
	}
	c := args.Argv(0).String()
	s.log.Debug("connectionless packet", slog.String("from", from.String()), slog.String("cmd", c))

	switch c {
	case "ping":
		s.oob(from, "ack")
	case "ack":
	case "info":
		s.svcInfo(from, args)
	case "status":
		s.svcStatus(from)
	case "getchallenge":
		s.svcGetChallenge(from)
	case "connect":
		s.svcDirectConnect(from, args)
	case "rcon":
		s.svcRemoteCommand(from, line)
	default:
		s.log.Debug("bad connectionless packet", slog.String("from", from.String()), slog.String("cmd", c))
	}
}

func (s *Server) oob(to net.Addr, format string, v ...any) {
	net.OutOfBand(s.transport, to, format, v...)
}

func (s *Server) countClients() int {
	n := 0
	for i := range s.clients {
		if s.clients[i].state >= csConnected {
			n++
		}
	}
	return n
}

// svcInfo answers server browsers.
func (s *Server) svcInfo(from net.Addr, args cmd.Arguments) {
	if s.state == stateDead {
		return
	}
	if v := args.Argv(1).Int(); v != protocol.Default {
		s.oob(from, "info\n%s: wrong version\n", cvars.ServerHostName.String())
		return
	}
	s.oob(from, "info\n%16s %8s %2d/%2d\n", cvars.ServerHostName.String(), s.mapName, s.countClients(), s.maxClients)
}

func (s *Server) statusString() string {
	var b strings.Builder
	b.WriteString(cvar.Info(cvar.SERVERINFO))
	if s.mapName != "" {
		b.WriteString("\\mapname\\" + s.mapName)
	}
	b.WriteString("\n")
	for i := range s.clients {
		c := &s.clients[i]
		if c.state < csConnected {
			continue
		}
		fmt.Fprintf(&b, "%d %d \"%s\"\n", 0, c.ping.Milliseconds(), c.name)
	}
	return b.String()
}

// svcStatus responds with all the info that qplug or qspy can see.
func (s *Server) svcStatus(from net.Addr) {
	s.oob(from, "print\n%s", s.statusString())
}

// svcGetChallenge returns a challenge number that can be used in a
// subsequent client_connect command. We do this to prevent denial of
// service attacks that flood the server with invalid connection IPs.
// With a challenge, they must give a valid IP address.
func (s *Server) svcGetChallenge(from net.Addr) {
	oldest := 0
	oldestTime := s.now()
	i := 0
	// see if we already have a challenge for this ip
	for ; i < maxChallenges; i++ {
		ch := &s.challenges[i]
		if net.IsEqualBase(from, ch.adr) {
			break
		}
		if ch.time.Before(oldestTime) {
			oldestTime = ch.time
			oldest = i
		}
	}
	if i == maxChallenges {
		// overwrite the oldest
		i = oldest
	}
	s.challenges[i] = challenge{
		adr:       from,
		challenge: int(s.rng.Uint32n(0x7fffffff)) + 1,
		time:      s.now(),
	}
	// send it back
	s.oob(from, "challenge %d p=%d", s.challenges[i].challenge, protocol.Default)
}

func (s *Server) checkChallenge(from net.Addr, ch int) bool {
	if from.Type == net.AddrLoopback {
		return true
	}
	for i := range s.challenges {
		c := &s.challenges[i]
		if net.IsEqualBase(from, c.adr) {
			if c.challenge != ch {
				return false
			}
			// never reuse a challenge
			c.challenge = 0
			return ch != 0
		}
	}
	return false
}

// svcDirectConnect handles
//
//	connect <protocol> <qport> <challenge> "<userinfo>" [maxmsglen [nc]]
//
// nc selects the channel: 0 old, 1 new. It defaults to net_chantype.
func (s *Server) svcDirectConnect(from net.Addr, args cmd.Arguments) {
	if s.state != stateGame {
		s.oob(from, "print\nServer is not running.\n")
		return
	}
	version := args.Argv(1).Int()
	if version != protocol.Default {
		s.oob(from, "print\nServer is protocol version %d.\n", protocol.Default)
		s.log.Debug("rejected connect", slog.String("from", from.String()), slog.Int("version", version))
		return
	}
	qport := args.Argv(2).Int()
	ch := args.Argv(3).Int()
	userinfo := args.Argv(4).String()

	if !protocol.InfoValidate(userinfo) {
		s.oob(from, "print\nInvalid userinfo string.\n")
		return
	}
	// force the IP key/value pair so the game can filter based on ip
	userinfo, _ = protocol.InfoSetValueForKey(userinfo, "ip", from.String())

	if !s.checkChallenge(from, ch) {
		s.oob(from, "print\nBad challenge.\n")
		return
	}

	maxLen := net.MaxPacketLenWritableDefault
	if cvars.NetMaxMsgLen != nil && cvars.NetMaxMsgLen.Int() > 0 {
		maxLen = cvars.NetMaxMsgLen.Int()
	}
	if len(args.Args()) > 5 {
		if n := args.Argv(5).Int(); n > 0 {
			maxLen = min(max(n, minPacketLen), maxLen)
		}
	}
	if from.Type == net.AddrLoopback {
		maxLen = net.MaxPacketLenWritable
	}

	chanType := netchan.New
	if cvars.NetChanType != nil && cvars.NetChanType.Int() == 0 {
		chanType = netchan.Old
	}
	if len(args.Args()) > 6 {
		if args.Argv(6).Int() == 0 {
			chanType = netchan.Old
		} else {
			chanType = netchan.New
		}
	}
	if chanType == netchan.New {
		qport &= 0xff
	} else {
		qport &= 0xffff
	}

	// if there is already a slot for this ip, reuse it
	var slot *Client
	for i := range s.clients {
		c := &s.clients[i]
		if c.state == csFree {
			continue
		}
		if net.IsEqualBase(from, c.nc.RemoteAddress) &&
			(c.nc.Qport == qport || from.Port == c.nc.RemoteAddress.Port) {
			s.log.Info("client reconnect", slog.String("from", from.String()))
			if c.state > csZombie {
				s.dropClient(c, "")
			}
			slot = c
			break
		}
	}
	// find a client slot
	if slot == nil {
		for i := range s.clients {
			if s.clients[i].state == csFree {
				slot = &s.clients[i]
				break
			}
		}
	}
	if slot == nil {
		s.oob(from, "print\nServer is full.\n")
		s.log.Debug("rejected a connection", slog.String("from", from.String()))
		return
	}

	idx := slot - &s.clients[0]
	*slot = Client{
		ID:        uuid.New(),
		state:     csConnected,
		slot:      idx,
		userInfo:  userinfo,
		protocol:  version,
		lastFrame: -1,
		nc: netchan.Setup(s.transport, net.ServerSide, chanType, from, qport, maxLen, version,
			netchan.WithClock(s.now)),
	}
	slot.log = s.log.With(slog.Int("client", idx), slog.String("session", slot.ID.String()))
	s.userinfoChanged(slot)

	// send the connect packet to the client
	s.oob(from, "client_connect nc=%d map=%s", int(chanType), s.mapName)
	slot.log.Info("client connected", slog.String("from", from.String()), slog.String("name", slot.name),
		slog.String("netchan", chanType.String()), slog.Int("maxmsglen", maxLen))
}

func (s *Server) rconValid(password string) bool {
	pw := cvars.RconPassword.String()
	return pw != "" && password == pw
}

// svcRemoteCommand checks the password and queues the command. It runs
// after the frame with the console output sent back.
func (s *Server) svcRemoteCommand(from net.Addr, line string) {
	args := cmd.Parse(line)
	if !s.rconValid(args.Argv(1).String()) {
		s.log.Info("bad rcon", slog.String("from", from.String()))
		s.oob(from, "print\nBad rcon_password.\n")
		return
	}
	// everything after the password
	rest := strings.TrimSpace(strings.TrimPrefix(line, "rcon"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, args.Argv(1).String()))
	s.log.Info("rcon", slog.String("from", from.String()), slog.String("cmd", rest))
	s.pendingRcon = append(s.pendingRcon, rconRequest{from: from, command: rest})
}

// executeRcon runs a queued remote command without holding the server
// lock, so it may change maps or kick clients.
func (s *Server) executeRcon(r rconRequest) {
	out := conlog.Redirect(func() {
		if err := s.exec(r.command); err != nil {
			conlog.Printf("%v\n", err)
		}
	})
	for {
		n := min(len(out), rconChunk)
		s.oob(r.from, "print\n%s", out[:n])
		out = out[n:]
		if len(out) == 0 {
			return
		}
	}
}

// defaultExec runs the command against the global command and cvar
// registries.
func defaultExec(line string) error {
	for _, l := range strings.Split(line, ";") {
		a := cmd.Parse(l)
		if len(a.Args()) == 0 {
			continue
		}
		if ok, err := cmd.Execute(a); err != nil {
			return err
		} else if ok {
			continue
		}
		if ok, err := cvar.Execute(a); err != nil {
			return err
		} else if ok {
			continue
		}
		conlog.Printf("Unknown command \"%s\"\n", a.Argv(0).String())
	}
	return nil
}

func argInt(a cmd.Arguments, i int) (int, bool) {
	n, err := strconv.Atoi(a.Argv(i).String())
	return n, err == nil
}
