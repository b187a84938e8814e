// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"goquake2/bsp"
	"goquake2/cmodel"
	"goquake2/cvars"
	qmath "goquake2/math"
	"goquake2/math/vec"
	"goquake2/net"
	"goquake2/netchan"
	"goquake2/pmove"
	"goquake2/protocol"
)

type clientState int

const (
	csFree      clientState = iota // can be reused for a new connection
	csZombie                       // client has been disconnected, but don't reuse connection for a couple seconds
	csConnected                    // has been assigned to a client, but not in game yet
	csPrimed                       // sent serverdata, waiting for begin
	csSpawned                      // client is fully in game
)

func (s clientState) String() string {
	switch s {
	case csFree:
		return "free"
	case csZombie:
		return "zombie"
	case csConnected:
		return "connected"
	case csPrimed:
		return "primed"
	case csSpawned:
		return "spawned"
	}
	return "unknown"
}

const (
	zombieTime        = 2 * time.Second
	rateMessages      = 10
	maxStringCmds     = 8
	maxDroppedReplays = 20
)

type clientFrame struct {
	number   int
	areaBits []byte
	ps       protocol.PlayerState
	entities []protocol.EntityState
	sentTime time.Time // for ping calculations
}

// Client is one connection slot.
type Client struct {
	ID    uuid.UUID // session id, for logs and status
	state clientState
	slot  int

	name     string
	userInfo string
	rate     int
	protocol int

	nc    *netchan.Channel
	edict *Edict
	ps    protocol.PlayerState

	frames    [protocol.UpdateBackup]clientFrame
	lastFrame int // for delta compression, -1 requests a full update
	lastCmd   protocol.UserCmd

	ping          time.Duration
	suppressCount int // number of messages rate suppressed
	messageSize   [rateMessages]int

	dropTime time.Time
	log      *slog.Logger
}

func (c *Client) Name() string {
	return c.name
}

// printf queues a svc_print on the reliable stream.
func (c *Client) printf(level int, format string, v ...any) {
	msg := c.nc.Message
	msg.WriteByte(protocol.SvcPrint)
	msg.WriteByte(level)
	msg.WriteString(fmt.Sprintf(format, v...))
}

func (c *Client) stuffText(format string, v ...any) {
	msg := c.nc.Message
	msg.WriteByte(protocol.SvcStuffText)
	msg.WriteString(fmt.Sprintf(format, v...))
}

// userinfoChanged pulls the fields the server cares about out of the
// userinfo string.
func (s *Server) userinfoChanged(c *Client) {
	name := protocol.InfoValueForKey(c.userInfo, "name")
	if name == "" {
		name = "unnamed"
	}
	if len(name) > 15 {
		name = name[:15]
	}
	c.name = name

	c.rate = 5000
	if r, err := strconv.Atoi(protocol.InfoValueForKey(c.userInfo, "rate")); err == nil {
		c.rate = qmath.Clamp(100, r, 15000)
	}

	if c.edict != nil && c.state == csSpawned {
		skin := protocol.InfoValueForKey(c.userInfo, "skin")
		s.setConfigString(protocol.CsPlayerSkins+c.slot, c.name+"\\"+skin)
	}
}

// dropClient puts the client into the zombie state. The slot can be
// reused after zombieTime. reason is sent if not empty.
func (s *Server) dropClient(c *Client, reason string) {
	if c.state <= csZombie {
		return
	}
	if reason != "" {
		c.printf(protocol.PrintHigh, "%s\n", reason)
		c.nc.Message.WriteByte(protocol.SvcDisconnect)
		s.sendClientMessage(c)
		c.log.Info("dropping client", slog.String("reason", reason))
	}
	if c.edict != nil {
		s.free(c.edict)
		c.edict = nil
	}
	c.state = csZombie
	c.dropTime = s.now()
	c.name = ""
}

// sendClientMessage transmits the pending reliable data without a frame.
func (s *Server) sendClientMessage(c *Client) {
	if _, err := c.nc.Transmit(nil, 1); err != nil {
		c.log.Warn("reliable message overflowed", slog.Any("err", err))
	}
}

// rateDrop reports whether the client is above its rate and the next
// frame has to be skipped.
func (s *Server) rateDrop(c *Client) bool {
	// never drop over the loopback
	if c.nc.RemoteAddress.Type == net.AddrLoopback {
		return false
	}
	total := 0
	for _, n := range c.messageSize {
		total += n
	}
	if total > c.rate {
		c.suppressCount++
		c.messageSize[s.frameNum%rateMessages] = 0
		return true
	}
	return false
}

func (s *Server) sendClientMessages() {
	for i := range s.clients {
		c := &s.clients[i]
		if c.state < csConnected {
			continue
		}
		// if the reliable message overflowed, drop the client
		if c.nc.Message.Overflowed() {
			c.nc.Message.Clear()
			s.broadcastPrintf(protocol.PrintHigh, "%s overflowed\n", c.name)
			s.dropClient(c, "overflowed")
			continue
		}

		if c.state == csSpawned {
			// don't overrun bandwidth
			if s.rateDrop(c) {
				continue
			}
			s.sendClientDatagram(c)
		} else if c.nc.ShouldUpdate() {
			// just update reliable if needed
			s.sendClientMessage(c)
		}
	}
}

// sendClientDatagram builds and sends the frame of this server frame.
func (s *Server) sendClientDatagram(c *Client) {
	s.buildClientFrame(c)

	msg := net.NewMessage(net.MaxPacketLenWritable, "sv_datagram")
	maxSize := c.nc.MaxPacketLen
	if c.nc.Type == netchan.Old {
		// the reliable data shares the packet
		maxSize -= c.nc.Message.Len()
	}
	s.writeFrameToClient(c, msg, maxSize)

	if msg.Overflowed() {
		c.log.Warn("datagram overflowed")
		msg.Clear()
	}
	n, err := c.nc.Transmit(msg.Bytes(), 1)
	if err != nil {
		s.dropClient(c, "overflowed")
		return
	}
	// record the size for rate estimation
	c.messageSize[s.frameNum%rateMessages] = n
}

// executeClientMessage parses a sequenced packet of a client.
func (s *Server) executeClientMessage(c *Client, payload []byte) {
	r := net.NewReader(payload)
	moveIssued := false
	stringCmds := 0

	for {
		if r.Overread() {
			c.log.Warn("badread in client message")
			s.dropClient(c, "bad read")
			return
		}
		op := r.ReadUint8()
		if op == -1 {
			return
		}
		switch op {
		case protocol.ClcNop:
		case protocol.ClcUserinfo:
			info := r.ReadString()
			if !protocol.InfoValidate(info) {
				s.dropClient(c, "invalid userinfo")
				return
			}
			c.userInfo = info
			s.userinfoChanged(c)
		case protocol.ClcMove:
			if moveIssued {
				return // someone is trying to cheat...
			}
			moveIssued = true
			if !s.clientMove(c, r) {
				return
			}
		case protocol.ClcStringCmd:
			cmd := r.ReadString()
			// malicious users may try using too many string commands
			stringCmds++
			if stringCmds < maxStringCmds {
				s.executeUserCommand(c, cmd)
			}
			if c.state == csZombie {
				return // disconnect command
			}
		default:
			c.log.Warn("unknown command char", slog.Int("op", op))
			s.dropClient(c, "unknown command")
			return
		}
	}
}

// clientMove runs the commands of a clc_move. It returns false if the
// rest of the packet must be ignored.
func (s *Server) clientMove(c *Client, r *net.Reader) bool {
	m, ok := protocol.ReadMove(r, c.nc.IncomingSequence())
	if r.Overread() {
		s.dropClient(c, "bad read")
		return false
	}
	if !ok {
		// if the checksum fails, ignore the rest of the packet
		c.log.Debug("failed command checksum", slog.Int("sequence", c.nc.IncomingSequence()))
		return false
	}

	if m.LastFrame != c.lastFrame {
		c.lastFrame = m.LastFrame
		if c.lastFrame > 0 {
			f := &c.frames[c.lastFrame&protocol.UpdateMask]
			if f.number == c.lastFrame {
				c.ping = s.now().Sub(f.sentTime)
			}
		}
	}

	if c.state != csSpawned {
		c.lastFrame = -1
		return true
	}

	// replay commands the server never saw
	netDrop := c.nc.Dropped
	if netDrop < maxDroppedReplays {
		for ; netDrop > 2; netDrop-- {
			s.clientThink(c, &c.lastCmd)
		}
		if netDrop > 1 {
			s.clientThink(c, &m.Cmds[0])
		}
		if netDrop > 0 {
			s.clientThink(c, &m.Cmds[1])
		}
	}
	s.clientThink(c, &m.Cmds[2])
	c.lastCmd = m.Cmds[2]
	return true
}

// clientThink moves the player of c by one command.
func (s *Server) clientThink(c *Client, cmd *protocol.UserCmd) {
	e := c.edict
	if e == nil {
		return
	}
	pm := pmove.PMove{
		State: c.ps.PMove,
		Cmd:   *cmd,
		Trace: func(start, mins, maxs, end vec.Vec3) cmodel.Trace {
			return s.trace(start, mins, maxs, end, e, bsp.MASK_PLAYERSOLID)
		},
	}
	if cvars.ServerNoClipMove.Bool() {
		pm.State.Type = protocol.PmSpectator
	} else if pm.State.Type == protocol.PmSpectator {
		pm.State.Type = protocol.PmNormal
	}
	pmove.Move(&pm, &s.pmp)

	c.ps.PMove = pm.State
	for i := range 3 {
		c.ps.ViewAngles[i] = qmath.AngleToShort(pm.ViewAngles[i])
	}
	e.Origin = protocol.UnpackOrigin(pm.State.Origin)
	e.Angles = vec.Vec3{0, qmath.AngleMod32(pm.ViewAngles[1]), 0}
	e.Mins, e.Maxs = pm.Mins, pm.Maxs
	s.linkEdict(e)
}

// putClientInServer spawns the player edict of c at a spawn point.
func (s *Server) putClientInServer(c *Client) {
	e := &s.edicts[c.slot+1]
	s.initEdict(e, c.slot+1)
	e.ClassName = "player"
	e.Client = c
	e.Solid = SolidBBox
	e.Mins, e.Maxs = pmove.PlayerMins, pmove.PlayerMaxs
	e.S.ModelIndex[0] = 255 // will use the skin specified model
	e.S.Skin = uint32(c.slot)

	var sp spawnPoint
	if len(s.spawnPoints) > 0 {
		sp = s.spawnPoints[s.rng.Intn(len(s.spawnPoints))]
	}
	// drop it a bit so it does not start in the floor
	e.Origin = vec.Add(sp.origin, vec.Vec3{0, 0, 1})
	e.Angles = vec.Vec3{0, sp.angles[1], 0}

	c.edict = e
	c.ps = protocol.PlayerState{FOV: 90}
	c.ps.PMove.Origin = protocol.PackOrigin(e.Origin)
	for i := range 3 {
		c.ps.PMove.DeltaAngles[i] = qmath.AngleToShort(e.Angles[i])
		c.ps.ViewAngles[i] = c.ps.PMove.DeltaAngles[i]
	}
	c.ps.ViewOffset[2] = 22 * 4
	if cvars.ServerNoClipMove.Bool() {
		c.ps.PMove.Type = protocol.PmSpectator
	}
	s.linkEdict(e)
}

func (s *Server) findClient(name string) *Client {
	for i := range s.clients {
		c := &s.clients[i]
		if c.state < csConnected {
			continue
		}
		if strings.EqualFold(c.name, name) {
			return c
		}
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 && n < len(s.clients) {
		if c := &s.clients[n]; c.state >= csConnected {
			return c
		}
	}
	return nil
}
