// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"goquake2/cmd"
	"goquake2/conlog"
	"goquake2/cvar"
	"goquake2/protocol"
)

// Commands a client can send with clc_stringcmd.

func (s *Server) executeUserCommand(c *Client, line string) {
	args := cmd.Parse(line)
	if len(args.Args()) == 0 {
		return
	}
	c.log.Debug("user command", slog.String("cmd", line))
	switch strings.ToLower(args.Argv(0).String()) {
	case "new":
		s.userNew(c)
	case "configstrings":
		s.userConfigStrings(c, args)
	case "baselines":
		s.userBaselines(c, args)
	case "begin":
		s.userBegin(c, args)
	case "disconnect":
		s.userDisconnect(c)
	case "info":
		s.userInfo(c)
	default:
		c.printf(protocol.PrintHigh, "Unknown command \"%s\"\n", args.Argv(0).String())
	}
}

// userNew sends the first message from the server to a connected client.
// This will be sent on the initial connection and upon each server load.
func (s *Server) userNew(c *Client) {
	if c.state != csConnected {
		c.printf(protocol.PrintHigh, "New not valid -- already spawned\n")
		return
	}

	// serverdata needs to go over for all types of servers
	// to make sure the protocol is right, and to set the gamedir
	msg := c.nc.Message
	msg.WriteByte(protocol.SvcServerData)
	msg.WriteLong(protocol.Default)
	msg.WriteLong(s.spawnCount)
	msg.WriteByte(0) // not a demo
	msg.WriteString("")
	msg.WriteShort(c.slot)
	// send full levelname
	msg.WriteString(s.configStrings[protocol.CsName])

	c.state = csPrimed
	// begin fetching configstrings
	c.stuffText("cmd configstrings %d 0\n", s.spawnCount)
}

// signonLimit is how much of the reliable message one chunk of config
// strings or baselines may fill.
func signonLimit(c *Client) int {
	return c.nc.MaxPacketLen / 2
}

func (s *Server) checkSpawnCount(c *Client, args cmd.Arguments) bool {
	if c.state != csPrimed {
		c.printf(protocol.PrintHigh, "%s not valid -- already spawned\n", args.Argv(0).String())
		return false
	}
	// handle the case of a level changing while a client was connecting
	if args.Argv(1).Int() != s.spawnCount {
		c.printf(protocol.PrintHigh, "%s from different level\n", args.Argv(0).String())
		c.state = csConnected
		s.userNew(c)
		return false
	}
	return true
}

func (s *Server) userConfigStrings(c *Client, args cmd.Arguments) {
	if !s.checkSpawnCount(c, args) {
		return
	}
	start := max(args.Argv(2).Int(), 0)

	// write a packet full of data
	msg := c.nc.Message
	for ; start < protocol.MaxConfigStrings && msg.Len() < signonLimit(c); start++ {
		if cs := s.configStrings[start]; cs != "" {
			msg.WriteByte(protocol.SvcConfigString)
			msg.WriteShort(start)
			msg.WriteString(cs)
		}
	}

	// send next command
	if start == protocol.MaxConfigStrings {
		c.stuffText("cmd baselines %d 0\n", s.spawnCount)
	} else {
		c.stuffText("cmd configstrings %d %d\n", s.spawnCount, start)
	}
}

func (s *Server) userBaselines(c *Client, args cmd.Arguments) {
	if !s.checkSpawnCount(c, args) {
		return
	}
	start := max(args.Argv(2).Int(), 0)

	var null protocol.EntityState
	// write a packet full of data
	msg := c.nc.Message
	for ; start < protocol.MaxEdicts && msg.Len() < signonLimit(c); start++ {
		base := &s.baselines[start]
		if base.ModelIndex[0] != 0 || base.Sound != 0 || base.Effects != 0 {
			msg.WriteByte(protocol.SvcSpawnBaseline)
			protocol.WriteDeltaEntity(msg, &null, base, protocol.EsForce|protocol.EsNewEntity)
		}
	}

	// send next command
	if start == protocol.MaxEdicts {
		c.stuffText("precache %d\n", s.spawnCount)
	} else {
		c.stuffText("cmd baselines %d %d\n", s.spawnCount, start)
	}
}

func (s *Server) userBegin(c *Client, args cmd.Arguments) {
	if !s.checkSpawnCount(c, args) {
		return
	}
	c.state = csSpawned
	c.lastFrame = -1
	s.putClientInServer(c)
	s.userinfoChanged(c)
	s.broadcastPrintf(protocol.PrintHigh, "%s entered the game\n", c.name)
	c.log.Info("client spawned", slog.String("name", c.name))
}

func (s *Server) userDisconnect(c *Client) {
	s.broadcastPrintf(protocol.PrintHigh, "%s disconnected\n", c.name)
	s.dropClient(c, "")
}

// userInfo dumps the serverinfo info string.
func (s *Server) userInfo(c *Client) {
	info := cvar.Info(cvar.SERVERINFO)
	parts := strings.Split(strings.TrimPrefix(info, "\\"), "\\")
	for i := 0; i+1 < len(parts); i += 2 {
		c.printf(protocol.PrintHigh, "%-20s %s\n", parts[i], parts[i+1])
	}
}

// Console commands.

// AddCommands registers the server console commands with add, which is
// usually cmd.AddCommand.
func (s *Server) AddCommands(add func(name string, f cmd.QFunc) error) error {
	for name, f := range map[string]cmd.QFunc{
		"map":        s.cmdMap,
		"status":     s.cmdStatus,
		"kick":       s.cmdKick,
		"killserver": s.cmdKillServer,
		"bsplist":    s.cmdBSPList,
		"setportal":  s.cmdSetPortal,
		"serverinfo": s.cmdServerInfo,
	} {
		if err := add(name, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) cmdMap(a cmd.Arguments) error {
	if len(a.Args()) != 2 {
		conlog.Printf("Usage: map <mapname>\n")
		return nil
	}
	name := a.Argv(1).String()
	if err := s.SpawnServer(name); err != nil {
		conlog.Printf("Couldn't load %s\n", name)
		return errors.WithMessage(err, "map")
	}
	return nil
}

func (s *Server) cmdStatus(_ cmd.Arguments) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateDead {
		conlog.Printf("No server running.\n")
		return nil
	}
	conlog.Printf("map              : %s\n", s.mapName)
	conlog.Printf("num ping name            state     rate  address               session\n")
	conlog.Printf("--- ---- --------------- --------- ----- --------------------- ------------------------------------\n")
	for i := range s.clients {
		c := &s.clients[i]
		if c.state == csFree {
			continue
		}
		conlog.Printf("%3d %4d %-15s %-9s %5d %-21s %s\n",
			i, c.ping.Milliseconds(), c.name, c.state, c.rate, c.nc.RemoteAddress, c.ID)
	}
	return nil
}

func (s *Server) cmdKick(a cmd.Arguments) error {
	if len(a.Args()) != 2 {
		conlog.Printf("Usage: kick <userid>\n")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateDead {
		conlog.Printf("No server running.\n")
		return nil
	}
	c := s.findClient(a.Argv(1).String())
	if c == nil {
		conlog.Printf("Userid %s is not on the server\n", a.Argv(1).String())
		return nil
	}
	s.broadcastPrintf(protocol.PrintHigh, "%s was kicked\n", c.name)
	s.dropClient(c, "You were kicked from the game")
	return nil
}

func (s *Server) cmdKillServer(_ cmd.Arguments) error {
	if !s.Running() {
		return nil
	}
	s.Shutdown("Server was killed.")
	return nil
}

func (s *Server) cmdBSPList(_ cmd.Arguments) error {
	s.cache.List()
	return nil
}

func (s *Server) cmdSetPortal(a cmd.Arguments) error {
	n, ok := argInt(a, 1)
	open, ok2 := argInt(a, 2)
	if !ok || !ok2 {
		conlog.Printf("Usage: setportal <portalnum> <0|1>\n")
		return nil
	}
	if !s.Running() {
		conlog.Printf("No server running.\n")
		return nil
	}
	s.SetAreaPortalState(n, open != 0)
	return nil
}

func (s *Server) cmdServerInfo(_ cmd.Arguments) error {
	conlog.Printf("Server info settings:\n")
	info := cvar.Info(cvar.SERVERINFO)
	parts := strings.Split(strings.TrimPrefix(info, "\\"), "\\")
	for i := 0; i+1 < len(parts); i += 2 {
		conlog.Printf("%-20s %s\n", parts[i], parts[i+1])
	}
	return nil
}
