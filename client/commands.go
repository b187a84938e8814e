// SPDX-License-Identifier: GPL-2.0-or-later

package client

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"goquake2/cmd"
	"goquake2/cmodel"
	"goquake2/conlog"
	"goquake2/cvars"
	"goquake2/net"
	"goquake2/protocol"
)

// addServerCommands registers what the server may stuff into our
// command buffer.
func (c *Client) addServerCommands() {
	cmd.Must(c.commands.Add("cmd", c.cmdForward))
	cmd.Must(c.commands.Add("precache", c.cmdPrecache))
	cmd.Must(c.commands.Add("reconnect", c.cmdReconnect))
	cmd.Must(c.commands.Add("disconnect", c.cmdDisconnect))
}

// AddCommands registers the client console commands with add, which is
// usually cmd.AddCommand.
func (c *Client) AddCommands(add func(name string, f cmd.QFunc) error) error {
	for name, f := range map[string]cmd.QFunc{
		"connect":    c.cmdConnect,
		"disconnect": c.cmdDisconnect,
		"reconnect":  c.cmdReconnect,
		"cmd":        c.cmdForward,
		"rcon":       c.cmdRcon,
		"clstatus":   c.cmdStatus,
	} {
		if err := add(name, f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) cmdConnect(a cmd.Arguments) error {
	if len(a.Args()) != 2 {
		conlog.Printf("usage: connect <server>\n")
		return nil
	}
	return c.Connect(a.Argv(1).String())
}

func (c *Client) cmdDisconnect(_ cmd.Arguments) error {
	c.Disconnect()
	return nil
}

// cmdReconnect is stuffed by the server on a level change and can be
// used from the console to connect to the last server again.
func (c *Client) cmdReconnect(_ cmd.Arguments) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state >= StateConnected:
		c.reconnect()
	case c.serverName != "":
		c.state = StateChallenging
		c.connectTime = time.Time{}
		c.connectCount = 0
	default:
		conlog.Printf("No server to reconnect to.\n")
	}
	return nil
}

// cmdForward sends the rest of the line to the server.
func (c *Client) cmdForward(a cmd.Arguments) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state < StateConnected {
		conlog.Printf("Can't \"%s\", not connected\n", a.Argv(0).String())
		return nil
	}
	if len(a.Args()) > 1 {
		c.stringCmd("%s", a.ArgumentString())
	}
	return nil
}

// cmdPrecache is the last step of the signon: the configstrings are
// there, load the map and tell the server we can begin.
func (c *Client) cmdPrecache(a cmd.Arguments) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	spawnCount := a.Argv(1).Int()
	if err := c.loadMap(); err != nil {
		conlog.Printf("%v\n", err)
		c.log.Error("precache", slog.Any("err", err))
		c.disconnect()
		return nil
	}
	c.stringCmd("begin %d\n", spawnCount)
	return nil
}

func (c *Client) loadMap() error {
	name := c.configStrings[protocol.CsModels+1]
	if name == "" {
		return errors.New("server sent no map")
	}
	var cm cmodel.CM
	if err := cm.Load(c.cache, name); err != nil {
		return errors.Wrapf(err, "couldn't load %s", name)
	}
	checksum := strconv.Itoa(int(int32(cm.Checksum())))
	if want := c.configStrings[protocol.CsMapChecksum]; want != checksum {
		cm.Free()
		return errors.Errorf("Local map version differs from server: %s != '%s'", checksum, want)
	}
	c.cm.Free()
	c.cm = cm
	c.log.Info("map loaded", slog.String("map", name))
	return nil
}

// cmdRcon sends the rest of the line to the server's remote console.
func (c *Client) cmdRcon(a cmd.Arguments) error {
	pw := cvars.RconPassword.String()
	if pw == "" {
		conlog.Printf("You must set 'rcon_password' before issuing an rcon command.\n")
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverAddr.Type == net.AddrUnspecified {
		conlog.Printf("You must be connected to use rcon.\n")
		return nil
	}
	c.oob("rcon %s %s", pw, a.ArgumentString())
	return nil
}

func (c *Client) cmdStatus(_ cmd.Arguments) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conlog.Printf("state   : %s\n", c.state)
	if c.state == StateDisconnected {
		return nil
	}
	conlog.Printf("server  : %s\n", c.serverAddr)
	conlog.Printf("level   : %s\n", c.levelName)
	conlog.Printf("frame   : %d\n", c.frame.ServerFrame)
	conlog.Printf("ping    : %d\n", c.ping.Milliseconds())
	conlog.Printf("origin  : %v\n", c.predictedOrigin)
	if c.nc != nil {
		conlog.Printf("netchan : %s, dropped %d\n", c.nc.Type, c.nc.Dropped)
	}
	return nil
}
