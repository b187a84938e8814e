// SPDX-License-Identifier: GPL-2.0-or-later

// Package client connects to a server, follows the signon, parses the
// delta compressed frames and predicts the local player between them.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"goquake2/bsp"
	"goquake2/cbuf"
	"goquake2/cmd"
	"goquake2/cmodel"
	"goquake2/conlog"
	"goquake2/cvar"
	"goquake2/cvars"
	qmath "goquake2/math"
	"goquake2/math/vec"
	"goquake2/net"
	"goquake2/netchan"
	"goquake2/pmove"
	"goquake2/protocol"
	"goquake2/rand"
)

type State int

const (
	StateDisconnected State = iota // not talking to a server
	StateChallenging               // sending getchallenge packets to the server
	StateConnecting                // sending connect packets to the server
	StateConnected                 // netchan established, waiting for the first frame
	StateActive                    // game views should be displayed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateChallenging:
		return "challenging"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	}
	return "unknown"
}

const (
	resendTime = 3 * time.Second
	maxResends = 10
	// origin errors above this (in 1/8 units) are teleports, not misses
	maxPredictionError = 640
)

// Transport is what the client needs from its side of the network.
type Transport interface {
	net.PacketSender
	GetPackets(f func(p net.Packet))
}

// Frame is one snapshot as parsed from svc_frame.
type Frame struct {
	Valid       bool // cleared if delta parsing was invalid
	ServerFrame int
	DeltaFrame  int
	AreaBits    []byte
	PlayerState protocol.PlayerState
	Entities    []protocol.EntityState
}

type Client struct {
	mu   sync.Mutex
	log  *slog.Logger
	now  func() time.Time
	rng  rand.Generator
	cbuf cbuf.CommandBuffer

	transport Transport
	cache     *bsp.Cache

	state        State
	serverName   string
	serverAddr   net.Addr
	challenge    int
	connectTime  time.Time // last getchallenge or connect sent
	connectCount int
	qport        int
	nc           *netchan.Channel

	// level state, cleared by serverdata
	serverCount   int
	playerNum     int
	gameDir       string
	levelName     string
	configStrings [protocol.MaxConfigStrings]string
	baselines     [protocol.MaxEdicts]protocol.EntityState
	cm            cmodel.CM
	frames        [protocol.UpdateBackup]Frame
	frame         Frame
	suppressCount int

	// prediction
	cmd              protocol.UserCmd // the command being built
	lastCmdTime      time.Time
	cmds             [protocol.CmdBackup]protocol.UserCmd
	cmdTime          [protocol.CmdBackup]time.Time
	predictedOrigins [protocol.CmdBackup][3]int16
	predictedOrigin  vec.Vec3
	predictedAngles  vec.Vec3
	predictionError  vec.Vec3
	pmp              pmove.Params
	ping             time.Duration

	commands *cmd.Commands
}

type Option func(*Client)

// WithClock replaces time.Now, also for the channel.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a disconnected client. Maps are read through cache.
func New(t Transport, cache *bsp.Cache, opts ...Option) *Client {
	c := &Client{
		transport: t,
		cache:     cache,
		now:       time.Now,
		log:       slog.Default(),
		pmp:       pmove.DefaultParams(),
		commands:  cmd.New(),
	}
	for _, o := range opts {
		o(c)
	}
	c.rng = rand.New(uint32(c.now().UnixNano()))
	c.log = c.log.With(slog.String("side", "client"))
	c.addServerCommands()
	c.cbuf.SetCommandExecutors([]cbuf.Efunc{
		func(_ *cbuf.CommandBuffer, a cmd.Arguments) (bool, error) {
			return c.commands.Execute(a)
		},
		func(_ *cbuf.CommandBuffer, a cmd.Arguments) (bool, error) {
			return cmd.Execute(a)
		},
		func(_ *cbuf.CommandBuffer, a cmd.Arguments) (bool, error) {
			return cvar.Execute(a)
		},
	})
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConfigString returns the config string i the server sent.
func (c *Client) ConfigString(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !protocol.ValidConfigString(i) {
		return ""
	}
	return c.configStrings[i]
}

// CurrentFrame returns a copy of the last valid frame.
func (c *Client) CurrentFrame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frame
	f.Entities = append([]protocol.EntityState(nil), c.frame.Entities...)
	return f
}

// PredictedOrigin is where the local player is after all commands the
// server has not acknowledged yet.
func (c *Client) PredictedOrigin() vec.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predictedOrigin
}

// SetCommand sets the movement the next frames send. Msec is filled in
// from the frame time.
func (c *Client) SetCommand(uc protocol.UserCmd) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd = uc
}

// Connect starts connecting to addr. "loopback" is the server of the
// same process.
func (c *Client) Connect(addr string) error {
	adr, ok := net.ParseAddr(addr, protocol.PortServer)
	if !ok {
		return errors.Errorf("bad server address %q", addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect()
	c.serverName = addr
	c.serverAddr = adr
	c.state = StateChallenging
	c.connectTime = time.Time{} // fire immediately
	c.connectCount = 0
	c.log.Info("connecting", slog.String("server", adr.String()))
	return nil
}

// Disconnect leaves the server.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect()
}

// disconnect tells the server we are leaving, it's sent a few times in
// case the packet gets lost.
func (c *Client) disconnect() {
	if c.state == StateDisconnected {
		return
	}
	if c.nc != nil {
		final := []byte{protocol.ClcStringCmd}
		final = append(final, "disconnect\x00"...)
		for range 3 {
			if _, err := c.nc.Transmit(final, 1); err != nil {
				break
			}
		}
		c.nc.Close()
		c.nc = nil
	}
	c.state = StateDisconnected
	c.clearState()
	c.log.Info("disconnected")
}

// clearState forgets everything about the level.
func (c *Client) clearState() {
	c.cm.Free()
	c.serverCount = 0
	c.playerNum = 0
	c.levelName = ""
	c.configStrings = [protocol.MaxConfigStrings]string{}
	c.baselines = [protocol.MaxEdicts]protocol.EntityState{}
	c.frames = [protocol.UpdateBackup]Frame{}
	c.frame = Frame{}
	c.predictedOrigin = vec.Vec3{}
	c.predictionError = vec.Vec3{}
}

func (c *Client) oob(format string, v ...any) {
	net.OutOfBand(c.transport, c.serverAddr, format, v...)
}

func (c *Client) maxPacketLen() int {
	if c.serverAddr.Type == net.AddrLoopback {
		return net.MaxPacketLenWritable
	}
	if n := cvars.NetMaxMsgLen.Int(); n > 0 {
		return n
	}
	return net.MaxPacketLenWritableDefault
}

// checkForResend resends a getchallenge or connect request if the last
// one was not answered.
func (c *Client) checkForResend() {
	if c.state != StateChallenging && c.state != StateConnecting {
		return
	}
	now := c.now()
	if !c.connectTime.IsZero() && now.Sub(c.connectTime) < resendTime {
		return
	}
	if c.connectCount >= maxResends {
		conlog.Printf("Server did not answer.\n")
		c.log.Warn("no answer from server", slog.String("server", c.serverAddr.String()))
		c.disconnect()
		return
	}
	c.connectTime = now
	c.connectCount++

	if c.state == StateChallenging {
		conlog.Printf("Requesting challenge... %d\n", c.connectCount)
		c.oob("getchallenge\n")
		return
	}

	if c.qport == 0 {
		c.qport = cvars.NetQport.Int()
		if c.qport == 0 {
			c.qport = int(c.rng.Uint32n(0xff)) + 1
		}
	}
	nc := 1
	if cvars.NetChanType.Int() == 0 {
		nc = 0
	}
	conlog.Printf("Connecting to %s...\n", c.serverName)
	c.oob("connect %d %d %d \"%s\" %d %d\n", protocol.Default, c.qport, c.challenge,
		cvar.Info(cvar.USERINFO), c.maxPacketLen(), nc)
}

// Frame reads all packets, runs the stuffed commands and sends the
// current command.
func (c *Client) Frame() error {
	c.mu.Lock()
	c.readPackets()
	c.checkTimeout()
	c.checkForResend()
	c.sendCmd()
	c.predictMovement()
	c.mu.Unlock()

	// commands from the server may reconnect or disconnect
	return c.cbuf.Execute()
}

// Run calls Frame at cl_maxfps until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	fps := qmath.Clamp(10, cvars.ClientMaxFps.Int(), 250)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return nil
		case <-ticker.C:
			if err := c.Frame(); err != nil {
				c.log.Error("client frame", slog.Any("err", err))
			}
		}
	}
}

func (c *Client) readPackets() {
	c.transport.GetPackets(func(p net.Packet) {
		if net.IsOutOfBand(p.Data) {
			c.connectionlessPacket(p.From, net.OutOfBandData(p.Data))
			return
		}
		if c.state < StateConnected || c.nc == nil {
			return
		}
		if !net.IsEqual(p.From, c.nc.RemoteAddress) {
			c.log.Debug("sequenced packet without connection", slog.String("from", p.From.String()))
			return
		}
		payload, ok := c.nc.Process(p.Data)
		if !ok {
			return
		}
		if err := c.parseServerMessage(payload); err != nil {
			c.log.Error("bad server message", slog.Any("err", err))
			conlog.Printf("%v\n", err)
			c.disconnect()
		}
	})
}

func (c *Client) checkTimeout() {
	if c.state < StateConnected || c.nc == nil {
		return
	}
	timeout := time.Duration(cvars.ClientTimeout.Value() * float32(time.Second))
	if timeout > 0 && c.now().Sub(c.nc.LastReceived) > timeout {
		conlog.Printf("\nServer connection timed out.\n")
		c.disconnect()
	}
}

// connectionlessPacket handles replies of the server to getchallenge and
// connect and anything it wants to print.
func (c *Client) connectionlessPacket(from net.Addr, data []byte) {
	text := string(data)
	line, rest, _ := strings.Cut(text, "\n")
	args := cmd.Parse(line)
	if len(args.Args()) == 0 {
		return
	}
	name := args.Argv(0).String()
	c.log.Debug("connectionless packet", slog.String("from", from.String()), slog.String("cmd", name))

	switch name {
	case "challenge":
		if c.state != StateChallenging || !net.IsEqualBase(from, c.serverAddr) {
			return
		}
		c.challenge = args.Argv(1).Int()
		c.state = StateConnecting
		c.connectTime = time.Time{} // fire immediately
		c.connectCount = 0
	case "client_connect":
		if c.state != StateConnecting || !net.IsEqualBase(from, c.serverAddr) {
			if c.state >= StateConnected {
				conlog.Printf("Dup connect received. Ignored.\n")
			}
			return
		}
		c.clientConnect(from, args)
	case "print":
		if !net.IsEqualBase(from, c.serverAddr) {
			return
		}
		conlog.Printf("%s", rest)
	case "info":
		conlog.Printf("%s", rest)
	default:
		c.log.Debug("unknown connectionless packet", slog.String("cmd", name))
	}
}

// clientConnect sets up the channel on
//
//	client_connect [nc=N] [map=NAME]
func (c *Client) clientConnect(from net.Addr, args cmd.Arguments) {
	chanType := netchan.Old
	for _, a := range args.Args()[1:] {
		k, v, ok := strings.Cut(a.String(), "=")
		if !ok {
			continue
		}
		switch k {
		case "nc":
			if v != "0" {
				chanType = netchan.New
			}
		case "map":
			c.levelName = v
		}
	}
	qport := c.qport
	if chanType == netchan.New {
		qport &= 0xff
	}
	c.nc = netchan.Setup(c.transport, net.ClientSide, chanType, from, qport, c.maxPacketLen(), protocol.Default,
		netchan.WithClock(c.now))
	c.state = StateConnected
	c.stringCmd("new")
	c.log.Info("connected", slog.String("server", from.String()), slog.String("netchan", chanType.String()))
}

// stringCmd queues a command for the server on the reliable stream.
func (c *Client) stringCmd(format string, v ...any) {
	if c.nc == nil {
		return
	}
	c.nc.Message.WriteByte(protocol.ClcStringCmd)
	c.nc.Message.WriteString(fmt.Sprintf(format, v...))
}

// sendCmd builds the usercmd of this frame and sends it with the last two
// as backup.
func (c *Client) sendCmd() {
	if c.state < StateConnected || c.nc == nil {
		return
	}
	now := c.now()

	if c.state == StateConnected {
		// only keep the signon going
		if c.nc.ShouldUpdate() {
			if _, err := c.nc.Transmit(nil, 1); err != nil {
				c.log.Warn("reliable message overflowed", slog.Any("err", err))
			}
		}
		return
	}

	msec := 100
	if !c.lastCmdTime.IsZero() {
		msec = qmath.Clamp(1, int(now.Sub(c.lastCmdTime).Milliseconds()), 250)
	}
	c.lastCmdTime = now

	seq := c.nc.OutgoingSequence()
	i := seq & protocol.CmdMask
	c.cmds[i] = c.cmd
	c.cmds[i].Msec = uint8(msec)
	c.cmdTime[i] = now

	m := protocol.Move{LastFrame: -1}
	if c.frame.Valid {
		m.LastFrame = c.frame.ServerFrame
	}
	m.Cmds[0] = c.cmds[(seq-2)&protocol.CmdMask]
	m.Cmds[1] = c.cmds[(seq-1)&protocol.CmdMask]
	m.Cmds[2] = c.cmds[i]

	msg := net.NewMessage(net.MaxPacketLenWritable, "cl_move")
	protocol.WriteMove(msg, &m, seq)
	if _, err := c.nc.Transmit(msg.Bytes(), 1); err != nil {
		c.log.Warn("reliable message overflowed", slog.Any("err", err))
		c.disconnect()
	}
}
