// SPDX-License-Identifier: GPL-2.0-or-later

// Package server runs a game session: it owns the map, links entities for
// collision and visibility and sends every connected client delta
// compressed frames.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"goquake2/bsp"
	"goquake2/cmodel"
	"goquake2/cvars"
	qmath "goquake2/math"
	"goquake2/math/vec"
	"goquake2/net"
	"goquake2/netchan"
	"goquake2/pmove"
	"goquake2/protocol"
	"goquake2/rand"
)

type state int

const (
	stateDead    state = iota // no map loaded
	stateLoading              // spawning level edicts
	stateGame                 // actively running
)

// Transport is what the server needs from its side of the network.
type Transport interface {
	net.PacketSender
	GetPackets(f func(p net.Packet))
}

type spawnPoint struct {
	origin vec.Vec3
	angles vec.Vec3
}

type Server struct {
	mu  sync.Mutex
	log *slog.Logger

	transport Transport
	cache     *bsp.Cache
	cm        cmodel.CM
	now       func() time.Time
	rng       rand.Generator

	state      state
	mapName    string
	spawnCount int
	frameNum   int
	frameTime  time.Duration
	startTime  time.Time

	configStrings [protocol.MaxConfigStrings]string
	baselines     [protocol.MaxEdicts]protocol.EntityState

	edicts      []Edict
	numEdicts   int
	maxClients  int
	clients     []Client
	areaNodes   *areaNode
	spawnPoints []spawnPoint
	challenges  [maxChallenges]challenge
	pendingRcon []rconRequest

	pmp  pmove.Params
	exec func(line string) error
}

type Option func(*Server)

// WithClock replaces time.Now, also for the client channels.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithExecutor sets how remote console commands are run.
func WithExecutor(exec func(line string) error) Option {
	return func(s *Server) {
		s.exec = exec
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// New creates a server without a map. Maps are read through cache.
func New(t Transport, cache *bsp.Cache, opts ...Option) *Server {
	s := &Server{
		transport: t,
		cache:     cache,
		now:       time.Now,
		log:       slog.Default(),
		pmp:       pmove.DefaultParams(),
		exec:      defaultExec,
	}
	for _, o := range opts {
		o(s)
	}
	s.startTime = s.now()
	s.rng = rand.New(uint32(s.startTime.UnixNano()))
	s.log = s.log.With(slog.String("side", "server"))
	return s
}

// Running reports whether a map is loaded.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateDead
}

func (s *Server) MapName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapName
}

// ConfigString returns the config string i.
func (s *Server) ConfigString(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !protocol.ValidConfigString(i) {
		return ""
	}
	return s.configStrings[i]
}

// setConfigString stores value and sends it to all clients once the game
// is running.
func (s *Server) setConfigString(i int, value string) {
	if !protocol.ValidConfigString(i) {
		s.log.Warn("bad configstring index", slog.Int("index", i))
		return
	}
	if s.configStrings[i] == value {
		return
	}
	s.configStrings[i] = value
	if s.state != stateGame {
		return
	}
	for j := range s.clients {
		c := &s.clients[j]
		if c.state < csConnected {
			continue
		}
		msg := c.nc.Message
		msg.WriteByte(protocol.SvcConfigString)
		msg.WriteShort(i)
		msg.WriteString(value)
	}
}

// findIndex returns the config string slot of name in the range starting
// at start, adding it if needed. 0 means the list is full.
func (s *Server) findIndex(name string, start, max int) int {
	if name == "" {
		return 0
	}
	for i := 1; i < max; i++ {
		cs := s.configStrings[start+i]
		if cs == name {
			return i
		}
		if cs == "" {
			s.setConfigString(start+i, name)
			return i
		}
	}
	s.log.Warn("configstring overflow", slog.String("name", name))
	return 0
}

func (s *Server) modelIndex(name string) int {
	return s.findIndex(name, protocol.CsModels, protocol.MaxModels)
}

func (s *Server) soundIndex(name string) int {
	return s.findIndex(name, protocol.CsSounds, protocol.MaxSounds)
}

// SpawnServer loads mapname and spawns its entities. Clients of a
// previous map are told to reconnect.
func (s *Server) SpawnServer(mapname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnServer(mapname)
}

func (s *Server) spawnServer(mapname string) error {
	s.log.Info("spawning server", slog.String("map", mapname))

	var cm cmodel.CM
	if err := cm.Load(s.cache, "maps/"+mapname+".bsp"); err != nil {
		return errors.Wrapf(err, "couldn't load map %s", mapname)
	}

	wasRunning := s.state == stateGame
	if wasRunning {
		for i := range s.clients {
			c := &s.clients[i]
			if c.state < csConnected {
				continue
			}
			// the new map does not know their edicts yet
			c.nc.Message.WriteByte(protocol.SvcReconnect)
			s.sendClientMessage(c)
			c.state = csConnected
			c.edict = nil
			c.lastFrame = -1
		}
	} else {
		cvars.ServerMaxClients.ApplyLatched()
		cvars.ServerFps.ApplyLatched()
		s.maxClients = qmath.Clamp(1, cvars.ServerMaxClients.Int(), protocol.MaxClients)
		s.clients = make([]Client, s.maxClients)
	}

	s.cm.Free()
	s.cm = cm
	s.state = stateLoading
	s.mapName = mapname
	s.spawnCount = int(s.rng.Uint32n(1 << 30))
	s.frameNum = 0
	s.frameTime = 0
	s.configStrings = [protocol.MaxConfigStrings]string{}
	s.baselines = [protocol.MaxEdicts]protocol.EntityState{}
	s.spawnPoints = s.spawnPoints[:0]

	s.edicts = make([]Edict, protocol.MaxEdicts)
	for i := range s.edicts {
		s.edicts[i].S.Number = i
	}
	s.numEdicts = s.maxClients + 1

	s.configStrings[protocol.CsName] = mapname
	s.configStrings[protocol.CsModels+1] = "maps/" + mapname + ".bsp"
	for i := 1; i < s.cm.NumModels(); i++ {
		s.configStrings[protocol.CsModels+1+i] = fmt.Sprintf("*%d", i)
	}
	s.configStrings[protocol.CsMapChecksum] = strconv.Itoa(int(int32(s.cm.Checksum())))
	s.configStrings[protocol.CsMaxClients] = strconv.Itoa(s.maxClients)
	s.configStrings[protocol.CsAirAccel] = "0"

	s.clearWorld()
	s.spawnEntities(s.cm.Entities())

	s.state = stateGame
	s.createBaselines()
	s.log.Info("server spawned", slog.String("map", mapname), slog.Int("entities", s.numEdicts-s.maxClients-1))
	return nil
}

// createBaselines stores the state every entity starts in, clients delta
// new entities from it.
func (s *Server) createBaselines() {
	for i := 1; i < s.numEdicts; i++ {
		e := &s.edicts[i]
		if !e.InUse {
			continue
		}
		if e.S.ModelIndex[0] == 0 && e.S.Sound == 0 && e.S.Effects == 0 {
			continue
		}
		b := e.S
		b.OldOrigin = b.Origin
		b.Event = 0
		s.baselines[i] = b
	}
}

func (s *Server) baseline(number int) *protocol.EntityState {
	if number <= 0 || number >= len(s.baselines) {
		return nil
	}
	return &s.baselines[number]
}

// Shutdown drops all clients and frees the map.
func (s *Server) Shutdown(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clients {
		c := &s.clients[i]
		if c.state < csConnected {
			continue
		}
		if reason != "" {
			c.printf(protocol.PrintHigh, "%s\n", reason)
		}
		c.nc.Message.WriteByte(protocol.SvcDisconnect)
		s.sendClientMessage(c)
		s.dropClient(c, "")
	}
	s.clients = nil
	s.edicts = nil
	s.areaNodes = nil
	s.cm.Free()
	s.state = stateDead
	s.mapName = ""
}

func frameDuration() time.Duration {
	fps := 10
	if cvars.ServerFps != nil {
		fps = qmath.Clamp(10, cvars.ServerFps.Int(), 60)
	}
	return time.Second / time.Duration(fps)
}

// Frame runs one server frame: read all packets, check timeouts, advance
// the clock and send the clients their updates.
func (s *Server) Frame() {
	s.mu.Lock()
	s.frame()
	rcon := s.pendingRcon
	s.pendingRcon = nil
	s.mu.Unlock()

	for _, r := range rcon {
		s.executeRcon(r)
	}
}

func (s *Server) frame() {
	s.readPackets()
	if s.state != stateGame {
		return
	}
	s.checkTimeouts()

	s.frameNum++
	s.frameTime += frameDuration()

	s.sendClientMessages()
}

// Run calls Frame at sv_fps until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	d := frameDuration()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown("Server quit")
			return nil
		case <-ticker.C:
			s.Frame()
			if nd := frameDuration(); nd != d {
				d = nd
				ticker.Reset(d)
			}
		}
	}
}

func (s *Server) readPackets() {
	s.transport.GetPackets(func(p net.Packet) {
		if net.IsOutOfBand(p.Data) {
			s.connectionlessPacket(p.From, net.OutOfBandData(p.Data))
			return
		}
		if s.state != stateGame {
			return
		}
		s.packetEvent(p)
	})
}

// packetEvent hands a sequenced packet to the client it belongs to. The
// qport tells clients behind the same NAT apart.
func (s *Server) packetEvent(p net.Packet) {
	r := net.NewReader(p.Data)
	r.ReadLong() // sequence number
	r.ReadLong() // sequence number
	if r.Overread() {
		return
	}
	for i := range s.clients {
		c := &s.clients[i]
		if c.state == csFree {
			continue
		}
		if !net.IsEqualBase(p.From, c.nc.RemoteAddress) {
			continue
		}
		var qport int
		if c.nc.Type == netchan.Old {
			qport = r.ReadShort() & 0xffff
		} else if c.nc.Qport != 0 {
			qport = r.ReadUint8()
		}
		if c.nc.Qport != qport {
			r.Seek(8)
			continue
		}
		if p.From.Port != c.nc.RemoteAddress.Port {
			s.log.Info("fixing up a translated port", slog.String("client", c.name))
			c.nc.RemoteAddress.Port = p.From.Port
		}
		payload, ok := c.nc.Process(p.Data)
		if !ok {
			return
		}
		// zombie clients still need to do the netchan processing so the
		// disconnect message gets acknowledged
		if c.state != csZombie {
			s.executeClientMessage(c, payload)
		}
		return
	}
}

func (s *Server) checkTimeouts() {
	now := s.now()
	timeout := time.Duration(cvars.ServerTimeout.Value() * float32(time.Second))
	for i := range s.clients {
		c := &s.clients[i]
		switch c.state {
		case csFree:
			continue
		case csZombie:
			if now.Sub(c.dropTime) > zombieTime {
				c.nc.Close()
				c.state = csFree // can now be reused
			}
			continue
		}
		if timeout > 0 && now.Sub(c.nc.LastReceived) > timeout {
			s.broadcastPrintf(protocol.PrintHigh, "%s timed out\n", c.name)
			s.dropClient(c, "timed out")
		}
	}
}

func (s *Server) broadcastPrintf(level int, format string, v ...any) {
	for i := range s.clients {
		c := &s.clients[i]
		if c.state < csConnected {
			continue
		}
		c.printf(level, format, v...)
	}
}

// SetAreaPortalState opens or closes an area portal for all clients.
func (s *Server) SetAreaPortalState(portal int, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cm.SetAreaPortalState(portal, open)
}
