// SPDX-License-Identifier: GPL-2.0-or-later

package server

import (
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goquake2/bsp"
	"goquake2/bsp/bsptest"
	"goquake2/cmd"
	"goquake2/cvars"
	"goquake2/math/vec"
	"goquake2/net"
	"goquake2/netchan"
	"goquake2/pmove"
	"goquake2/protocol"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func roomsCache() *bsp.Cache {
	data := bsptest.Rooms().Bytes()
	return bsp.NewCache(func(name string) ([]byte, error) {
		if name != "maps/rooms.bsp" {
			return nil, fs.ErrNotExist
		}
		return data, nil
	})
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *net.Transport) {
	t.Helper()
	loop := net.NewLoopback()
	st := net.NewTransport(net.ServerSide, loop)
	ct := net.NewTransport(net.ClientSide, loop)
	s := New(st, roomsCache(), opts...)
	require.NoError(t, s.SpawnServer("rooms"))
	t.Cleanup(func() { s.Shutdown("") })
	return s, ct
}

// recv drains the client side of the loopback.
func recv(ct *net.Transport) (oob []string, seq [][]byte) {
	ct.GetPackets(func(p net.Packet) {
		if net.IsOutOfBand(p.Data) {
			oob = append(oob, string(net.OutOfBandData(p.Data)))
			return
		}
		seq = append(seq, p.Data)
	})
	return oob, seq
}

func sendOOB(s *Server, ct *net.Transport, format string, v ...any) []string {
	net.OutOfBand(ct, net.LoopbackAddr, format, v...)
	s.Frame()
	oob, _ := recv(ct)
	return oob
}

func findEdict(s *Server, classname string) *Edict {
	for i := range s.edicts {
		if s.edicts[i].InUse && s.edicts[i].ClassName == classname {
			return &s.edicts[i]
		}
	}
	return nil
}

// connect runs the connectionless handshake and returns the new slot.
func connect(t *testing.T, s *Server, ct *net.Transport, qport int) *Client {
	t.Helper()
	reply := sendOOB(s, ct, `connect 34 %d 0 "\name\tester\rate\25000"`, qport)
	require.Equal(t, []string{"client_connect nc=1 map=rooms"}, reply)
	for i := range s.clients {
		if s.clients[i].state == csConnected {
			return &s.clients[i]
		}
	}
	t.Fatal("no connected client")
	return nil
}

type reliable struct {
	configStrings map[int]string
	baselines     []protocol.EntityState
	stuffText     []string
	prints        []string
}

func parseReliable(t *testing.T, data []byte) reliable {
	t.Helper()
	out := reliable{configStrings: map[int]string{}}
	r := net.NewReader(data)
	for {
		op := r.ReadUint8()
		if op == -1 {
			return out
		}
		switch op {
		case protocol.SvcServerData:
			r.ReadLong()
			r.ReadLong()
			r.ReadUint8()
			r.ReadString()
			r.ReadShort()
			r.ReadString()
		case protocol.SvcConfigString:
			i := r.ReadShort()
			out.configStrings[i] = r.ReadString()
		case protocol.SvcSpawnBaseline:
			bits, num := protocol.ReadEntityBits(r)
			out.baselines = append(out.baselines, protocol.ReadDeltaEntity(r, &protocol.EntityState{}, num, bits))
		case protocol.SvcStuffText:
			out.stuffText = append(out.stuffText, r.ReadString())
		case protocol.SvcPrint:
			r.ReadUint8()
			out.prints = append(out.prints, r.ReadString())
		default:
			t.Fatalf("unexpected svc %d", op)
		}
		require.False(t, r.Overread())
	}
}

// takeReliable returns and clears what was queued for c.
func takeReliable(t *testing.T, c *Client) reliable {
	t.Helper()
	out := parseReliable(t, c.nc.Message.Bytes())
	c.nc.Message.Clear()
	return out
}

// spawnClient walks c through the signon commands.
func spawnClient(t *testing.T, s *Server, c *Client) {
	t.Helper()
	s.executeUserCommand(c, "new")
	require.Equal(t, csPrimed, c.state)
	next := takeReliable(t, c).stuffText
	for {
		require.Len(t, next, 1)
		line := strings.TrimSpace(next[0])
		if strings.HasPrefix(line, "precache") {
			break
		}
		require.True(t, strings.HasPrefix(line, "cmd "), line)
		s.executeUserCommand(c, strings.TrimPrefix(line, "cmd "))
		next = takeReliable(t, c).stuffText
	}
	s.executeUserCommand(c, fmt.Sprintf("begin %d", s.spawnCount))
	require.Equal(t, csSpawned, c.state)
	c.nc.Message.Clear()
}

func TestSpawnServer(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, "rooms", s.MapName())
	assert.Equal(t, "two rooms", s.ConfigString(protocol.CsName))
	assert.Equal(t, "maps/rooms.bsp", s.ConfigString(protocol.CsModels+1))
	assert.Equal(t, "*1", s.ConfigString(protocol.CsModels+2))
	assert.Equal(t, "8", s.ConfigString(protocol.CsMaxClients))
	assert.NotEmpty(t, s.ConfigString(protocol.CsMapChecksum))

	require.Len(t, s.spawnPoints, 1)
	assert.Equal(t, vec.Vec3{-32, 0, 0}, s.spawnPoints[0].origin)

	door := findEdict(s, "func_door")
	require.NotNil(t, door)
	assert.Equal(t, SolidBSP, door.Solid)
	assert.Equal(t, uint8(2), door.S.ModelIndex[0])
	assert.Equal(t, uint16(protocol.SolidBSP), door.S.Solid)
	assert.Equal(t, door.S, *s.baseline(door.S.Number))

	// spawn points and portals don't stay around
	assert.Nil(t, findEdict(s, "info_player_start"))
	assert.Nil(t, findEdict(s, "func_areaportal"))
	assert.False(t, s.cm.AreasConnected(1, 2))

	assert.Error(t, s.SpawnServer("missing"))
	assert.Equal(t, "rooms", s.MapName())
}

func TestLinkEdict(t *testing.T) {
	s, _ := newTestServer(t)
	door := findEdict(s, "func_door")
	require.NotNil(t, door)

	assert.True(t, door.Linked())
	assert.Equal(t, 2, door.areanum)
	assert.Equal(t, 0, door.areanum2)
	assert.Equal(t, []int{1}, door.clusters[:door.numClusters])
	assert.Equal(t, vec.Vec3{23, -9, -9}, door.AbsMin)
	assert.Equal(t, vec.Vec3{41, 9, 9}, door.AbsMax)
	assert.Contains(t, s.areaEdicts(vec.Vec3{30, 0, 0}, vec.Vec3{31, 1, 1}, areaSolid), door)
	assert.Empty(t, s.areaEdicts(vec.Vec3{30, 0, 0}, vec.Vec3{31, 1, 1}, areaTriggers))

	// straddle both rooms
	door.Origin = vec.Vec3{0, 0, 0}
	s.linkEdict(door)
	assert.ElementsMatch(t, []int{1, 2}, []int{door.areanum, door.areanum2})
	assert.ElementsMatch(t, []int{0, 1}, door.clusters[:door.numClusters])

	s.free(door)
	assert.False(t, door.Linked())
	assert.Empty(t, s.areaEdicts(vec.Vec3{-1, -1, -1}, vec.Vec3{1, 1, 1}, areaSolid))
}

func TestTrace(t *testing.T) {
	s, _ := newTestServer(t)
	door := findEdict(s, "func_door")
	require.NotNil(t, door)

	// the door cube spans 24..40 on x
	tr := s.Trace(vec.Vec3{-32, 0, 0}, pmove.PlayerMins, pmove.PlayerMaxs, vec.Vec3{100, 0, 0}, nil, bsp.MASK_PLAYERSOLID)
	assert.Equal(t, door.S.Number, tr.Entity)
	assert.InDelta(t, 8, tr.EndPos[0], 0.1)
	assert.InDelta(t, -1, tr.Plane.Normal[0], 0.001)

	// passing the door itself only hits the world wall at 64
	tr = s.Trace(vec.Vec3{-32, 0, 0}, pmove.PlayerMins, pmove.PlayerMaxs, vec.Vec3{100, 0, 0}, door, bsp.MASK_PLAYERSOLID)
	assert.Equal(t, -1, tr.Entity)
	assert.InDelta(t, 48, tr.EndPos[0], 0.1)

	// beside the door
	tr = s.Trace(vec.Vec3{-32, 60, 0}, pmove.PlayerMins, pmove.PlayerMaxs, vec.Vec3{100, 60, 0}, nil, bsp.MASK_PLAYERSOLID)
	assert.Equal(t, -1, tr.Entity)
	assert.InDelta(t, 48, tr.EndPos[0], 0.1)

	// owners don't block their own things
	player := s.spawn()
	require.NotNil(t, player)
	door.Owner = player
	tr = s.Trace(vec.Vec3{-32, 0, 0}, pmove.PlayerMins, pmove.PlayerMaxs, vec.Vec3{30, 0, 0}, player, bsp.MASK_PLAYERSOLID)
	assert.Equal(t, -1, tr.Entity)
	assert.Equal(t, float32(1), tr.Fraction)
}

func TestPointContents(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, bsp.Contents(0), s.PointContents(vec.Vec3{-32, 0, 0}))
	assert.Equal(t, bsp.CONTENTS_SOLID, s.PointContents(vec.Vec3{32, 0, 0})&bsp.CONTENTS_SOLID)
	assert.Equal(t, bsp.CONTENTS_SOLID, s.PointContents(vec.Vec3{100, 0, 0})&bsp.CONTENTS_SOLID)
}

func TestConnectionless(t *testing.T) {
	s, ct := newTestServer(t)

	assert.Equal(t, []string{"ack"}, sendOOB(s, ct, "ping"))

	info := sendOOB(s, ct, "info 34")
	require.Len(t, info, 1)
	assert.True(t, strings.HasPrefix(info[0], "info\n"))
	assert.Contains(t, info[0], "rooms")
	assert.Contains(t, info[0], " 0/ 8")
	assert.Equal(t, []string{"info\nnoname: wrong version\n"}, sendOOB(s, ct, "info 33"))

	ch := sendOOB(s, ct, "getchallenge")
	require.Len(t, ch, 1)
	assert.Regexp(t, `^challenge \d+ p=34$`, ch[0])
	// every request gets a new one
	require.Len(t, sendOOB(s, ct, "getchallenge"), 1)

	assert.Equal(t, []string{"print\nServer is protocol version 34.\n"},
		sendOOB(s, ct, `connect 33 1 0 "\name\old"`))
	assert.Equal(t, []string{"print\nInvalid userinfo string.\n"},
		sendOOB(s, ct, `connect 34 1 0 "name"`))

	c := connect(t, s, ct, 7)
	assert.Equal(t, "tester", c.Name())
	assert.Equal(t, 15000, c.rate)
	assert.Equal(t, 7, c.nc.Qport)
	assert.Equal(t, "loopback", protocol.InfoValueForKey(c.userInfo, "ip"))

	status := sendOOB(s, ct, "status")
	require.Len(t, status, 1)
	assert.Contains(t, status[0], `\mapname\rooms`)
	assert.Contains(t, status[0], `0 0 "tester"`)

	// unknown commands are ignored
	assert.Empty(t, sendOOB(s, ct, "bogus"))
}

func TestConnectOldChannel(t *testing.T) {
	s, ct := newTestServer(t)
	reply := sendOOB(s, ct, `connect 34 70000 0 "\name\old" 1400 0`)
	require.Equal(t, []string{"client_connect nc=0 map=rooms"}, reply)
	c := &s.clients[0]
	assert.Equal(t, csConnected, c.state)
	assert.Equal(t, 70000&0xffff, c.nc.Qport)
}

func TestServerFull(t *testing.T) {
	s, ct := newTestServer(t)
	// every slot is taken by someone on another address
	for i := range s.clients {
		adr := net.Addr{Type: net.AddrIP, IP: netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}), Port: 27901}
		s.clients[i] = Client{
			state: csConnected,
			slot:  i,
			nc:    netchan.Setup(s.transport, net.ServerSide, netchan.New, adr, i, 1400, protocol.Default),
			log:   s.log,
		}
	}
	assert.Equal(t, []string{"print\nServer is full.\n"}, sendOOB(s, ct, `connect 34 2 0 "\name\late"`))

	// a zombie slot is not free yet
	s.clients[3].state = csZombie
	assert.Equal(t, []string{"print\nServer is full.\n"}, sendOOB(s, ct, `connect 34 2 0 "\name\late"`))

	s.clients[3].state = csFree
	assert.Equal(t, []string{"client_connect nc=1 map=rooms"}, sendOOB(s, ct, `connect 34 2 0 "\name\late"`))
	assert.Equal(t, "late", s.clients[3].Name())
}

func TestSignon(t *testing.T) {
	s, ct := newTestServer(t)
	c := connect(t, s, ct, 3)

	s.executeUserCommand(c, "new")
	require.Equal(t, csPrimed, c.state)
	rel := takeReliable(t, c)
	assert.Equal(t, []string{fmt.Sprintf("cmd configstrings %d 0\n", s.spawnCount)}, rel.stuffText)

	s.executeUserCommand(c, fmt.Sprintf("configstrings %d 0", s.spawnCount))
	rel = takeReliable(t, c)
	assert.Equal(t, "two rooms", rel.configStrings[protocol.CsName])
	assert.Equal(t, "*1", rel.configStrings[protocol.CsModels+2])
	assert.Equal(t, []string{fmt.Sprintf("cmd baselines %d 0\n", s.spawnCount)}, rel.stuffText)

	s.executeUserCommand(c, fmt.Sprintf("baselines %d 0", s.spawnCount))
	rel = takeReliable(t, c)
	door := findEdict(s, "func_door")
	require.Len(t, rel.baselines, 1)
	assert.Equal(t, door.S.Number, rel.baselines[0].Number)
	assert.Equal(t, door.S.ModelIndex, rel.baselines[0].ModelIndex)
	assert.Equal(t, door.S.Origin, rel.baselines[0].Origin)
	assert.Equal(t, door.S.Solid, rel.baselines[0].Solid)
	assert.Equal(t, []string{fmt.Sprintf("precache %d\n", s.spawnCount)}, rel.stuffText)

	// a stale spawn count restarts the signon
	s.executeUserCommand(c, fmt.Sprintf("begin %d", s.spawnCount+1))
	assert.Equal(t, csPrimed, c.state)
	rel = takeReliable(t, c)
	assert.Contains(t, rel.prints, "begin from different level\n")

	s.executeUserCommand(c, fmt.Sprintf("begin %d", s.spawnCount))
	require.Equal(t, csSpawned, c.state)
	require.NotNil(t, c.edict)
	assert.Equal(t, 1, c.edict.S.Number)
	assert.Equal(t, uint8(255), c.edict.S.ModelIndex[0])
	assert.Equal(t, vec.Vec3{-32, 0, 1}, c.edict.Origin)
	assert.Equal(t, "tester\\", s.ConfigString(protocol.CsPlayerSkins))

	s.executeUserCommand(c, "new")
	assert.Contains(t, takeReliable(t, c).prints, "New not valid -- already spawned\n")
}

func TestClientFrame(t *testing.T) {
	s, ct := newTestServer(t)
	c := connect(t, s, ct, 3)
	spawnClient(t, s, c)
	door := findEdict(s, "func_door")

	numbers := func() []int {
		var n []int
		for _, e := range c.frames[s.frameNum&protocol.UpdateMask].entities {
			n = append(n, e.Number)
		}
		return n
	}

	s.Frame()
	_, seq := recv(ct)
	assert.Len(t, seq, 1)
	f := &c.frames[s.frameNum&protocol.UpdateMask]
	assert.Equal(t, s.frameNum, f.number)
	// the closed portal hides the door
	assert.Equal(t, []int{1}, numbers())
	assert.Equal(t, []byte{0x02}, f.areaBits)

	s.SetAreaPortalState(1, true)
	s.Frame()
	assert.Equal(t, []int{1, door.S.Number}, numbers())
	assert.Equal(t, []byte{0x06}, c.frames[s.frameNum&protocol.UpdateMask].areaBits)

	// the door is owned by the client now and not solid for it
	door.Owner = c.edict
	s.Frame()
	ents := c.frames[s.frameNum&protocol.UpdateMask].entities
	require.Len(t, ents, 2)
	assert.Equal(t, uint16(0), ents[1].Solid)

	// sv_max_packet_entities keeps the own entity
	cvars.ServerMaxPacketEnts.SetByString("1")
	t.Cleanup(func() { cvars.ServerMaxPacketEnts.SetByString("128") })
	s.Frame()
	assert.Equal(t, []int{1}, numbers())
}

func TestClientMove(t *testing.T) {
	s, ct := newTestServer(t)
	c := connect(t, s, ct, 3)
	spawnClient(t, s, c)
	s.Frame()

	move := func(m *protocol.Move, corrupt bool) bool {
		msg := net.NewMessage(net.MaxMsgLen, "test")
		protocol.WriteMove(msg, m, c.nc.IncomingSequence())
		data := msg.Bytes()
		if corrupt {
			data[1] ^= 0xff
		}
		r := net.NewReader(data[1:])
		return s.clientMove(c, r)
	}

	m := &protocol.Move{LastFrame: s.frameNum}
	m.Cmds[2] = protocol.UserCmd{Msec: 100, Forward: 400}
	assert.False(t, move(m, true))
	assert.Equal(t, vec.Vec3{-32, 0, 1}, c.edict.Origin)

	assert.True(t, move(m, false))
	assert.Equal(t, s.frameNum, c.lastFrame)
	assert.InDelta(t, -2, c.edict.Origin[0], 0.2)
	assert.InDelta(t, 300, pmove.Speed(&c.ps.PMove), 0.2)
	// the player now stands in both rooms
	assert.ElementsMatch(t, []int{1, 2}, []int{c.edict.areanum, c.edict.areanum2})
}

func TestExecuteClientMessage(t *testing.T) {
	s, ct := newTestServer(t)
	c := connect(t, s, ct, 3)

	msg := net.NewMessage(net.MaxMsgLen, "test")
	msg.WriteByte(protocol.ClcNop)
	msg.WriteByte(protocol.ClcUserinfo)
	msg.WriteString(`\name\renamed\rate\100`)
	msg.WriteByte(protocol.ClcStringCmd)
	msg.WriteString("new")
	s.executeClientMessage(c, msg.Bytes())
	assert.Equal(t, "renamed", c.Name())
	assert.Equal(t, 100, c.rate)
	assert.Equal(t, csPrimed, c.state)

	// garbage drops the client
	s.executeClientMessage(c, []byte{0x7f})
	assert.Equal(t, csZombie, c.state)
}

func TestRcon(t *testing.T) {
	var ran []string
	exec := func(line string) error {
		ran = append(ran, line)
		return nil
	}
	s, ct := newTestServer(t, WithExecutor(exec))

	assert.Equal(t, []string{"print\nBad rcon_password.\n"}, sendOOB(s, ct, "rcon secret status"))
	assert.Empty(t, ran)

	cvars.RconPassword.SetByString("secret")
	t.Cleanup(func() { cvars.RconPassword.SetByString("") })
	reply := sendOOB(s, ct, "rcon secret kick 1")
	assert.Equal(t, []string{"kick 1"}, ran)
	assert.Equal(t, []string{"print\n"}, reply)
}

func TestRconOutput(t *testing.T) {
	s, ct := newTestServer(t)
	cmds := cmd.New()
	require.NoError(t, s.AddCommands(cmds.Add))
	s.exec = func(line string) error {
		_, err := cmds.Execute(cmd.Parse(line))
		return err
	}
	cvars.RconPassword.SetByString("secret")
	t.Cleanup(func() { cvars.RconPassword.SetByString("") })

	reply := sendOOB(s, ct, "rcon secret status")
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0], "map              : rooms")
}

func TestTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s, ct := newTestServer(t, WithClock(clock.now))
	c := connect(t, s, ct, 3)
	spawnClient(t, s, c)

	clock.advance(time.Duration(cvars.ServerTimeout.Value())*time.Second + time.Second)
	s.Frame()
	assert.Equal(t, csZombie, c.state)
	assert.Nil(t, c.edict)

	clock.advance(zombieTime + time.Second)
	s.Frame()
	assert.Equal(t, csFree, c.state)
}

func TestMapChange(t *testing.T) {
	s, ct := newTestServer(t)
	c := connect(t, s, ct, 3)
	spawnClient(t, s, c)
	count := s.spawnCount

	require.NoError(t, s.SpawnServer("rooms"))
	assert.Equal(t, csConnected, c.state)
	assert.Nil(t, c.edict)
	assert.Equal(t, -1, c.lastFrame)
	assert.NotEqual(t, count, s.spawnCount)

	// the reconnect went out right away
	_, seq := recv(ct)
	require.NotEmpty(t, seq)
	assert.Contains(t, string(seq[len(seq)-1]), string([]byte{protocol.SvcReconnect}))
}

func TestCommands(t *testing.T) {
	s, ct := newTestServer(t)
	cmds := cmd.New()
	require.NoError(t, s.AddCommands(cmds.Add))
	c := connect(t, s, ct, 3)

	ok, err := cmds.Execute(cmd.Parse("kick tester"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, csZombie, c.state)

	_, err = cmds.Execute(cmd.Parse("map missing"))
	assert.Error(t, err)

	_, err = cmds.Execute(cmd.Parse("setportal 1 1"))
	require.NoError(t, err)
	assert.True(t, s.cm.AreasConnected(1, 2))

	_, err = cmds.Execute(cmd.Parse("killserver"))
	require.NoError(t, err)
	assert.False(t, s.Running())
}

func TestChallenge(t *testing.T) {
	s, _ := newTestServer(t)
	adr := net.Addr{Type: net.AddrIP, IP: netip.MustParseAddr("10.0.0.1"), Port: 27901}
	s.svcGetChallenge(adr)
	ch := s.challenges[0].challenge
	require.NotZero(t, ch)

	assert.False(t, s.checkChallenge(adr, ch+1))
	assert.True(t, s.checkChallenge(adr, ch))
	assert.False(t, s.checkChallenge(adr, ch), "challenges are used once")
	other := adr
	other.IP = netip.MustParseAddr("10.0.0.2")
	assert.False(t, s.checkChallenge(other, ch))
	assert.True(t, s.checkChallenge(net.LoopbackAddr, 0))
}
