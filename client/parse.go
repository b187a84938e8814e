// SPDX-License-Identifier: GPL-2.0-or-later

package client

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"goquake2/conlog"
	"goquake2/cvars"
	"goquake2/net"
	"goquake2/protocol"
)

var svcStrings = [...]string{
	protocol.SvcBad:                 "svc_bad",
	protocol.SvcMuzzleFlash:         "svc_muzzleflash",
	protocol.SvcMuzzleFlash2:        "svc_muzzleflash2",
	protocol.SvcTempEntity:          "svc_temp_entity",
	protocol.SvcLayout:              "svc_layout",
	protocol.SvcInventory:           "svc_inventory",
	protocol.SvcNop:                 "svc_nop",
	protocol.SvcDisconnect:          "svc_disconnect",
	protocol.SvcReconnect:           "svc_reconnect",
	protocol.SvcSound:               "svc_sound",
	protocol.SvcPrint:               "svc_print",
	protocol.SvcStuffText:           "svc_stufftext",
	protocol.SvcServerData:          "svc_serverdata",
	protocol.SvcConfigString:        "svc_configstring",
	protocol.SvcSpawnBaseline:       "svc_spawnbaseline",
	protocol.SvcCenterPrint:         "svc_centerprint",
	protocol.SvcDownload:            "svc_download",
	protocol.SvcPlayerInfo:          "svc_playerinfo",
	protocol.SvcPacketEntities:      "svc_packetentities",
	protocol.SvcDeltaPacketEntities: "svc_deltapacketentities",
	protocol.SvcFrame:               "svc_frame",
}

func svcString(op int) string {
	if op >= 0 && op < len(svcStrings) && svcStrings[op] != "" {
		return svcStrings[op]
	}
	return "svc_unknown"
}

// parseServerMessage parses one sequenced packet. An error drops the
// connection.
func (c *Client) parseServerMessage(payload []byte) error {
	r := net.NewReader(payload)
	showNet := cvars.ClientShowNet.Int()
	if showNet == 1 {
		conlog.Printf("%d ", len(payload))
	} else if showNet >= 2 {
		conlog.Printf("------------------\n")
	}

	for {
		if r.Overread() {
			return errors.New("CL_ParseServerMessage: Bad server message")
		}
		op := r.ReadUint8()
		if op == -1 {
			return nil
		}
		if showNet >= 2 {
			conlog.Printf("%3d:%s\n", r.Pos()-1, svcString(op))
		}

		switch op {
		case protocol.SvcNop:
		case protocol.SvcDisconnect:
			conlog.Printf("Server disconnected\n")
			c.disconnect()
			return nil
		case protocol.SvcReconnect:
			conlog.Printf("Server disconnected, reconnecting\n")
			c.reconnect()
			return nil
		case protocol.SvcPrint:
			r.ReadUint8() // level
			conlog.Printf("%s", r.ReadString())
		case protocol.SvcCenterPrint:
			conlog.Printf("%s\n", r.ReadString())
		case protocol.SvcStuffText:
			s := r.ReadString()
			c.log.Debug("stufftext", slog.String("text", s))
			c.cbuf.AddText(s)
		case protocol.SvcServerData:
			if err := c.parseServerData(r); err != nil {
				return err
			}
		case protocol.SvcConfigString:
			if err := c.parseConfigString(r); err != nil {
				return err
			}
		case protocol.SvcSpawnBaseline:
			if err := c.parseBaseline(r); err != nil {
				return err
			}
		case protocol.SvcFrame:
			if err := c.parseFrame(r); err != nil {
				return err
			}
		default:
			return errors.Errorf("CL_ParseServerMessage: Illegible server message %d (%s)", op, svcString(op))
		}
	}
}

// reconnect is the level change: the server forgot our edict, connect
// again on the same address.
func (c *Client) reconnect() {
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
	c.clearState()
	c.state = StateChallenging
	c.connectTime = time.Time{}
	c.connectCount = 0
}

func (c *Client) parseServerData(r *net.Reader) error {
	c.clearState()

	version := r.ReadLong()
	if version != protocol.Default {
		return errors.Errorf("Server returned version %d, not %d", version, protocol.Default)
	}
	c.serverCount = r.ReadLong()
	r.ReadUint8() // demo
	c.gameDir = r.ReadString()
	c.playerNum = r.ReadShort()
	c.levelName = r.ReadString()
	if r.Overread() {
		return errors.New("read past end of serverdata")
	}
	if c.playerNum == -1 {
		return errors.New("cinematics are not supported")
	}
	conlog.Printf("\n%s\n", c.levelName)
	c.log.Info("serverdata", slog.Int("servercount", c.serverCount), slog.Int("player", c.playerNum),
		slog.String("level", c.levelName))
	return nil
}

func (c *Client) parseConfigString(r *net.Reader) error {
	i := r.ReadShort()
	s := r.ReadString()
	if r.Overread() {
		return errors.New("read past end of configstring")
	}
	if !protocol.ValidConfigString(i) {
		return errors.Errorf("configstring > MAX_CONFIGSTRINGS: %d", i)
	}
	c.configStrings[i] = s
	return nil
}

func (c *Client) parseBaseline(r *net.Reader) error {
	bits, num := protocol.ReadEntityBits(r)
	if num <= 0 || num >= protocol.MaxEdicts {
		return errors.Errorf("bad baseline number %d", num)
	}
	var null protocol.EntityState
	c.baselines[num] = protocol.ReadDeltaEntity(r, &null, num, bits)
	if r.Overread() {
		return errors.New("read past end of baseline")
	}
	return nil
}

func (c *Client) baseline(number int) *protocol.EntityState {
	if number <= 0 || number >= len(c.baselines) {
		return nil
	}
	return &c.baselines[number]
}

// parseFrame reads svc_frame, the player state and the packet entities.
// A frame that deltas from something we don't have is parsed but marked
// invalid, the next move then asks for a full update.
func (c *Client) parseFrame(r *net.Reader) error {
	h, err := protocol.ReadFrameHeader(r)
	if err != nil {
		return err
	}
	f := Frame{
		ServerFrame: h.Number,
		DeltaFrame:  h.Delta,
		AreaBits:    h.AreaBits,
	}
	c.suppressCount = h.Suppress

	var old *Frame
	if h.Delta <= 0 {
		f.Valid = true // uncompressed frame
	} else {
		old = &c.frames[h.Delta&protocol.UpdateMask]
		switch {
		case !old.Valid:
			// should never happen
			conlog.Printf("Delta from invalid frame (not supposed to happen!).\n")
		case old.ServerFrame != h.Delta:
			// The frame that the server did the delta from
			// is too old, so we can't reconstruct it properly.
			conlog.Printf("Delta frame too old.\n")
		default:
			f.Valid = true
		}
		if !f.Valid {
			c.log.Debug("invalid delta", slog.Int("frame", h.Number), slog.Int("delta", h.Delta))
		}
	}

	// the frame is always parsed to get through the message
	var oldps *protocol.PlayerState
	var oldents []protocol.EntityState
	if old != nil {
		oldps = &old.PlayerState
		oldents = old.Entities
	}

	if op := r.ReadUint8(); op != protocol.SvcPlayerInfo {
		return errors.Errorf("CL_ParseFrame: 0x%x not playerinfo", op)
	}
	f.PlayerState = protocol.ReadDeltaPlayerstate(r, oldps)

	if op := r.ReadUint8(); op != protocol.SvcPacketEntities {
		return errors.Errorf("CL_ParseFrame: 0x%x not packetentities", op)
	}
	f.Entities, err = protocol.ReadPacketEntities(r, oldents, c.baseline)
	if err != nil {
		return errors.WithMessage(err, "CL_ParseFrame")
	}

	// save the frame off in the backup array for later delta comparisons
	c.frames[h.Number&protocol.UpdateMask] = f
	if !f.Valid {
		c.frame.Valid = false
		return nil
	}
	c.frame = f

	// getting a valid frame message ends the connection process
	if c.state == StateConnected {
		c.state = StateActive
		c.predictedOrigin = protocol.UnpackOrigin(f.PlayerState.PMove.Origin)
		c.log.Info("active", slog.Int("frame", f.ServerFrame))
	}

	if c.nc != nil {
		ack := c.nc.IncomingAcknowledged() & protocol.CmdMask
		if t := c.cmdTime[ack]; !t.IsZero() {
			c.ping = c.now().Sub(t)
		}
	}
	c.checkPredictionError()
	return nil
}
