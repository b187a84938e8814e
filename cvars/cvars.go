// SPDX-License-Identifier: GPL-2.0-or-later

package cvars

import (
	"goquake2/cvar"
)

var (
	ClientMaxFps        *cvar.Cvar
	ClientName          *cvar.Cvar
	ClientPredict       *cvar.Cvar
	ClientRate          *cvar.Cvar
	ClientShowMiss      *cvar.Cvar
	ClientShowNet       *cvar.Cvar
	ClientTimeout       *cvar.Cvar
	Developer           *cvar.Cvar
	MapNoAreas          *cvar.Cvar
	MapVisibilityPatch  *cvar.Cvar
	NetBackend          *cvar.Cvar
	NetChanType         *cvar.Cvar
	NetDropSim          *cvar.Cvar
	NetIP               *cvar.Cvar
	NetLogEnable        *cvar.Cvar
	NetLogFlush         *cvar.Cvar
	NetLogName          *cvar.Cvar
	NetMaxMsgLen        *cvar.Cvar
	NetPort             *cvar.Cvar
	NetQport            *cvar.Cvar
	RconPassword        *cvar.Cvar
	ServerFps           *cvar.Cvar
	ServerHostName      *cvar.Cvar
	ServerMaxClients    *cvar.Cvar
	ServerMaxPacketEnts *cvar.Cvar
	ServerNoClipMove    *cvar.Cvar
	ServerNoVis         *cvar.Cvar
	ServerTimeout       *cvar.Cvar
	ShowDrop            *cvar.Cvar
	ShowPackets         *cvar.Cvar
	Version             *cvar.Cvar
)

func init() {
	ClientMaxFps = cvar.MustRegister("cl_maxfps", "60", cvar.NONE)
	ClientName = cvar.MustRegister("name", "unnamed", cvar.USERINFO|cvar.ARCHIVE)
	ClientPredict = cvar.MustRegister("cl_predict", "1", cvar.NONE)
	ClientRate = cvar.MustRegister("rate", "5000", cvar.USERINFO|cvar.ARCHIVE)
	ClientShowMiss = cvar.MustRegister("cl_showmiss", "0", cvar.NONE)
	ClientShowNet = cvar.MustRegister("cl_shownet", "0", cvar.NONE)
	ClientTimeout = cvar.MustRegister("cl_timeout", "120", cvar.NONE)
	Developer = cvar.MustRegister("developer", "0", cvar.NONE)
	MapNoAreas = cvar.MustRegister("map_noareas", "0", cvar.NONE)
	MapVisibilityPatch = cvar.MustRegister("map_visibility_patch", "1", cvar.NONE)
	NetBackend = cvar.MustRegister("net_backend", "udp", cvar.NONE)
	NetChanType = cvar.MustRegister("net_chantype", "1", cvar.NONE)
	NetDropSim = cvar.MustRegister("net_dropsim", "0", cvar.NONE)
	NetIP = cvar.MustRegister("net_ip", "", cvar.NONE)
	NetLogEnable = cvar.MustRegister("net_log_enable", "0", cvar.NONE)
	NetLogFlush = cvar.MustRegister("net_log_flush", "0", cvar.NONE)
	NetLogName = cvar.MustRegister("net_log_name", "network", cvar.NONE)
	NetMaxMsgLen = cvar.MustRegister("net_maxmsglen", "1390", cvar.NONE)
	NetPort = cvar.MustRegister("net_port", "27910", cvar.NONE)
	NetQport = cvar.MustRegister("net_qport", "0", cvar.NONE)
	RconPassword = cvar.MustRegister("rcon_password", "", cvar.PRIVATE)
	ServerFps = cvar.MustRegister("sv_fps", "10", cvar.LATCH)
	ServerHostName = cvar.MustRegister("sv_hostname", "noname", cvar.SERVERINFO|cvar.ARCHIVE)
	ServerMaxClients = cvar.MustRegister("sv_maxclients", "8", cvar.SERVERINFO|cvar.LATCH)
	ServerMaxPacketEnts = cvar.MustRegister("sv_max_packet_entities", "128", cvar.NONE)
	ServerNoClipMove = cvar.MustRegister("sv_noclipmove", "0", cvar.NONE)
	ServerNoVis = cvar.MustRegister("sv_novis", "0", cvar.NONE)
	ServerTimeout = cvar.MustRegister("sv_timeout", "90", cvar.NONE)
	ShowDrop = cvar.MustRegister("showdrop", "0", cvar.NONE)
	ShowPackets = cvar.MustRegister("showpackets", "0", cvar.NONE)
	Version = cvar.MustRegister("version", "goquake2 34", cvar.SERVERINFO|cvar.ROM)
}
