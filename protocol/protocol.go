// SPDX-License-Identifier: GPL-2.0-or-later

// Package protocol holds the wire format shared by server and client: the
// opcodes, the entity, player and usercmd deltas and the frame layout.
package protocol

const (
	// Default is the original protocol, Q2PRO adds the NEW netchan and
	// larger messages on top of it.
	Default = 34
	R1Q2    = 35
	Q2PRO   = 36

	MinQ2PROMinor = 1021
	Q2PROMinor    = 1024

	PortServer = 27910
	PortClient = 27901

	// the server keeps this many frames per client to delta from
	UpdateBackup = 16
	UpdateMask   = UpdateBackup - 1

	// the client keeps this many commands for prediction
	CmdBackup = 64
	CmdMask   = CmdBackup - 1

	MaxEdicts         = 1024
	MaxClients        = 256
	MaxStats          = 32
	MaxPacketEntities = 128
	MaxMapAreaBytes   = 32
	MaxModels         = 256
	MaxSounds         = 256
	MaxImages         = 256
	MaxLightStyles    = 256
	MaxItems          = 256
	MaxGeneral        = MaxClients * 2
	MaxQPath          = 64

	// worst case size of one entity delta record
	MaxPacketEntityBytes = 64
)

// server to client
const (
	SvcBad = iota
	SvcMuzzleFlash
	SvcMuzzleFlash2
	SvcTempEntity
	SvcLayout
	SvcInventory
	SvcNop
	SvcDisconnect
	SvcReconnect
	// [byte] flags [byte] channel ...
	SvcSound
	// [byte] level [string] text
	SvcPrint
	// [string] stuffed into the client's console buffer, \n terminated
	SvcStuffText
	// [long] protocol [long] servercount [byte] demo [string] gamedir
	// [short] clientnum [string] levelname
	SvcServerData
	// [short] index [string] value
	SvcConfigString
	SvcSpawnBaseline
	// [string] to put in the center of the screen
	SvcCenterPrint
	SvcDownload
	SvcPlayerInfo
	SvcPacketEntities
	SvcDeltaPacketEntities
	SvcFrame
)

// client to server
const (
	ClcBad = iota
	ClcNop
	// [[usercmd_t]
	ClcMove
	// [[userinfo string]
	ClcUserinfo
	// [string] message
	ClcStringCmd
)

// print levels
const (
	PrintLow = iota
	PrintMedium
	PrintHigh
	PrintChat
)

// config strings are a general means of communication from the server to
// all connected clients
const (
	CsName      = 0
	CsCDTrack   = 1
	CsSky       = 2
	CsSkyAxis   = 3
	CsSkyRotate = 4
	CsStatusBar = 5

	CsAirAccel    = 29
	CsMaxClients  = 30
	CsMapChecksum = 31

	CsModels         = 32
	CsSounds         = CsModels + MaxModels
	CsImages         = CsSounds + MaxSounds
	CsLights         = CsImages + MaxImages
	CsItems          = CsLights + MaxLightStyles
	CsPlayerSkins    = CsItems + MaxItems
	CsGeneral        = CsPlayerSkins + MaxClients
	MaxConfigStrings = CsGeneral + MaxGeneral
)

// ValidConfigString reports whether index names a config string slot.
func ValidConfigString(index int) bool {
	return index >= 0 && index < MaxConfigStrings
}
