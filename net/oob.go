// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"bytes"
	"fmt"
	"log/slog"

	"goquake2/cmd"
)

// connectionless packets start with a -1 sequence
var oobPrefix = []byte{0xff, 0xff, 0xff, 0xff}

// IsOutOfBand reports whether data is a connectionless packet.
func IsOutOfBand(data []byte) bool {
	return bytes.HasPrefix(data, oobPrefix)
}

// OutOfBandData strips the connectionless header.
func OutOfBandData(data []byte) []byte {
	if !IsOutOfBand(data) {
		return nil
	}
	return data[len(oobPrefix):]
}

// PacketSender is satisfied by Transport.
type PacketSender interface {
	SendPacket(data []byte, to Addr) bool
}

// OutOfBand sends a formatted connectionless text packet.
func OutOfBand(t PacketSender, to Addr, format string, v ...any) bool {
	msg := fmt.Sprintf(format, v...)
	if len(msg)+len(oobPrefix) > MaxPacketLenDefault {
		slog.Warn("OutOfBand: overflow", slog.String("to", to.String()))
		return false
	}
	data := make([]byte, 0, len(msg)+len(oobPrefix))
	data = append(data, oobPrefix...)
	data = append(data, msg...)
	return t.SendPacket(data, to)
}

// AddStatsCommand registers net_stats printing the counters of ts.
func AddStatsCommand(ts ...*Transport) error {
	return cmd.AddCommand("net_stats", func(_ cmd.Arguments) error {
		for _, t := range ts {
			if t != nil {
				t.PrintStats()
			}
		}
		return nil
	})
}
