// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"encoding/binary"

	"golang.org/x/crypto/md4"
)

// BlockChecksum folds the MD4 digest of data into 32 bits. Clients and
// servers compare it to make sure they run the same map.
func BlockChecksum(data []byte) uint32 {
	h := md4.New()
	h.Write(data)
	d := h.Sum(nil)
	var r uint32
	for i := 0; i < 16; i += 4 {
		r ^= binary.LittleEndian.Uint32(d[i:])
	}
	return r
}
