// SPDX-License-Identifier: GPL-2.0-or-later

package math

import (
	"github.com/chewxy/math32"
)

// CoordToShort converts a world coordinate to its 1/8 unit wire form.
func CoordToShort(x float32) int16 {
	return int16(math32.Round(x * 8))
}

// ShortToCoord is the inverse of CoordToShort
func ShortToCoord(s int16) float32 {
	return float32(s) * (1.0 / 8)
}

// AngleToShort converts degrees to the 16 bit wire form.
func AngleToShort(a float32) int16 {
	return int16(int(a*65536/360) & 65535)
}

// ShortToAngle is the inverse of AngleToShort
func ShortToAngle(s int16) float32 {
	return float32(s) * (360.0 / 65536)
}

// AngleToByte converts degrees to the 8 bit wire form.
func AngleToByte(a float32) byte {
	return byte(int(a*256/360) & 255)
}

func ByteToAngle(b byte) float32 {
	return float32(b) * (360.0 / 256)
}
