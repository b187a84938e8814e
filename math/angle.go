// SPDX-License-Identifier: GPL-2.0-or-later

package math

import "github.com/chewxy/math32"

// AngleMod32 wraps a into [0,360).
func AngleMod32(a float32) float32 {
	a -= math32.Floor(a/360) * 360
	if a >= 360 {
		// float rounding of tiny negative angles
		return 0
	}
	return a
}

type Number interface {
	~int | ~int64 | ~float32 | ~float64
}

// Clamp limits val to [lo,hi].
func Clamp[K Number](lo, val, hi K) K {
	return max(lo, min(val, hi))
}
