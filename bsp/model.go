// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"strconv"
)

// InlineModel resolves a "*N" model name to submodel N. The world (*0)
// is not an inline model.
func (b *BSP) InlineModel(name string) (*Model, error) {
	if len(name) < 2 || name[0] != '*' {
		return nil, invalid("bad inline model name %q", name)
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return nil, invalid("bad inline model name %q", name)
	}
	if n < 1 || n >= len(b.Models) {
		return nil, invalid("bad inline model number %d", n)
	}
	return &b.Models[n], nil
}
