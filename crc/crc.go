// SPDX-License-Identifier: GPL-2.0-or-later

// Package crc implements the 16 bit CCITT checksum (poly 0x1021, start
// 0xffff, no final xor) used for clc_move sequence checks.
package crc

const (
	poly    = 0x1021
	initial = 0xffff
)

var table [256]uint16

func init() {
	for i := range table {
		c := uint16(i) << 8
		for range 8 {
			if c&0x8000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
}

// Digest is a running checksum. The zero value is not ready, use New.
type Digest struct {
	crc uint16
}

func New() *Digest {
	return &Digest{crc: initial}
}

func (d *Digest) Write(p []byte) (int, error) {
	d.crc = update(d.crc, p)
	return len(p), nil
}

func (d *Digest) Reset() {
	d.crc = initial
}

func (d *Digest) Sum16() uint16 {
	return d.crc
}

func update(c uint16, p []byte) uint16 {
	for _, b := range p {
		c = c<<8 ^ table[byte(c>>8)^b]
	}
	return c
}

// Block is the checksum of p.
func Block(p []byte) uint16 {
	return update(initial, p)
}
