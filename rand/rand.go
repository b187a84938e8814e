// SPDX-License-Identifier: GPL-2.0-or-later

// Package rand is a small seeded generator for challenges, qports,
// spawn spots and simulated loss. It is not safe for concurrent use.
package rand

// Generator hashes a running position with the seed, so two generators
// with the same seed give the same sequence.
type Generator struct {
	pos  uint32
	seed uint32
}

func New(seed uint32) Generator {
	return Generator{seed: seed}
}

// Seed restarts the sequence with s.
func (g *Generator) Seed(s uint32) {
	g.pos = 0
	g.seed = s
}

func (g *Generator) Uint32() uint32 {
	g.pos++
	return squirrel(g.pos, g.seed)
}

// Uint32n returns a value in [0,n). n must not be 0.
func (g *Generator) Uint32n(n uint32) uint32 {
	return g.Uint32() % n
}

// Intn returns a value in [0,n). n must be positive.
func (g *Generator) Intn(n int) int {
	return int(g.Uint32n(uint32(n)))
}

// squirrel is the Squirrel3 noise function.
func squirrel(p, seed uint32) uint32 {
	m := p * 0xB5297A4D
	m += seed
	m ^= m >> 8
	m += 0x68E31DA4
	m ^= m << 8
	m *= 0x1B56C4E9
	m ^= m >> 8
	return m
}
