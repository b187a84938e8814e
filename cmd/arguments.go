// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"log/slog"
	"strconv"
	"strings"
)

// MaxTokens is the most arguments a line is split into, the rest is
// dropped.
const MaxTokens = 80

type QArg struct {
	a string
}

func (a QArg) String() string {
	return a.a
}

func (a QArg) Int() int {
	r, err := strconv.ParseInt(a.a, 10, 0)
	if err != nil {
		return 0
	}
	return int(r)
}

func (a QArg) Float32() float32 {
	r, err := strconv.ParseFloat(a.a, 32)
	if err != nil {
		return 0
	}
	return float32(r)
}

func (a QArg) Bool() bool {
	switch strings.ToLower(a.a) {
	case "1", "t", "true", "on", "yes":
		return true
	default:
		return false
	}
}

type Arguments struct {
	args []QArg
	// the trimmed line
	full string
	// raw text after args[0]
	rest string
}

func (c *Arguments) Argv(i int) QArg {
	if i < 0 || i >= len(c.args) {
		slog.Debug("Argv out of bounds", slog.Int("i", i), slog.Int("argc", len(c.args)))
		return QArg{}
	}
	return c.args[i]
}

func (c *Arguments) Full() string {
	return c.full
}

func (c *Arguments) Args() []QArg {
	return c.args
}

// ArgumentString is everything after the command name as it was typed,
// quotes included.
func (c *Arguments) ArgumentString() string {
	return c.rest
}

// Parse splits a console line into arguments. Tokens are separated by
// blanks and control characters, double quotes group a token and a //
// ends the line. An unterminated quote runs to the end of the line.
func Parse(s string) (args Arguments) {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	args.full = strings.TrimSpace(s)
	args.args = []QArg{}

	pos := 0
	for len(args.args) < MaxTokens {
		for pos < len(s) && s[pos] <= ' ' {
			pos++
		}
		if pos >= len(s) || strings.HasPrefix(s[pos:], "//") {
			break
		}
		if len(args.args) == 1 {
			args.rest = strings.TrimRightFunc(s[pos:], func(r rune) bool { return r <= ' ' })
		}
		var tok string
		tok, pos = token(s, pos)
		args.args = append(args.args, QArg{tok})
	}
	return args
}

func token(s string, pos int) (string, int) {
	if s[pos] == '"' {
		pos++
		end := strings.IndexByte(s[pos:], '"')
		if end < 0 {
			return s[pos:], len(s)
		}
		return s[pos : pos+end], pos + end + 1
	}
	start := pos
	for pos < len(s) && s[pos] > ' ' {
		pos++
	}
	return s[start:pos], pos
}
