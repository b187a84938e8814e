// SPDX-License-Identifier: GPL-2.0-or-later

package commandline

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

var (
	debug bool

	dedicated = boolInt{false, 8}

	port int

	backend    string
	basedir    string
	configFile string
	connect    string
	game       string
	mapName    string
)

type boolInt struct {
	set bool
	num int
}

func (b *boolInt) IsBoolFlag() bool {
	// We can not support both "-flag" and "-flag 10"
	// This allows "-flag", and "-flag=10"
	// and also "-flag=true" and "-flag=false"
	// but not "-flag 10"
	return true
}

func (b *boolInt) Set(s string) error {
	v, err := strconv.ParseInt(s, 0, strconv.IntSize)
	if err != nil {
		v, err := strconv.ParseBool(s)
		b.set = v
		return err
	}
	b.set = true
	b.num = int(v)
	return nil
}

func (b *boolInt) String() string {
	return fmt.Sprintf("Set: %v, Num: %v", b.set, b.num)
}

func register(fs *flag.FlagSet) {
	fs.BoolVar(&debug, "debug", false, "log debug messages")

	fs.Var(&dedicated, "dedicated", "Runs as dedicated server, optional number of clients")

	fs.IntVar(&port, "port", 0, "server port, 0 keeps net_port")

	fs.StringVar(&backend, "backend", "", "udp or websocket, empty keeps net_backend")
	fs.StringVar(&basedir, "basedir", ".", "directory holding baseq2 and the game directories")
	fs.StringVar(&configFile, "config", "goquake2.yaml", "yaml config file")
	fs.StringVar(&connect, "connect", "", "server to connect to")
	fs.StringVar(&game, "game", "", "game directory mounted over baseq2")
	fs.StringVar(&mapName, "map", "", "map to start a server on")
}

func init() {
	register(flag.CommandLine)
}

func Debug() bool {
	return debug
}

func Dedicated() bool {
	return dedicated.set
}

func DedicatedNum() int {
	return dedicated.num
}

func Port() int {
	return port
}

func Backend() string {
	return backend
}

func BaseDirectory() string {
	return basedir
}

func ConfigFile() string {
	return configFile
}

func Connect() string {
	return connect
}

func Game() string {
	return game
}

func Map() string {
	return mapName
}

// Commands returns the console commands after the flags.
func Commands() []string {
	return consoleCommands(flag.Args())
}

// consoleCommands splits
//
//	+set sv_hostname "my server" +map base1
//
// into one line per '+'. Arguments with spaces get quoted again.
func consoleCommands(args []string) []string {
	var lines []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
		}
		cur = nil
	}
	for _, a := range args {
		if strings.HasPrefix(a, "+") && len(a) > 1 {
			flush()
			cur = append(cur, a[1:])
			continue
		}
		if cur == nil {
			// stray argument before the first command
			continue
		}
		if a == "" || strings.ContainsAny(a, " \t;") {
			a = strconv.Quote(a)
		}
		cur = append(cur, a)
	}
	flush()
	return lines
}
