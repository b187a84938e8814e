// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"goquake2/bsp"
	"goquake2/cbuf"
	"goquake2/client"
	"goquake2/cmd"
	"goquake2/commandline"
	"goquake2/config"
	"goquake2/conlog"
	"goquake2/cvar"
	"goquake2/cvars"
	"goquake2/filesystem"
	"goquake2/net"
	"goquake2/protocol"
	"goquake2/server"
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if commandline.Debug() || cvars.Developer.Bool() {
		level = slog.LevelDebug
	}
	conlog.SetDeveloper(cvars.Developer.Bool())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// console runs commands from the config, the command line and stdin.
type console struct {
	mu    sync.Mutex
	buf   cbuf.CommandBuffer
	lines chan string
}

func newConsole() *console {
	c := &console{lines: make(chan string, 16)}
	c.buf.SetCommandExecutors([]cbuf.Efunc{
		func(_ *cbuf.CommandBuffer, a cmd.Arguments) (bool, error) {
			return cmd.Execute(a)
		},
		func(_ *cbuf.CommandBuffer, a cmd.Arguments) (bool, error) {
			return cvar.Execute(a)
		},
		func(_ *cbuf.CommandBuffer, a cmd.Arguments) (bool, error) {
			conlog.Printf("Unknown command \"%s\"\n", a.Argv(0).String())
			return true, nil
		},
	})
	return c
}

func (c *console) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.AddText(line + "\n")
}

func (c *console) execute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.buf.Execute(); err != nil {
		conlog.Printf("%v\n", err)
	}
}

// readStdin never returns while stdin stays open, so it is not part of
// the errgroup.
func (c *console) readStdin() {
	s := bufio.NewScanner(os.Stdin)
	for s.Scan() {
		c.lines <- s.Text()
	}
}

func (c *console) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-c.lines:
			c.add(l)
			c.execute()
		}
	}
}

// packetLog follows net_log_enable: 1 starts a new log, 2 appends.
func packetLog(basedir string, ts ...*net.Transport) func(cv *cvar.Cvar) {
	var cur *net.PacketLog
	return func(cv *cvar.Cvar) {
		if cur != nil {
			for _, t := range ts {
				t.SetLog(nil)
			}
			if err := cur.Close(); err != nil {
				slog.Warn("closing packet log", slog.Any("err", err))
			}
			cur = nil
		}
		if cv.Int() == 0 {
			return
		}
		l, err := net.OpenPacketLog(basedir, cvars.NetLogName.String(), cv.Int() > 1, cvars.NetLogFlush.Int())
		if err != nil {
			conlog.Printf("Couldn't open packet log: %v\n", err)
			return
		}
		cur = l
		for _, t := range ts {
			t.SetLog(l)
		}
		conlog.Printf("Logging network packets to %s\n", l.Name)
	}
}

func listen(backend string, port int) (net.Socket, error) {
	ip := cvars.NetIP.String()
	switch backend {
	case "udp":
		return net.ListenUDP(ip, port)
	case "websocket":
		return net.ListenWebSocket(ip, port)
	}
	return nil, errors.Errorf("unknown net_backend %q", backend)
}

// clientSocket opens the socket the client talks to remote servers
// through. Websocket clients have to know the server up front.
func clientSocket(ctx context.Context, backend, server string) (net.Socket, error) {
	if backend != "websocket" {
		return listen(backend, 0)
	}
	adr, ok := net.ParseAddr(server, protocol.PortServer)
	if !ok {
		return nil, errors.Errorf("bad server address %q", server)
	}
	return net.DialWebSocket(ctx, adr)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(commandline.ConfigFile())
	if err != nil {
		return err
	}
	con := newConsole()
	if err := cfg.Apply(con.add); err != nil {
		slog.Warn("config", slog.Any("err", err))
	}
	if p := commandline.Port(); p != 0 {
		cvars.NetPort.SetByString(strconv.Itoa(p))
	}
	if b := commandline.Backend(); b != "" {
		cvars.NetBackend.SetByString(b)
	}
	if n := commandline.DedicatedNum(); commandline.Dedicated() && n > 0 {
		cvars.ServerMaxClients.SetByString(strconv.Itoa(n))
	}
	setupLogging()

	basedir := commandline.BaseDirectory()
	fsys, err := filesystem.New(basedir, commandline.Game())
	if err != nil {
		return err
	}
	defer fsys.Close()
	cmd.Must(fsys.AddCommands(cmd.AddCommand))
	cache := bsp.NewCache(fsys.ReadFile)

	loop := net.NewLoopback()
	st := net.NewTransport(net.ServerSide, loop)
	ct := net.NewTransport(net.ClientSide, loop)
	defer st.Close()
	defer ct.Close()
	cmd.Must(net.AddStatsCommand(st, ct))
	cvars.NetLogEnable.SetCallback(packetLog(basedir, st, ct))

	dedicated := commandline.Dedicated()
	mapName := commandline.Map()
	remote := commandline.Connect()
	backend := cvars.NetBackend.String()

	g, ctx := errgroup.WithContext(ctx)

	if dedicated || mapName != "" {
		sock, err := listen(backend, cvars.NetPort.Int())
		if err != nil {
			return errors.WithMessage(err, "server socket")
		}
		st.SetSocket(sock)
		slog.Info("server listening", slog.String("backend", backend), slog.String("addr", sock.LocalAddr().String()))

		srv := server.New(st, cache)
		cmd.Must(srv.AddCommands(cmd.AddCommand))
		if mapName != "" {
			if err := srv.SpawnServer(mapName); err != nil {
				return err
			}
		}
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if !dedicated {
		if remote != "" && remote != "loopback" {
			sock, err := clientSocket(ctx, backend, remote)
			if err != nil {
				return errors.WithMessage(err, "client socket")
			}
			ct.SetSocket(sock)
		}
		cl := client.New(ct, cache)
		cmd.Must(cl.AddCommands(cmd.AddCommand))
		switch {
		case remote != "":
			if err := cl.Connect(remote); err != nil {
				return err
			}
		case mapName != "":
			// listen server
			if err := cl.Connect("loopback"); err != nil {
				return err
			}
		}
		g.Go(func() error {
			return cl.Run(ctx)
		})
	}

	g.Go(func() error {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-t.C:
				st.UpdateStats(now)
				ct.UpdateStats(now)
			}
		}
	})

	for _, l := range commandline.Commands() {
		con.add(l)
	}
	con.execute()
	go con.readStdin()
	g.Go(func() error {
		return con.run(ctx)
	})

	return g.Wait()
}
