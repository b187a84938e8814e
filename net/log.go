// SPDX-License-Identifier: GPL-2.0-or-later

package net

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// PacketLog dumps every sent and received packet into a zstd compressed
// text file.
type PacketLog struct {
	mu    sync.Mutex
	f     io.Closer
	enc   *zstd.Encoder
	w     *bufio.Writer
	flush int
	start time.Time
	Name  string
}

// OpenPacketLog opens logs/<name>.log.zst below dir. flush 1 flushes after
// every packet, 2 also ends the compressed block.
func OpenPacketLog(dir, name string, appendMode bool, flush int) (*PacketLog, error) {
	path := filepath.Join(dir, "logs", name+".log.zst")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	mode := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		mode = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, mode, 0o644)
	if err != nil {
		return nil, err
	}
	l, err := NewPacketLog(f, flush)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.f = f
	l.Name = path
	return l, nil
}

// NewPacketLog writes the log to w.
func NewPacketLog(w io.Writer, flush int) (*PacketLog, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &PacketLog{
		enc:   enc,
		w:     bufio.NewWriterSize(enc, 64*1024),
		flush: flush,
		start: time.Now(),
	}, nil
}

// Packet logs one packet as a header line and a hex/ascii dump.
func (l *PacketLog) Packet(addr Addr, prefix string, data []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	fmt.Fprintf(l.w, "%d : %s : %s : %d bytes\n", time.Since(l.start).Milliseconds(), prefix, addr, len(data))
	dumpPacket(l.w, data)
	l.w.WriteByte('\n')
	if l.flush > 0 {
		l.w.Flush()
	}
	if l.flush > 1 {
		l.enc.Flush()
	}
}

func dumpPacket(w io.Writer, data []byte) {
	rows := (len(data) + 15) / 16
	for i := range rows {
		fmt.Fprintf(w, "%04x : ", i*16)
		for j := range 16 {
			if i*16+j < len(data) {
				fmt.Fprintf(w, "%02x ", data[i*16+j])
			} else {
				io.WriteString(w, "   ")
			}
		}
		io.WriteString(w, ": ")
		for j := range 16 {
			if i*16+j < len(data) {
				c := data[i*16+j]
				if c < 32 || c > 126 {
					c = '.'
				}
				w.Write([]byte{c})
			} else {
				io.WriteString(w, " ")
			}
		}
		io.WriteString(w, "\n")
	}
}

func (l *PacketLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	l.w.Flush()
	err := l.enc.Close()
	if l.f != nil {
		if cerr := l.f.Close(); err == nil {
			err = cerr
		}
	}
	l.w = nil
	return err
}
