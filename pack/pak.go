// SPDX-License-Identifier: GPL-2.0-or-later

// Package pack reads id pak files. A Pack is an fs.FS of the files in it.
package pack

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	entrySize = 64
	// MaxFiles is the most entries a pak may have.
	MaxFiles = 4096
)

type header struct {
	ID     [4]byte
	Offset int32
	Size   int32
}

type entry struct {
	Name   [56]byte
	Offset int32
	Size   int32
}

type Pack struct {
	r     io.ReaderAt
	c     io.Closer
	files map[string]qfile
	names []string
	name  string
}

type qfile struct {
	offset int64
	size   int64
}

// Open returns the file called name. Lookups ignore case.
func (p *Pack) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	q, ok := p.files[strings.ToLower(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &file{
		SectionReader: io.NewSectionReader(p.r, q.offset, q.size),
		name:          path.Base(name),
	}, nil
}

// Files lists the entries in pak order.
func (p *Pack) Files() []string {
	return append([]string(nil), p.names...)
}

func (p *Pack) String() string {
	return p.name
}

func (p *Pack) Close() error {
	if p.c == nil {
		return nil
	}
	return p.c.Close()
}

func (p *Pack) init(size int64) error {
	var h header
	if err := binary.Read(io.NewSectionReader(p.r, 0, 12), binary.LittleEndian, &h); err != nil {
		return err
	}
	magic := []byte("PACK")
	if !bytes.Equal(magic, h.ID[:]) {
		return errors.New("Not a pack")
	}
	if h.Size < 0 || h.Size%entrySize != 0 {
		return errors.Errorf("bad directory length %d", h.Size)
	}
	filenum := h.Size / entrySize
	if filenum > MaxFiles {
		return errors.Errorf("%d files in pack", filenum)
	}
	if h.Offset < 0 || int64(h.Offset)+int64(h.Size) > size {
		return errors.New("Not long enough")
	}
	dir := io.NewSectionReader(p.r, int64(h.Offset), int64(h.Size))
	p.files = make(map[string]qfile, filenum)
	for i := int32(0); i < filenum; i++ {
		var e entry
		if err := binary.Read(dir, binary.LittleEndian, &e); err != nil {
			return err
		}
		n := bytes.IndexByte(e.Name[:], 0)
		if n < 0 {
			n = len(e.Name)
		}
		name := strings.ToLower(string(e.Name[:n]))
		if _, ok := p.files[name]; ok {
			return errors.New("files in pack are not unique")
		}
		if e.Offset < 0 || e.Size < 0 || int64(e.Offset)+int64(e.Size) > size {
			return errors.Errorf("%s is outside of the pack", name)
		}
		p.files[name] = qfile{
			offset: int64(e.Offset),
			size:   int64(e.Size),
		}
		p.names = append(p.names, name)
	}
	return nil
}

// New reads the directory of a pak of size bytes in r.
func New(r io.ReaderAt, size int64, name string) (*Pack, error) {
	p := &Pack{r: r, name: name}
	if err := p.init(size); err != nil {
		return nil, errors.WithMessage(err, name)
	}
	return p, nil
}

// NewPackReader opens the pak file at name.
func NewPackReader(name string) (*Pack, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	p, err := New(f, fi.Size(), name)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.c = f
	return p, nil
}

type file struct {
	*io.SectionReader
	name string
}

func (f *file) Stat() (fs.FileInfo, error) {
	return fileInfo{name: f.name, size: f.Size()}, nil
}

func (*file) Close() error {
	return nil
}

type fileInfo struct {
	name string // base name of the file
	size int64
}

func (f fileInfo) Name() string       { return f.name }
func (f fileInfo) Size() int64        { return f.size }
func (f fileInfo) Mode() fs.FileMode  { return 0o444 }
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return false }
func (f fileInfo) Sys() any           { return nil }
