// SPDX-License-Identifier: GPL-2.0-or-later

// Package filesystem is the search path maps and other game data are read
// through: game directories with their pak files, the last mounted game
// first.
package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"goquake2/cmd"
	"goquake2/conlog"
	"goquake2/pack"
)

// BaseGame is the directory below the base directory that is always
// mounted.
const BaseGame = "baseq2"

// maximum pakN.pak per directory
const maxPaks = 10

type searchPath struct {
	dir  string
	fsys fs.FS
	pak  *pack.Pack
}

func (s searchPath) String() string {
	if s.pak != nil {
		return fmt.Sprintf("%s (%d files)", s.pak, len(s.pak.Files()))
	}
	return s.dir
}

type FS struct {
	mu      sync.RWMutex
	baseDir string
	gameDir string
	search  []searchPath // highest priority first
}

// New mounts baseDir/baseq2 and, if game is not empty, baseDir/game on
// top of it. Missing directories are skipped.
func New(baseDir, game string) (*FS, error) {
	f := &FS{baseDir: baseDir}
	if err := f.addGameDirectory(BaseGame); err != nil {
		return nil, err
	}
	if game != "" && game != BaseGame {
		if err := f.addGameDirectory(game); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// addGameDirectory puts the directory and then its paks in front of the
// search path, so pak files override loose files of the same game and
// pak1 overrides pak0.
func (f *FS) addGameDirectory(game string) error {
	dir := filepath.Join(f.baseDir, game)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		slog.Debug("skipping game directory", slog.String("dir", dir))
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameDir = dir
	f.search = append([]searchPath{{dir: dir, fsys: os.DirFS(dir)}}, f.search...)
	for i := range maxPaks {
		name := filepath.Join(dir, fmt.Sprintf("pak%d.pak", i))
		p, err := pack.NewPackReader(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		slog.Info("added pak file", slog.String("pak", name), slog.Int("files", len(p.Files())))
		f.search = append([]searchPath{{dir: dir, fsys: p, pak: p}}, f.search...)
	}
	return nil
}

// Open returns the first file called name along the search path.
func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.search {
		file, err := s.fsys.Open(name)
		if err == nil {
			if fi, err := file.Stat(); err == nil && fi.IsDir() {
				file.Close()
				continue
			}
			return file, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(f, name)
}

// GameDir is the directory mounted last.
func (f *FS) GameDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gameDir
}

// Close closes all pak files.
func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, s := range f.search {
		if s.pak != nil {
			errs = append(errs, s.pak.Close())
		}
	}
	f.search = nil
	return errors.Join(errs...)
}

func (f *FS) printPath(_ cmd.Arguments) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	conlog.Printf("Current search path:\n")
	for _, s := range f.search {
		conlog.Printf("%s\n", s)
	}
	return nil
}

// AddCommands registers path.
func (f *FS) AddCommands(add func(name string, fn cmd.QFunc) error) error {
	return add("path", f.printPath)
}
