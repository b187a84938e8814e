// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"io/fs"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"goquake2/conlog"
)

// ReadFunc returns the raw contents of a map file.
type ReadFunc func(name string) ([]byte, error)

// Cache shares loaded maps between all users of the same file. A map stays
// resident as long as at least one Handle to it is alive.
type Cache struct {
	mu      sync.Mutex
	read    ReadFunc
	entries map[string]*cacheEntry
	// PatchVis is asked on every load whether the PVS fixups apply.
	PatchVis func() bool
}

type cacheEntry struct {
	bsp     *BSP
	handles map[uuid.UUID]struct{}
}

func NewCache(read ReadFunc) *Cache {
	return &Cache{
		read:    read,
		entries: make(map[string]*cacheEntry),
	}
}

func cacheKey(name string) string {
	return strings.ToLower(name)
}

// Handle is a reference to a cached map. Release it when done; a handle
// that is garbage collected without Release is released then.
type Handle struct {
	id      uuid.UUID
	bsp     *BSP
	cache   *Cache
	once    sync.Once
	cleanup runtime.Cleanup
}

func (h *Handle) BSP() *BSP {
	if h == nil {
		return nil
	}
	return h.bsp
}

func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Release drops this reference. Calling it more than once is harmless.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cleanup.Stop()
		h.cache.release(cacheKey(h.bsp.Name), h.id)
	})
}

// Acquire returns a handle to the named map, loading it on a cache miss.
func (c *Cache) Acquire(name string) (*Handle, error) {
	if name == "" {
		return nil, &Error{Kind: ErrNotFound}
	}
	key := cacheKey(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		b, err := c.load(name)
		if err != nil {
			return nil, err
		}
		e = &cacheEntry{bsp: b, handles: make(map[uuid.UUID]struct{})}
		c.entries[key] = e
	}
	h := &Handle{
		id:    uuid.Must(uuid.NewV7()),
		bsp:   e.bsp,
		cache: c,
	}
	e.handles[h.id] = struct{}{}
	h.cleanup = runtime.AddCleanup(h, func(id uuid.UUID) {
		c.release(key, id)
	}, h.id)
	return h, nil
}

func (c *Cache) load(name string) (*BSP, error) {
	data, err := c.read(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: ErrNotFound, Msg: name}
		}
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	b, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	if c.PatchVis != nil {
		b.EnableVisPatches(c.PatchVis())
	}
	return b, nil
}

func (c *Cache) release(key string, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(e.handles, id)
	if len(e.handles) == 0 {
		delete(c.entries, key)
	}
}

// Refs returns the number of live handles to the named map.
func (c *Cache) Refs(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(name)]
	if !ok {
		return 0
	}
	return len(e.handles)
}

// List prints the resident maps, as used by the bsplist command.
func (c *Cache) List() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		conlog.Printf("BSP cache is empty\n")
		return
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0
	for _, k := range keys {
		e := c.entries[k]
		conlog.Printf("%8d : %s (%d refs)\n", e.bsp.Size, e.bsp.Name, len(e.handles))
		total += e.bsp.Size
	}
	conlog.Printf("------------------\n")
	conlog.Printf("Total resident: %d\n", total)
}
