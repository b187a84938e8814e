// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type QFunc func(args Arguments) error

type Commands struct {
	mu    sync.RWMutex
	funcs map[string]QFunc
}

func New() *Commands {
	return &Commands{funcs: make(map[string]QFunc)}
}

func (c *Commands) Add(name string, f QFunc) error {
	ln := strings.ToLower(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.funcs[ln]; ok {
		return fmt.Errorf("Cmd_AddCommand: %s already defined", ln)
	}
	c.funcs[ln] = f
	return nil
}

func (c *Commands) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.funcs, strings.ToLower(name))
}

func (c *Commands) Exists(cmdName string) bool {
	name := strings.ToLower(cmdName)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.funcs[name]
	return ok
}

func (c *Commands) List() []string {
	c.mu.RLock()
	cmds := make([]string, 0, len(c.funcs))
	for cmd := range c.funcs {
		cmds = append(cmds, cmd)
	}
	c.mu.RUnlock()
	sort.Strings(cmds)
	return cmds
}

// Execute runs the command named by the first argument. It reports false
// if no such command exists.
func (c *Commands) Execute(a Arguments) (bool, error) {
	n := a.Args()
	if len(n) == 0 {
		return false, nil
	}
	name := strings.ToLower(n[0].String())
	c.mu.RLock()
	cmd, ok := c.funcs[name]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := cmd(a); err != nil {
		return false, err
	}
	return true, nil
}

var (
	commands = New()
)

func Must(err error) {
	if err != nil {
		panic(err.Error())
	}
}

func AddCommand(name string, f QFunc) error {
	return commands.Add(name, f)
}

func RemoveCommand(name string) {
	commands.Remove(name)
}

func Exists(cmdName string) bool {
	return commands.Exists(cmdName)
}

func Execute(a Arguments) (bool, error) {
	return commands.Execute(a)
}

func List() []string {
	return commands.List()
}
