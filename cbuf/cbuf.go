// SPDX-License-Identifier: GPL-2.0-or-later

package cbuf

import (
	"strings"
	"sync"
)

// CommandBuffer holds console text waiting to be tokenized and executed.
// Text is split at newlines and at semicolons outside of quotes.
type CommandBuffer struct {
	mu sync.Mutex
	// original: buffer of 8192 byte size
	buf string
	// toggle to add a wait to Execute,
	// causing the following commands to be executed one frame later
	wait      bool
	executors executors
}

func (c *CommandBuffer) SetCommandExecutors(e []Efunc) {
	c.executors = e
}

// Wait defers the rest of the buffer to the next Execute call.
func (c *CommandBuffer) Wait() {
	c.wait = true
}

func (c *CommandBuffer) nextLine() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return "", false
	}
	i := 0
	quote := false
LineLoop:
	for i = 0; i < len(c.buf); i++ {
		switch c.buf[i] {
		case '"':
			quote = !quote
			continue LineLoop
		case ';':
			if quote {
				continue LineLoop
			}
			break LineLoop
		case '\n':
			break LineLoop
		}
	}
	// do not put ';' or '\n' in line
	line := c.buf[:i]
	// but remove this char as well
	if i < len(c.buf) {
		i++
	}
	c.buf = c.buf[i:]
	return line, true
}

func (c *CommandBuffer) Execute() error {
	for {
		line, ok := c.nextLine()
		if !ok {
			return nil
		}
		if strings.TrimSpace(line) == "wait" {
			c.wait = true
		} else if err := c.executors.execute(c, line); err != nil {
			return err
		}
		if c.wait {
			// wait for the next frame to continue executing
			c.wait = false
			return nil
		}
	}
}

func (c *CommandBuffer) AddText(text string) {
	c.mu.Lock()
	c.buf = c.buf + text
	c.mu.Unlock()
}

func (c *CommandBuffer) InsertText(text string) {
	c.mu.Lock()
	c.buf = text + "\n" + c.buf
	c.mu.Unlock()
}

// Empty reports whether no text is pending.
func (c *CommandBuffer) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) == 0
}
