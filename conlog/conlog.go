// SPDX-License-Identifier: GPL-2.0-or-later

package conlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	mu        sync.Mutex
	out       io.Writer = os.Stdout
	redirect  *strings.Builder
	developer atomic.Bool

	p  = write
	sp = write
)

func write(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if redirect != nil {
		fmt.Fprintf(redirect, format, v...)
		return
	}
	fmt.Fprintf(out, format, v...)
}

// SetOutput changes where console text is written to.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func SetPrintf(f func(string, ...interface{})) {
	p = f
}

func SetSavePrintf(f func(string, ...interface{})) {
	sp = f
}

func SetDeveloper(on bool) {
	developer.Store(on)
}

func Printf(format string, v ...interface{}) {
	p(format, v...)
}

// SafePrintf is Printf for output that must not trigger a screen update.
func SafePrintf(format string, v ...interface{}) {
	sp(format, v...)
}

// DPrintf prints only in developer mode.
func DPrintf(format string, v ...interface{}) {
	if !developer.Load() {
		return
	}
	p(format, v...)
}

func Warnf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	slog.Warn(strings.TrimSpace(msg))
	p("WARNING: %s", msg)
}

// Redirect captures all console output written while f runs. Used to
// send command output back to remote consoles.
func Redirect(f func()) string {
	var b strings.Builder
	mu.Lock()
	prev := redirect
	redirect = &b
	mu.Unlock()
	defer func() {
		mu.Lock()
		redirect = prev
		mu.Unlock()
	}()
	f()
	return b.String()
}
