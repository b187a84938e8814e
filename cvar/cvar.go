// SPDX-License-Identifier: GPL-2.0-or-later

package cvar

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"goquake2/cmd"
	"goquake2/conlog"
)

var (
	mu         sync.RWMutex
	cvarArray  []*Cvar
	cvarByName = make(map[string]*Cvar)
)

type flag uint64

const (
	// cvar flags bitfield
	NONE       flag = 0
	ARCHIVE    flag = 1
	NOTIFY     flag = 1 << 1
	SERVERINFO flag = 1 << 2
	USERINFO   flag = 1 << 3
	ROM        flag = 1 << 6
	LATCH      flag = 1 << 7 // takes effect on the next map load
	PRIVATE    flag = 1 << 9 // never sent over the network
)

type CallbackFunc func(cv *Cvar)

type Cvar struct {
	mu         sync.RWMutex
	archive    bool
	notify     bool
	serverinfo bool
	userinfo   bool
	rom        bool
	latch      bool
	user       bool
	callback   CallbackFunc
	name       string
	// stringValue is the truth, value the derived one
	stringValue  string
	value        float32
	latched      string
	defaultValue string
	modified     bool
	id           int
}

func All() []*Cvar {
	mu.RLock()
	defer mu.RUnlock()
	return append([]*Cvar(nil), cvarArray...)
}

func (cv *Cvar) Archive() bool {
	return cv.archive
}

func (cv *Cvar) Notify() bool {
	return cv.notify
}

func (cv *Cvar) ServerInfo() bool {
	return cv.serverinfo
}

func (cv *Cvar) UserInfo() bool {
	return cv.userinfo
}

// ReadOnly reports a ROM cvar, set only at registration.
func (cv *Cvar) ReadOnly() bool {
	return cv.rom
}

func (cv *Cvar) UserDefined() bool {
	return cv.user
}

func (cv *Cvar) SetCallback(cb CallbackFunc) {
	cv.callback = cb
}

func (cv *Cvar) SetByString(s string) {
	if cv.rom {
		return
	}
	cv.mu.Lock()
	if cv.latch && s != cv.stringValue {
		cv.latched = s
		cv.mu.Unlock()
		conlog.Printf("%s will be changed for next map.\n", cv.name)
		return
	}
	cv.set(s)
	cv.mu.Unlock()
	if cv.callback != nil {
		cv.callback(cv)
	}
}

// set requires cv.mu to be held.
func (cv *Cvar) set(s string) {
	if cv.stringValue != s {
		cv.modified = true
	}
	cv.stringValue = s
	pf, _ := strconv.ParseFloat(strings.TrimSpace(s), 32)
	cv.value = float32(pf)
}

// ApplyLatched moves a pending value of a LATCH cvar into effect.
func (cv *Cvar) ApplyLatched() {
	cv.mu.Lock()
	if cv.latched == "" {
		cv.mu.Unlock()
		return
	}
	cv.set(cv.latched)
	cv.latched = ""
	cv.mu.Unlock()
	if cv.callback != nil {
		cv.callback(cv)
	}
}

// Modified reports and clears the modified state.
func (cv *Cvar) Modified() bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	m := cv.modified
	cv.modified = false
	return m
}

func (cv *Cvar) Reset() {
	cv.SetByString(cv.defaultValue)
}

func (cv *Cvar) String() string {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.stringValue
}

func (cv *Cvar) ID() int {
	return cv.id
}

func (cv *Cvar) Name() string {
	return cv.name
}

func (cv *Cvar) Value() float32 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.value
}

func (cv *Cvar) Int() int {
	return int(cv.Value())
}

func (cv *Cvar) SetValue(value float32) {
	if float32(int(value)) == value {
		v := strconv.FormatInt(int64(value), 10)
		cv.SetByString(v)
	} else {
		v := strconv.FormatFloat(float64(value), 'f', -1, 32)
		cv.SetByString(v)
	}
}

func (cv *Cvar) Toggle() {
	if cv.String() == "1" {
		cv.SetByString("0")
	} else {
		cv.SetByString("1")
	}
}

func (cv *Cvar) Bool() bool {
	s := cv.String()
	return s != "0" && s != ""
}

func Get(name string) (*Cvar, bool) {
	mu.RLock()
	defer mu.RUnlock()
	cv, ok := cvarByName[name]
	return cv, ok
}

func GetByID(id int) (*Cvar, error) {
	mu.RLock()
	defer mu.RUnlock()
	if id < 0 || id >= len(cvarArray) {
		return nil, fmt.Errorf("id out of bounds")
	}
	return cvarArray[id], nil
}

// create requires mu to be held.
func create(name, value string) *Cvar {
	cv := &Cvar{name: name, defaultValue: value}
	cv.set(value)
	cv.modified = false
	pos := len(cvarArray)
	cvarArray = append(cvarArray, cv)
	cvarByName[name] = cv
	cv.id = pos
	return cv
}

func Register(name, value string, flags flag) (*Cvar, error) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := cvarByName[name]; ok {
		return nil, fmt.Errorf("Can't register variable %s, already defined", name)
	}

	cv := create(name, value)
	cv.archive = flags&ARCHIVE != 0
	cv.notify = flags&NOTIFY != 0
	cv.serverinfo = flags&SERVERINFO != 0
	cv.userinfo = flags&USERINFO != 0
	cv.rom = flags&ROM != 0
	cv.latch = flags&LATCH != 0
	return cv, nil
}

func MustRegister(n, v string, flag flag) *Cvar {
	cv, err := Register(n, v, flag)
	if err != nil {
		panic(err.Error())
	}
	return cv
}

// Set assigns value to the named cvar, creating a user defined one if
// it does not exist yet.
func Set(name, value string) *Cvar {
	mu.Lock()
	cv, ok := cvarByName[name]
	if !ok {
		cv = create(name, value)
		cv.user = true
		mu.Unlock()
		return cv
	}
	mu.Unlock()
	cv.SetByString(value)
	return cv
}

// Execute handles console lines whose first token names a cvar.
func Execute(a cmd.Arguments) (bool, error) {
	args := a.Args()
	if len(args) == 0 {
		return false, nil
	}
	n := args[0].String()
	cv, ok := Get(n)
	if !ok {
		return false, nil
	}
	if len(args) == 1 {
		conlog.Printf("\"%s\" is \"%s\"\n", cv.Name(), cv.String())
		return true, nil
	}
	cv.SetByString(args[1].String())
	return true, nil
}

// Info builds a \key\value string out of all cvars carrying the given flag.
func Info(f flag) string {
	var b strings.Builder
	for _, cv := range All() {
		var on bool
		switch f {
		case SERVERINFO:
			on = cv.serverinfo
		case USERINFO:
			on = cv.userinfo
		}
		if !on {
			continue
		}
		b.WriteString("\\")
		b.WriteString(cv.name)
		b.WriteString("\\")
		b.WriteString(cv.String())
	}
	return b.String()
}

func init() {
	cmd.Must(cmd.AddCommand("cvarlist", list))
	cmd.Must(cmd.AddCommand("cycle", cycle))
	cmd.Must(cmd.AddCommand("inc", inc))
	cmd.Must(cmd.AddCommand("reset", reset))
	cmd.Must(cmd.AddCommand("resetall", resetAll))
	cmd.Must(cmd.AddCommand("set", set))
	cmd.Must(cmd.AddCommand("seta", seta))
	cmd.Must(cmd.AddCommand("toggle", toggle))
}

func set(a cmd.Arguments) error {
	args := a.Args()[1:]
	switch {
	case len(args) >= 2:
		if cmd.Exists(args[0].String()) {
			conlog.Printf("conflict with command\n")
			return nil
		}
		Set(args[0].String(), args[1].String())
	default:
		conlog.Printf("set <cvar> <value>\n")
	}
	return nil
}

func seta(a cmd.Arguments) error {
	args := a.Args()[1:]
	switch {
	case len(args) >= 2:
		if cmd.Exists(args[0].String()) {
			conlog.Printf("conflict with command\n")
			return nil
		}
		cv := Set(args[0].String(), args[1].String())
		cv.archive = true
	default:
		conlog.Printf("seta <cvar> <value>\n")
	}
	return nil
}

func toggle(a cmd.Arguments) error {
	args := a.Args()[1:]
	switch c := len(args); c {
	case 1:
		arg := args[0].String()
		if cv, ok := Get(arg); ok {
			cv.Toggle()
		} else {
			slog.Debug("toggle: Cvar not found", slog.String("name", arg))
			conlog.Printf("toggle: variable %v not found\n", arg)
		}
	default:
		conlog.Printf("toggle <cvar> : toggle cvar\n")
	}
	return nil
}

func incr(n string, v float32) {
	if cv, ok := Get(n); ok {
		cv.SetValue(cv.Value() + v)
	} else {
		conlog.Printf("Cvar_SetValue: variable %v not found\n", n)
	}
}

func inc(a cmd.Arguments) error {
	args := a.Args()[1:]
	switch c := len(args); c {
	case 1:
		incr(args[0].String(), 1)
	case 2:
		incr(args[0].String(), args[1].Float32())
	default:
		conlog.Printf("inc <cvar> [amount] : increment cvar\n")
	}
	return nil
}

func reset(a cmd.Arguments) error {
	args := a.Args()[1:]
	switch c := len(args); c {
	case 1:
		arg := args[0].String()
		if cv, ok := Get(arg); ok {
			cv.Reset()
		} else {
			conlog.Printf("Cvar_Reset: variable %v not found\n", arg)
		}
	default:
		conlog.Printf("reset <cvar> : reset cvar to default\n")
	}
	return nil
}

func resetAll(_ cmd.Arguments) error {
	for _, cv := range All() {
		cv.Reset()
	}
	return nil
}

func list(a cmd.Arguments) error {
	args := a.Args()
	prefix := ""
	if len(args) > 1 {
		prefix = args[1].String()
	}
	count := 0
	for _, v := range All() {
		if !strings.HasPrefix(v.Name(), prefix) {
			continue
		}
		count++
		conlog.SafePrintf("%s%s%s %s \"%s\"\n",
			flagChar(v.Archive(), "*"),
			flagChar(v.ServerInfo(), "S"),
			flagChar(v.UserInfo(), "U"),
			v.Name(),
			v.String())
	}
	if prefix == "" {
		conlog.SafePrintf("%v cvars\n", count)
		return nil
	}
	conlog.SafePrintf("%v cvars beginning with \"%v\"\n", count, prefix)
	return nil
}

func flagChar(on bool, c string) string {
	if on {
		return c
	}
	return " "
}

func cycle(a cmd.Arguments) error {
	args := a.Args()[1:]
	if len(args) < 2 {
		conlog.Printf("cycle <cvar> <value list>: cycle cvar through a list of values\n")
		return nil
	}
	cv, ok := Get(args[0].String())
	if !ok {
		conlog.Printf("Cvar_Set: variable %v not found\n", args[0].String())
		return nil
	}
	oldValue := cv.String()
	i := 0
	for i < len(args)-1 {
		i++
		if oldValue == args[i].String() {
			break
		}
	}
	i %= len(args) - 1
	i++
	cv.SetByString(args[i].String())
	return nil
}
