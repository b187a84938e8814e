// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"strconv"
	"strings"

	"goquake2/math/vec"
)

// Entity is one {...} block of the map entity string.
type Entity struct {
	properties map[string]string
	keys       []string
}

// newEntity reads the "key" "value" pairs of a block. Anything outside of
// quotes is ignored.
func newEntity(p string) *Entity {
	e := &Entity{properties: make(map[string]string)}
	var tokens []string
	for {
		q := strings.IndexByte(p, '"')
		if q == -1 {
			break
		}
		p = p[q+1:]
		q = strings.IndexByte(p, '"')
		if q == -1 {
			break
		}
		tokens = append(tokens, p[:q])
		p = p[q+1:]
	}
	for i := 0; i+1 < len(tokens); i += 2 {
		k := tokens[i]
		if _, ok := e.properties[k]; !ok {
			e.keys = append(e.keys, k)
		}
		e.properties[k] = tokens[i+1]
	}
	return e
}

func (e *Entity) Property(name string) (string, bool) {
	v, ok := e.properties[name]
	return v, ok
}

func (e *Entity) Name() (string, bool) {
	v, ok := e.properties["classname"]
	return v, ok
}

// PropertyNames returns the keys in the order they appear in the map.
func (e *Entity) PropertyNames() []string {
	return e.keys
}

// Vector parses a "x y z" property.
func (e *Entity) Vector(name string) (vec.Vec3, bool) {
	var v vec.Vec3
	s, ok := e.properties[name]
	if !ok {
		return v, false
	}
	f := strings.Fields(s)
	if len(f) != 3 {
		return v, false
	}
	for i := range 3 {
		x, err := strconv.ParseFloat(f[i], 32)
		if err != nil {
			return vec.Vec3{}, false
		}
		v[i] = float32(x)
	}
	return v, true
}

// Float parses a numeric property.
func (e *Entity) Float(name string) (float32, bool) {
	s, ok := e.properties[name]
	if !ok {
		return 0, false
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0, false
	}
	return float32(x), true
}

func ParseEntities(data string) []*Entity {
	/*
		The data looks like:
		{
		  "name" "value"
		  "name2" "value2"
		}
		{
		  "name3" "value"
		}
		Braces inside of quotes do not count.
	*/
	es := []*Entity{}
	var ob int
	q := false
	start := -1
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '{':
			if q {
				break
			}
			if start == -1 {
				start = i
			} else {
				ob++
			}
		case '}':
			if q {
				break
			}
			if start == -1 {
				// Bad input
				return nil
			}
			if ob == 0 {
				es = append(es, newEntity(data[start+1:i]))
				start = -1
			} else {
				ob--
			}
		case '"':
			q = !q
		}
	}
	return es
}
