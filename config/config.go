// SPDX-License-Identifier: GPL-2.0-or-later

// Package config reads the optional YAML startup file:
//
//	cvars:
//	  sv_hostname: my server
//	  sv_fps: 20
//	exec:
//	  - map base1
//
// The cvars are applied on top of the registered defaults, the exec
// lines are run as console commands afterwards.
package config

import (
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"goquake2/cvar"
)

// Value is a cvar value as written in the file. Booleans become 1 or 0.
type Value string

func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: cvar value must be a scalar", n.Line)
	}
	if n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*v = "0"
		if b {
			*v = "1"
		}
		return nil
	}
	*v = Value(n.Value)
	return nil
}

type Config struct {
	Cvars map[string]Value `yaml:"cvars"`
	Exec  []string         `yaml:"exec"`
}

// Load reads the file at path. A missing file is an empty config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("no config file", slog.String("path", path))
			return Config{}, nil
		}
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "parsing config %s", path)
	}
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WithStack(err)
	}
	return cfg, nil
}

// Apply sets the cvars in name order and hands every exec line to exec.
// Read only cvars are skipped and reported in the returned error, the
// rest is applied anyway.
func (c Config) Apply(exec func(line string)) error {
	names := make([]string, 0, len(c.Cvars))
	for n := range c.Cvars {
		names = append(names, n)
	}
	slices.Sort(names)

	var rom []string
	for _, n := range names {
		if cv, ok := cvar.Get(n); ok && cv.ReadOnly() {
			rom = append(rom, n)
			continue
		}
		cvar.Set(n, string(c.Cvars[n]))
	}
	if exec != nil {
		for _, l := range c.Exec {
			exec(l)
		}
	}
	if len(rom) > 0 {
		return errors.Errorf("write protected cvars: %s", strings.Join(rom, ", "))
	}
	return nil
}
