// SPDX-License-Identifier: GPL-2.0-or-later

package protocol

import (
	"strings"
)

// Info strings are "\key\value\key\value" lists used for userinfo and
// serverinfo.

const (
	MaxInfoString = 512
	MaxInfoKey    = 64
	MaxInfoValue  = 64
)

// InfoValueForKey returns the value of key or "".
func InfoValueForKey(s, key string) string {
	s = strings.TrimPrefix(s, "\\")
	parts := strings.Split(s, "\\")
	for i := 0; i+1 < len(parts); i += 2 {
		if parts[i] == key {
			return parts[i+1]
		}
	}
	return ""
}

func validInfoToken(s string, max int) bool {
	return len(s) < max && !strings.ContainsAny(s, "\\\";")
}

// InfoValidate reports whether s is a well formed info string.
func InfoValidate(s string) bool {
	if len(s) >= MaxInfoString || strings.ContainsAny(s, "\";\n") {
		return false
	}
	if s == "" {
		return true
	}
	if !strings.HasPrefix(s, "\\") {
		return false
	}
	parts := strings.Split(s[1:], "\\")
	if len(parts)%2 != 0 {
		return false
	}
	for i, p := range parts {
		if i%2 == 0 && (p == "" || len(p) >= MaxInfoKey) {
			return false
		}
		if i%2 == 1 && len(p) >= MaxInfoValue {
			return false
		}
	}
	return true
}

// InfoSetValueForKey replaces or adds key. An empty value removes the key.
// ok is false if key or value are invalid or the result gets too long.
func InfoSetValueForKey(s, key, value string) (string, bool) {
	if key == "" || !validInfoToken(key, MaxInfoKey) || !validInfoToken(value, MaxInfoValue) {
		return s, false
	}
	var b strings.Builder
	parts := strings.Split(strings.TrimPrefix(s, "\\"), "\\")
	for i := 0; i+1 < len(parts); i += 2 {
		if parts[i] == key {
			continue
		}
		b.WriteString("\\" + parts[i] + "\\" + parts[i+1])
	}
	if value != "" {
		b.WriteString("\\" + key + "\\" + value)
	}
	if b.Len() >= MaxInfoString {
		return s, false
	}
	return b.String(), true
}
