// SPDX-License-Identifier: GPL-2.0-or-later

// Package packtest writes pak files for tests.
package packtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

type File struct {
	Name string
	Data []byte
}

// Bytes lays out the file data after the header and puts the directory
// at the end.
func Bytes(files ...File) []byte {
	var data bytes.Buffer
	offsets := make([]int32, len(files))
	for i, f := range files {
		offsets[i] = int32(12 + data.Len())
		data.Write(f.Data)
	}
	var b bytes.Buffer
	b.WriteString("PACK")
	binary.Write(&b, binary.LittleEndian, int32(12+data.Len()))
	binary.Write(&b, binary.LittleEndian, int32(64*len(files)))
	b.Write(data.Bytes())
	for i, f := range files {
		var name [56]byte
		copy(name[:], f.Name)
		b.Write(name[:])
		binary.Write(&b, binary.LittleEndian, offsets[i])
		binary.Write(&b, binary.LittleEndian, int32(len(f.Data)))
	}
	return b.Bytes()
}

// Write creates a pak file at path.
func Write(t testing.TB, path string, files ...File) {
	t.Helper()
	if err := os.WriteFile(path, Bytes(files...), 0o644); err != nil {
		t.Fatal(err)
	}
}
