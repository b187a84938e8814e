// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in     string
		wantF  string
		wantAS string
		wantA  []QArg
	}{
		{
			in:     `say hello world`,
			wantF:  `say hello world`,
			wantAS: `hello world`,
			wantA:  []QArg{{"say"}, {"hello"}, {"world"}},
		},
		{
			in:     `say "hello world"`,
			wantF:  `say "hello world"`,
			wantAS: `"hello world"`,
			wantA:  []QArg{{"say"}, {"hello world"}},
		},
		{
			in:     " say_team  foo\tbar baz ",
			wantF:  "say_team  foo\tbar baz",
			wantAS: "foo\tbar baz",
			wantA:  []QArg{{"say_team"}, {"foo"}, {"bar"}, {"baz"}},
		},
		{
			in:     `set a "" // comment`,
			wantF:  `set a "" // comment`,
			wantAS: `a "" // comment`,
			wantA:  []QArg{{"set"}, {"a"}, {""}},
		},
		{
			in:     `connect http://host:27910`,
			wantF:  `connect http://host:27910`,
			wantAS: `http://host:27910`,
			wantA:  []QArg{{"connect"}, {"http://host:27910"}},
		},
		{
			in:     `echo "never closed`,
			wantF:  `echo "never closed`,
			wantAS: `"never closed`,
			wantA:  []QArg{{"echo"}, {"never closed"}},
		},
		{
			in:     "map base1\nquit",
			wantF:  "map base1",
			wantAS: "base1",
			wantA:  []QArg{{"map"}, {"base1"}},
		},
		{
			in:    `// nothing`,
			wantF: `// nothing`,
			wantA: []QArg{},
		},
	} {
		arg := Parse(tc.in)
		if tc.wantF != arg.Full() {
			t.Errorf("Parse(%q).Full()=%q, want %q", tc.in, arg.Full(), tc.wantF)
		}
		if tc.wantAS != arg.ArgumentString() {
			t.Errorf("Parse(%q).ArgumentString()=%q, want %q", tc.in, arg.ArgumentString(), tc.wantAS)
		}
		as := arg.Args()
		if len(tc.wantA) != len(as) {
			t.Fatalf("Parse(%q).Args() has len(%d), want %d", tc.in, len(as), len(tc.wantA))
		}
		for i := range tc.wantA {
			if tc.wantA[i] != as[i] {
				t.Errorf("Arg[%d]=%q, want %q", i, as[i], tc.wantA[i])
			}
		}
	}
}

func TestMaxTokens(t *testing.T) {
	a := Parse(strings.Repeat("x ", MaxTokens+5))
	if got := len(a.Args()); got != MaxTokens {
		t.Errorf("got %d tokens, want %d", got, MaxTokens)
	}
	if got := a.Argv(MaxTokens).String(); got != "" {
		t.Errorf("Argv(%d) = %q", MaxTokens, got)
	}
}

func TestQArg(t *testing.T) {
	if got := (QArg{"12"}).Int(); got != 12 {
		t.Errorf("Int = %v", got)
	}
	if got := (QArg{"x"}).Int(); got != 0 {
		t.Errorf("Int = %v", got)
	}
	if got := (QArg{"0.5"}).Float32(); got != 0.5 {
		t.Errorf("Float32 = %v", got)
	}
	for _, s := range []string{"1", "true", "On", "yes"} {
		if !(QArg{s}).Bool() {
			t.Errorf("%q should be true", s)
		}
	}
	if (QArg{"0"}).Bool() {
		t.Errorf("0 should be false")
	}
}

func TestExecute(t *testing.T) {
	c := New()
	var got []string
	if err := c.Add("Echo", func(a Arguments) error {
		got = append(got, a.ArgumentString())
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.Add("echo", nil); err == nil {
		t.Errorf("adding a command twice must fail")
	}
	ok, err := c.Execute(Parse(`ECHO "a b" c`))
	if !ok || err != nil {
		t.Errorf("Execute = %v, %v", ok, err)
	}
	ok, _ = c.Execute(Parse(`nope`))
	if ok {
		t.Errorf("unknown command reported as executed")
	}
	if len(got) != 1 || got[0] != `"a b" c` {
		t.Errorf("got %q", got)
	}
}
