package engine

import (
	"reflect"
	"testing"

	"leelad/pkg/types"
)

func TestParseCommandWithID(t *testing.T) {
	cmd := ParseCommand("12 play B Q16")
	if cmd.ID == nil || *cmd.ID != 12 {
		t.Fatalf("expected id=12 got %v", cmd.ID)
	}
	if cmd.Name != "play" {
		t.Fatalf("expected name=play got %q", cmd.Name)
	}
	if !reflect.DeepEqual(cmd.Args, []string{"B", "Q16"}) {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
}

func TestParseCommandBare(t *testing.T) {
	cmd := ParseCommand("clear_board")
	if cmd.ID != nil {
		t.Fatalf("expected no id got %v", *cmd.ID)
	}
	if cmd.Name != "clear_board" || cmd.Args != nil {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseCommandEmpty(t *testing.T) {
	cmd := ParseCommand("   ")
	if cmd.Name != "" || cmd.ID != nil {
		t.Fatalf("expected zero command got %+v", cmd)
	}
}

func TestFormatCommand(t *testing.T) {
	id := 3
	cases := []struct {
		cmd  types.Command
		want string
	}{
		{types.Command{Name: "name"}, "name"},
		{types.Command{ID: &id, Name: "play", Args: []string{"W", "D4"}}, "3 play W D4"},
		{types.Command{Name: "boardsize", Args: "19"}, "boardsize 19"},
		{types.Command{Name: "komi", Args: []any{"6.5"}}, "komi 6.5"},
	}
	for _, c := range cases {
		if got := formatCommand(c.cmd); got != c.want {
			t.Fatalf("formatCommand(%+v) = %q want %q", c.cmd, got, c.want)
		}
	}
}

func TestParseResponse(t *testing.T) {
	resp := parseResponse([]string{"=5 A1"})
	if resp.Err || resp.ID == nil || *resp.ID != 5 || resp.Content != "A1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	resp = parseResponse([]string{"? unknown command"})
	if !resp.Err || resp.Content != "unknown command" {
		t.Fatalf("unexpected error response: %+v", resp)
	}

	resp = parseResponse([]string{"= first", "second"})
	if resp.Content != "first\nsecond" {
		t.Fatalf("unexpected multiline content: %q", resp.Content)
	}
}

func TestResponseString(t *testing.T) {
	id := 9
	if got := (Response{ID: &id, Content: "pass"}).String(); got != "=9 pass" {
		t.Fatalf("got %q", got)
	}
	if got := (Response{Err: true, Content: "boom"}).String(); got != "? boom" {
		t.Fatalf("got %q", got)
	}
}

func TestProfileArgv(t *testing.T) {
	p := Profile{Exec: "/usr/bin/leela", Args: []string{"--gtp", "--noponder"}}
	if got := p.Argv(); !reflect.DeepEqual(got, []string{"--gtp", "--noponder"}) {
		t.Fatalf("playouts=0 must not add a search budget flag: %v", got)
	}

	p.Playouts = 1200
	want := []string{"--gtp", "--noponder", "--playouts", "1200"}
	if got := p.Argv(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}

	p.Weights = "/models/bn.txt"
	want = []string{"--gtp", "--noponder", "-w", "/models/bn.txt", "--playouts", "1200"}
	if got := p.Argv(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}
