package bridgetest

import (
	"strings"
	"testing"
)

func TestParseScript(t *testing.T) {
	s, err := ParseScript(`
name: happy-path
steps:
  - op: connect
  - op: execute
    result: "out"
  - op: sftpLs
    error: "denied"
`)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if s.Name != "happy-path" {
		t.Errorf("unexpected name %q", s.Name)
	}
	if len(s.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(s.Steps))
	}
	if s.Steps[1].Result != "out" {
		t.Errorf("unexpected result %q", s.Steps[1].Result)
	}
	if s.Steps[2].Error != "denied" {
		t.Errorf("unexpected error %q", s.Steps[2].Error)
	}
}

func TestParseScriptUnknownOp(t *testing.T) {
	_, err := ParseScript(`
steps:
  - op: teleport
`)
	if err == nil || !strings.Contains(err.Error(), "unknown op") {
		t.Fatalf("expected unknown op error, got %v", err)
	}
}

func TestParseScriptEmpty(t *testing.T) {
	if _, err := ParseScript(`name: empty`); err == nil {
		t.Fatal("expected error for script with no steps")
	}
}

func TestTransportRecordsAndStubs(t *testing.T) {
	ft := New()
	ft.StubResult(OpExecute, "ok", nil)

	var out string
	var err error
	ft.Execute("ls", "key-1", func(res string, e error) { out, err = res, e })
	if err != nil || out != "ok" {
		t.Fatalf("got (%q, %v)", out, err)
	}
	calls := ft.Calls(OpExecute)
	if len(calls) != 1 || calls[0].Key != "key-1" || calls[0].Args[0] != "ls" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	// unstubbed op completes with zero values
	ft.Execute("pwd", "key-1", func(res string, e error) { out, err = res, e })
	if err != nil || out != "" {
		t.Fatalf("got (%q, %v)", out, err)
	}
}
