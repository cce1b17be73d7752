package sshtest_test

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mobilessh/sshbridge/sshtest"
)

func TestExecEcho(t *testing.T) {
	server, err := sshtest.NewServer(sshtest.Config{NoAuth: true})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := server.Start(t.Context()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer server.Stop()

	c, err := sshtest.CreateSSHClient(server.Addr(), "user", "")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	out, err := s.CombinedOutput("echo helloworld")
	if err != nil {
		t.Fatalf("failed to run command: %v", err)
	}
	if string(out) != "echo helloworld\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPasswordAuth(t *testing.T) {
	server, err := sshtest.NewServer(sshtest.Config{User: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := server.Start(t.Context()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer server.Stop()

	if _, err := sshtest.CreateSSHClient(server.Addr(), "alice", "wrong"); err == nil {
		t.Error("expected bad password to be rejected")
	}
	c, err := sshtest.CreateSSHClient(server.Addr(), "alice", "secret")
	if err != nil {
		t.Fatalf("good password rejected: %v", err)
	}
	c.Close()
}

func TestEchoShell(t *testing.T) {
	server, err := sshtest.NewServer(sshtest.Config{NoAuth: true})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := server.Start(t.Context()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer server.Stop()

	c, err := sshtest.CreateSSHClient(server.Addr(), "user", "")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	defer s.Close()
	stdin, err := s.StdinPipe()
	if err != nil {
		t.Fatalf("failed to get stdin: %v", err)
	}
	stdout, err := s.StdoutPipe()
	if err != nil {
		t.Fatalf("failed to get stdout: %v", err)
	}
	if err := s.Shell(); err != nil {
		t.Fatalf("failed to start shell: %v", err)
	}
	if _, err := io.WriteString(stdin, "ping\n"); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var got strings.Builder
	buf := make([]byte, 1024)
	for time.Now().Before(deadline) {
		n, err := stdout.Read(buf)
		if n > 0 {
			got.Write(buf[:n])
		}
		if strings.Contains(got.String(), sshtest.Banner) && strings.Contains(got.String(), "ping\n") {
			return
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("shell output missing banner or echo: %q", got.String())
}

func TestDeterministicKeys(t *testing.T) {
	a, err := sshtest.SignerFromSeed("seed-1")
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	b, err := sshtest.SignerFromSeed("seed-1")
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if string(a.PublicKey().Marshal()) != string(b.PublicKey().Marshal()) {
		t.Error("same seed should produce same key")
	}
	c, err := sshtest.SignerFromSeed("seed-2")
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if string(a.PublicKey().Marshal()) == string(c.PublicKey().Marshal()) {
		t.Error("different seeds should produce different keys")
	}
}
