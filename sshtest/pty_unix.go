//go:build !windows

package sshtest

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/crypto/ssh"
)

// attachRealShell runs a real shell under a PTY and pipes it to the
// session channel. For manual testing against real terminal behavior; the
// echo shell is the default.
func attachRealShell(s *Server, channel ssh.Channel) error {
	shell := s.config.Shell
	if shell == "" {
		shell = "bash"
	}
	path, err := exec.LookPath(shell)
	if err != nil {
		return fmt.Errorf("failed to find shell: %s", shell)
	}
	cmd := exec.Command(path)
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("could not start pty: %w", err)
	}
	var once sync.Once
	closeAll := func() {
		channel.Close()
		f.Close()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
	go func() {
		io.Copy(channel, f)
		once.Do(closeAll)
	}()
	go func() {
		io.Copy(f, channel)
		once.Do(closeAll)
	}()
	go func() {
		cmd.Wait()
		once.Do(closeAll)
	}()
	return nil
}
