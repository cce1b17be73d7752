//go:build windows

package sshtest

import (
	"errors"

	"golang.org/x/crypto/ssh"
)

func attachRealShell(s *Server, channel ssh.Channel) error {
	return errors.New("real shell not supported on windows; use the echo shell")
}
