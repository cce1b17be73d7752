package xssh

import (
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/mobilessh/sshbridge/bridge"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// conn is one live SSH connection in the registry.
type conn struct {
	t      *Transport
	key    string
	client *ssh.Client

	mu        sync.Mutex
	shell     *shellChannel
	sftp      *sftp.Client
	nextXfer  int
	uploads   map[int]func()
	downloads map[int]func()
}

// shellChannel is the single interactive shell session of a connection.
type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
}

func (c *conn) execute(command string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()
	out, err := session.CombinedOutput(command)
	return string(out), err
}

func (c *conn) startShell(pty bridge.PTYType) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shell != nil {
		return "", nil
	}
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	// "vanilla" means no PTY allocation
	if pty != bridge.PTYVanilla && pty != "" {
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty(string(pty), 24, 80, modes); err != nil {
			session.Close()
			return "", fmt.Errorf("failed to request PTY: %w", err)
		}
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return "", fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return "", fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return "", fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return "", fmt.Errorf("failed to start shell: %w", err)
	}
	c.shell = &shellChannel{session: session, stdin: stdin}
	go c.pumpShell(stdout)
	go c.pumpShell(stderr)
	c.t.debugf("Shell started for %s (pty=%s)", c.key, pty)
	return "", nil
}

// pumpShell publishes shell output chunks as EventShell events until the
// stream ends.
func (c *conn) pumpShell(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.t.publish(bridge.EventShell, c.key, string(buf[:n]))
		}
		if err != nil {
			if err != io.EOF {
				c.t.errorf("Shell read error for %s: %s", c.key, err)
			}
			return
		}
	}
}

func (c *conn) writeToShell(command string) (string, error) {
	c.mu.Lock()
	sh := c.shell
	c.mu.Unlock()
	if sh == nil {
		return "", fmt.Errorf("shell not started for key %q", c.key)
	}
	if _, err := io.WriteString(sh.stdin, command); err != nil {
		return "", fmt.Errorf("failed to write to shell: %w", err)
	}
	return "", nil
}

func (c *conn) closeShell() {
	c.mu.Lock()
	sh := c.shell
	c.shell = nil
	c.mu.Unlock()
	if sh == nil {
		return
	}
	sh.stdin.Close()
	if err := sh.session.Close(); err != nil && err != io.EOF {
		c.t.debugf("Shell close error for %s: %s", c.key, err)
	}
}

func (c *conn) connectSFTP() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp != nil {
		return nil
	}
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to open sftp channel: %w", err)
	}
	c.sftp = client
	c.t.debugf("SFTP channel opened for %s", c.key)
	return nil
}

// sftpClient returns the open SFTP channel or an error if there is none.
func (c *conn) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		return nil, fmt.Errorf("sftp not connected for key %q", c.key)
	}
	return c.sftp, nil
}

func (c *conn) disconnectSFTP() {
	c.mu.Lock()
	client := c.sftp
	c.sftp = nil
	c.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		c.t.debugf("SFTP close error for %s: %s", c.key, err)
	}
}

// close tears down every channel and the underlying connection,
// aggregating errors.
func (c *conn) close() error {
	c.cancelUploads()
	c.cancelDownloads()
	c.mu.Lock()
	sh := c.shell
	c.shell = nil
	sftpClient := c.sftp
	c.sftp = nil
	c.mu.Unlock()
	var result error
	if sh != nil {
		sh.stdin.Close()
		if err := sh.session.Close(); err != nil && err != io.EOF {
			result = multierror.Append(result, err)
		}
	}
	if sftpClient != nil {
		if err := sftpClient.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.client.Close(); err != nil && err != io.EOF {
		result = multierror.Append(result, err)
	}
	return result
}
