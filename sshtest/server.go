// Package sshtest provides a small in-process SSH server for tests. By
// default sessions are deterministic and OS-independent: exec requests
// echo the command text back, and the shell is an echo loop with a fixed
// banner. A real PTY shell can be enabled on unix for manual testing. The
// SFTP subsystem serves a configurable working directory.
package sshtest

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Banner is written when the echo shell starts.
const Banner = "sshtest$ "

// Config configures a test server.
type Config struct {
	// User and Password for password authentication.
	User     string
	Password string
	// AuthorizedKey, if set, is accepted for public-key authentication.
	AuthorizedKey ssh.PublicKey
	// NoAuth accepts any client without authentication.
	NoAuth bool
	// KeySeed seeds deterministic host key generation.
	KeySeed string
	// SFTP enables the SFTP subsystem.
	SFTP bool
	// SFTPDir is the SFTP working directory. Defaults to the process
	// working directory.
	SFTPDir string
	// RealShell attaches a real PTY shell instead of the echo loop.
	// Unix only.
	RealShell bool
	// Shell is the shell executable for RealShell. Defaults to bash.
	Shell string
	// Logger for debug messages. Nil disables logging.
	Logger *slog.Logger
}

// Server is an in-process SSH server.
type Server struct {
	config    Config
	sshConfig *ssh.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a test server. The host key is derived from the key
// seed, so the same seed always yields the same host key.
func NewServer(c Config) (*Server, error) {
	if c.KeySeed == "" {
		c.KeySeed = "sshtest-host-key"
	}
	signer, err := SignerFromSeed(c.KeySeed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	sc := &ssh.ServerConfig{}
	if c.NoAuth {
		sc.NoClientAuth = true
	} else {
		user, pass := c.User, c.Password
		sc.PasswordCallback = func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(password) == pass {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		}
		if c.AuthorizedKey != nil {
			authorized := string(c.AuthorizedKey.Marshal())
			sc.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
				if string(key.Marshal()) == authorized {
					return nil, nil
				}
				return nil, fmt.Errorf("unknown public key for %q", meta.User())
			}
		}
	}
	sc.AddHostKey(signer)
	return &Server{
		config:    c,
		sshConfig: sc,
		done:      make(chan struct{}),
	}, nil
}

// Start listens on a random localhost port and serves until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.StartWith(ctx, l)
	return nil
}

// StartWith serves on the provided listener until the context is
// cancelled. Used with in-memory listeners.
func (s *Server) StartWith(ctx context.Context, l net.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go s.serve(l)
}

// Stop closes the listener. In-flight connections are not torn down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) serve(l net.Listener) {
	for {
		tcpConn, err := l.Accept()
		if err != nil {
			return
		}
		go s.handleConn(tcpConn)
	}
}

func (s *Server) handleConn(tcpConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(tcpConn, s.sshConfig)
	if err != nil {
		if err != io.EOF {
			s.debugf("Failed to handshake (%s)", err)
		}
		return
	}
	s.debugf("New SSH connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())
	go ssh.DiscardRequests(reqs)
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.debugf("Could not accept channel: %s", err)
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		s.debugf("Session request: %s", req.Type)
		switch req.Type {
		case "pty-req", "env", "window-change":
			reply(req, true)
		case "shell":
			reply(req, true)
			go s.attachShell(channel)
		case "exec":
			command, err := parseString(req.Payload)
			if err != nil {
				reply(req, false)
				continue
			}
			reply(req, true)
			go s.handleExec(channel, command)
		case "subsystem":
			name, err := parseString(req.Payload)
			if err != nil || name != "sftp" || !s.config.SFTP {
				reply(req, false)
				channel.Close()
				continue
			}
			reply(req, true)
			go s.handleSFTP(channel)
		default:
			reply(req, false)
		}
	}
}

// handleExec echoes the command text back with a trailing newline and a
// zero exit status. Deterministic stand-in for running a real command.
func (s *Server) handleExec(channel ssh.Channel, command string) {
	defer channel.Close()
	fmt.Fprintf(channel, "%s\n", command)
	type exit struct {
		Status uint32
	}
	if _, err := channel.SendRequest("exit-status", false, ssh.Marshal(&exit{})); err != nil {
		s.debugf("Failed to send exit-status: %s", err)
	}
}

// attachShell starts the echo shell (or a real PTY shell when enabled):
// writes the banner, then echoes everything it reads until the channel
// closes.
func (s *Server) attachShell(channel ssh.Channel) {
	if s.config.RealShell {
		if err := attachRealShell(s, channel); err != nil {
			s.debugf("Failed to attach real shell: %s", err)
			channel.Close()
		}
		return
	}
	defer channel.Close()
	if _, err := io.WriteString(channel, Banner); err != nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			if _, werr := channel.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleSFTP(channel ssh.Channel) {
	defer channel.Close()
	opts := []sftp.ServerOption{}
	if s.config.SFTPDir != "" {
		opts = append(opts, sftp.WithServerWorkingDirectory(s.config.SFTPDir))
	}
	sftpServer, err := sftp.NewServer(channel, opts...)
	if err != nil {
		s.debugf("Failed to create SFTP server: %s", err)
		return
	}
	if err := sftpServer.Serve(); err != nil && err != io.EOF {
		s.debugf("SFTP server error: %s", err)
	}
}

func (s *Server) debugf(f string, args ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(fmt.Sprintf(f, args...))
	}
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

// parseString decodes the [uint32 length][string] payload used by exec
// and subsystem requests (RFC 4254 section 6.5).
func parseString(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("malformed payload")
	}
	length := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) != length {
		return "", fmt.Errorf("length mismatch in payload")
	}
	return string(payload[4:]), nil
}
