// Package xssh implements the bridge.Transport contract on top of
// golang.org/x/crypto/ssh and github.com/pkg/sftp: a registry of live SSH
// connections keyed by correlation key, each offering command execution,
// an interactive shell channel, and SFTP file operations. Shell output and
// transfer progress are published as bridge events on the configured bus.
//
// All protocol and crypto work happens inside x/crypto and pkg/sftp; this
// package only adapts their synchronous APIs to the asynchronous
// command/callback contract of the bridge.
package xssh

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/jplog"
	"github.com/mobilessh/sshbridge/bridge"
	"golang.org/x/crypto/ssh"
)

// Config configures a Transport.
type Config struct {
	// Logger for debug and error messages. If nil and not LogQuiet, a
	// jplog logger writing to stdout is created.
	Logger *slog.Logger
	// LogVerbose enables debug-level logs on the default logger.
	LogVerbose bool
	// LogQuiet disables the default logger.
	LogQuiet bool
	// Bus receives shell output and transfer progress events.
	// Defaults to the process-wide bus.
	Bus bridge.Publisher
	// HostKeyCallback verifies server host keys. Defaults to accepting
	// any host key; supply a known-hosts callback to pin them.
	HostKeyCallback ssh.HostKeyCallback
	// Timeout bounds the TCP dial and SSH handshake. Defaults to 10s.
	Timeout time.Duration
	// Dial overrides the network dialer (used by tests to connect to
	// in-memory listeners). Defaults to a TCP dial.
	Dial func(network, addr string) (net.Conn, error)
}

// Transport is a bridge.Transport backed by x/crypto/ssh connections.
type Transport struct {
	config Config
	mu     sync.RWMutex
	conns  map[string]*conn
}

// New creates a Transport.
func New(c Config) *Transport {
	if l := c.Logger; l == nil && !c.LogQuiet {
		h := jplog.Handler(os.Stdout)
		if c.LogVerbose {
			h = h.Verbose()
		}
		c.Logger = slog.New(h)
	}
	if c.Bus == nil {
		c.Bus = bridge.DefaultBus()
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Dial == nil {
		c.Dial = func(network, addr string) (net.Conn, error) {
			return net.DialTimeout(network, addr, c.Timeout)
		}
	}
	return &Transport{
		config: c,
		conns:  make(map[string]*conn),
	}
}

var (
	defaultOnce sync.Once
	defaultT    *Transport
)

// Default returns the shared process-wide Transport, publishing to the
// default bus. It is the engine clients use when none is supplied.
func Default() *Transport {
	defaultOnce.Do(func() {
		defaultT = New(Config{LogQuiet: true})
	})
	return defaultT
}

// Connect dials host:port, authenticates, and registers the connection
// under key. Fails if the key is already registered.
func (t *Transport) Connect(host string, port int, username string, cred bridge.Credential, key string, cb func(error)) {
	go func() {
		cb(t.connect(host, port, username, cred, key))
	}()
}

func (t *Transport) connect(host string, port int, username string, cred bridge.Credential, key string) error {
	t.mu.RLock()
	_, exists := t.conns[key]
	t.mu.RUnlock()
	if exists {
		return fmt.Errorf("connection %q already exists", key)
	}
	auth, err := authMethod(cred)
	if err != nil {
		return err
	}
	sshConfig := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: t.config.HostKeyCallback,
		Timeout:         t.config.Timeout,
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := t.config.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(nc, addr, sshConfig)
	if err != nil {
		nc.Close()
		return err
	}
	c := &conn{
		t:         t,
		key:       key,
		client:    ssh.NewClient(sshConn, chans, reqs),
		uploads:   make(map[int]func()),
		downloads: make(map[int]func()),
	}
	t.mu.Lock()
	if _, exists := t.conns[key]; exists {
		t.mu.Unlock()
		c.client.Close()
		return fmt.Errorf("connection %q already exists", key)
	}
	t.conns[key] = c
	t.mu.Unlock()
	t.debugf("Connected %s@%s (%s)", username, addr, key)
	return nil
}

// Execute runs a one-shot command on a fresh session and reports its
// combined output.
func (t *Transport) Execute(command, key string, cb func(string, error)) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb("", err)
			return
		}
		cb(c.execute(command))
	}()
}

// StartShell opens the interactive shell channel.
func (t *Transport) StartShell(key string, pty bridge.PTYType, cb func(string, error)) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb("", err)
			return
		}
		cb(c.startShell(pty))
	}()
}

// WriteToShell writes to the shell's stdin. The reply text streams back as
// EventShell events; the immediate result is empty.
func (t *Transport) WriteToShell(command, key string, cb func(string, error)) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb("", err)
			return
		}
		cb(c.writeToShell(command))
	}()
}

// CloseShell closes the shell channel. Fire-and-forget.
func (t *Transport) CloseShell(key string) {
	go func() {
		if c, err := t.conn(key); err == nil {
			c.closeShell()
		}
	}()
}

// ConnectSFTP opens the SFTP channel.
func (t *Transport) ConnectSFTP(key string, cb func(error)) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb(err)
			return
		}
		cb(c.connectSFTP())
	}()
}

// SFTPLs lists a remote directory.
func (t *Transport) SFTPLs(path, key string, cb func([]bridge.DirEntry, error)) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb(nil, err)
			return
		}
		cb(c.sftpLs(path))
	}()
}

// SFTPRename renames a remote file.
func (t *Transport) SFTPRename(oldPath, newPath, key string, cb func(error)) {
	t.sftpOp(key, cb, func(c *conn) error { return c.sftpRename(oldPath, newPath) })
}

// SFTPMkdir creates a remote directory.
func (t *Transport) SFTPMkdir(path, key string, cb func(error)) {
	t.sftpOp(key, cb, func(c *conn) error { return c.sftpMkdir(path) })
}

// SFTPRm removes a remote file.
func (t *Transport) SFTPRm(path, key string, cb func(error)) {
	t.sftpOp(key, cb, func(c *conn) error { return c.sftpRm(path) })
}

// SFTPRmdir removes a remote directory.
func (t *Transport) SFTPRmdir(path, key string, cb func(error)) {
	t.sftpOp(key, cb, func(c *conn) error { return c.sftpRmdir(path) })
}

// SFTPChmod changes remote file permissions.
func (t *Transport) SFTPChmod(path string, mode fs.FileMode, key string, cb func(error)) {
	t.sftpOp(key, cb, func(c *conn) error { return c.sftpChmod(path, mode) })
}

// SFTPUpload copies localPath into the remote directory remotePath,
// publishing EventUploadProgress along the way.
func (t *Transport) SFTPUpload(localPath, remotePath, key string, cb func(error)) {
	t.sftpOp(key, cb, func(c *conn) error { return c.upload(localPath, remotePath) })
}

// SFTPDownload copies remotePath into the local directory localPath and
// reports the written file's path, publishing EventDownloadProgress along
// the way.
func (t *Transport) SFTPDownload(remotePath, localPath, key string, cb func(string, error)) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb("", err)
			return
		}
		cb(c.download(remotePath, localPath))
	}()
}

// SFTPCancelUpload cancels every in-flight upload for key.
// Fire-and-forget.
func (t *Transport) SFTPCancelUpload(key string) {
	if c, err := t.conn(key); err == nil {
		c.cancelUploads()
	}
}

// SFTPCancelDownload cancels every in-flight download for key.
// Fire-and-forget.
func (t *Transport) SFTPCancelDownload(key string) {
	if c, err := t.conn(key); err == nil {
		c.cancelDownloads()
	}
}

// DisconnectSFTP closes the SFTP channel. Fire-and-forget.
func (t *Transport) DisconnectSFTP(key string) {
	go func() {
		if c, err := t.conn(key); err == nil {
			c.disconnectSFTP()
		}
	}()
}

// Disconnect closes the connection and removes it from the registry.
// Fire-and-forget.
func (t *Transport) Disconnect(key string) {
	t.mu.Lock()
	c, ok := t.conns[key]
	delete(t.conns, key)
	t.mu.Unlock()
	if !ok {
		return
	}
	go func() {
		if err := c.close(); err != nil {
			t.debugf("Close error for %s: %s", key, err)
		}
		t.debugf("Disconnected %s", key)
	}()
}

func (t *Transport) sftpOp(key string, cb func(error), op func(*conn) error) {
	go func() {
		c, err := t.conn(key)
		if err != nil {
			cb(err)
			return
		}
		cb(op(c))
	}()
}

func (t *Transport) conn(key string) (*conn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[key]
	if !ok {
		return nil, fmt.Errorf("no connection for key %q", key)
	}
	return c, nil
}

func (t *Transport) publish(name bridge.EventName, key, value string) {
	t.config.Bus.Publish(bridge.Event{Name: name, Key: key, Value: value})
}

func (t *Transport) debugf(f string, args ...interface{}) {
	if t.config.Logger != nil {
		t.config.Logger.Debug(fmt.Sprintf(f, args...))
	}
}

func (t *Transport) errorf(f string, args ...interface{}) {
	if t.config.Logger != nil {
		t.config.Logger.Error(fmt.Sprintf(f, args...))
	}
}

// authMethod builds the ssh auth method for a credential.
func authMethod(cred bridge.Credential) (ssh.AuthMethod, error) {
	if !cred.IsKey() {
		return ssh.Password(cred.Password), nil
	}
	var signer ssh.Signer
	var err error
	if cred.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cred.PrivateKey), []byte(cred.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(cred.PrivateKey))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}
