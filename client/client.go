// Package client implements the coordinator side of an SSH/SFTP bridge
// connection: one Client per logical connection, identified to the shared
// engine by a correlation key. The Client turns the engine's asynchronous
// completion callbacks into plain blocking calls, tracks shell and SFTP
// channel state, counts in-flight transfers, and routes broadcast engine
// events back to caller-registered handlers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mobilessh/sshbridge/bridge"
	"github.com/mobilessh/sshbridge/xssh"
)

// ErrClosed is returned by every operation invoked after Disconnect.
var ErrClosed = errors.New("client disconnected")

// chanState tracks one channel (shell or SFTP) of the connection.
type chanState int

const (
	stateClosed chanState = iota
	stateOpening
	stateOpen
)

// pendingOpen is a shared in-flight channel open. Concurrent callers that
// find the channel opening wait on done instead of re-issuing the engine
// command.
type pendingOpen struct {
	done chan struct{}
	out  string
	err  error
}

// Client coordinates one logical SSH connection.
type Client struct {
	key       string
	host      string
	port      int
	username  string
	cred      bridge.Credential
	transport bridge.Transport
	bus       bridge.EventBus
	log       *slog.Logger

	mu           sync.Mutex
	closed       bool
	shellState   chanState
	shellPending *pendingOpen
	sftpState    chanState
	sftpPending  *pendingOpen
	uploads      int
	downloads    int
	subs         map[bridge.EventName]bridge.Subscription
	handlers     map[bridge.EventName]func(value string)
}

// Option configures a Client before it connects.
type Option func(*Client)

// WithTransport sets the engine the client issues commands to.
// Defaults to the shared xssh transport.
func WithTransport(t bridge.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithBus sets the event bus the client subscribes on.
// Defaults to the process-wide bus.
func WithBus(b bridge.EventBus) Option {
	return func(c *Client) { c.bus = b }
}

// WithLogger enables debug logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPublicKey attaches a public key to a key-pair credential. Only
// meaningful with ConnectWithKey; some engines require it.
func WithPublicKey(publicKey string) Option {
	return func(c *Client) { c.cred.PublicKey = publicKey }
}

// ConnectWithPassword connects to host:port and authenticates the user
// with a password. It returns once the engine reports the connection
// attempt complete.
func ConnectWithPassword(ctx context.Context, host string, port int, username, password string, options ...Option) (*Client, error) {
	return connect(ctx, host, port, username, bridge.PasswordCredential(password), options)
}

// ConnectWithKey connects to host:port and authenticates the user with a
// private key. The passphrase may be empty for unencrypted keys.
func ConnectWithKey(ctx context.Context, host string, port int, username, privateKey, passphrase string, options ...Option) (*Client, error) {
	return connect(ctx, host, port, username, bridge.KeyCredential(privateKey, "", passphrase), options)
}

func connect(ctx context.Context, host string, port int, username string, cred bridge.Credential, options []Option) (*Client, error) {
	c := &Client{
		key:      uuid.NewString(),
		host:     host,
		port:     port,
		username: username,
		cred:     cred,
		subs:     make(map[bridge.EventName]bridge.Subscription),
		handlers: make(map[bridge.EventName]func(string)),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.transport == nil {
		c.transport = xssh.Default()
	}
	if c.bus == nil {
		c.bus = bridge.DefaultBus()
	}
	c.debugf("Connecting to %s@%s:%d", username, host, port)
	err := awaitErr(ctx, func(cb func(error)) {
		c.transport.Connect(c.host, c.port, c.username, c.cred, c.key, cb)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Key returns the client's correlation key.
func (c *Client) Key() string { return c.key }

// Host returns the connection target host.
func (c *Client) Host() string { return c.host }

// Port returns the connection target port.
func (c *Client) Port() int { return c.port }

// Username returns the connection username.
func (c *Client) Username() string { return c.username }

// Execute runs a one-shot command and returns its textual output.
// Requires no shell or SFTP channel.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if err := c.active(); err != nil {
		return "", err
	}
	return await(ctx, func(cb func(string, error)) {
		c.transport.Execute(command, c.key, cb)
	})
}

// Disconnect tears the connection down: closes the shell channel if open,
// the SFTP channel if open, removes every event-bus subscription, and
// issues the engine disconnect. The client is unusable afterwards; every
// later operation returns ErrClosed. Disconnect is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	shellWasOpen := c.shellState != stateClosed
	sftpWasOpen := c.sftpState != stateClosed
	c.shellState = stateClosed
	c.sftpState = stateClosed
	c.shellPending = nil
	c.sftpPending = nil
	for name, sub := range c.subs {
		sub.Remove()
		delete(c.subs, name)
	}
	c.mu.Unlock()
	if shellWasOpen {
		c.transport.CloseShell(c.key)
	}
	if sftpWasOpen {
		c.transport.DisconnectSFTP(c.key)
	}
	c.transport.Disconnect(c.key)
	c.debugf("Disconnected %s@%s:%d", c.username, c.host, c.port)
}

// active returns ErrClosed after Disconnect.
func (c *Client) active() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Client) debugf(f string, args ...interface{}) {
	if c.log != nil {
		c.log.Debug(fmt.Sprintf(f, args...))
	}
}

// await issues one engine command and blocks until its single completion
// callback fires or the context is done. The engine invokes the callback
// at most once; a second invocation is discarded.
func await[T any](ctx context.Context, issue func(cb func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	issue(func(v T, err error) {
		select {
		case ch <- result{v: v, err: err}:
		default:
		}
	})
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// awaitErr is await for commands that complete with no payload.
func awaitErr(ctx context.Context, issue func(cb func(error))) error {
	ch := make(chan error, 1)
	issue(func(err error) {
		select {
		case ch <- err:
		default:
		}
	})
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
