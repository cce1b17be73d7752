package client

import (
	"context"

	"github.com/mobilessh/sshbridge/bridge"
)

// StartShell opens the interactive shell channel with the given PTY type
// and returns the shell's initial output. If the shell is already open it
// returns an empty string immediately without contacting the engine. A
// concurrent StartShell joins the in-flight open and returns its result.
//
// Shell output arrives asynchronously as EventShell events; register a
// handler with On before writing if the output matters.
func (c *Client) StartShell(ctx context.Context, pty bridge.PTYType) (string, error) {
	if err := c.active(); err != nil {
		return "", err
	}
	out, _, err := c.openShell(ctx, pty)
	return out, err
}

// WriteToShell writes a command to the shell and returns the immediate
// reply text. If the shell is not open yet it is started first with the
// vanilla PTY type, and the shell's initial output (newline-terminated) is
// prefixed to the reply. A failed auto-start fails the write without
// issuing it.
func (c *Client) WriteToShell(ctx context.Context, command string) (string, error) {
	if err := c.active(); err != nil {
		return "", err
	}
	prefix, err := c.ensureShell(ctx)
	if err != nil {
		return "", err
	}
	out, err := await(ctx, func(cb func(string, error)) {
		c.transport.WriteToShell(command, c.key, cb)
	})
	if err != nil {
		return "", err
	}
	return prefix + out, nil
}

// CloseShell closes the shell channel: removes the EventShell
// subscription, issues the engine close (fire-and-forget), and marks the
// channel closed. Safe to call when the shell is not open.
func (c *Client) CloseShell() {
	c.mu.Lock()
	c.unsubscribeLocked(bridge.EventShell)
	c.shellState = stateClosed
	c.shellPending = nil
	c.mu.Unlock()
	c.transport.CloseShell(c.key)
}

// ensureShell opens the shell if needed and returns the prefix for the
// next write: the initial output plus a newline when the shell was just
// opened, empty when it was already open.
func (c *Client) ensureShell(ctx context.Context) (string, error) {
	out, opened, err := c.openShell(ctx, bridge.PTYVanilla)
	if err != nil {
		return "", err
	}
	if !opened {
		return "", nil
	}
	return out + "\n", nil
}

// openShell drives the shell channel state machine. Exactly one engine
// start-shell command is issued per closed→open transition; callers that
// arrive while the open is in flight share its outcome. The returned bool
// reports whether this call observed the open (rather than an already-open
// channel).
func (c *Client) openShell(ctx context.Context, pty bridge.PTYType) (string, bool, error) {
	c.mu.Lock()
	switch c.shellState {
	case stateOpen:
		c.mu.Unlock()
		return "", false, nil
	case stateOpening:
		p := c.shellPending
		c.mu.Unlock()
		return waitOpen(ctx, p)
	}
	p := &pendingOpen{done: make(chan struct{})}
	c.shellPending = p
	c.shellState = stateOpening
	// subscribe before issuing so no early output events are dropped
	c.subscribeLocked(bridge.EventShell)
	c.mu.Unlock()
	c.debugf("Starting shell (%s)", pty)
	c.transport.StartShell(c.key, pty, func(out string, err error) {
		c.mu.Lock()
		if c.shellPending == p {
			c.shellPending = nil
			if err != nil {
				c.shellState = stateClosed
				c.unsubscribeLocked(bridge.EventShell)
			} else {
				c.shellState = stateOpen
			}
		}
		c.mu.Unlock()
		p.out, p.err = out, err
		close(p.done)
	})
	return waitOpen(ctx, p)
}

func waitOpen(ctx context.Context, p *pendingOpen) (string, bool, error) {
	select {
	case <-p.done:
		return p.out, p.err == nil, p.err
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}
