package client

import (
	"github.com/mobilessh/sshbridge/bridge"
)

// On registers the handler for an event name. At most one handler per
// name; a second registration replaces the first, and a nil handler
// removes it. Handlers run synchronously on the bus delivery goroutine.
//
// Registering a handler does not by itself subscribe on the bus: shell
// output flows once the shell channel is open, progress events once the
// SFTP channel is open. Events with no handler are dropped.
func (c *Client) On(name bridge.EventName, handler func(value string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.handlers, name)
		return
	}
	c.handlers[name] = handler
}

// dispatch is the single bus listener for every subscription this client
// owns. Events for other clients (key mismatch) and events without a
// registered handler are ignored.
func (c *Client) dispatch(ev bridge.Event) {
	if ev.Key != c.key {
		return
	}
	c.mu.Lock()
	h := c.handlers[ev.Name]
	c.mu.Unlock()
	if h == nil {
		return
	}
	h(ev.Value)
}

// subscribeLocked adds the bus subscription for name, at most one per
// name. Caller holds c.mu.
func (c *Client) subscribeLocked(name bridge.EventName) {
	if _, ok := c.subs[name]; ok {
		return
	}
	c.subs[name] = c.bus.Subscribe(name, c.dispatch)
}

// unsubscribeLocked removes the bus subscription for name, if any.
// Caller holds c.mu.
func (c *Client) unsubscribeLocked(name bridge.EventName) {
	if sub, ok := c.subs[name]; ok {
		sub.Remove()
		delete(c.subs, name)
	}
}
