package sshtest

import (
	"net"

	"google.golang.org/grpc/test/bufconn"
)

// ListenerDialer combines a net.Listener with a matching Dial, so a test
// server and the xssh transport can be wired together without touching
// real sockets.
type ListenerDialer interface {
	net.Listener
	Dial(network, addr string) (net.Conn, error)
}

type mem struct {
	*bufconn.Listener
}

// NewMem creates an in-memory ListenerDialer. The buffer is 32KB per
// connection, matching the SSH max packet size.
func NewMem() ListenerDialer {
	return &mem{Listener: bufconn.Listen(32 * 1024)}
}

// Dial connects to the in-memory listener; network and addr are ignored.
func (m *mem) Dial(network, addr string) (net.Conn, error) {
	return m.Listener.Dial()
}
