package client

import (
	"context"
	"testing"

	"github.com/mobilessh/sshbridge/bridge"
	"github.com/mobilessh/sshbridge/bridgetest"
	"github.com/stretchr/testify/require"
)

func testClientOnBus(t *testing.T, bus *bridge.Bus) (*Client, *bridgetest.Transport) {
	t.Helper()
	ft := bridgetest.New()
	c, err := ConnectWithPassword(context.Background(), "h", 22, "u", "p",
		WithTransport(ft), WithBus(bus))
	require.NoError(t, err)
	return c, ft
}

func TestShellEventRouting(t *testing.T) {
	bus := bridge.NewBus()
	c, _ := testClientOnBus(t, bus)
	_, err := c.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)

	var got []string
	c.On(bridge.EventShell, func(value string) {
		got = append(got, value)
	})

	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: c.Key(), Value: "one"})
	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: "someone-else", Value: "two"})
	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: c.Key(), Value: "three"})

	require.Equal(t, []string{"one", "three"}, got)
}

func TestEventsDroppedWithoutHandler(t *testing.T) {
	bus := bridge.NewBus()
	c, _ := testClientOnBus(t, bus)
	_, err := c.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)
	// no handler registered: delivery is a silent drop
	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: c.Key(), Value: "ignored"})
}

func TestHandlerLastRegistrationWins(t *testing.T) {
	bus := bridge.NewBus()
	c, _ := testClientOnBus(t, bus)
	_, err := c.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)

	var first, second int
	c.On(bridge.EventShell, func(string) { first++ })
	c.On(bridge.EventShell, func(string) { second++ })

	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: c.Key(), Value: "x"})
	require.Equal(t, 0, first)
	require.Equal(t, 1, second)

	c.On(bridge.EventShell, nil)
	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: c.Key(), Value: "y"})
	require.Equal(t, 1, second)
}

func TestProgressEventsAfterSFTPConnect(t *testing.T) {
	bus := bridge.NewBus()
	c, _ := testClientOnBus(t, bus)

	var pcts []string
	c.On(bridge.EventDownloadProgress, func(value string) {
		pcts = append(pcts, value)
	})

	// not subscribed until the SFTP channel opens
	bus.Publish(bridge.Event{Name: bridge.EventDownloadProgress, Key: c.Key(), Value: "10"})
	require.Empty(t, pcts)

	require.NoError(t, c.ConnectSFTP(context.Background()))
	bus.Publish(bridge.Event{Name: bridge.EventDownloadProgress, Key: c.Key(), Value: "50"})
	require.Equal(t, []string{"50"}, pcts)
}

func TestCrossClientIsolation(t *testing.T) {
	bus := bridge.NewBus()
	a, _ := testClientOnBus(t, bus)
	b, _ := testClientOnBus(t, bus)
	_, err := a.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)
	_, err = b.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)

	var aGot, bGot []string
	a.On(bridge.EventShell, func(v string) { aGot = append(aGot, v) })
	b.On(bridge.EventShell, func(v string) { bGot = append(bGot, v) })

	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: a.Key(), Value: "for-a"})
	bus.Publish(bridge.Event{Name: bridge.EventShell, Key: b.Key(), Value: "for-b"})

	require.Equal(t, []string{"for-a"}, aGot)
	require.Equal(t, []string{"for-b"}, bGot)
}
