package client

import (
	"context"
	"errors"
	"testing"

	"github.com/mobilessh/sshbridge/bridge"
	"github.com/mobilessh/sshbridge/bridgetest"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*Client, *bridgetest.Transport) {
	t.Helper()
	ft := bridgetest.New()
	c, err := ConnectWithPassword(context.Background(), "h", 22, "u", "p",
		WithTransport(ft), WithBus(bridge.NewBus()))
	require.NoError(t, err)
	return c, ft
}

func TestConnectWithPassword(t *testing.T) {
	c, ft := testClient(t)
	require.NotEmpty(t, c.Key())
	require.Equal(t, "h", c.Host())
	require.Equal(t, 22, c.Port())
	require.Equal(t, "u", c.Username())
	calls := ft.Calls(bridgetest.OpConnect)
	require.Len(t, calls, 1)
	require.Equal(t, c.Key(), calls[0].Key)
	require.Equal(t, []string{"h", "22", "u"}, calls[0].Args)
}

func TestConnectFailure(t *testing.T) {
	ft := bridgetest.New()
	connErr := errors.New("auth failed")
	ft.Stub(bridgetest.OpConnect, connErr)
	c, err := ConnectWithPassword(context.Background(), "h", 22, "u", "bad",
		WithTransport(ft), WithBus(bridge.NewBus()))
	require.ErrorIs(t, err, connErr)
	require.Nil(t, c)
}

func TestCorrelationKeysUnique(t *testing.T) {
	a, _ := testClient(t)
	b, _ := testClient(t)
	require.NotEqual(t, a.Key(), b.Key())
}

func TestExecuteRoundTrip(t *testing.T) {
	c, ft := testClient(t)
	ft.StubResult(bridgetest.OpExecute, "total 0\n", nil)
	out, err := c.Execute(context.Background(), "ls -l")
	require.NoError(t, err)
	require.Equal(t, "total 0\n", out)
	calls := ft.Calls(bridgetest.OpExecute)
	require.Len(t, calls, 1)
	require.Equal(t, []string{"ls -l"}, calls[0].Args)
}

func TestExecuteErrorPassedThrough(t *testing.T) {
	c, ft := testClient(t)
	execErr := errors.New("command not found")
	ft.StubResult(bridgetest.OpExecute, "", execErr)
	_, err := c.Execute(context.Background(), "nope")
	require.ErrorIs(t, err, execErr)
}

func TestDisconnectTeardown(t *testing.T) {
	c, ft := testClient(t)
	_, err := c.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)
	require.NoError(t, c.ConnectSFTP(context.Background()))

	c.Disconnect()

	c.mu.Lock()
	require.Equal(t, stateClosed, c.shellState)
	require.Equal(t, stateClosed, c.sftpState)
	require.Empty(t, c.subs)
	c.mu.Unlock()
	require.Equal(t, 1, ft.CallCount(bridgetest.OpCloseShell))
	require.Equal(t, 1, ft.CallCount(bridgetest.OpDisconnectSFTP))
	require.Equal(t, 1, ft.CallCount(bridgetest.OpDisconnect))
}

func TestDisconnectIdempotent(t *testing.T) {
	c, ft := testClient(t)
	c.Disconnect()
	c.Disconnect()
	require.Equal(t, 1, ft.CallCount(bridgetest.OpDisconnect))
	// no channels were open, so no channel teardown commands
	require.Equal(t, 0, ft.CallCount(bridgetest.OpCloseShell))
	require.Equal(t, 0, ft.CallCount(bridgetest.OpDisconnectSFTP))
}

func TestOperationsAfterDisconnect(t *testing.T) {
	c, ft := testClient(t)
	c.Disconnect()

	_, err := c.Execute(context.Background(), "ls")
	require.ErrorIs(t, err, ErrClosed)
	_, err = c.StartShell(context.Background(), bridge.PTYXterm)
	require.ErrorIs(t, err, ErrClosed)
	err = c.ConnectSFTP(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = c.SFTPLs(context.Background(), ".")
	require.ErrorIs(t, err, ErrClosed)

	require.Equal(t, 0, ft.CallCount(bridgetest.OpExecute))
	require.Equal(t, 0, ft.CallCount(bridgetest.OpStartShell))
	require.Equal(t, 0, ft.CallCount(bridgetest.OpConnectSFTP))
}

func TestScriptedSequence(t *testing.T) {
	ft := bridgetest.New()
	require.NoError(t, ft.PlayYAML(`
name: exec-then-fail
steps:
  - op: connect
  - op: execute
    result: "hello\n"
  - op: execute
    error: "broken pipe"
`))
	c, err := ConnectWithPassword(context.Background(), "h", 22, "u", "p",
		WithTransport(ft), WithBus(bridge.NewBus()))
	require.NoError(t, err)
	out, err := c.Execute(context.Background(), "echo hello")
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)
	_, err = c.Execute(context.Background(), "echo again")
	require.EqualError(t, err, "broken pipe")
}
