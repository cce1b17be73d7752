package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mobilessh/sshbridge/bridge"
	"github.com/mobilessh/sshbridge/bridgetest"
	"github.com/stretchr/testify/require"
)

func TestStartShellOnce(t *testing.T) {
	c, ft := testClient(t)
	ft.StubResult(bridgetest.OpStartShell, "Last login: now\n", nil)

	out, err := c.StartShell(context.Background(), bridge.PTYVT100)
	require.NoError(t, err)
	require.Equal(t, "Last login: now\n", out)
	require.Equal(t, []string{"vt100"}, ft.Calls(bridgetest.OpStartShell)[0].Args)

	// already open: no second engine command, empty result
	out, err = c.StartShell(context.Background(), bridge.PTYVT100)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, ft.CallCount(bridgetest.OpStartShell))

	// closing re-arms the short-circuit
	c.CloseShell()
	require.Equal(t, 1, ft.CallCount(bridgetest.OpCloseShell))
	_, err = c.StartShell(context.Background(), bridge.PTYVT100)
	require.NoError(t, err)
	require.Equal(t, 2, ft.CallCount(bridgetest.OpStartShell))
}

func TestStartShellFailure(t *testing.T) {
	c, ft := testClient(t)
	shellErr := errors.New("pty allocation failed")
	ft.StubResult(bridgetest.OpStartShell, "", shellErr)

	_, err := c.StartShell(context.Background(), bridge.PTYXterm)
	require.ErrorIs(t, err, shellErr)

	c.mu.Lock()
	require.Equal(t, stateClosed, c.shellState)
	require.Empty(t, c.subs)
	c.mu.Unlock()

	// a later attempt issues a fresh engine command
	_, err = c.StartShell(context.Background(), bridge.PTYXterm)
	require.NoError(t, err)
	require.Equal(t, 2, ft.CallCount(bridgetest.OpStartShell))
}

func TestWriteToShellAutoOpens(t *testing.T) {
	c, ft := testClient(t)
	ft.StubResult(bridgetest.OpStartShell, "welcome", nil)
	ft.StubResult(bridgetest.OpWriteToShell, "ok", nil)

	out, err := c.WriteToShell(context.Background(), "ls\n")
	require.NoError(t, err)
	// initial shell output is prefixed, newline-terminated
	require.Equal(t, "welcome\nok", out)
	require.Equal(t, []string{string(bridge.PTYVanilla)}, ft.Calls(bridgetest.OpStartShell)[0].Args)

	// shell now open: no prefix, no extra start
	ft.StubResult(bridgetest.OpWriteToShell, "ok2", nil)
	out, err = c.WriteToShell(context.Background(), "pwd\n")
	require.NoError(t, err)
	require.Equal(t, "ok2", out)
	require.Equal(t, 1, ft.CallCount(bridgetest.OpStartShell))
}

func TestWriteToShellAutoOpenFailure(t *testing.T) {
	c, ft := testClient(t)
	shellErr := errors.New("no shell for you")
	ft.StubResult(bridgetest.OpStartShell, "", shellErr)

	_, err := c.WriteToShell(context.Background(), "ls\n")
	require.ErrorIs(t, err, shellErr)
	// the write itself was never issued
	require.Equal(t, 0, ft.CallCount(bridgetest.OpWriteToShell))
}

func TestCloseShellWhenClosed(t *testing.T) {
	c, ft := testClient(t)
	c.CloseShell()
	c.CloseShell()
	require.Equal(t, 2, ft.CallCount(bridgetest.OpCloseShell))
}

func TestConcurrentStartShellSingleCommand(t *testing.T) {
	c, ft := testClient(t)
	ft.Hold(bridgetest.OpStartShell)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.StartShell(context.Background(), bridge.PTYXterm)
		}(i)
	}
	require.NoError(t, ft.WaitCalls(bridgetest.OpStartShell, 1, time.Second))
	// give the second caller time to join the in-flight open
	time.Sleep(20 * time.Millisecond)
	ft.Release(bridgetest.OpStartShell, nil)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, ft.CallCount(bridgetest.OpStartShell))
}
