// Package bridgetest provides test doubles for the bridge contracts: a
// scripted Transport that records every command issued to it and replies
// with canned results, plus a YAML scenario loader for scripting whole
// sequences. Completion callbacks run synchronously inside the issuing
// call unless an op is held, which keeps command ordering deterministic in
// tests.
package bridgetest

import (
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/mobilessh/sshbridge/bridge"
)

// Op names recorded by the scripted transport, one per Transport method.
const (
	OpConnect            = "connect"
	OpExecute            = "execute"
	OpStartShell         = "startShell"
	OpWriteToShell       = "writeToShell"
	OpCloseShell         = "closeShell"
	OpConnectSFTP        = "connectSFTP"
	OpSFTPLs             = "sftpLs"
	OpSFTPRename         = "sftpRename"
	OpSFTPMkdir          = "sftpMkdir"
	OpSFTPRm             = "sftpRm"
	OpSFTPRmdir          = "sftpRmdir"
	OpSFTPChmod          = "sftpChmod"
	OpSFTPUpload         = "sftpUpload"
	OpSFTPDownload       = "sftpDownload"
	OpSFTPCancelUpload   = "sftpCancelUpload"
	OpSFTPCancelDownload = "sftpCancelDownload"
	OpDisconnectSFTP     = "disconnectSFTP"
	OpDisconnect         = "disconnect"
)

// Call is one recorded command.
type Call struct {
	Op   string
	Args []string
	Key  string
}

// response is a canned completion for one op invocation.
type response struct {
	result  string
	entries []bridge.DirEntry
	err     error
}

// Transport is a scripted bridge.Transport. The zero value is not usable;
// create one with New. Ops with no stubbed response complete successfully
// with zero values.
type Transport struct {
	mu     sync.Mutex
	calls  []Call
	stubs  map[string][]response
	held   map[string]bool
	heldCB map[string][]func(response)
	notify chan struct{}
}

// New creates an empty scripted transport.
func New() *Transport {
	return &Transport{
		stubs:  make(map[string][]response),
		held:   make(map[string]bool),
		heldCB: make(map[string][]func(response)),
		notify: make(chan struct{}, 100),
	}
}

// Stub queues a completion error (or nil success) for the next invocation
// of op.
func (t *Transport) Stub(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stubs[op] = append(t.stubs[op], response{err: err})
}

// StubResult queues a string result for the next invocation of op.
func (t *Transport) StubResult(op, result string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stubs[op] = append(t.stubs[op], response{result: result, err: err})
}

// StubEntries queues a directory listing for the next sftpLs.
func (t *Transport) StubEntries(entries []bridge.DirEntry, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stubs[OpSFTPLs] = append(t.stubs[OpSFTPLs], response{entries: entries, err: err})
}

// Hold defers completion callbacks for op until Release. Calls to a held
// op are still recorded immediately.
func (t *Transport) Hold(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held[op] = true
}

// Release completes every deferred invocation of op with err and stops
// holding it.
func (t *Transport) Release(op string, err error) {
	t.mu.Lock()
	cbs := t.heldCB[op]
	delete(t.heldCB, op)
	delete(t.held, op)
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(response{err: err})
	}
}

// Calls returns every recorded call for op, in issue order. With op empty
// it returns all calls.
func (t *Transport) Calls(op string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of recorded calls for op.
func (t *Transport) CallCount(op string) int {
	return len(t.Calls(op))
}

// Ops returns the op names of every recorded call, in issue order.
func (t *Transport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	for i, c := range t.calls {
		out[i] = c.Op
	}
	return out
}

// WaitCalls blocks until at least n calls of op have been recorded.
func (t *Transport) WaitCalls(op string, n int, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		if t.CallCount(op) >= n {
			return nil
		}
		select {
		case <-t.notify:
		case <-deadline:
			return fmt.Errorf("timeout waiting for %d %q calls (have %d)", n, op, t.CallCount(op))
		}
	}
}

// record stores the call and returns its canned response, or signals that
// the op is held.
func (t *Transport) record(op, key string, args ...string) (response, bool) {
	t.mu.Lock()
	t.calls = append(t.calls, Call{Op: op, Args: args, Key: key})
	var resp response
	if q := t.stubs[op]; len(q) > 0 {
		resp = q[0]
		t.stubs[op] = q[1:]
	}
	held := t.held[op]
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return resp, held
}

func (t *Transport) holdCB(op string, cb func(response)) {
	t.mu.Lock()
	t.heldCB[op] = append(t.heldCB[op], cb)
	t.mu.Unlock()
}

func (t *Transport) complete(op, key string, cb func(response), args ...string) {
	resp, held := t.record(op, key, args...)
	if held {
		t.holdCB(op, cb)
		return
	}
	cb(resp)
}

// Connect implements bridge.Transport.
func (t *Transport) Connect(host string, port int, username string, cred bridge.Credential, key string, cb func(error)) {
	t.complete(OpConnect, key, func(r response) { cb(r.err) },
		host, fmt.Sprint(port), username)
}

// Execute implements bridge.Transport.
func (t *Transport) Execute(command, key string, cb func(string, error)) {
	t.complete(OpExecute, key, func(r response) { cb(r.result, r.err) }, command)
}

// StartShell implements bridge.Transport.
func (t *Transport) StartShell(key string, pty bridge.PTYType, cb func(string, error)) {
	t.complete(OpStartShell, key, func(r response) { cb(r.result, r.err) }, string(pty))
}

// WriteToShell implements bridge.Transport.
func (t *Transport) WriteToShell(command, key string, cb func(string, error)) {
	t.complete(OpWriteToShell, key, func(r response) { cb(r.result, r.err) }, command)
}

// CloseShell implements bridge.Transport.
func (t *Transport) CloseShell(key string) {
	t.record(OpCloseShell, key)
}

// ConnectSFTP implements bridge.Transport.
func (t *Transport) ConnectSFTP(key string, cb func(error)) {
	t.complete(OpConnectSFTP, key, func(r response) { cb(r.err) })
}

// SFTPLs implements bridge.Transport.
func (t *Transport) SFTPLs(path, key string, cb func([]bridge.DirEntry, error)) {
	t.complete(OpSFTPLs, key, func(r response) { cb(r.entries, r.err) }, path)
}

// SFTPRename implements bridge.Transport.
func (t *Transport) SFTPRename(oldPath, newPath, key string, cb func(error)) {
	t.complete(OpSFTPRename, key, func(r response) { cb(r.err) }, oldPath, newPath)
}

// SFTPMkdir implements bridge.Transport.
func (t *Transport) SFTPMkdir(path, key string, cb func(error)) {
	t.complete(OpSFTPMkdir, key, func(r response) { cb(r.err) }, path)
}

// SFTPRm implements bridge.Transport.
func (t *Transport) SFTPRm(path, key string, cb func(error)) {
	t.complete(OpSFTPRm, key, func(r response) { cb(r.err) }, path)
}

// SFTPRmdir implements bridge.Transport.
func (t *Transport) SFTPRmdir(path, key string, cb func(error)) {
	t.complete(OpSFTPRmdir, key, func(r response) { cb(r.err) }, path)
}

// SFTPChmod implements bridge.Transport.
func (t *Transport) SFTPChmod(path string, mode fs.FileMode, key string, cb func(error)) {
	t.complete(OpSFTPChmod, key, func(r response) { cb(r.err) }, path, mode.String())
}

// SFTPUpload implements bridge.Transport.
func (t *Transport) SFTPUpload(localPath, remotePath, key string, cb func(error)) {
	t.complete(OpSFTPUpload, key, func(r response) { cb(r.err) }, localPath, remotePath)
}

// SFTPDownload implements bridge.Transport.
func (t *Transport) SFTPDownload(remotePath, localPath, key string, cb func(string, error)) {
	t.complete(OpSFTPDownload, key, func(r response) { cb(r.result, r.err) }, remotePath, localPath)
}

// SFTPCancelUpload implements bridge.Transport.
func (t *Transport) SFTPCancelUpload(key string) {
	t.record(OpSFTPCancelUpload, key)
}

// SFTPCancelDownload implements bridge.Transport.
func (t *Transport) SFTPCancelDownload(key string) {
	t.record(OpSFTPCancelDownload, key)
}

// DisconnectSFTP implements bridge.Transport.
func (t *Transport) DisconnectSFTP(key string) {
	t.record(OpDisconnectSFTP, key)
}

// Disconnect implements bridge.Transport.
func (t *Transport) Disconnect(key string) {
	t.record(OpDisconnect, key)
}
