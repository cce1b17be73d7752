package client

import (
	"context"
	"io/fs"

	"github.com/mobilessh/sshbridge/bridge"
)

// ConnectSFTP opens the SFTP channel. Returns immediately if it is already
// open; a concurrent call joins the in-flight open. On success the client
// subscribes to EventDownloadProgress and EventUploadProgress so that
// registered handlers start seeing transfer progress.
func (c *Client) ConnectSFTP(ctx context.Context) error {
	if err := c.active(); err != nil {
		return err
	}
	return c.ensureSFTP(ctx)
}

// DisconnectSFTP closes the SFTP channel: removes both progress
// subscriptions, issues the engine disconnect (fire-and-forget), and marks
// the channel closed. Safe to call when the channel is not open.
func (c *Client) DisconnectSFTP() {
	c.mu.Lock()
	c.unsubscribeLocked(bridge.EventDownloadProgress)
	c.unsubscribeLocked(bridge.EventUploadProgress)
	c.sftpState = stateClosed
	c.sftpPending = nil
	c.mu.Unlock()
	c.transport.DisconnectSFTP(c.key)
}

// SFTPLs lists the directory at path.
func (c *Client) SFTPLs(ctx context.Context, path string) ([]bridge.DirEntry, error) {
	if err := c.active(); err != nil {
		return nil, err
	}
	if err := c.ensureSFTP(ctx); err != nil {
		return nil, err
	}
	return await(ctx, func(cb func([]bridge.DirEntry, error)) {
		c.transport.SFTPLs(path, c.key, cb)
	})
}

// SFTPRename renames or moves a remote file.
func (c *Client) SFTPRename(ctx context.Context, oldPath, newPath string) error {
	return c.sftpOp(ctx, func(cb func(error)) {
		c.transport.SFTPRename(oldPath, newPath, c.key, cb)
	})
}

// SFTPMkdir creates a remote directory.
func (c *Client) SFTPMkdir(ctx context.Context, path string) error {
	return c.sftpOp(ctx, func(cb func(error)) {
		c.transport.SFTPMkdir(path, c.key, cb)
	})
}

// SFTPRm removes a remote file.
func (c *Client) SFTPRm(ctx context.Context, path string) error {
	return c.sftpOp(ctx, func(cb func(error)) {
		c.transport.SFTPRm(path, c.key, cb)
	})
}

// SFTPRmdir removes a remote directory.
func (c *Client) SFTPRmdir(ctx context.Context, path string) error {
	return c.sftpOp(ctx, func(cb func(error)) {
		c.transport.SFTPRmdir(path, c.key, cb)
	})
}

// SFTPChmod changes the permissions of a remote path. Engines that do not
// support it report the failure themselves; no local capability check is
// made.
func (c *Client) SFTPChmod(ctx context.Context, path string, mode fs.FileMode) error {
	return c.sftpOp(ctx, func(cb func(error)) {
		c.transport.SFTPChmod(path, mode, c.key, cb)
	})
}

// SFTPUpload copies a local file to the remote host. While the transfer is
// in flight the upload counter is raised; it drops again in the engine's
// completion callback whether the transfer succeeded or not.
func (c *Client) SFTPUpload(ctx context.Context, localPath, remotePath string) error {
	if err := c.active(); err != nil {
		return err
	}
	if err := c.ensureSFTP(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.uploads++
	c.mu.Unlock()
	return awaitErr(ctx, func(cb func(error)) {
		c.transport.SFTPUpload(localPath, remotePath, c.key, func(err error) {
			c.mu.Lock()
			c.uploads--
			c.mu.Unlock()
			cb(err)
		})
	})
}

// SFTPDownload copies a remote file to localPath and returns the engine's
// response, typically the local path written.
func (c *Client) SFTPDownload(ctx context.Context, remotePath, localPath string) (string, error) {
	if err := c.active(); err != nil {
		return "", err
	}
	if err := c.ensureSFTP(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.downloads++
	c.mu.Unlock()
	return await(ctx, func(cb func(string, error)) {
		c.transport.SFTPDownload(remotePath, localPath, c.key, func(res string, err error) {
			c.mu.Lock()
			c.downloads--
			c.mu.Unlock()
			cb(res, err)
		})
	})
}

// SFTPCancelUpload asks the engine to cancel whichever uploads are in
// flight for this client. No-op when none are. The cancelled transfer
// still reports through its own completion callback.
func (c *Client) SFTPCancelUpload() {
	c.mu.Lock()
	n := c.uploads
	c.mu.Unlock()
	if n > 0 {
		c.transport.SFTPCancelUpload(c.key)
	}
}

// SFTPCancelDownload asks the engine to cancel whichever downloads are in
// flight for this client. No-op when none are.
func (c *Client) SFTPCancelDownload() {
	c.mu.Lock()
	n := c.downloads
	c.mu.Unlock()
	if n > 0 {
		c.transport.SFTPCancelDownload(c.key)
	}
}

// sftpOp runs one no-payload SFTP command behind the ensure-open gate.
func (c *Client) sftpOp(ctx context.Context, issue func(cb func(error))) error {
	if err := c.active(); err != nil {
		return err
	}
	if err := c.ensureSFTP(ctx); err != nil {
		return err
	}
	return awaitErr(ctx, issue)
}

// ensureSFTP drives the SFTP channel state machine. Exactly one engine
// connect command is issued per closed→open transition; a failed open
// fails the calling operation before its own command is issued.
func (c *Client) ensureSFTP(ctx context.Context) error {
	c.mu.Lock()
	switch c.sftpState {
	case stateOpen:
		c.mu.Unlock()
		return nil
	case stateOpening:
		p := c.sftpPending
		c.mu.Unlock()
		_, _, err := waitOpen(ctx, p)
		return err
	}
	p := &pendingOpen{done: make(chan struct{})}
	c.sftpPending = p
	c.sftpState = stateOpening
	c.mu.Unlock()
	c.debugf("Connecting SFTP channel")
	c.transport.ConnectSFTP(c.key, func(err error) {
		c.mu.Lock()
		if c.sftpPending == p {
			c.sftpPending = nil
			if err != nil {
				c.sftpState = stateClosed
			} else {
				c.sftpState = stateOpen
				c.subscribeLocked(bridge.EventDownloadProgress)
				c.subscribeLocked(bridge.EventUploadProgress)
			}
		}
		c.mu.Unlock()
		p.err = err
		close(p.done)
	})
	_, _, err := waitOpen(ctx, p)
	return err
}
