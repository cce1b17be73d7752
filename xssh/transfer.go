package xssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/mobilessh/sshbridge/bridge"
)

const transferChunk = 32 * 1024

// upload copies the local file into the remote directory, named after the
// local file's base name. Progress percentages are published as
// EventUploadProgress while the copy runs.
func (c *conn) upload(localPath, remotePath string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}
	target := path.Join(remotePath, filepath.Base(localPath))
	dst, err := client.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	ctx, id := c.trackUpload()
	defer c.untrackUpload(id)
	return c.copyProgress(ctx, dst, src, fi.Size(), bridge.EventUploadProgress)
}

// download copies the remote file into the local directory, named after
// the remote file's base name, and returns the written path. Progress
// percentages are published as EventDownloadProgress.
func (c *conn) download(remotePath, localPath string) (string, error) {
	client, err := c.sftpClient()
	if err != nil {
		return "", err
	}
	src, err := client.Open(remotePath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return "", err
	}
	target := filepath.Join(localPath, path.Base(remotePath))
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	ctx, id := c.trackDownload()
	defer c.untrackDownload(id)
	if err := c.copyProgress(ctx, dst, src, fi.Size(), bridge.EventDownloadProgress); err != nil {
		os.Remove(target)
		return "", err
	}
	return target, nil
}

// copyProgress copies src to dst in chunks, publishing the integer
// percentage each time it changes. The copy stops with an error when ctx
// is cancelled.
func (c *conn) copyProgress(ctx context.Context, dst io.Writer, src io.Reader, size int64, event bridge.EventName) error {
	buf := make([]byte, transferChunk)
	var written int64
	lastPct := -1
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer cancelled: %w", err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			pct := 100
			if size > 0 {
				pct = int(written * 100 / size)
			}
			if pct != lastPct {
				lastPct = pct
				c.t.publish(event, c.key, strconv.Itoa(pct))
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (c *conn) trackUpload() (context.Context, int) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextXfer
	c.nextXfer++
	c.uploads[id] = cancel
	return ctx, id
}

func (c *conn) untrackUpload(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.uploads[id]; ok {
		cancel()
		delete(c.uploads, id)
	}
}

func (c *conn) trackDownload() (context.Context, int) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextXfer
	c.nextXfer++
	c.downloads[id] = cancel
	return ctx, id
}

func (c *conn) untrackDownload(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.downloads[id]; ok {
		cancel()
		delete(c.downloads, id)
	}
}

// cancelUploads cancels every in-flight upload. The transfers report the
// cancellation through their own completion paths.
func (c *conn) cancelUploads() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.uploads {
		cancel()
		delete(c.uploads, id)
	}
}

// cancelDownloads cancels every in-flight download.
func (c *conn) cancelDownloads() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.downloads {
		cancel()
		delete(c.downloads, id)
	}
}
