package xssh

import (
	"io/fs"
	"time"

	"github.com/mobilessh/sshbridge/bridge"
	"github.com/pkg/sftp"
)

func (c *conn) sftpLs(path string) ([]bridge.DirEntry, error) {
	client, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	infos, err := client.ReadDir(path)
	if err != nil {
		return nil, err
	}
	entries := make([]bridge.DirEntry, 0, len(infos))
	for _, fi := range infos {
		entry := bridge.DirEntry{
			Filename:    fi.Name(),
			IsDirectory: fi.IsDir(),
			FileSize:    fi.Size(),
			Flags:       uint32(fi.Mode().Perm()),
		}
		if st, ok := fi.Sys().(*sftp.FileStat); ok {
			entry.ModificationDate = sftpTime(st.Mtime)
			entry.LastAccess = sftpTime(st.Atime)
			entry.OwnerUserID = int(st.UID)
			entry.OwnerGroupID = int(st.GID)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *conn) sftpRename(oldPath, newPath string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.Rename(oldPath, newPath)
}

func (c *conn) sftpMkdir(path string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.Mkdir(path)
}

func (c *conn) sftpRm(path string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.Remove(path)
}

func (c *conn) sftpRmdir(path string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.RemoveDirectory(path)
}

func (c *conn) sftpChmod(path string, mode fs.FileMode) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.Chmod(path, mode)
}

func sftpTime(sec uint32) string {
	return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
}
