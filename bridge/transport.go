// Package bridge defines the narrow contracts between the session
// coordinator and the platform SSH/SFTP engine: an asynchronous command
// Transport and a broadcast EventBus. Every command carries a correlation
// key so that a single shared engine can serve many coordinator instances;
// every out-of-band event carries the same key so it can be routed back.
//
// The bridge does no protocol or crypto work itself. Implementations of
// Transport own that entirely (see package xssh for the Go implementation).
package bridge

import (
	"io/fs"
)

// PTYType is the requested pseudo-terminal emulation mode for an
// interactive shell channel.
type PTYType string

const (
	PTYVanilla PTYType = "vanilla"
	PTYVT100   PTYType = "vt100"
	PTYVT102   PTYType = "vt102"
	PTYVT220   PTYType = "vt220"
	PTYANSI    PTYType = "ansi"
	PTYXterm   PTYType = "xterm"
)

// Credential is the authentication material for a connection.
// Exactly one of the two shapes is populated: a password, or a key pair.
type Credential struct {
	Password string

	PrivateKey string
	PublicKey  string
	Passphrase string
}

// PasswordCredential builds a password-shaped credential.
func PasswordCredential(password string) Credential {
	return Credential{Password: password}
}

// KeyCredential builds a key-pair-shaped credential. The public key and
// passphrase may be empty.
func KeyCredential(privateKey, publicKey, passphrase string) Credential {
	return Credential{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Passphrase: passphrase,
	}
}

// IsKey reports whether the credential is key-pair shaped.
func (c Credential) IsKey() bool {
	return c.PrivateKey != ""
}

// DirEntry is a single entry of an SFTP directory listing.
type DirEntry struct {
	Filename         string `json:"filename"`
	IsDirectory      bool   `json:"isDirectory"`
	ModificationDate string `json:"modificationDate"`
	LastAccess       string `json:"lastAccess"`
	FileSize         int64  `json:"fileSize"`
	OwnerUserID      int    `json:"ownerUserID"`
	OwnerGroupID     int    `json:"ownerGroupID"`
	Flags            uint32 `json:"flags"`
}

// Transport is the asynchronous command interface of a platform SSH/SFTP
// engine. Each operation takes the issuing coordinator's correlation key
// and, unless fire-and-forget, a completion callback which the engine
// invokes exactly once, from any goroutine. Errors are passed through the
// callback unmodified; the engine never retries.
//
// Fire-and-forget operations (CloseShell, the cancels, DisconnectSFTP,
// Disconnect) have no callback and report nothing.
type Transport interface {
	Connect(host string, port int, username string, cred Credential, key string, cb func(error))
	Execute(command, key string, cb func(string, error))

	StartShell(key string, pty PTYType, cb func(string, error))
	WriteToShell(command, key string, cb func(string, error))
	CloseShell(key string)

	ConnectSFTP(key string, cb func(error))
	SFTPLs(path, key string, cb func([]DirEntry, error))
	SFTPRename(oldPath, newPath, key string, cb func(error))
	SFTPMkdir(path, key string, cb func(error))
	SFTPRm(path, key string, cb func(error))
	SFTPRmdir(path, key string, cb func(error))
	SFTPChmod(path string, mode fs.FileMode, key string, cb func(error))
	SFTPUpload(localPath, remotePath, key string, cb func(error))
	SFTPDownload(remotePath, localPath, key string, cb func(string, error))
	SFTPCancelUpload(key string)
	SFTPCancelDownload(key string)
	DisconnectSFTP(key string)
	Disconnect(key string)
}
