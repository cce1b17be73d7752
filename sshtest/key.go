package sshtest

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// SignerFromSeed derives a deterministic ed25519 host/client key from a
// seed string. Same seed, same key. Test use only.
func SignerFromSeed(seed string) (ssh.Signer, error) {
	_, pri, err := ed25519.GenerateKey(newDetermRand([]byte(seed)))
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(pri)
}

// KeyPairFromSeed derives a deterministic key pair from a seed and returns
// the private key as PEM together with the matching public key.
func KeyPairFromSeed(seed string) (privatePEM string, public ssh.PublicKey, err error) {
	_, pri, err := ed25519.GenerateKey(newDetermRand([]byte(seed)))
	if err != nil {
		return "", nil, err
	}
	block, err := ssh.MarshalPrivateKey(pri, "")
	if err != nil {
		return "", nil, err
	}
	signer, err := ssh.NewSignerFromKey(pri)
	if err != nil {
		return "", nil, err
	}
	return string(pem.EncodeToMemory(block)), signer.PublicKey(), nil
}

const determRandIter = 2048

// newDetermRand builds a deterministic random stream from a seed by
// iterated hashing.
func newDetermRand(seed []byte) io.Reader {
	var out []byte
	next := seed
	for i := 0; i < determRandIter; i++ {
		next, out = hashSplit(next)
	}
	return &determRand{next: next, out: out}
}

type determRand struct {
	next, out []byte
}

func (d *determRand) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		next, out := hashSplit(d.next)
		n += copy(b[n:], out)
		d.next = next
	}
	return n, nil
}

func hashSplit(in []byte) (next, out []byte) {
	s := sha512.Sum512(in)
	return s[:32], s[32:]
}

// CreateSSHClient dials and authenticates a plain x/crypto client against
// addr, for tests that need a raw client rather than the bridge stack.
func CreateSSHClient(addr, user, password string) (*ssh.Client, error) {
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return client, nil
}
