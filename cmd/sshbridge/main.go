// Command sshbridge is a small demo client for the bridge stack: run a
// one-shot command, drive an interactive shell, or perform SFTP
// operations against a remote host.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jpillora/jplog"
	"github.com/jpillora/opts"
	"github.com/mobilessh/sshbridge/bridge"
	"github.com/mobilessh/sshbridge/client"
	"golang.org/x/term"
)

var version = "0.0.0-src" //set via ldflags

type config struct {
	Host     string `opts:"help=remote host,mode=arg"`
	Port     int    `opts:"short=p,help=remote port (defaults to 22)"`
	User     string `opts:"short=u,help=username,env=USER"`
	Password string `opts:"help=password authentication"`
	KeyFile  string `opts:"name=keyfile,help=a filepath to a private key (for example an 'id_rsa' file)"`
	Verbose  bool   `opts:"short=v,help=verbose logs"`

	Exec  execConfig  `opts:"mode=cmd,help=Run a one-shot command"`
	Shell shellConfig `opts:"mode=cmd,help=Start an interactive shell"`
	Ls    lsConfig    `opts:"mode=cmd,help=List a remote directory"`
	Get   getConfig   `opts:"mode=cmd,help=Download a remote file"`
	Put   putConfig   `opts:"mode=cmd,help=Upload a local file"`
}

type execConfig struct {
	root    *config
	Command string `opts:"mode=arg,help=command to run"`
}

func (c *execConfig) Run() error {
	cl, err := c.root.connect()
	if err != nil {
		return err
	}
	defer cl.Disconnect()
	out, err := cl.Execute(context.Background(), c.Command)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

type shellConfig struct {
	root *config
	PTY  string `opts:"help=pty type (defaults to xterm)"`
}

func (c *shellConfig) Run() error {
	cl, err := c.root.connect()
	if err != nil {
		return err
	}
	defer cl.Disconnect()
	cl.On(bridge.EventShell, func(value string) {
		os.Stdout.WriteString(value)
	})
	pty := bridge.PTYType(c.PTY)
	if pty == "" {
		pty = bridge.PTYXterm
	}
	out, err := cl.StartShell(context.Background(), pty)
	if err != nil {
		return err
	}
	os.Stdout.WriteString(out)
	defer cl.CloseShell()
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return err
		}
		defer term.Restore(int(os.Stdin.Fd()), state)
	}
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := cl.WriteToShell(context.Background(), string(buf[:n])); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
	}
}

type lsConfig struct {
	root *config
	Path string `opts:"mode=arg,help=remote directory"`
}

func (c *lsConfig) Run() error {
	cl, err := c.root.connect()
	if err != nil {
		return err
	}
	defer cl.Disconnect()
	entries, err := cl.SFTPLs(context.Background(), c.Path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, e := range entries {
		kind := "-"
		if e.IsDirectory {
			kind = "d"
		}
		fmt.Fprintf(w, "%s %10d %s %s\n", kind, e.FileSize, e.ModificationDate, e.Filename)
	}
	return nil
}

type getConfig struct {
	root   *config
	Remote string `opts:"mode=arg,help=remote file"`
	Local  string `opts:"mode=arg,help=local directory"`
}

func (c *getConfig) Run() error {
	cl, err := c.root.connect()
	if err != nil {
		return err
	}
	defer cl.Disconnect()
	cl.On(bridge.EventDownloadProgress, func(value string) {
		fmt.Fprintf(os.Stderr, "\rdownloading... %s%%", value)
	})
	path, err := cl.SFTPDownload(context.Background(), c.Remote, c.Local)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\rdownloaded %s\n", path)
	return nil
}

type putConfig struct {
	root   *config
	Local  string `opts:"mode=arg,help=local file"`
	Remote string `opts:"mode=arg,help=remote directory"`
}

func (c *putConfig) Run() error {
	cl, err := c.root.connect()
	if err != nil {
		return err
	}
	defer cl.Disconnect()
	cl.On(bridge.EventUploadProgress, func(value string) {
		fmt.Fprintf(os.Stderr, "\ruploading... %s%%", value)
	})
	if err := cl.SFTPUpload(context.Background(), c.Local, c.Remote); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\ruploaded %s\n", c.Local)
	return nil
}

func (c *config) connect() (*client.Client, error) {
	port := c.Port
	if port == 0 {
		port = 22
	}
	var options []client.Option
	if c.Verbose {
		options = append(options, client.WithLogger(slog.New(jplog.Handler(os.Stderr).Verbose())))
	}
	ctx := context.Background()
	if c.KeyFile != "" {
		b, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		return client.ConnectWithKey(ctx, c.Host, port, c.User, string(b), "", options...)
	}
	return client.ConnectWithPassword(ctx, c.Host, port, c.User, c.Password, options...)
}

func main() {
	c := config{}
	c.Exec.root = &c
	c.Shell.root = &c
	c.Ls.root = &c
	c.Get.root = &c
	c.Put.root = &c
	opts.New(&c).Version(version).Parse().Run()
}
