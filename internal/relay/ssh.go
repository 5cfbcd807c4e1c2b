package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshDialTimeout bounds connection and handshake.
const sshDialTimeout = 30 * time.Second

// SSHChannel streams the file over an SSH session into <name>.part and
// renames it on the remote side, so the collector never picks up a partial
// file. Host keys are checked against KnownHosts.
type SSHChannel struct {
	// Addr is host:port.
	Addr string
	// Identity is the private key file. Empty tries ~/.ssh/id_ed25519
	// then ~/.ssh/id_rsa.
	Identity string
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string
}

// Transfer implements Channel.
func (c *SSHChannel) Transfer(ctx context.Context, local string, remote Target) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, err := c.clientConfig(remote.User)
	if err != nil {
		return err
	}

	d := net.Dialer{Timeout: sshDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", c.Addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.Addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake %s: %w", c.Addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	// Abort the session when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	var stderr strings.Builder
	session.Stdin = f
	session.Stderr = &stderr
	if err := session.Run(uploadCommand(remote.Path())); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("remote upload: %w: %s", err, msg)
		}
		return fmt.Errorf("remote upload: %w", err)
	}

	f.Close()
	if err := os.Remove(local); err != nil {
		return fmt.Errorf("remove shipped buffer: %w", err)
	}
	return nil
}

// uploadCommand writes stdin to p.part and renames it to p.
func uploadCommand(p string) string {
	part := shellQuote(p + ".part")
	return fmt.Sprintf("cat > %s && mv %s %s", part, part, shellQuote(p))
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (c *SSHChannel) clientConfig(user string) (*ssh.ClientConfig, error) {
	home, _ := os.UserHomeDir()

	known := c.KnownHosts
	if known == "" {
		known = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeys, err := knownhosts.New(known)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", known, err)
	}

	signer, err := loadSigner(c.Identity, home)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         sshDialTimeout,
	}, nil
}

func loadSigner(identity, home string) (ssh.Signer, error) {
	candidates := []string{identity}
	if identity == "" {
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	var errs []error
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse identity %s: %w", p, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no usable identity: %w", errors.Join(errs...))
}
