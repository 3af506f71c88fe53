package sftpfs

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/pkg/errors"
)

// Session is the part of *sftp.Client the handler needs.
type Session interface {
	Stat(p string) (os.FileInfo, error)
	Lstat(p string) (os.FileInfo, error)
	ReadDir(p string) ([]os.FileInfo, error)
	Mkdir(p string) error
	Remove(p string) error
	RemoveDirectory(p string) error
	Rename(oldname, newname string) error
	OpenFile(p string, flags int) (*sftp.File, error)
	Close() error
}

// DialFunc opens an authenticated session to addr. A server refusing the
// credentials is reported as AUTH_FAILED; any other error counts as a
// network failure.
type DialFunc func(ctx context.Context, addr string, creds auth.Credentials) (Session, error)

// sshSession closes the ssh connection along with the sftp channel.
type sshSession struct {
	*sftp.Client
	conn *ssh.Client
}

func (s *sshSession) Close() error {
	err := s.Client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// HostKeyConfig selects how server host keys are verified.
type HostKeyConfig struct {
	KnownHostsFile string
	Insecure       bool
}

func (c HostKeyConfig) callback() (ssh.HostKeyCallback, error) {
	if c.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := c.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(file)
}

// SSHDialer returns a DialFunc that connects over TCP and authenticates
// with password and keyboard-interactive methods.
func SSHDialer(hostKeys HostKeyConfig, timeout time.Duration) DialFunc {
	return func(ctx context.Context, addr string, creds auth.Credentials) (Session, error) {
		hostKeyCallback, err := hostKeys.callback()
		if err != nil {
			return nil, err
		}
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = creds.Password
			}
			return answers, nil
		}
		cfg := &ssh.ClientConfig{
			User:            creds.Username,
			Auth:            []ssh.AuthMethod{ssh.Password(creds.Password), ssh.KeyboardInteractive(answer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		}

		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			if strings.Contains(err.Error(), "unable to authenticate") {
				return nil, errors.AuthFailed(addr).WithCause(err)
			}
			return nil, err
		}
		client := ssh.NewClient(c, chans, reqs)
		sc, err := sftp.NewClient(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &sshSession{Client: sc, conn: client}, nil
	}
}
