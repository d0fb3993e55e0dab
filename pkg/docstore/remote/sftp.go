package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type sftpConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

// DialSFTP connects over SSH with password authentication and starts an
// SFTP session. The server's host key is checked against cfg.KnownHosts
// unless cfg.InsecureSkipHostKey is set.
func DialSFTP(ctx context.Context, cfg Config) (Conn, error) {
	ep, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}

	var d net.Dialer

	netConn, err := d.DialContext(ctx, "tcp", ep.Addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, ep.Addr, clientCfg)
	if err != nil {
		_ = netConn.Close()

		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("start sftp: %w", err)
	}

	return &sftpConn{ssh: client, sftp: sc}, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureSkipHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in
	}

	path := cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}

		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %q: %w", path, err)
	}

	return cb, nil
}

// Retrieve relies on pkg/sftp mapping SSH_FX_NO_SUCH_FILE to os.ErrNotExist.
func (s *sftpConn) Retrieve(path string) ([]byte, error) {
	f, err := s.sftp.Open(path)
	if err != nil {
		return nil, err
	}

	data, readErr := io.ReadAll(f)
	closeErr := f.Close()

	if readErr != nil {
		return nil, readErr
	}

	if closeErr != nil {
		return nil, closeErr
	}

	return data, nil
}

func (s *sftpConn) Store(path string, data []byte) error {
	f, err := s.sftp.Create(path)
	if err != nil {
		return err
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()

	if writeErr != nil {
		return writeErr
	}

	return closeErr
}

func (s *sftpConn) Delete(path string) error {
	return s.sftp.Remove(path)
}

func (s *sftpConn) Rename(from, to string) error {
	return s.sftp.Rename(from, to)
}

// NoOp asks the server for the working directory.
func (s *sftpConn) NoOp() error {
	_, err := s.sftp.Getwd()

	return err
}

func (s *sftpConn) Close() error {
	sftpErr := s.sftp.Close()
	sshErr := s.ssh.Close()

	if sftpErr != nil {
		return sftpErr
	}

	return sshErr
}
