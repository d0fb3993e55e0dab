// Package remote stores the whole document set as one snapshot object on a
// file-transfer server (FTP or SFTP).
//
// The protocols have no atomic replace, so a write uploads the snapshot to
// "<path>.tmp", downloads it again and compares the bytes. Only on an exact
// match is the original deleted and the temporary object renamed into place.
// On mismatch nothing is renamed and the previous snapshot stays
// authoritative.
//
// There is no lock. Two processes syncing to the same object silently
// overwrite each other's snapshots; the last sync wins.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/pkg/doccache"
	"github.com/calvinalkan/docstore/pkg/docstore"
)

// Supported URL schemes.
const (
	SchemeFTP  = "ftp"
	SchemeSFTP = "sftp"
)

// DefaultTimeout bounds dialing and each session.
const DefaultTimeout = 30 * time.Second

const tempSuffix = ".tmp"

// Config locates the remote snapshot.
type Config struct {
	// URL is "host[:port]", "ftp://host[:port]" or "sftp://host[:port]". A
	// bare host means FTP.
	URL string

	Username string
	Password string

	// Path is the snapshot object path on the server.
	Path string

	// Timeout bounds each session. Defaults to [DefaultTimeout].
	Timeout time.Duration

	// KnownHosts is the known_hosts file used to verify SFTP servers.
	// Defaults to ~/.ssh/known_hosts.
	KnownHosts string

	// InsecureSkipHostKey disables SFTP host key verification.
	InsecureSkipHostKey bool
}

// Endpoint is a parsed [Config.URL].
type Endpoint struct {
	Scheme string
	Addr   string
}

// ParseURL splits raw into scheme and dialable "host:port", filling in the
// default port for the scheme.
func ParseURL(raw string) (Endpoint, error) {
	if raw == "" {
		return Endpoint{}, errors.New("remote: url is empty")
	}

	if !strings.Contains(raw, "://") {
		raw = SchemeFTP + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("remote: parse url: %w", err)
	}

	var port string

	switch u.Scheme {
	case SchemeFTP:
		port = "21"
	case SchemeSFTP:
		port = "22"
	default:
		return Endpoint{}, fmt.Errorf("remote: unsupported scheme %q (want %s or %s)", u.Scheme, SchemeFTP, SchemeSFTP)
	}

	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("remote: url %q has no host", raw)
	}

	if u.Port() != "" {
		port = u.Port()
	}

	return Endpoint{Scheme: u.Scheme, Addr: net.JoinHostPort(u.Hostname(), port)}, nil
}

// Conn is one logged-in session.
//
// Retrieve must return an error matching [os.ErrNotExist] for a missing
// object.
type Conn interface {
	Retrieve(path string) ([]byte, error)
	Store(path string, data []byte) error
	Delete(path string) error
	Rename(from, to string) error
	NoOp() error
	Close() error
}

// Dialer opens a session.
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

// Dial picks the FTP or SFTP dialer by URL scheme.
func Dial(ctx context.Context, cfg Config) (Conn, error) {
	ep, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if ep.Scheme == SchemeSFTP {
		return DialSFTP(ctx, cfg)
	}

	return DialFTP(ctx, cfg)
}

// Options configures a remote store.
type Options struct {
	// Dialer opens sessions. Defaults to [Dial].
	Dialer Dialer

	// Codec serializes the snapshot. Defaults to JSON.
	Codec doccache.Codec

	// Logger receives lifecycle and transfer logs.
	Logger *zap.Logger
}

// Medium is the remote snapshot object. Every hook opens its own session
// and closes it before returning.
type Medium struct {
	cfg  Config
	dial Dialer
	log  *zap.Logger
}

var _ doccache.Medium = (*Medium)(nil)

// NewMedium validates cfg and returns the medium.
func NewMedium(cfg Config, opts Options) (*Medium, error) {
	if _, err := ParseURL(cfg.URL); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, errors.New("remote: path is empty")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	dial := opts.Dialer
	if dial == nil {
		dial = Dial
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Medium{cfg: cfg, dial: dial, log: log}, nil
}

// New returns an unopened backend for the remote snapshot.
func New(cfg Config, opts Options) (*doccache.Backend, error) {
	m, err := NewMedium(cfg, opts)
	if err != nil {
		return nil, err
	}

	return doccache.NewBackend(m, doccache.BackendOptions{
		Codec:  opts.Codec,
		Logger: opts.Logger,
		Name:   cfg.URL + cfg.Path,
	}), nil
}

func (m *Medium) session(fn func(c Conn) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	c, err := m.dial(ctx, m.cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close session: %w", closeErr))
		}
	}()

	return fn(c)
}

// Read downloads the snapshot, or returns nil if the object does not exist.
func (m *Medium) Read() ([]byte, error) {
	var data []byte

	err := m.session(func(c Conn) error {
		var err error

		data, err = c.Retrieve(m.cfg.Path)
		if errors.Is(err, os.ErrNotExist) {
			data = nil

			return nil
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Debug("snapshot downloaded", zap.Int("bytes", len(data)))

	return data, nil
}

// Overwrite uploads data to the temporary object, verifies it by download
// and then moves it over the snapshot.
//
// A verification mismatch returns an error matching
// [docstore.ErrConsistency] and leaves the snapshot untouched.
func (m *Medium) Overwrite(data []byte) error {
	tmp := m.cfg.Path + tempSuffix

	return m.session(func(c Conn) error {
		if err := c.Store(tmp, data); err != nil {
			return fmt.Errorf("upload %q: %w", tmp, err)
		}

		back, err := c.Retrieve(tmp)
		if err != nil {
			return fmt.Errorf("verify %q: %w", tmp, err)
		}

		if !bytes.Equal(back, data) {
			m.log.Warn("upload verification failed",
				zap.String("path", tmp),
				zap.Int("sent", len(data)),
				zap.Int("received", len(back)))

			mismatch := fmt.Errorf("%w: %q: uploaded %d bytes, read back %d", docstore.ErrConsistency, tmp, len(data), len(back))

			if err := c.Delete(tmp); err != nil {
				m.log.Warn("remove unverified upload", zap.String("path", tmp), zap.Error(err))
			}

			return mismatch
		}

		if err := c.Delete(m.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %q: %w", m.cfg.Path, err)
		}

		if err := c.Rename(tmp, m.cfg.Path); err != nil {
			return fmt.Errorf("rename %q: %w", tmp, err)
		}

		m.log.Debug("snapshot uploaded", zap.Int("bytes", len(data)))

		return nil
	})
}

// Lock checks that the server is reachable. It always grants the lock.
func (m *Medium) Lock() (bool, error) {
	err := m.session(func(c Conn) error {
		return c.NoOp()
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// Unlock does nothing.
func (m *Medium) Unlock() error {
	return nil
}
