package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"

	"github.com/jlaffaye/ftp"
)

type ftpConn struct {
	c *ftp.ServerConn
}

// DialFTP connects and logs in. An empty username logs in anonymously.
func DialFTP(ctx context.Context, cfg Config) (Conn, error) {
	ep, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	c, err := ftp.Dial(ep.Addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}

	user, pass := cfg.Username, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}

	if err := c.Login(user, pass); err != nil {
		_ = c.Quit()

		return nil, fmt.Errorf("login as %q: %w", user, err)
	}

	return &ftpConn{c: c}, nil
}

func (f *ftpConn) Retrieve(path string) ([]byte, error) {
	r, err := f.c.Retr(path)
	if err != nil {
		return nil, ftpError(err)
	}

	data, readErr := io.ReadAll(r)
	closeErr := r.Close()

	if readErr != nil {
		return nil, readErr
	}

	if closeErr != nil {
		return nil, closeErr
	}

	return data, nil
}

func (f *ftpConn) Store(path string, data []byte) error {
	return f.c.Stor(path, bytes.NewReader(data))
}

func (f *ftpConn) Delete(path string) error {
	return ftpError(f.c.Delete(path))
}

func (f *ftpConn) Rename(from, to string) error {
	return f.c.Rename(from, to)
}

func (f *ftpConn) NoOp() error {
	return f.c.NoOp()
}

func (f *ftpConn) Close() error {
	return f.c.Quit()
}

// ftpError maps "550 file unavailable" to [os.ErrNotExist].
func ftpError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %w", os.ErrNotExist, err)
	}

	return err
}
