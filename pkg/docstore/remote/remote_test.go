package remote_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"testing"

	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/docstore/remote"
	"github.com/calvinalkan/docstore/pkg/uid"
)

var idA = uid.MustParse("01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

// fakeServer is an in-memory file-transfer server.
type fakeServer struct {
	objects map[string][]byte
	log     []string

	sessions int
	open     int

	dialErr error
	// corrupt alters what Retrieve returns for the named object.
	corrupt map[string]bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{objects: map[string][]byte{}, corrupt: map[string]bool{}}
}

func (s *fakeServer) dial(_ context.Context, _ remote.Config) (remote.Conn, error) {
	if s.dialErr != nil {
		return nil, s.dialErr
	}

	s.sessions++
	s.open++

	return &fakeConn{s: s}, nil
}

type fakeConn struct {
	s *fakeServer
}

func (c *fakeConn) Retrieve(path string) ([]byte, error) {
	c.s.log = append(c.s.log, "RETR "+path)

	data, ok := c.s.objects[path]
	if !ok {
		return nil, fmt.Errorf("550 %s: %w", path, os.ErrNotExist)
	}

	out := slices.Clone(data)
	if c.s.corrupt[path] {
		out = append(out, '!')
	}

	return out, nil
}

func (c *fakeConn) Store(path string, data []byte) error {
	c.s.log = append(c.s.log, "STOR "+path)
	c.s.objects[path] = slices.Clone(data)

	return nil
}

func (c *fakeConn) Delete(path string) error {
	c.s.log = append(c.s.log, "DELE "+path)

	if _, ok := c.s.objects[path]; !ok {
		return fmt.Errorf("550 %s: %w", path, os.ErrNotExist)
	}

	delete(c.s.objects, path)

	return nil
}

func (c *fakeConn) Rename(from, to string) error {
	c.s.log = append(c.s.log, "RNFR "+from+" RNTO "+to)

	data, ok := c.s.objects[from]
	if !ok {
		return fmt.Errorf("550 %s: %w", from, os.ErrNotExist)
	}

	delete(c.s.objects, from)
	c.s.objects[to] = data

	return nil
}

func (c *fakeConn) NoOp() error {
	c.s.log = append(c.s.log, "NOOP")

	return nil
}

func (c *fakeConn) Close() error {
	c.s.open--

	return nil
}

const storePath = "/data/store.json"

func newStorage(t *testing.T, srv *fakeServer) *docstore.Storage {
	t.Helper()

	b, err := remote.New(remote.Config{URL: "ftp://example.test", Path: storePath}, remote.Options{Dialer: srv.dial})
	if err != nil {
		t.Fatalf("remote.New: err=%v", err)
	}

	s, err := docstore.New(b, docstore.Options{})
	if err != nil {
		t.Fatalf("docstore.New: err=%v", err)
	}

	return s
}

func Test_Remote_Persists_Documents_When_Reopened(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newFakeServer()

	s := newStorage(t, srv)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: err=%v", err)
	}

	_ = s.Put(ctx, idA, "first", []byte("first_entry"))

	if err := s.Close(ctx, docstore.CloseOptions{}); err != nil {
		t.Fatalf("Close: err=%v", err)
	}

	if _, ok := srv.objects[storePath+".tmp"]; ok {
		t.Fatal("temporary object left behind")
	}

	s = newStorage(t, srv)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("reopen: err=%v", err)
	}

	got, found, err := s.Get(ctx, idA, "first")
	if err != nil || !found || string(got) != "first_entry" {
		t.Fatalf("Get=%q, %v, %v, want first_entry, true, nil", got, found, err)
	}

	if srv.open != 0 {
		t.Fatalf("open sessions=%d, want 0", srv.open)
	}
}

func Test_Remote_Overwrite_Verifies_Upload_Before_Replacing(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.objects[storePath] = []byte("old")

	m, err := remote.NewMedium(remote.Config{URL: "example.test", Path: storePath}, remote.Options{Dialer: srv.dial})
	if err != nil {
		t.Fatalf("NewMedium: err=%v", err)
	}

	if err := m.Overwrite([]byte("new")); err != nil {
		t.Fatalf("Overwrite: err=%v", err)
	}

	want := []string{
		"STOR " + storePath + ".tmp",
		"RETR " + storePath + ".tmp",
		"DELE " + storePath,
		"RNFR " + storePath + ".tmp RNTO " + storePath,
	}

	if !slices.Equal(srv.log, want) {
		t.Fatalf("commands=%q, want %q", srv.log, want)
	}

	if string(srv.objects[storePath]) != "new" {
		t.Fatalf("object=%q, want new", srv.objects[storePath])
	}
}

func Test_Remote_Overwrite_Returns_ErrConsistency_When_Download_Differs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newFakeServer()
	srv.objects[storePath] = []byte(`{}`)
	srv.corrupt[storePath+".tmp"] = true

	s := newStorage(t, srv)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: err=%v", err)
	}

	_ = s.Put(ctx, idA, "k", []byte("v"))

	err := s.Sync(ctx, docstore.SyncOptions{})
	if !errors.Is(err, docstore.ErrConsistency) {
		t.Fatalf("Sync: err=%v, want %v", err, docstore.ErrConsistency)
	}

	if string(srv.objects[storePath]) != `{}` {
		t.Fatalf("original changed to %q", srv.objects[storePath])
	}

	if _, ok := srv.objects[storePath+".tmp"]; ok {
		t.Fatal("unverified temporary object left behind")
	}

	if slices.ContainsFunc(srv.log, func(c string) bool { return c[:4] == "RNFR" }) {
		t.Fatalf("rename issued after failed verification: %q", srv.log)
	}
}

func Test_Remote_Open_Returns_Empty_Store_When_Object_Is_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t, newFakeServer())

	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: err=%v", err)
	}

	if n, err := s.Count(ctx, idA); err != nil || n != 0 {
		t.Fatalf("Count=%d, %v, want 0, nil", n, err)
	}
}

func Test_Remote_Overwrite_Tolerates_Missing_Original(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()

	m, _ := remote.NewMedium(remote.Config{URL: "example.test", Path: storePath}, remote.Options{Dialer: srv.dial})

	if err := m.Overwrite([]byte("first")); err != nil {
		t.Fatalf("Overwrite: err=%v", err)
	}

	if string(srv.objects[storePath]) != "first" {
		t.Fatalf("object=%q, want first", srv.objects[storePath])
	}
}

func Test_Remote_Open_Returns_ErrTransport_When_Dial_Fails(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.dialErr = errors.New("connection refused")

	err := newStorage(t, srv).Open(context.Background())
	if !errors.Is(err, docstore.ErrTransport) {
		t.Fatalf("Open: err=%v, want %v", err, docstore.ErrTransport)
	}
}

func Test_Remote_Allows_Concurrent_Holders_Because_Lock_Is_NoOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newFakeServer()

	first, second := newStorage(t, srv), newStorage(t, srv)

	if err := first.Open(ctx); err != nil {
		t.Fatalf("first Open: err=%v", err)
	}

	if err := second.Open(ctx); err != nil {
		t.Fatalf("second Open: err=%v, want nil", err)
	}
}

func Test_ParseURL_Fills_Default_Ports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want remote.Endpoint
	}{
		{"example.test", remote.Endpoint{Scheme: "ftp", Addr: "example.test:21"}},
		{"ftp://example.test:2121", remote.Endpoint{Scheme: "ftp", Addr: "example.test:2121"}},
		{"sftp://example.test", remote.Endpoint{Scheme: "sftp", Addr: "example.test:22"}},
	}

	for _, tt := range tests {
		got, err := remote.ParseURL(tt.raw)
		if err != nil || got != tt.want {
			t.Fatalf("ParseURL(%q)=%+v, %v, want %+v", tt.raw, got, err, tt.want)
		}
	}

	for _, bad := range []string{"", "http://example.test", "ftp://"} {
		if _, err := remote.ParseURL(bad); err == nil {
			t.Fatalf("ParseURL(%q): err=nil, want error", bad)
		}
	}
}
