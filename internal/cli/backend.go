package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/internal/config"
	"github.com/calvinalkan/docstore/pkg/doccache"
	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/docstore/local"
	"github.com/calvinalkan/docstore/pkg/docstore/remote"
	"github.com/calvinalkan/docstore/pkg/docstore/sqlite"
)

// openBackend builds the backend selected by cfg. The backend is not opened.
func openBackend(cfg config.Config, log *zap.Logger) (docstore.Backend, error) {
	codec, err := doccache.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendLocal:
		return local.New(cfg.PathAbs, local.Options{Codec: codec, Logger: log})
	case config.BackendRemote:
		return remote.New(remote.Config{
			URL:                 cfg.URL,
			Username:            cfg.Username,
			Password:            cfg.Password,
			Path:                cfg.PathAbs,
			Timeout:             cfg.TimeoutDuration,
			KnownHosts:          cfg.KnownHosts,
			InsecureSkipHostKey: cfg.InsecureSkipHostKey,
		}, remote.Options{Codec: codec, Logger: log})
	case config.BackendSQLite:
		return sqlite.New(cfg.PathAbs, sqlite.Options{Logger: log})
	default:
		return nil, fmt.Errorf("%w: %q", docstore.ErrUnknownBackend, cfg.Backend)
	}
}

// session is an open storage plus the registry its metrics go to.
type session struct {
	store    *docstore.Storage
	registry *prometheus.Registry
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	backend, err := openBackend(a.cfg, a.log)
	if err != nil {
		return nil, err
	}

	s := &session{registry: prometheus.NewRegistry()}

	s.store, err = docstore.New(backend, docstore.Options{Logger: a.log, Registerer: s.registry})
	if err != nil {
		return nil, err
	}

	if err := s.store.Open(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// withStorage runs fn against the shell's storage, or opens one for the
// duration of fn and closes it on every exit path.
func (a *app) withStorage(ctx context.Context, fn func(s *docstore.Storage) error) error {
	if a.session != nil {
		return fn(a.session.store)
	}

	backend, err := openBackend(a.cfg, a.log)
	if err != nil {
		return err
	}

	return docstore.WithStorage(ctx, backend, docstore.Options{Logger: a.log}, fn)
}
