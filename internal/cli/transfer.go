package cli

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/docstore/internal/config"
	"github.com/calvinalkan/docstore/pkg/doccache"
	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/docstore/local"
	"github.com/calvinalkan/docstore/pkg/filelock"
	"github.com/calvinalkan/docstore/pkg/fs"
	"github.com/calvinalkan/docstore/pkg/uid"
)

func (a *app) exportCmd() *Command {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	codecName := flags.String("codec", doccache.CodecJSON, "Snapshot `codec`: json, msgpack or cbor")

	return &Command{
		Flags: flags,
		Usage: "export [--codec=X] <file>",
		Short: "Write every document to a snapshot file",
		Long: "Write every document to a snapshot file. The file is replaced atomically\n" +
			"while holding <file>.lock, and can be loaded with import.",
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			codec, err := doccache.CodecByName(*codecName)
			if err != nil {
				return err
			}

			target := a.resolve(args[0])
			fsys := fs.NewReal()

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				docs, err := s.Snapshot(ctx)
				if err != nil {
					return err
				}

				wire := make(doccache.Wire, len(docs))
				for id, doc := range docs {
					wire[id.String()] = doc
				}

				data, err := codec.Encode(wire)
				if err != nil {
					return fmt.Errorf("encode snapshot: %w", err)
				}

				err = filelock.WithLock(fsys, target, func() error {
					return fsys.WriteFileAtomic(target, data)
				})
				if err != nil {
					return err
				}

				o.Printf("exported %d documents to %s\n", len(docs), target)

				return nil
			})
		},
	}
}

func (a *app) importCmd() *Command {
	flags := flag.NewFlagSet("import", flag.ContinueOnError)
	codecName := flags.String("codec", doccache.CodecJSON, "Snapshot `codec`: json, msgpack or cbor")

	return &Command{
		Flags: flags,
		Usage: "import [--codec=X] <file>",
		Short: "Load documents from a snapshot file",
		Long: "Load documents from a snapshot file written by export. Keys in the file\n" +
			"overwrite existing keys; other keys are left alone.",
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			codec, err := doccache.CodecByName(*codecName)
			if err != nil {
				return err
			}

			raw, err := fs.NewReal().ReadFile(a.resolve(args[0]))
			if err != nil {
				return err
			}

			wire, err := codec.Decode(raw)
			if err != nil {
				return fmt.Errorf("%w: %w", doccache.ErrCorrupt, err)
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				keys := 0

				for rawID, doc := range wire {
					id, err := uid.Parse(rawID)
					if err != nil {
						return fmt.Errorf("%w: %w", doccache.ErrCorrupt, err)
					}

					for key, data := range doc {
						if err := s.Put(ctx, id, key, data); err != nil {
							return err
						}

						keys++
					}
				}

				o.Printf("imported %d keys in %d documents\n", keys, len(wire))

				return nil
			})
		},
	}
}

func (a *app) unlockCmd() *Command {
	flags := flag.NewFlagSet("unlock", flag.ContinueOnError)
	force := flags.Bool("force", false, "Remove the lock marker even if another process holds it")

	return &Command{
		Flags: flags,
		Usage: "unlock [--force]",
		Short: "Inspect or break the local store's lock marker",
		Long: "Report whether the local store is locked. With --force, remove the marker\n" +
			"left behind by a process that exited without closing the store.",
		Args: 0,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			if a.cfg.Backend != config.BackendLocal {
				return fmt.Errorf("unlock: backend %q has no lock marker", a.cfg.Backend)
			}

			if a.session != nil {
				return errors.New("unlock: cannot break the lock held by this shell")
			}

			locked, err := local.Locked(nil, a.cfg.PathAbs)
			if err != nil {
				return err
			}

			switch {
			case !locked:
				o.Println("not locked")
			case *force:
				if err := local.BreakLock(nil, a.cfg.PathAbs); err != nil {
					return err
				}

				o.Println("lock removed")
			default:
				o.Println("locked:", filelock.MarkerPath(a.cfg.PathAbs))
				o.Warn("store is locked", "if the holder crashed, rerun with --force")
			}

			return nil
		},
	}
}
