package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/uid"
)

var errKeyNotFound = errors.New("key not found")

func parseID(raw string) (uid.UID, error) {
	id, err := uid.Parse(raw)
	if err != nil {
		return uid.UID{}, fmt.Errorf("%w: %w", docstore.ErrInvalidID, err)
	}

	return id, nil
}

func (a *app) newIDCmd() *Command {
	return &Command{
		Usage: "new-id",
		Short: "Print a new random document identifier",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			id, err := docstore.GenerateID()
			if err != nil {
				return err
			}

			o.Println(id)

			return nil
		},
	}
}

func (a *app) putCmd() *Command {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	file := fs.StringP("file", "f", "", "Read the payload from `file` (- for stdin)")

	return &Command{
		Flags: fs,
		Usage: "put [-f file] <id> <key> [value]",
		Short: "Store a payload under key",
		Long:  "Store a payload under key, creating the document if needed. The payload is\nthe value argument, or the content of --file.",
		Args:  -1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			var data []byte

			switch {
			case len(args) == 3 && *file == "":
				data = []byte(args[2])
			case len(args) == 2 && *file == "-":
				b, err := io.ReadAll(o.In())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}

				data = b
			case len(args) == 2 && *file != "":
				b, err := os.ReadFile(a.resolve(*file))
				if err != nil {
					return err
				}

				data = b
			default:
				return errors.New("put: expected <id> <key> and either a value or --file")
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				return s.Put(ctx, id, args[1], data)
			})
		},
	}
}

func (a *app) getCmd() *Command {
	return &Command{
		Usage: "get <id> <key>",
		Short: "Print the payload stored under key",
		Args:  2,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				data, found, err := s.Get(ctx, id, args[1])
				if err != nil {
					return err
				}

				if !found {
					return fmt.Errorf("%w: %s %s", errKeyNotFound, id, args[1])
				}

				if _, err := o.Write(data); err != nil {
					return err
				}

				// Keep the shell prompt on its own line.
				if a.session != nil && !bytes.HasSuffix(data, []byte("\n")) {
					o.Println()
				}

				return nil
			})
		},
	}
}

func (a *app) getDocCmd() *Command {
	fs := flag.NewFlagSet("get-doc", flag.ContinueOnError)
	text := fs.Bool("text", false, "Print payloads as text instead of base64")

	return &Command{
		Flags: fs,
		Usage: "get-doc [--text] <id>",
		Short: "Print a whole document as JSON",
		Args:  1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				doc, err := s.GetDocument(ctx, id)
				if err != nil {
					return err
				}

				return printDocument(o, doc, *text)
			})
		},
	}
}

// printDocument prints doc as indented JSON with sorted keys. Payloads are
// base64 unless text is set.
func printDocument(o *IO, doc docstore.Document, text bool) error {
	var v any = map[string][]byte(doc)

	if text {
		m := make(map[string]string, len(doc))
		for k, p := range doc {
			m[k] = string(p)
		}

		v = m
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	o.Println(string(out))

	return nil
}

func (a *app) deleteCmd() *Command {
	return &Command{
		Usage: "delete <id> <key>",
		Short: "Remove a key from a document",
		Args:  2,
		Exec: func(ctx context.Context, _ *IO, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				return s.Delete(ctx, id, args[1])
			})
		},
	}
}

func (a *app) deleteDocCmd() *Command {
	return &Command{
		Usage: "delete-doc <id>",
		Short: "Remove a whole document",
		Args:  1,
		Exec: func(ctx context.Context, _ *IO, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				return s.DeleteDocument(ctx, id)
			})
		},
	}
}

func (a *app) countCmd() *Command {
	return &Command{
		Usage: "count <id>",
		Short: "Print the number of keys in a document",
		Args:  1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return a.withStorage(ctx, func(s *docstore.Storage) error {
				n, err := s.Count(ctx, id)
				if err != nil {
					return err
				}

				o.Println(n)

				return nil
			})
		},
	}
}

func (a *app) listCmd() *Command {
	return &Command{
		Usage: "list",
		Short: "List document identifiers and their key counts",
		Args:  0,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return a.withStorage(ctx, func(s *docstore.Storage) error {
				docs, err := s.Snapshot(ctx)
				if err != nil {
					return err
				}

				ids := make([]string, 0, len(docs))
				for id := range docs {
					ids = append(ids, id.String())
				}

				sort.Strings(ids)

				for _, raw := range ids {
					o.Printf("%s\t%d\n", raw, len(docs[uid.MustParse(raw)]))
				}

				return nil
			})
		},
	}
}

func (a *app) syncCmd() *Command {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	checkpoint := fs.Bool("checkpoint", false, "Truncate the sqlite write-ahead log")

	return &Command{
		Flags: fs,
		Usage: "sync [--checkpoint]",
		Short: "Flush pending changes to the medium",
		Args:  0,
		Exec: func(ctx context.Context, _ *IO, _ []string) error {
			return a.withStorage(ctx, func(s *docstore.Storage) error {
				return s.Sync(ctx, docstore.SyncOptions{Checkpoint: *checkpoint})
			})
		},
	}
}

// resolve makes a user-supplied path relative to the configured working
// directory.
func (a *app) resolve(path string) string {
	if filepath.IsAbs(path) || a.cfg.EffectiveCwd == "" {
		return path
	}

	return filepath.Join(a.cfg.EffectiveCwd, path)
}
