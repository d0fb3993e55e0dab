package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/peterh/liner"

	"github.com/calvinalkan/docstore/pkg/docstore"
)

const shellPrompt = "docstore> "

// lineReader is the part of [liner.State] the shell needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
}

// scanReader reads lines from a non-terminal input such as a pipe.
type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return r.sc.Text(), nil
}

func (*scanReader) AppendHistory(string) {}

// historyFile returns the path to the history file.
func historyFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".docstore_history")
}

func (a *app) shellCmd() *Command {
	return &Command{
		Usage: "shell",
		Short: "Open the store once and run commands interactively",
		Long: "Open the store once and read commands line by line until exit or EOF.\n" +
			"Lines are split like a POSIX shell, so quote values with spaces. The\n" +
			"lock is held for the whole session.",
		Args: 0,
		Exec: func(ctx context.Context, o *IO, _ []string) (err error) {
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}

			// Registered first so it runs after the line editor is restored.
			defer func() {
				if closeErr := s.store.Close(context.WithoutCancel(ctx), docstore.CloseOptions{}); closeErr != nil {
					err = errors.Join(err, closeErr)
				}
			}()

			shellApp := *a
			shellApp.session = s

			var lines lineReader

			if f, ok := o.In().(*os.File); ok && f == os.Stdin {
				state := liner.NewLiner()
				defer state.Close()

				state.SetCtrlCAborts(true)
				state.SetCompleter(shellApp.complete)

				history := historyFile(a.env)
				if hf, err := os.Open(history); err == nil {
					_, _ = state.ReadHistory(hf)
					_ = hf.Close()
				}

				defer func() {
					if history == "" {
						return
					}

					if hf, err := os.Create(history); err == nil {
						_, _ = state.WriteHistory(hf)
						_ = hf.Close()
					}
				}()

				lines = state
			} else {
				lines = &scanReader{sc: bufio.NewScanner(o.In())}
			}

			return shellApp.loop(ctx, o, lines)
		},
	}
}

// loop runs commands until exit, EOF or cancellation. Command failures are
// printed and do not end the session.
func (a *app) loop(ctx context.Context, o *IO, lines lineReader) error {
	for ctx.Err() == nil {
		line, err := lines.Prompt(shellPrompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lines.AppendHistory(line)

		words, err := shlex.Split(line)
		if err != nil {
			o.ErrPrintln("error:", err)

			continue
		}

		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			a.printShellHelp(o)

			continue
		}

		cmd := a.lookup(words[0])
		if cmd == nil {
			o.ErrPrintln("error: unknown command:", words[0], "(type 'help' for commands)")

			continue
		}

		_ = cmd.Run(ctx, o, words[1:])
	}

	return ctx.Err()
}

func (a *app) printShellHelp(o *IO) {
	cmds := a.commands()
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })

	for _, c := range cmds {
		o.Println(c.HelpLine())
	}

	o.Println(fmt.Sprintf("  %-30s %s", "exit", "Close the store and leave the shell"))
}

// complete offers command names for the first word.
func (a *app) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}

	var out []string

	for _, c := range a.commands() {
		if strings.HasPrefix(c.Name(), line) {
			out = append(out, c.Name())
		}
	}

	sort.Strings(out)

	return out
}

func (a *app) statsCmd() *Command {
	return &Command{
		Usage: "stats",
		Short: "Show operation counts for this session",
		Args:  0,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			families, err := a.session.registry.Gather()
			if err != nil {
				return err
			}

			for _, mf := range families {
				if mf.GetName() != "docstore_operations_total" {
					continue
				}

				for _, m := range mf.GetMetric() {
					labels := make([]string, 0, len(m.GetLabel()))
					for _, l := range m.GetLabel() {
						labels = append(labels, l.GetName()+"="+l.GetValue())
					}

					o.Printf("%s\t%.0f\n", strings.Join(labels, " "), m.GetCounter().GetValue())
				}
			}

			return nil
		},
	}
}
