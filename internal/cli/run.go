package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// args includes the program name. env is the process environment; it is read,
// never modified.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string) int {
	o := NewIO(in, out, errOut)

	globals := flag.NewFlagSet("docstore", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	var (
		workDir    = globals.StringP("cwd", "C", "", "Run as if started in `dir`")
		configPath = globals.StringP("config", "c", "", "Use specified config `file`")
		overrides  config.Overrides
	)

	globals.StringVar(&overrides.Backend, "backend", "", "Storage backend: local, remote or sqlite")
	globals.StringVar(&overrides.Path, "path", "", "Store `path` (file, database or remote object)")
	globals.StringVar(&overrides.URL, "url", "", "Remote server `url` (ftp://host or sftp://host)")
	globals.StringVar(&overrides.Username, "username", "", "Remote username")
	globals.StringVar(&overrides.Password, "password", "", "Remote password")

	err := globals.Parse(args[min(1, len(args)):])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(o, globals)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		printUsage(o.Stderr(), globals)

		return 1
	}

	rest := globals.Args()
	if len(rest) == 0 {
		printUsage(o, globals)

		return 0
	}

	cfg, err := config.Load(config.Input{
		WorkDir:    *workDir,
		ConfigPath: *configPath,
		Env:        env,
		Flags:      overrides,
	})
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	log := newLogger(errOut, cfg.Level)
	defer func() { _ = log.Sync() }()

	a := &app{cfg: cfg, log: log, env: env}

	name, cmdArgs := rest[0], rest[1:]

	cmd := a.lookup(name)
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", name)
		o.ErrPrintln()
		printUsage(o.Stderr(), globals)

		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	return cmd.Run(ctx, o, cmdArgs)
}

// app carries resolved settings into commands.
type app struct {
	cfg config.Config
	log *zap.Logger
	env map[string]string

	// session is the storage shared by shell commands; nil outside the shell.
	session *session
}

// commands returns fresh command instances. Flag sets keep parsed values, so
// every invocation needs its own.
func (a *app) commands() []*Command {
	cmds := []*Command{
		a.newIDCmd(),
		a.putCmd(),
		a.getCmd(),
		a.getDocCmd(),
		a.deleteCmd(),
		a.deleteDocCmd(),
		a.countCmd(),
		a.listCmd(),
		a.syncCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.unlockCmd(),
		a.printConfigCmd(),
	}

	if a.session == nil {
		cmds = append(cmds, a.shellCmd())
	} else {
		cmds = append(cmds, a.statsCmd())
	}

	return cmds
}

func (a *app) lookup(name string) *Command {
	for _, c := range a.commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func printUsage(o *IO, globals *flag.FlagSet) {
	o.Println(`docstore - document key-value store

Usage: docstore [global flags] <command> [args]

Global flags:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	o.Printf("%s", buf.String())

	o.Println()
	o.Println("Commands:")

	cmds := (&app{}).commands()
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })

	for _, c := range cmds {
		o.Println(c.HelpLine())
	}
}

// Environ converts os.Environ into a map.
func Environ() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	return env
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
