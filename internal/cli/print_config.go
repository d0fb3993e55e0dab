package cli

import (
	"context"
)

func (a *app) printConfigCmd() *Command {
	return &Command{
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Args:  0,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			cfg := a.cfg.Redacted()

			o.Println("effective_cwd=" + cfg.EffectiveCwd)
			o.Println("backend=" + cfg.Backend)
			o.Println("path=" + cfg.PathAbs)
			o.Println("codec=" + cfg.Codec)
			o.Println("log_level=" + cfg.Level.String())

			if cfg.URL != "" {
				o.Println("url=" + cfg.URL)
			}

			if cfg.Username != "" {
				o.Println("username=" + cfg.Username)
			}

			if cfg.Password != "" {
				o.Println("password=" + cfg.Password)
			}

			if cfg.TimeoutDuration != 0 {
				o.Println("timeout=" + cfg.TimeoutDuration.String())
			}

			o.Println("")
			o.Println("# sources")

			src := cfg.Sources
			if src.Global == "" && src.Project == "" && src.DotEnv == "" {
				o.Println("(defaults only)")

				return nil
			}

			if src.Global != "" {
				o.Println("global_config=" + src.Global)
			}

			if src.Project != "" {
				o.Println("project_config=" + src.Project)
			}

			if src.DotEnv != "" {
				o.Println("dotenv=" + src.DotEnv)
			}

			return nil
		},
	}
}
