package cli

import (
	"context"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			execPrintConfig(io, cfg)

			return nil
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("me=" + cfg.Me)
	io.Println("output_dir=" + cfg.OutputDirAbs)
	io.Println("state_dir=" + cfg.StateDirAbs)
	io.Println("store.driver=" + cfg.Store.Driver)

	if cfg.Store.Driver == config.DriverSQLite {
		io.Println("store.dsn=" + cfg.StoreDSN())
	}

	io.Println("extension=" + cfg.Extension)
	io.Println("preserve=" + strings.Join(cfg.Preserve, ","))
	io.Println("create_retries=" + strconv.Itoa(cfg.CreateRetries))
	io.Println("scopes=" + strings.Join(cfg.Scopes, ","))
	io.Println("log_level=" + cfg.LogLevel)
	io.Println("log_format=" + cfg.LogFormat)

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		io.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		io.Println("project_config=" + cfg.Sources.Project)
	}
}
