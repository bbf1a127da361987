// Package cli implements the postgate command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/config"
	"github.com/calvinalkan/postgate/internal/micropub"
)

const helpFlag = "--help"

// Run is the main entry point. Returns exit code.
//
// args includes the program name. A value on sigCh cancels the running
// command.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if len(args) < 2 {
		printUsage(out)

		return 0
	}

	globals := flag.NewFlagSet("postgate", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(io.Discard)

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use specified config `file`")
	outputDir := globals.String("output-dir", "", "Override output_dir")
	verbose := globals.BoolP("verbose", "v", false, "Log at debug level")
	scopes := globals.StringSlice("scope", nil, "Scopes granted to this invocation (default: config scopes)")
	lockTimeout := globals.Duration("lock-timeout", micropub.DefaultLockTimeout, "Wait at most `d` for the sync lock (0: fail if held, <0: wait forever)")
	help := globals.BoolP("help", "h", false, "Show help")

	err := globals.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)

		return 1
	}

	rest := globals.Args()
	if *help || len(rest) == 0 || rest[0] == "help" {
		printUsage(out)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride:   *workDir,
		ConfigPath:        *configPath,
		OutputDirOverride: *outputDir,
		Verbose:           *verbose,
		Env:               env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	a := newApp(cfg, errOut)
	a.lockTimeout = *lockTimeout

	if globals.Changed("scope") {
		a.principal.Scopes = *scopes
	}

	o := NewIO(in, out, errOut)

	for _, cmd := range commands(a) {
		if cmd.Name() == rest[0] {
			return cmd.Run(ctx, o, rest[1:])
		}
	}

	fprintln(errOut, "error: unknown command:", rest[0])
	printUsage(errOut)

	return 1
}

func commands(a *app) []*Command {
	return []*Command{
		CreateCmd(a),
		UpdateCmd(a),
		DeleteCmd(a),
		SourceCmd(a),
		HandleCmd(a),
		SyncCmd(a),
		PrintConfigCmd(&a.cfg),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `postgate - Micropub publishing gateway

Usage: postgate [options] <command> [args]

Options:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
      --output-dir <dir> Override output_dir
      --scope <scopes>   Scopes granted to this invocation
      --lock-timeout <d> Max wait for the sync lock (0 fails at once, <0 waits forever)
  -v, --verbose          Log at debug level

Commands:`)

	for _, cmd := range commands(&app{}) {
		fprintln(w, cmd.HelpLine())
	}
}
