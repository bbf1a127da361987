package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one postgate subcommand.
//
// The name is the first word of Usage. Help is rendered from Usage, Long (or
// Short) and Examples, followed by the flag defaults.
type Command struct {
	Flags *flag.FlagSet

	// Usage follows "postgate" in help, e.g. "update <url> [flags]".
	Usage string
	Short string
	Long  string

	// Examples are complete invocations, printed one per line.
	Examples []string

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's row in the global command list.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-30s %s", c.Usage, c.Short)
}

// WriteHelp writes "postgate <cmd> --help" output to w.
func (c *Command) WriteHelp(w io.Writer) {
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	_, _ = fmt.Fprintf(w, "postgate %s\n\n", c.Usage)

	for line := range strings.SplitSeq(desc, "\n") {
		if line == "" {
			fprintln(w)

			continue
		}

		fprintln(w, "  "+line)
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		fprintln(w, "\nFlags:")

		c.Flags.SetOutput(w)
		c.Flags.PrintDefaults()
	}

	if len(c.Examples) > 0 {
		fprintln(w, "\nExamples:")

		for _, ex := range c.Examples {
			fprintln(w, "  postgate "+ex)
		}
	}
}

// Run parses args and executes the command, returning the exit code.
// --help goes to stdout; usage errors and failures go to stderr only, so
// stdout carries nothing but command output.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(io.Discard)

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.WriteHelp(o.out)

		return 0
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln("usage: postgate", c.Usage)
		o.ErrPrintln("run 'postgate " + c.Name() + " --help' for details")

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}
