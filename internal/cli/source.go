package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/micropub"
)

// SourceCmd returns the source command.
func SourceCmd(a *app) *Command {
	fs := flag.NewFlagSet("source", flag.ContinueOnError)
	fs.StringArrayP("property", "p", nil, "Only return this `property` (repeatable)")

	return &Command{
		Flags: fs,
		Usage: "source <url> [-p prop]...",
		Short: "Print a post as Micropub JSON",
		Examples: []string{
			"source https://example.com/notes/2023/01/29/01",
			"source https://example.com/notes/2023/01/29/01 -p content -p category",
		},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return ErrURLRequired
			}

			properties, _ := fs.GetStringArray("property")

			return a.withService(ctx, func(svc *micropub.Service) error {
				src, err := svc.Source(ctx, &a.principal, args[0], properties...)
				if err != nil {
					return err
				}

				return printJSON(o, src)
			})
		},
	}
}

func printJSON(o *IO, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	o.Println(string(data))

	return nil
}
