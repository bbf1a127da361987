package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/micropub"
)

// HandleCmd returns the handle command.
func HandleCmd(a *app) *Command {
	fs := flag.NewFlagSet("handle", flag.ContinueOnError)
	fs.StringP("file", "f", "", "Read the request from `file` instead of stdin")

	return &Command{
		Flags: fs,
		Usage: "handle [-f file]",
		Short: "Run a Micropub JSON request",
		Long: `Run a Micropub JSON request of any action read from stdin or -f.
Requests without an action create a post. Prints the response as JSON.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errors.New("handle takes no arguments")
			}

			path, _ := fs.GetString("file")

			data, err := a.readInput(o, path)
			if err != nil {
				return err
			}

			req, err := micropub.DecodeRequest(data)
			if err != nil {
				return err
			}

			return a.withService(ctx, func(svc *micropub.Service) error {
				resp, err := svc.Handle(ctx, &a.principal, req)
				if err != nil {
					return err
				}

				return printJSON(o, resp)
			})
		},
	}
}
