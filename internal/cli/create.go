package cli

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/micropub"
)

// CreateCmd returns the create command.
func CreateCmd(a *app) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.StringP("file", "f", "", "Read the request from `file` instead of stdin")

	return &Command{
		Flags: fs,
		Usage: "create [-f file]",
		Short: "Create a post from a JSON request",
		Long:  "Create a post from a Micropub JSON create request read from stdin or -f.\nPrints the URL of the new post.",
		Examples: []string{
			`create -f note.json`,
			`create <<< '{"type": ["h-entry"], "properties": {"content": ["Hello World!"]}}'`,
		},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errors.New("create takes no arguments")
			}

			path, _ := fs.GetString("file")

			return execCreate(ctx, o, a, path)
		},
	}
}

func execCreate(ctx context.Context, o *IO, a *app, path string) error {
	data, err := a.readInput(o, path)
	if err != nil {
		return err
	}

	req, err := micropub.DecodeRequest(data)
	if err != nil {
		return err
	}

	if req.Action != "" && req.Action != micropub.ActionCreate {
		return fmt.Errorf("create: request has action %q, use handle", req.Action)
	}

	return a.withService(ctx, func(svc *micropub.Service) error {
		p, err := svc.Create(ctx, &a.principal, req.Type.First(), req.Properties)
		if err != nil {
			return err
		}

		o.Println(svc.URLFor(p.ID))

		return nil
	})
}
