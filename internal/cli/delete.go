package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/micropub"
)

// DeleteCmd returns the delete command.
func DeleteCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: "delete <url>",
		Short: "Delete a post",
		Long:  "Delete the post at <url>. Its id is never handed out again.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return ErrURLRequired
			}

			return a.withService(ctx, func(svc *micropub.Service) error {
				tomb, err := svc.Delete(ctx, &a.principal, args[0])
				if err != nil {
					return err
				}

				o.Println("deleted", tomb.ID)

				return nil
			})
		},
	}
}
