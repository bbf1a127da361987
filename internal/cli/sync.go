package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/micropub"
)

// SyncCmd returns the sync command.
func SyncCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("sync", flag.ContinueOnError),
		Usage: "sync",
		Short: "Rebuild the output tree from the store",
		Long: `Remove every generated document under output_dir and write all posts again.
Files listed in preserve and files with other extensions are left alone.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return a.withService(ctx, func(svc *micropub.Service) error {
				report, err := svc.Sync(ctx)
				if err != nil {
					return err
				}

				o.Printf("removed %d documents and %d directories, wrote %d documents\n",
					report.DocumentsRemoved, report.DirectoriesRemoved, report.DocumentsWritten)

				return nil
			})
		},
	}
}
