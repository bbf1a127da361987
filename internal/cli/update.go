package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/postgate/internal/micropub"
	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

// ErrURLRequired is returned when a command needs a post URL.
var ErrURLRequired = errors.New("post URL is required")

// UpdateCmd returns the update command.
func UpdateCmd(a *app) *Command {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.String("add", "", "JSON object of properties to add")
	fs.String("replace", "", "JSON object of properties to replace")
	fs.String("delete", "", "JSON list of properties, or object of values, to delete")

	return &Command{
		Flags: fs,
		Usage: "update <url> [flags]",
		Short: "Update a post",
		Long:  "Apply add, replace and delete operations to the post at <url>, in that order.\nadd overwrites the values of each key it names, like replace.",
		Examples: []string{
			`update https://example.com/notes/2023/01/29/01 --add '{"category": ["foo"]}'`,
			`update https://example.com/notes/2023/01/29/01 --delete '{"category": ["foo"]}'`,
			`update https://example.com/notes/2023/01/29/01 --delete '["category"]'`,
		},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return ErrURLRequired
			}

			upd, err := updateFromFlags(fs)
			if err != nil {
				return err
			}

			return execUpdate(ctx, o, a, args[0], upd)
		},
	}
}

func updateFromFlags(fs *flag.FlagSet) (post.Update, error) {
	var upd post.Update

	for _, name := range []string{"add", "replace"} {
		raw, _ := fs.GetString(name)
		if raw == "" {
			continue
		}

		var bag props.Bag

		err := json.Unmarshal([]byte(raw), &bag)
		if err != nil {
			return post.Update{}, fmt.Errorf("--%s: %w", name, err)
		}

		if name == "add" {
			upd.Add = &bag
		} else {
			upd.Replace = &bag
		}
	}

	raw, _ := fs.GetString("delete")
	if raw != "" {
		var del post.Deletion

		err := json.Unmarshal([]byte(raw), &del)
		if err != nil {
			return post.Update{}, fmt.Errorf("--delete: %w", err)
		}

		upd.Delete = &del
	}

	return upd, nil
}

func execUpdate(ctx context.Context, o *IO, a *app, url string, upd post.Update) error {
	return a.withService(ctx, func(svc *micropub.Service) error {
		p, err := svc.Update(ctx, &a.principal, url, upd)
		if err != nil {
			return err
		}

		o.Println(svc.URLFor(p.ID))

		return nil
	})
}
