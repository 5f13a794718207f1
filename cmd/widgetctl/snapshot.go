package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faciam-dev/widgetdeck/internal/config"
	"github.com/faciam-dev/widgetdeck/internal/snapshot"
)

// snapshotStore returns the configured layout storage: S3 when a bucket is
// set, the local snapshot directory otherwise.
func snapshotStore(ctx context.Context, cfg config.Config) (interface {
	snapshot.Dest
	snapshot.Src
}, error) {
	if cfg.Snapshot.S3Bucket != "" {
		return snapshot.NewS3(ctx, cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Prefix)
	}
	return snapshot.LocalDir{Path: cfg.Snapshot.Dir}, nil
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the user's layout",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			u, err := a.userID(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			dest, err := snapshotStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			name, err := snapshot.Export(ctx, a.repo, u, a.cfg.ContextPrefix+u, dest)
			if err != nil {
				return err
			}
			cmd.Println(name)
			return nil
		}),
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Append widgets from an exported layout to the user's dashboard",
		Long: "Reads <file> from the local filesystem when it exists, otherwise " +
			"from the configured snapshot storage.",
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			data, err := readLayout(ctx, a.cfg, args[0])
			if err != nil {
				return err
			}
			l, err := snapshot.Decode(data)
			if err != nil {
				return err
			}
			res, err := snapshot.Import(ctx, svc, a.serializer, l)
			if err != nil {
				return err
			}
			cmd.Printf("imported %d widget(s)", len(res.Imported))
			if len(res.Skipped) > 0 {
				cmd.Printf(", skipped %s", strings.Join(res.Skipped, ", "))
			}
			cmd.Println()
			return nil
		}),
	}
}

func readLayout(ctx context.Context, cfg config.Config, name string) ([]byte, error) {
	if _, err := os.Stat(name); err == nil {
		return os.ReadFile(name) // #nosec G304 -- path supplied by operator
	}
	src, err := snapshotStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return src.Read(ctx, name)
}
