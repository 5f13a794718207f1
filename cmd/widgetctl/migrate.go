package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/faciam-dev/widgetdeck/pkg/migrator"
)

func newMigrateCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:       "migrate [up|down|current]",
		Short:     "Manage the widget schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "current"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.Persister != "sql" {
				return fmt.Errorf("migrate requires the sql persister, got %q", cfg.Persister)
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			m := migrator.NewWithDriverAndPrefix(cfg.Driver, cfg.TablePrefix)
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			target, err := parseTarget(m, to)
			if err != nil {
				return err
			}
			switch action {
			case "up":
				err = m.Up(ctx, db, target)
			case "down":
				if to == "latest" {
					// step back one version unless a target is given
					cur, cerr := m.Current(ctx, db)
					if cerr != nil {
						return cerr
					}
					target = cur - 1
				}
				err = m.Down(ctx, db, target)
			case "current":
			default:
				return fmt.Errorf("unknown action %q", action)
			}
			if err != nil {
				return err
			}
			cur, err := m.Current(ctx, db)
			if err != nil {
				return err
			}
			log.Infow("schema", "action", action, "version", cur, "semver", m.SemVer(cur))
			cmd.Printf("schema version %d (%s)\n", cur, m.SemVer(cur))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "latest", "target version (number, semver or latest; down defaults to one step)")
	return cmd
}

// parseTarget accepts "latest", an integer version or a schema semver.
func parseTarget(m *migrator.Migrator, to string) (int, error) {
	if to == "" || to == "latest" {
		return 0, nil
	}
	if v, err := strconv.Atoi(to); err == nil {
		return v, nil
	}
	if v, ok := m.SemVerToInt(to); ok {
		return v, nil
	}
	return 0, fmt.Errorf("invalid --to %q", to)
}
