package main

import (
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/faciam-dev/widgetdeck/internal/notify"
	"github.com/faciam-dev/widgetdeck/internal/registry/catalog"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the widget catalog",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			entries := a.catalog.List()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.ID, e.Name, e.Kind, strconv.FormatBool(e.Unique), e.MinVersion})
			}
			return printOutput(cmd, entries, []string{"ID", "Name", "Kind", "Unique", "MinVersion"}, rows)
		}),
	}
	cmd.AddCommand(newCatalogNotifyCmd())
	return cmd
}

// newCatalogNotifyCmd tells running watchers that the catalog changed.
func newCatalogNotifyCmd() *cobra.Command {
	var removed bool
	cmd := &cobra.Command{
		Use:   "notify [id]",
		Short: "Tell running watchers to reload the catalog",
		Long:  "Without an id a full reload is requested. With an id the entry is announced as changed, or as removed with --remove.",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			var ns []notify.Notifier
			if a.cfg.Redis.URL != "" {
				opt, err := redis.ParseURL(a.cfg.Redis.URL)
				if err != nil {
					return err
				}
				rdb := redis.NewClient(opt)
				defer rdb.Close()
				ns = append(ns, notify.NewRedisNotifier(rdb, a.cfg.Redis.Channel))
			}
			if a.db != nil && a.cfg.Driver == "postgres" {
				ns = append(ns, notify.NewPGNotifier(a.db, catalog.DefaultPGChannel))
			}
			if len(ns) == 0 {
				return errors.New("no notifier configured: set redis.url or use postgres")
			}
			for _, n := range ns {
				var err error
				switch {
				case len(args) == 0:
					err = n.NotifyReload(ctx)
				case removed:
					err = n.NotifyEntryRemoved(ctx, args[0])
				default:
					err = n.NotifyEntryChanged(ctx, args[0])
				}
				if err != nil {
					return err
				}
			}
			cmd.Printf("notified %d channel(s)\n", len(ns))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&removed, "remove", false, "announce the entry as removed")
	return cmd
}
