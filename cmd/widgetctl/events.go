package main

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/faciam-dev/widgetdeck/internal/events"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and retry dead-lettered lifecycle events",
	}
	cmd.AddCommand(newEventsListFailedCmd(), newEventsRetryCmd())
	return cmd
}

func (a *app) dlq() (*events.SQLDLQ, error) {
	if a.db == nil {
		return nil, errors.New("dead-letter queue requires the sql persister")
	}
	return &events.SQLDLQ{DB: a.db, Driver: a.cfg.Driver, TablePrefix: a.cfg.TablePrefix}, nil
}

func newEventsListFailedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls-failed",
		Short: "List events that could not be delivered",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			q, err := a.dlq()
			if err != nil {
				return err
			}
			list, err := q.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, f := range list {
				rows = append(rows, []string{
					strconv.FormatInt(f.ID, 10),
					f.Name,
					strconv.Itoa(f.Attempts),
					abbreviate(f.LastError, 60),
					f.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			return printOutput(cmd, list, []string{"ID", "Name", "Attempts", "Last Error", "Created"}, rows)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events (0 for all)")
	return cmd
}

func newEventsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Deliver a dead-lettered event again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			if a.dispatcher == nil {
				return errors.New("no event sinks configured")
			}
			q, err := a.dlq()
			if err != nil {
				return err
			}
			e, err := q.Retry(cmd.Context(), a.dispatcher, id)
			if err != nil {
				return err
			}
			a.dispatcher.Wait()
			cmd.Printf("redelivered %s (%s)\n", e.ID, e.Name)
			return nil
		}),
	}
}
