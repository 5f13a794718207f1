package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

func newAvailableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List widget types the user can add",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			avail, err := svc.AvailableWidgets(cmd.Context())
			if err != nil {
				return err
			}
			types := make([]string, 0, len(avail))
			for t := range avail {
				types = append(types, t)
			}
			sort.Strings(types)
			rows := make([][]string, 0, len(types))
			for _, t := range types {
				kind := ""
				if c, ok := avail[t].(*widgets.Configurable); ok {
					kind = c.Kind
				}
				rows = append(rows, []string{t, kind})
			}
			return printOutput(cmd, types, []string{"Type", "Kind"}, rows)
		}),
	}
}

type listedWidget struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Position int    `json:"position"`
	State    string `json:"state,omitempty"`
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the user's widgets in order",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ids, err := svc.UserWidgetIDs(ctx)
			if err != nil {
				return err
			}
			items := make([]listedWidget, 0, len(ids))
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				rec, err := a.repo.Record(ctx, id)
				if err != nil {
					return err
				}
				if rec == nil {
					continue
				}
				items = append(items, listedWidget{ID: rec.ID, Type: rec.TypeID, Position: rec.Position, State: rec.State})
				rows = append(rows, []string{rec.ID, rec.TypeID, strconv.Itoa(rec.Position), abbreviate(rec.State, 40)})
			}
			return printOutput(cmd, items, []string{"ID", "Type", "Position", "State"}, rows)
		}),
	}
}

func newInsertCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "insert <type>",
		Short: "Add a widget to the user's dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			id, err := svc.InsertWidget(cmd.Context(), args[0], before)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().StringVar(&before, "before", "", "insert before this widget id (default: append)")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a widget",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			return svc.RemoveWidget(cmd.Context(), args[0])
		}),
	}
}

func newMoveCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a widget before another one, or to the end",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			return svc.MoveWidgetBefore(cmd.Context(), args[0], before)
		}),
	}
	cmd.Flags().StringVar(&before, "before", "", "widget id to move in front of (default: end)")
	return cmd
}

func newSaveStateCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "save-state <id>",
		Short: "Change settings of a widget and persist them",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			inst, err := svc.WidgetInstance(ctx, args[0])
			if err != nil {
				return err
			}
			c, ok := inst.(*widgets.Configurable)
			if !ok {
				return fmt.Errorf("widget %s (%T) has no settings", args[0], inst)
			}
			for _, kv := range sets {
				k, v, err := parseSetting(kv)
				if err != nil {
					return err
				}
				c.Set(k, v)
			}
			return svc.SaveWidgetState(ctx, args[0], c)
		}),
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "setting as key=value; values are parsed as YAML scalars")
	return cmd
}

// parseSetting splits key=value and decodes the value as YAML so that
// numbers and booleans keep their type.
func parseSetting(kv string) (string, any, error) {
	k, raw, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", nil, fmt.Errorf("invalid --set %q: want key=value", kv)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return k, raw, nil
	}
	return k, v, nil
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a widget instance with its restored state",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			svc, _, err := a.service(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			inst, err := svc.WidgetInstance(ctx, args[0])
			if err != nil {
				return err
			}
			rec, err := a.repo.Record(ctx, args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("widget %s: %w", args[0], widgets.ErrNotFound)
			}
			out := struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Position int    `json:"position"`
				Instance any    `json:"instance"`
			}{ID: rec.ID, Type: rec.TypeID, Position: rec.Position, Instance: inst}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
