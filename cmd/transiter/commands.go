package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"transiter.dev/transiter/internal/app"
	"transiter.dev/transiter/internal/models"
	"transiter.dev/transiter/internal/parse"
	"transiter.dev/transiter/internal/systemconfig"
)

type appRunner func(run func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInstallCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "install <system config file>",
		Short: "Install or update a system and its feeds",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			cfg, err := systemconfig.LoadFile(args[0])
			if err != nil {
				return err
			}
			result, err := systemconfig.Install(cmd.Context(), a.DB, cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		}),
	}
}

func newDeleteSystemCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-system <system id>",
		Short: "Delete a system with its feeds and entities",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			return systemconfig.DeleteSystem(cmd.Context(), a.DB, args[0])
		}),
	}
}

func newUpdateCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "update <system id> <feed id>",
		Short: "Run one feed update now",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			result, runErr := a.Runner.RunUpdate(cmd.Context(), args[0], args[1])
			if result.UpdateID != "" {
				if err := printJSON(cmd, models.NewUpdateResult(result)); err != nil {
					return err
				}
			}
			return runErr
		}),
	}
}

func newUpdatesCommand(withApp appRunner) *cobra.Command {
	updates := &cobra.Command{
		Use:   "updates",
		Short: "Inspect and prune recorded feed updates",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list <system id> <feed id>",
		Short: "List the most recent updates of a feed",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			rows, err := a.Runner.ListUpdates(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, models.NewFeedUpdates(rows))
		}),
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of updates to list")

	var olderThan time.Duration
	trim := &cobra.Command{
		Use:   "trim",
		Short: "Delete finished updates that no entity depends on",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			deleted, err := a.Runner.TrimUpdates(cmd.Context(), a.Clock.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d feed updates\n", deleted)
			return err
		}),
	}
	trim.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "only trim updates that started before this long ago")

	updates.AddCommand(list, trim)
	return updates
}

func newParseCommand() *cobra.Command {
	var transfersConfigPath string
	cmd := &cobra.Command{
		Use:   "parse <GTFS_STATIC|GTFS_REALTIME> <file>",
		Short: "Parse a feed file and dump the entities without storing them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts parse.Options
			if transfersConfigPath != "" {
				blob, err := os.ReadFile(transfersConfigPath)
				if err != nil {
					return err
				}
				if opts.Transfers, err = parse.LoadTransfersConfig(blob); err != nil {
					return err
				}
			}
			parser, err := parse.New(parse.Format(args[0]), opts)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			result, err := parser.Parse(cmd.Context(), content)
			if err != nil {
				return err
			}
			spew.Fdump(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&transfersConfigPath, "transfers-config", "", "YAML station grouping config for static feeds")
	return cmd
}

func newStopsCommand(withApp appRunner) *cobra.Command {
	stops := &cobra.Command{
		Use:   "stops",
		Short: "Query the stop hierarchy",
	}
	var stationsOnly bool
	descendants := &cobra.Command{
		Use:   "descendants <system id> <stop id>...",
		Short: "List each stop and the stops below it",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			tree, err := a.StopDescendants(cmd.Context(), args[0], args[1:], stationsOnly)
			if err != nil {
				return err
			}
			return printJSON(cmd, tree)
		}),
	}
	descendants.Flags().BoolVar(&stationsOnly, "stations-only", false, "only report and walk through stations")
	stops.AddCommand(descendants)
	return stops
}

func newAlertsCommand(withApp appRunner) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "alerts <system id> <routes|stops|trips|agencies> <id>...",
		Short: "List the alerts active for entities",
		Args:  cobra.MinimumNArgs(3),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			when := a.Clock.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				when = t
			}
			matched, err := a.ActiveAlerts(cmd.Context(), args[0], args[1], args[2:], when)
			if err != nil {
				return err
			}
			return printJSON(cmd, models.NewAlertsByEntity(matched))
		}),
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to evaluate active periods at, default now")
	return cmd
}

func newTransfersCommand(withApp appRunner) *cobra.Command {
	transfers := &cobra.Command{
		Use:   "transfers",
		Short: "Manage inter-system transfers configs",
	}

	var systemIDs []string
	var distance float64
	addBuildFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringSliceVar(&systemIDs, "system", nil, "system to connect, repeat for each system")
		cmd.Flags().Float64Var(&distance, "distance", 0, "maximum transfer distance in meters")
	}

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Show the transfers a config would create",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			built, err := a.Transfers.Preview(cmd.Context(), systemIDs, distance)
			if err != nil {
				return err
			}
			return printJSON(cmd, models.NewTransfers(built))
		}),
	}
	addBuildFlags(preview)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a config and its transfers",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			pk, err := a.Transfers.Create(cmd.Context(), systemIDs, distance)
			if err != nil {
				return err
			}
			return printConfig(cmd, a, pk)
		}),
	}
	addBuildFlags(create)

	update := &cobra.Command{
		Use:   "update <config id>",
		Short: "Rebuild a config, optionally with new systems or distance",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			pk, err := parseConfigID(args[0])
			if err != nil {
				return err
			}
			var newSystems []string
			if cmd.Flags().Changed("system") {
				newSystems = systemIDs
			}
			var newDistance *float64
			if cmd.Flags().Changed("distance") {
				newDistance = &distance
			}
			if err := a.Transfers.Update(cmd.Context(), pk, newSystems, newDistance); err != nil {
				return err
			}
			return printConfig(cmd, a, pk)
		}),
	}
	addBuildFlags(update)

	list := &cobra.Command{
		Use:   "list",
		Short: "List transfers configs",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			configs, err := a.Transfers.List(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]models.TransfersConfig, 0, len(configs))
			for _, c := range configs {
				out = append(out, models.NewTransfersConfig(c))
			}
			return printJSON(cmd, out)
		}),
	}

	get := &cobra.Command{
		Use:   "get <config id>",
		Short: "Show a config and its transfers",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			pk, err := parseConfigID(args[0])
			if err != nil {
				return err
			}
			return printConfig(cmd, a, pk)
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <config id>",
		Short: "Delete a config and its transfers",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			pk, err := parseConfigID(args[0])
			if err != nil {
				return err
			}
			return a.Transfers.Delete(cmd.Context(), pk)
		}),
	}

	transfers.AddCommand(preview, create, update, list, get, deleteCmd)
	return transfers
}

func parseConfigID(raw string) (int64, error) {
	pk, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transfers config id %q is not an integer", raw)
	}
	return pk, nil
}

func printConfig(cmd *cobra.Command, a *app.Application, pk int64) error {
	config, err := a.Transfers.Get(cmd.Context(), pk)
	if err != nil {
		return err
	}
	return printJSON(cmd, models.NewTransfersConfig(config))
}

func newDBCommand(withApp appRunner) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Inspect the database",
	}
	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the table and index definitions",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			return a.DB.PrintSimpleSchema(cmd.Context(), cmd.OutOrStdout())
		}),
	}
	counts := &cobra.Command{
		Use:   "counts",
		Short: "Print the number of rows in each table",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			counts, err := a.DB.TableCounts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, counts)
		}),
	}
	db.AddCommand(schema, counts)
	return db
}

func newServeCommand(withApp appRunner) *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled feed updates and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			if cmd.Flags().Changed("metrics-addr") {
				a.Config.MetricsAddr = metricsAddr
			}
			srv, api := CreateServer(a, addr)
			defer api.Shutdown()
			servers := []*http.Server{srv}
			if a.Config.MetricsAddr != "" {
				servers = append(servers, createMetricsServer(a))
			}

			ctx, stop := signalContext()
			defer stop()
			return Run(ctx, a, servers...)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("TRANSITER_ADDR", ":8080"), "address of the admin API")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "separate address for /metrics, default the admin API address")
	return cmd
}
