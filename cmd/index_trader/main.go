package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"index_trader/internal/bootstrap"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "index_trader",
		Short:   "Agent-driven index portfolio rebalancer",
		Long:    "index_trader keeps a portfolio aligned with a target distribution decided by an agent team.",
		Version: fmt.Sprintf("%s (built %s)", version, buildTime),
	}
	rootCmd.PersistentFlags().StringP("config", "c", "configs/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newRebalanceCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newHistoryCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadApp(cmd *cobra.Command) (*bootstrap.App, error) {
	path, _ := cmd.Flags().GetString("config")
	app, err := bootstrap.NewApp(path)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return app, nil
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run scheduled rebalance cycles until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(app.Runners()...)
		},
	}
}

func newRebalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebalance",
		Short: "Run a single rebalance cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := app.Controller.RunCycle(ctx)
			if out != nil {
				if perr := printJSON(out); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the team execution order and the classification without trading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Team != nil {
				fmt.Printf("Execution order: %v\n", app.Team.ExecutionOrder())
			}
			preview, err := app.Controller.Preview(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(preview)
		},
	}
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent rebalance cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Store == nil {
				return fmt.Errorf("app.database_path is not configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			cycles, err := app.Store.RecentCycles(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROFILE\tSTARTED\tDURATION\tORDERS\tERROR")
			sort.SliceStable(cycles, func(i, j int) bool { return cycles[i].StartedAt.After(cycles[j].StartedAt) })
			for _, c := range cycles {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					c.ID, c.Status, c.Profile, c.StartedAt.Format(time.RFC3339), c.Duration, len(c.OrderIDs), c.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of cycles to show")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
