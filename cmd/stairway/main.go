package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/stairway/pkg/api"
	"github.com/cuemby/stairway/pkg/client"
	"github.com/cuemby/stairway/pkg/config"
	"github.com/cuemby/stairway/pkg/factory"
	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/stairway"
	"github.com/cuemby/stairway/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stairway",
	Short: "Stairway - durable saga-transaction execution engine",
	Long: `Stairway runs multi-step operations (flights) to completion or to a
clean rollback, surviving process restarts by reconstructing in-flight
state from a relational journal.

This binary runs an instance of the engine (serve) and administers a
running instance over its HTTP API (submit, list, get, count, force-ready,
force-fatal).`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"stairway version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Administrative API address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(forceReadyCmd)
	rootCmd.AddCommand(forceFatalCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Stairway engine instance",
	Long: `Starts the engine: opens the journal, runs recovery, and starts the
worker pool, queue dispatch loop, retention janitor, and administrative
HTTP API. Blocks until interrupted.

serve boots with no flight classes registered, since step/operation
classes are application-supplied (see pkg/stairway.New); applications
that need to run real flights embed pkg/stairway in their own binary
rather than driving it through this command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		classes := factory.NewRegistry()

		engine, err := stairway.New(cfg, classes)
		if err != nil {
			return fmt.Errorf("failed to build engine: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		peers, err := engine.Journal.ListInstances(ctx, cfg.StairwayName)
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}
		if err := engine.Journal.RegisterInstance(ctx, cfg.StairwayName); err != nil {
			return fmt.Errorf("failed to register instance: %w", err)
		}

		if err := engine.Start(ctx, peers); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}

		var leader api.LeaderChecker
		if engine.Cluster != nil {
			leader = engine.Cluster
		}
		health := api.NewHealthServer(engine.Journal, leader)
		srv := api.NewServer(engine.Admission, engine.Journal, health)

		errCh := make(chan error, 1)
		go func() {
			fmt.Printf("stairway: administrative API listening on %s\n", cfg.AdminListenAddr)
			if err := srv.ListenAndServe(cfg.AdminListenAddr); err != nil {
				errCh <- err
			}
		}()

		fmt.Printf("stairway: instance %q running\n", cfg.StairwayName)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nadministrative API error: %v\n", err)
		}

		cancel()
		if err := engine.Journal.DeregisterInstance(context.Background(), cfg.StairwayName); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to deregister instance: %v\n", err)
		}
		if err := engine.Shutdown(context.Background(), 30*time.Second); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}

		fmt.Println("✓ shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML config file (STAIRWAY_* env vars and defaults still apply)")
}

var submitCmd = &cobra.Command{
	Use:   "submit FLIGHT_ID CLASS_NAME",
	Short: "Submit a new flight",
	Long: `Submit creates and schedules a flight, identified by flight_id, of the
given class. Inputs are given as repeated --input KEY=VALUE pairs.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flightID, className := args[0], args[1]
		rawInputs, _ := cmd.Flags().GetStringSlice("input")

		inputs, err := parseInputs(rawInputs)
		if err != nil {
			return err
		}

		c := newClient(cmd)
		if err := c.Submit(cmd.Context(), flightID, className, inputs); err != nil {
			return fmt.Errorf("failed to submit flight: %w", err)
		}

		fmt.Printf("✓ flight submitted: %s (%s)\n", flightID, className)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringSlice("input", nil, "Flight input as KEY=VALUE, may be repeated")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List flights",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		className, _ := cmd.Flags().GetString("class-name")
		pageToken, _ := cmd.Flags().GetString("page-token")
		limit, _ := cmd.Flags().GetInt("limit")

		c := newClient(cmd)
		page, err := c.List(cmd.Context(), journal.EnumerateFilter{
			Status:    types.Status(status),
			ClassName: className,
		}, pageToken, limit)
		if err != nil {
			return fmt.Errorf("failed to list flights: %w", err)
		}

		if len(page.Flights) == 0 {
			fmt.Println("No flights found")
			return nil
		}

		fmt.Printf("%-30s %-25s %-10s %s\n", "FLIGHT_ID", "CLASS", "STATUS", "SUBMITTED")
		for _, f := range page.Flights {
			fmt.Printf("%-30s %-25s %-10s %s\n", f.ID, f.ClassName, f.Status, f.SubmitTime.Format("2006-01-02 15:04:05"))
		}
		if page.NextPageToken != "" {
			fmt.Printf("\nNext page: --page-token %s\n", page.NextPageToken)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "Filter by status (READY, RUNNING, SUCCESS, FATAL, ...)")
	listCmd.Flags().String("class-name", "", "Filter by flight class")
	listCmd.Flags().String("page-token", "", "Resume from a previous page's next-page-token")
	listCmd.Flags().Int("limit", 20, "Maximum flights per page")
}

var getCmd = &cobra.Command{
	Use:   "get FLIGHT_ID",
	Short: "Show a single flight's row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		row, err := c.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get flight: %w", err)
		}

		out, err := json.MarshalIndent(row, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count flights grouped by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		counts, err := c.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to count flights: %w", err)
		}

		for status, n := range counts {
			fmt.Printf("%-10s %d\n", status, n)
		}
		return nil
	},
}

var forceReadyCmd = &cobra.Command{
	Use:   "force-ready FLIGHT_ID",
	Short: "Override a flight's status to READY, bypassing the state machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.ForceReady(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to force-ready flight: %w", err)
		}
		fmt.Printf("✓ flight %s forced to READY\n", args[0])
		return nil
	},
}

var forceFatalCmd = &cobra.Command{
	Use:   "force-fatal FLIGHT_ID",
	Short: "Override a flight's status to FATAL, bypassing the state machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.ForceFatal(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to force-fatal flight: %w", err)
		}
		fmt.Printf("✓ flight %s forced to FATAL\n", args[0])
		return nil
	},
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

// parseInputs turns repeated KEY=VALUE strings into an InputParams map.
func parseInputs(raw []string) (types.InputParams, error) {
	inputs := types.InputParams{}
	for _, kv := range raw {
		idx := strings.Index(kv, "=")
		if idx < 0 {
			return nil, fmt.Errorf("--input %q is not in KEY=VALUE form", kv)
		}
		key, value := kv[:idx], kv[idx+1:]
		inputs[key] = decodeInputValue(value)
	}
	return inputs, nil
}

// decodeInputValue tries int64, then bool, then falls back to the raw
// string, so simple flags like --input retries=3 don't require quoting.
func decodeInputValue(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
