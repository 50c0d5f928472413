// Package main provides the entry point for the grabber CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeanboutros/monday-grabber/cmd/grabber/config"
	"github.com/jeanboutros/monday-grabber/pkg/client"
	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/executor"
	"github.com/jeanboutros/monday-grabber/pkg/metrics"
	"github.com/jeanboutros/monday-grabber/pkg/models"
	"github.com/jeanboutros/monday-grabber/pkg/queries"
	"github.com/jeanboutros/monday-grabber/pkg/writers"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "grabber",
	Short: "monday.com board grabber",
	Long: `Fetches paginated board data from the monday.com GraphQL API,
flattens it with declarative jq transforms, and writes typed tables
to CSV, JSON or Parquet.`,
}

var grabCmd = &cobra.Command{
	Use:   "grab <query-name>",
	Short: "Run a configured query and write its table",
	Args:  cobra.ExactArgs(1),
	Example: `  grabber grab get_board_items --entity 1234567890
  grabber grab get_board_items --board main_board --format csv
  GRABBER_TOKEN=... grabber grab get_board_items --entity 1 --entity 2`,
	RunE: runGrab,
}

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "List configured queries",
	RunE:  runQueries,
}

func init() {
	rootCmd.AddCommand(grabCmd)
	rootCmd.AddCommand(queriesCmd)

	grabCmd.Flags().StringP("config", "c", "", "config file path")
	grabCmd.Flags().String("endpoint", client.DefaultEndpoint, "GraphQL API endpoint")
	grabCmd.Flags().String("token", "", "API token")
	grabCmd.Flags().String("queries-dir", "queries", "directory of .graphql documents")
	grabCmd.Flags().String("queries-config", "config/queries.yaml", "per-query configuration file")
	grabCmd.Flags().StringArray("entity", nil, "target entity ID (repeatable)")
	grabCmd.Flags().StringArray("board", nil, "configured board key (repeatable)")
	grabCmd.Flags().StringP("output", "o", "", "output path (overrides query config)")
	grabCmd.Flags().String("format", "", "output format: csv, json or parquet")
	grabCmd.Flags().Int("max-pages", 0, "pagination safety cap override")
	grabCmd.Flags().Int("concurrency", 1, "parallel entity fetches")
	grabCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	grabCmd.Flags().Bool("metrics", false, "enable Prometheus metrics")
	grabCmd.Flags().Bool("dry-run", false, "resolve and validate the query, fetch nothing")

	queriesCmd.Flags().String("queries-dir", "queries", "directory of .graphql documents")
	queriesCmd.Flags().String("queries-config", "config/queries.yaml", "per-query configuration file")

	for _, cmd := range []*cobra.Command{grabCmd, queriesCmd} {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			panic(fmt.Errorf("failed to bind flags: %w", err))
		}
	}
	viper.SetEnvPrefix("GRABBER")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("grabber\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Flag spellings differ from the struct keys.
	if v := viper.GetString("queries-dir"); v != "" {
		cfg.QueriesDir = v
	}
	if v := viper.GetString("queries-config"); v != "" {
		cfg.QueriesConfig = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetInt("concurrency"); v > 0 {
		cfg.Concurrency = v
	}
	if viper.GetBool("metrics") {
		cfg.Metrics = true
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func runQueries(cmd *cobra.Command, args []string) error {
	loader, err := queries.NewLoader(viper.GetString("queries-dir"), viper.GetString("queries-config"))
	if err != nil {
		return err
	}
	names := loader.Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runGrab(cmd *cobra.Command, args []string) error {
	queryName := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	loader, err := queries.NewLoader(cfg.QueriesDir, cfg.QueriesConfig)
	if err != nil {
		return err
	}
	spec, err := loader.Resolve(queryName)
	if err != nil {
		return err
	}
	if v := viper.GetInt("max-pages"); v > 0 {
		spec.Pagination.MaxPages = v
	}

	entityIDs, err := resolveEntities(loader)
	if err != nil {
		return err
	}

	if viper.GetBool("dry-run") {
		logger.Info().
			Str("query", spec.Name).
			Strs("entities", entityIDs).
			Str("transform", spec.Transform).
			Msg("dry run: query spec is valid")
		return nil
	}

	apiClient, err := client.New(client.Options{
		Endpoint:    cfg.Endpoint,
		Token:       cfg.Token,
		APIVersion:  cfg.APIVersion,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.RequestTimeout,
	}, logger)
	if err != nil {
		return err
	}

	collector := metrics.Collector(metrics.NewNoOpCollector())
	if cfg.Metrics {
		collector = metrics.NewPrometheusCollector(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := executor.New(apiClient, logger,
		executor.WithConcurrency(cfg.Concurrency),
		executor.WithMetrics(collector),
	)
	result, err := exec.Execute(ctx, spec, entityIDs)
	printReport(result)
	if err != nil {
		return err
	}

	outputPath, writer, err := resolveOutput(cfg, spec)
	if err != nil {
		return err
	}
	written, err := writer.Write(result.Table, outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d rows to %s\n", result.Table.NumRows(), written)
	return nil
}

// resolveEntities merges --entity IDs and --board config keys in flag order
// per list; explicit IDs come first.
func resolveEntities(loader *queries.Loader) ([]string, error) {
	entityIDs := viper.GetStringSlice("entity")
	for _, key := range viper.GetStringSlice("board") {
		id, err := loader.BoardID(key)
		if err != nil {
			return nil, err
		}
		entityIDs = append(entityIDs, id)
	}
	if len(entityIDs) == 0 {
		return nil, errors.New(errors.CodeConfigInvalid, "no entities: pass --entity or --board")
	}
	return entityIDs, nil
}

func resolveOutput(cfg *config.Config, spec *models.QuerySpec) (string, writers.Writer, error) {
	path := viper.GetString("output")
	if path == "" {
		path = spec.Output.Path
	}
	if path == "" {
		path = filepath.Join(cfg.OutputDir, spec.Name)
	}

	format := models.OutputFormat(viper.GetString("format"))
	if format == "" {
		format = spec.Output.Format
	}
	if format != "" {
		w, err := writers.ForFormat(format)
		return path, w, err
	}
	w, err := writers.ForPath(path)
	return path, w, err
}

// printReport prints the per-entity outcome summary. The run always
// reports per-entity success and every attributable error.
func printReport(result *executor.Result) {
	if result == nil {
		return
	}
	fmt.Printf("run %s query=%s\n", result.RunID, result.Query)
	for _, o := range result.Outcomes {
		if o.Err != nil {
			fmt.Printf("  entity %s: FAILED after %d page(s): %v\n", o.Entity, o.Pages, o.Err)
			continue
		}
		fmt.Printf("  entity %s: %d page(s), %d record(s)\n", o.Entity, o.Pages, o.Records)
	}
	for _, err := range result.Errors {
		if p, ok := errors.ProvenanceOf(err); ok {
			fmt.Printf("  error [%s]: %v\n", p, err)
		} else {
			fmt.Printf("  error: %v\n", err)
		}
	}
	if result.Degraded {
		fmt.Println("  result is DEGRADED: some rows or entities are missing")
	}
}
