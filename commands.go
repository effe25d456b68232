package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"blitz-proxy/internal/impacts/application"
)

type cliOptions struct {
	configPath string
	debug      bool
	addr       string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "blitz-proxy",
		Short:         "Lightning impact query proxy",
		Long:          `Serves per-equipment lightning impact lists over HTTP from a Postgres impact table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config overlay (defaults to BLITZ_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Expose API docs and log rejected requests")
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print impact corpus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}
	rootCmd.AddCommand(serveCmd, statsCmd, newSeedCommand())
	return rootCmd
}

func (o *cliOptions) load() (config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.debug {
		cfg.Debug = true
	}
	if o.addr != "" {
		cfg.HTTPAddr = o.addr
	}
	return cfg, nil
}

func runStats(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	service, err := application.NewService(store)
	if err != nil {
		return err
	}
	stats, err := service.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return printStats(cmd.OutOrStdout(), stats.Count, stats.First, stats.Last)
}

func printStats(w io.Writer, count int64, first, last any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"nb": count, "first": first, "last": last})
}
