package main

import (
	"encoding/json"
	"fmt"

	"troubadour/benchmark"
	"troubadour/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Open já aplica o schema
		st, err := store.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		logger.Info("schema ready", zap.String("driver", st.Driver()))
		return nil
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench <genre>",
	Short: "Print the benchmark rollup of a genre",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		rollup, err := benchmark.NewService(st, cfg.Cache.BenchmarkTTL).Genre(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rollup)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
		return err
	},
}
