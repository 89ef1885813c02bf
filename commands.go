package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"crypto-gateway/config"
	"crypto-gateway/logging"
	"crypto-gateway/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the transaction store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLogger(""); err != nil {
				return err
			}
			defer logging.Sync()

			cfg := config.Load()
			ctx := cmd.Context()

			store, err := storage.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open transaction store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logging.Info("Transaction store migrated", zap.String("driver", cfg.DBDriver))
			return nil
		},
	}
}

func gatewaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "Print the resolved gateway configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			gateways, err := config.LoadGateways(cfg.GatewaysFile)
			if err != nil {
				return err
			}

			all, err := gateways.Gateways(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]config.Gateway, 0, len(all))
			for _, g := range all {
				out = append(out, g.Redacted())
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		},
	}
}
