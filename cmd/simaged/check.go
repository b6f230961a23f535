package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/simage/catalog"
	"github.com/hupe1980/simage/config"
	"github.com/hupe1980/simage/tenant"
)

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check [user]",
		Short: "Check a user's index, or list all known tenants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				return checkUser(cmd, cfg, args[0])
			}
			return listTenants(cmd, cfg)
		},
	}
}

// checkUser consults the persisted manifest directly, bypassing any catalog,
// so it reports the durable truth.
func checkUser(cmd *cobra.Command, cfg *config.Config, userID string) error {
	store, err := newStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	exists, count, err := tenant.Exists(cmd.Context(), store, userID)
	if err != nil {
		return err
	}

	if !exists {
		cmd.Printf("%s: no index\n", userID)
		return nil
	}
	cmd.Printf("%s: %d images indexed\n", userID, count)
	return nil
}

func listTenants(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.CatalogPath == "" {
		return fmt.Errorf("listing tenants requires catalog_path in the config")
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.List(cmd.Context())
	if err != nil {
		return err
	}

	for _, e := range entries {
		cmd.Printf("%s\t%d\t%s\t%s\n", e.UserID, e.Count, e.BatchID, e.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
