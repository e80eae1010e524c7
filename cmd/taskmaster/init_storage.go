package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmaster/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tasks table for the configured storage driver",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		log.Info("storage init starting")

		ctx := context.Background()
		backend, closeStore, err := storage.Open(ctx, storageOptions(cfg))
		if err != nil {
			return err
		}
		defer closeStore()

		// sqlite and postgres migrate on open; the table store needs an explicit create.
		if t, ok := backend.(interface{ EnsureTable(context.Context) error }); ok {
			if err := t.EnsureTable(ctx); err != nil {
				return err
			}
		}
		log.WithField("driver", cfg.Storage.Driver).Info("storage init complete")
		return nil
	},
}
