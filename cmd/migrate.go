package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-donations/app/repository"
	"github.com/vibast-solutions/ms-go-donations/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the MySQL schema",
	Long:  "Create the donations and payment_events tables in the database named by MYSQL_DSN.",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := configureLogging(cfg); err != nil {
		return err
	}
	if cfg.Storage.Driver != config.StorageMySQL {
		logrus.WithField("storage", cfg.Storage.Driver).Info("Nothing to migrate")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	db, err := openMySQL(ctx, cfg.MySQL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}

	logrus.WithField("statements", len(repository.SchemaStatements())).Info("Schema applied")
	return nil
}
