package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dreamdiary/coin-market/internal/config"
	"github.com/dreamdiary/coin-market/internal/repository"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StorePostgres {
		return errors.New("migrate requires the postgres store")
	}

	cfg.Database.AutoMigrate = false
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(db); err != nil {
		return err
	}
	cmd.Println("Migrations applied")
	return nil
}
