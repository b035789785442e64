package pumprelay

import (
	"github.com/edgeflare/pumprelay/pkg/pgx"
	"github.com/edgeflare/pumprelay/pkg/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the pump_telemetry table and its indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := pgx.NewPool(cmd.Context(), cfg.Database.URL, pgx.PoolOptions{
			MaxConns:       1,
			PingMaxElapsed: cfg.Database.PingMaxElapsed,
			Logger:         logger.Named("pgx"),
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.NewPostgres(pool).Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema up to date")
		return nil
	},
}
