package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/postgres"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// MigrationStatus is the schema state of the PostgreSQL repository.
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func newRepoMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the PostgreSQL repository",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(conn *postgres.Connection) error {
				if err := conn.RunMigrations(); err != nil {
					return err
				}
				PrintSuccess(cmd, "schema is up to date")
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(conn *postgres.Connection) error {
				version, dirty, err := conn.MigrationStatus()
				if err != nil {
					return err
				}
				cliCtx, err := GetCLIContext(cmd)
				if err != nil {
					return err
				}
				st := MigrationStatus{Version: version, Dirty: dirty}
				if cliCtx.OutputFormat == OutputJSON {
					return printJSON(cmd.OutOrStdout(), st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %d\nDirty:   %t\n", st.Version, st.Dirty)
				return nil
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(conn *postgres.Connection) error {
				if err := conn.RollbackMigration(steps); err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("reverted %d migration(s)", steps))
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")

	cmd.AddCommand(up, status, down)
	return cmd
}

// withDatabase connects to the configured repository database.
func withDatabase(cmd *cobra.Command, fn func(conn *postgres.Connection) error) error {
	cliCtx, cfg, err := contextAndConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Repository.Source != "postgres" {
		return errors.InvalidParam("schema migrations need repository.source postgres").
			WithDetail(fmt.Sprintf("source is %q", cfg.Repository.Source))
	}
	conn, err := postgres.NewConnection(cfg.Database, cliCtx.Logger.Named("postgres"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}
