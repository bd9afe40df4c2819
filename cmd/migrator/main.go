package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/andreyxaxa/Event-Queue/pkg/migrator"
	"github.com/andreyxaxa/Event-Queue/pkg/sqlite"
	"github.com/spf13/cobra"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "migrator",
		Short:        "Applies the embedded events schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("driver", driverPostgres, "store driver: postgres or sqlite")
	rootCmd.PersistentFlags().String("dsn", "", "postgres url or sqlite file path")
	_ = rootCmd.MarkPersistentFlagRequired("dsn")

	// up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, migrator.UpPostgres, migrator.UpSQLite)
		},
	}
	rootCmd.AddCommand(upCmd)

	// down
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, migrator.DownPostgres, migrator.DownSQLite)
		},
	}
	rootCmd.AddCommand(downCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, onPostgres func(string) error, onSQLite func(*sql.DB) error) error {
	driver, _ := cmd.Flags().GetString("driver")
	dsn, _ := cmd.Flags().GetString("dsn")

	var err error
	switch driver {
	case driverPostgres:
		err = onPostgres(dsn)
	case driverSQLite:
		err = withSQLite(dsn, onSQLite)
	default:
		err = fmt.Errorf("unknown driver %q", driver)
	}
	if err != nil {
		return err
	}

	fmt.Printf("migrations %s applied successfully\n", cmd.Name())

	return nil
}

func withSQLite(path string, f func(*sql.DB) error) error {
	s, err := sqlite.New(path)
	if err != nil {
		return err
	}
	defer s.Close()

	return f(s.DB)
}
