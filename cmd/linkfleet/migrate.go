package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// Open migrates on its own; the command exists for deploy scripts
func runMigrate(cmd *cobra.Command, args []string) error {
	services, _, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer services.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
	return nil
}
