package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired trial posts once",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list expired trial posts without deleting them")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	services, _, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer services.Close()

	out := cmd.OutOrStdout()

	if sweepDryRun {
		expired, err := services.Lifecycle.ExpiredCandidates(cmd.Context())
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			fmt.Fprintln(out, "No expired trial posts")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POST ID\tEXPIRES AT")
		fmt.Fprintln(w, "-------\t----------")
		for _, c := range expired {
			fmt.Fprintf(w, "%s\t%s\n", c.ID, c.ExpiresAt)
		}
		w.Flush()
		fmt.Fprintf(out, "\n%d trial posts would be deleted\n", len(expired))
		return nil
	}

	start := time.Now()
	deleted, err := services.Lifecycle.ExpireSweep(cmd.Context())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "sweep failed after %s\n", time.Since(start).Round(time.Millisecond))
		return err
	}
	fmt.Fprintf(out, "Deleted %d expired trial posts\n", deleted)
	return nil
}
