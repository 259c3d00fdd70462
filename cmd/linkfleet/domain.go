package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/linkfleet/internal/models"
)

var (
	domainOwner      string
	domainVerified   bool
	domainPublishing bool
	domainRegistered string
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Domain management commands",
}

var domainAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Register a domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runDomainAdd,
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's domains with authority and capacity",
	RunE:  runDomainList,
}

func init() {
	domainCmd.PersistentFlags().StringVar(&domainOwner, "owner", "", "owning user ID")
	domainAddCmd.Flags().BoolVar(&domainVerified, "verified", false, "mark the domain as verified")
	domainAddCmd.Flags().BoolVar(&domainPublishing, "publishing", false, "enable publishing")
	domainAddCmd.Flags().StringVar(&domainRegistered, "registered", "", "registration date (YYYY-MM-DD), defaults to today")
	domainCmd.MarkPersistentFlagRequired("owner")

	domainCmd.AddCommand(domainAddCmd, domainListCmd)
	rootCmd.AddCommand(domainCmd)
}

func runDomainAdd(cmd *cobra.Command, args []string) error {
	d := &models.Domain{
		UserID:            domainOwner,
		Domain:            args[0],
		Verified:          domainVerified,
		PublishingEnabled: domainPublishing,
	}
	if domainRegistered != "" {
		t, err := time.Parse(time.DateOnly, domainRegistered)
		if err != nil {
			return fmt.Errorf("invalid --registered date: %w", err)
		}
		d.CreatedAt = t
	}

	services, _, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Domains.Create(cmd.Context(), d); err != nil {
		return err
	}

	profile, err := services.Ledger.Profile(cmd.Context(), d.ID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), profile)
}

func runDomainList(cmd *cobra.Command, args []string) error {
	services, _, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer services.Close()

	profiles, err := services.Ledger.Profiles(cmd.Context(), domainOwner)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No domains registered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tAGE\tSCORE\tQUALITY\tMONTH\tELIGIBLE")
	fmt.Fprintln(w, "------\t---\t-----\t-------\t-----\t--------")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%dd\t%d\t%s\t%d/%d\t%t\n",
			p.Domain.Domain, p.AgeDays, p.AuthorityScore, p.QualityRating,
			p.CurrentMonthLinks, p.LinkCapacity, p.Eligible())
	}
	return w.Flush()
}
