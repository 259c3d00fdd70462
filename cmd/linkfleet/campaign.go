package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planPostsPerDomain int

var planCmd = &cobra.Command{
	Use:   "plan <campaign-id>",
	Short: "Build and store a distribution plan for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

var executeCmd = &cobra.Command{
	Use:   "execute <campaign-id>",
	Short: "Publish a campaign's latest plan",
	Long:  `Publish the posts of a campaign's latest plan, building a plan first when none is stored.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

func init() {
	planCmd.Flags().IntVar(&planPostsPerDomain, "posts-per-domain", 0, "posts per domain (0 uses executor.posts_per_domain)")
	rootCmd.AddCommand(planCmd, executeCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planPostsPerDomain < 0 {
		return fmt.Errorf("--posts-per-domain must not be negative")
	}

	services, _, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer services.Close()

	c, err := services.Campaign.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("campaign %s: %w", args[0], err)
	}

	plan, err := services.Campaign.BuildPlan(cmd.Context(), c, planPostsPerDomain)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), plan)
}

func runExecute(cmd *cobra.Command, args []string) error {
	services, _, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer services.Close()

	res, err := services.Executor.Execute(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
