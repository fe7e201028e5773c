package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var basePruneFlags struct {
	profile string
	dryRun  bool
}

var basePruneCmd = &cobra.Command{
	Use:   "base-prune",
	Short: "Delete base image tags no longer reachable from the current template",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := pipeline.Prune(cmd.Context(), basePruneFlags.profile, basePruneFlags.dryRun)
		if err != nil {
			return err
		}
		verb := "deleted"
		if result.DryRun {
			verb = "would delete"
		}
		for _, tag := range result.DeletedTags {
			fmt.Printf("%s %s\n", verb, tag)
		}
		fmt.Printf("%d stale state store entries removed\n", result.RemovedFromStore)
		return nil
	},
}

func init() {
	basePruneCmd.Flags().StringVar(&basePruneFlags.profile, "profile", "", "profile to render with (default: the project's default_profile)")
	basePruneCmd.Flags().BoolVar(&basePruneFlags.dryRun, "dry-run", false, "report what would be deleted without deleting anything")
	rootCmd.AddCommand(basePruneCmd)
}
