package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tplbuild/tplbuild/src/tplbuild"
)

var baseLookupFlags struct {
	profile   string
	platforms []string
}

var baseLookupCmd = &cobra.Command{
	Use:   "base-lookup [stage...]",
	Short: "Report each base stage's current content hash and whether it is already cached",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := pipeline.Check(cmd.Context(), tplbuild.BuildRequest{
			Profile:   baseLookupFlags.profile,
			Platforms: baseLookupFlags.platforms,
			Stages:    args,
			Bases:     true,
		})
		if err != nil {
			return err
		}
		for _, line := range report.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	baseLookupCmd.Flags().StringVar(&baseLookupFlags.profile, "profile", "", "profile to render with (default: the project's default_profile)")
	baseLookupCmd.Flags().StringSliceVar(&baseLookupFlags.platforms, "platform", nil, "platform(s) to look up, e.g. linux/amd64 (default: the project's configured platforms)")
	rootCmd.AddCommand(baseLookupCmd)
}
