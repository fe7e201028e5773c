package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tplbuild/tplbuild/src/tplbuild"
)

var publishFlags struct {
	profile       string
	platforms     []string
	updateSources bool
	updateSalt    bool
	preserve      bool
}

var publishCmd = &cobra.Command{
	Use:   "publish [stage...]",
	Short: "Build the project's publishable stages and push them to their configured push names",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := pipeline.Build(cmd.Context(), tplbuild.BuildRequest{
			Profile:       publishFlags.profile,
			Platforms:     publishFlags.platforms,
			Stages:        args,
			UpdateSources: publishFlags.updateSources,
			UpdateSalt:    publishFlags.updateSalt,
			Preserve:      publishFlags.preserve,
			Publish:       true,
		})
		if err != nil {
			return err
		}
		for _, tag := range result.BuiltTags {
			fmt.Println(tag)
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishFlags.profile, "profile", "", "profile to render with (default: the project's default_profile)")
	publishCmd.Flags().StringSliceVar(&publishFlags.platforms, "platform", nil, "platform(s) to build, e.g. linux/amd64 (default: the project's configured platforms)")
	publishCmd.Flags().BoolVar(&publishFlags.updateSources, "update-sources", false, "ignore locked source digests and re-resolve them against the registry")
	publishCmd.Flags().BoolVar(&publishFlags.updateSalt, "update-salt", false, "rotate the project salt, invalidating every base image's content hash")
	publishCmd.Flags().BoolVar(&publishFlags.preserve, "preserve", false, "keep intermediate tplbuild-* tags after the build")
	rootCmd.AddCommand(publishCmd)
}
