package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tplbuild/tplbuild/src/tplbuild"
)

var buildFlags struct {
	profile       string
	platforms     []string
	updateSources bool
	updateSalt    bool
	preserve      bool
}

var buildCmd = &cobra.Command{
	Use:   "build [stage...]",
	Short: "Build the project's publishable stages without pushing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := pipeline.Build(cmd.Context(), tplbuild.BuildRequest{
			Profile:       buildFlags.profile,
			Platforms:     buildFlags.platforms,
			Stages:        args,
			UpdateSources: buildFlags.updateSources,
			UpdateSalt:    buildFlags.updateSalt,
			Preserve:      buildFlags.preserve,
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
	buildCmd.Flags().StringVar(&buildFlags.profile, "profile", "", "profile to render with (default: the project's default_profile)")
	buildCmd.Flags().StringSliceVar(&buildFlags.platforms, "platform", nil, "platform(s) to build, e.g. linux/amd64 (default: the project's configured platforms)")
	buildCmd.Flags().BoolVar(&buildFlags.updateSources, "update-sources", false, "ignore locked source digests and re-resolve them against the registry")
	buildCmd.Flags().BoolVar(&buildFlags.updateSalt, "update-salt", false, "rotate the project salt, invalidating every base image's content hash")
	buildCmd.Flags().BoolVar(&buildFlags.preserve, "preserve", false, "keep intermediate tplbuild-* tags after the build")
	rootCmd.AddCommand(buildCmd)
}
