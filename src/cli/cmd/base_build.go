package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tplbuild/tplbuild/src/tplbuild"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

var baseBuildFlags struct {
	profile       string
	platforms     []string
	check         bool
	updateSources bool
	updateSalt    bool
	preserve      bool
}

var baseBuildCmd = &cobra.Command{
	Use:   "base-build [stage...]",
	Short: "Build and push base images that are missing from the base image repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := tplbuild.BuildRequest{
			Profile:       baseBuildFlags.profile,
			Platforms:     baseBuildFlags.platforms,
			Stages:        args,
			Bases:         true,
			UpdateSources: baseBuildFlags.updateSources,
			UpdateSalt:    baseBuildFlags.updateSalt,
			Preserve:      baseBuildFlags.preserve,
		}

		if baseBuildFlags.check {
			report, err := pipeline.Check(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, line := range report.Lines {
				fmt.Println(line)
			}
			if report.NeedsBuild > 0 {
				return &tplerr.BuildError{Entry: "base-build --check", Err: fmt.Errorf("%d base image(s) out of date", report.NeedsBuild)}
			}
			return nil
		}

		result, err := pipeline.Build(cmd.Context(), req)
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
	baseBuildCmd.Flags().StringVar(&baseBuildFlags.profile, "profile", "", "profile to render with (default: the project's default_profile)")
	baseBuildCmd.Flags().StringSliceVar(&baseBuildFlags.platforms, "platform", nil, "platform(s) to build, e.g. linux/amd64 (default: the project's configured platforms)")
	baseBuildCmd.Flags().BoolVar(&baseBuildFlags.check, "check", false, "compute the plan and report which base images are out of date without building anything")
	baseBuildCmd.Flags().BoolVar(&baseBuildFlags.updateSources, "update-sources", false, "ignore locked source digests and re-resolve them against the registry")
	baseBuildCmd.Flags().BoolVar(&baseBuildFlags.updateSalt, "update-salt", false, "rotate the project salt, invalidating every base image's content hash")
	baseBuildCmd.Flags().BoolVar(&baseBuildFlags.preserve, "preserve", false, "keep intermediate tplbuild-* tags after the build")
	rootCmd.AddCommand(baseBuildCmd)
}
