package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sourceUpdateFlags struct {
	platform string
}

var sourceUpdateCmd = &cobra.Command{
	Use:   "source-update <repo> <tag>",
	Short: "Force-resolve a source image's digest against the registry and lock it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, err := pipeline.UpdateSourceDigest(cmd.Context(), args[0], args[1], sourceUpdateFlags.platform)
		if err != nil {
			return err
		}
		if err := pipeline.Store.Flush(); err != nil {
			return err
		}
		fmt.Println(digest)
		return nil
	},
}

func init() {
	sourceUpdateCmd.Flags().StringVar(&sourceUpdateFlags.platform, "platform", "", "platform to resolve the digest for")
	rootCmd.AddCommand(sourceUpdateCmd)
}
