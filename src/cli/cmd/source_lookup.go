package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sourceLookupFlags struct {
	platform string
}

var sourceLookupCmd = &cobra.Command{
	Use:   "source-lookup <repo> <tag>",
	Short: "Report the locked digest for a source image without contacting the registry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, ok := pipeline.LookupSourceDigest(args[0], args[1], sourceLookupFlags.platform)
		if !ok {
			return fmt.Errorf("no lock recorded for %s:%s", args[0], args[1])
		}
		fmt.Println(digest)
		return nil
	},
}

func init() {
	sourceLookupCmd.Flags().StringVar(&sourceLookupFlags.platform, "platform", "", "platform the lock was recorded under")
	rootCmd.AddCommand(sourceLookupCmd)
}
