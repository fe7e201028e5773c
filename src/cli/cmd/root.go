package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tplbuild/tplbuild/src/logging"
	"github.com/tplbuild/tplbuild/src/tplbuild"
)

var (
	cfgFile     string
	userCfgFile string
	verbose     bool
	rootDir     string
	pipeline    *tplbuild.Pipeline
)

var rootCmd = &cobra.Command{
	Use:   "tplbuild",
	Short: "Templated, reproducible container image builds",
	Long:  "tplbuild renders a templated Dockerfile, resolves and caches base images by content hash, and builds and publishes the results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Configure(os.Stderr, verbose)
		if cmd.Name() == "version" {
			return nil
		}
		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		if rootDir != "" {
			dir = rootDir
		}
		p, err := tplbuild.New(dir, tplbuild.Options{
			ConfigPath:     cfgFile,
			UserConfigPath: userCfgFile,
		})
		if err != nil {
			return fmt.Errorf("loading project: %w", err)
		}
		pipeline = p
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: tplbuild.yml)")
	rootCmd.PersistentFlags().StringVar(&userCfgFile, "user-config", "", "user config file (default: ~/.tplbuildconfig.yml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "project root directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the root command under a context cancelled by SIGINT/SIGTERM,
// so a build in progress gets a chance to stop its subprocess cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
