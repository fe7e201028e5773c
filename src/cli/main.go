package main

import (
	"errors"
	"os"

	"github.com/tplbuild/tplbuild/src/cli/cmd"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

func main() {
	err := cmd.Execute()
	os.Exit(exitCode(err))
}

// exitCode maps a terminal error to the process exit status: 0 success,
// 1 user error (bad config, parse error), 2 build failure, 3 registry
// error, 130 cancellation.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var cancelled *tplerr.Cancelled
	if errors.As(err, &cancelled) {
		return 130
	}

	var buildErr *tplerr.BuildError
	if errors.As(err, &buildErr) {
		return 2
	}

	var registryErr *tplerr.RegistryError
	if errors.As(err, &registryErr) {
		return 3
	}

	var configErr *tplerr.ConfigError
	var parseErr *tplerr.ParseError
	var graphErr *tplerr.GraphError
	var contextErr *tplerr.ContextError
	if errors.As(err, &configErr) || errors.As(err, &parseErr) || errors.As(err, &graphErr) || errors.As(err, &contextErr) {
		return 1
	}

	return 1
}
