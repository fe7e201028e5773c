// Package tplerr defines the typed error kinds tplbuild surfaces to callers
// and to the CLI's exit-code mapping (see src/cli/main.go).
package tplerr

import "fmt"

// ConfigError reports a malformed tplbuild.yml/.tplbuildconfig.yml, an
// unknown profile, or a missing required field such as base_image_repo.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Msg)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// ParseError reports a Dockerfile syntax failure.
type ParseError struct {
	Line int
	Col  int
	Kind string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d (%s): %s", e.Line, e.Col, e.Kind, e.Msg)
}

// GraphError reports an unresolved FROM, an undefined stage reference, or a
// cycle detected while lowering stages into the image-node DAG.
type GraphError struct {
	Kind string
	Msg  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph error (%s): %s", e.Kind, e.Msg)
}

// ContextError reports a missing base_dir, an unreadable file, or a
// malformed ignore pattern while resolving a build context.
type ContextError struct {
	Context string
	Msg     string
	Err     error
}

func (e *ContextError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("context %q: %s: %v", e.Context, e.Msg, e.Err)
	}
	return fmt.Sprintf("context %q: %s", e.Context, e.Msg)
}

func (e *ContextError) Unwrap() error { return e.Err }

// RegistryError reports an HTTP failure, an auth failure, or a malformed
// manifest returned by the registry client. Transient is set on errors
// that are safe to retry with backoff (see src/registry).
type RegistryError struct {
	Kind      string
	Status    int
	Transient bool
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry error (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("registry error (%s): %v", e.Kind, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// BuildError reports a non-zero exit from the builder subprocess. Tail
// holds the last lines of the builder's captured stderr (default 50).
type BuildError struct {
	Entry string
	Tail  []string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build error in %q: %v", e.Entry, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// StateError reports a corrupted or unreadable state file.
type StateError struct {
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error (%s): %v", e.Path, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// Cancelled is returned by any operation aborted via a cancellation signal.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %s", e.Reason)
}
