package dockerfile

import "strings"

// DefaultContextName is the context name a stage is bound to when its
// project config does not say otherwise.
const DefaultContextName = "default"

// Stage is a contiguous run of instructions beginning with FROM.
type Stage struct {
	// Name is the stage's identifier: either the explicit `AS name` or the
	// stage's index (as a string) if unnamed.
	Name string
	// Explicit reports whether Name came from an `AS name` clause rather
	// than being defaulted to the stage index.
	Explicit bool
	// BaseRef is the FROM operand: either another stage's name or an
	// external image reference.
	BaseRef string
	// Platform is the optional --platform flag on FROM.
	Platform string
	// Context is the build context this stage's COPY/ADD instructions
	// read from. Starts at DefaultContextName and can be rebound with
	// PUSHCONTEXT.
	Context string
	// Instructions holds every instruction in the stage after FROM.
	Instructions []Instruction
	// Base is true if the stage name matches a configured base-image
	// prefix (base-/base_) or was flagged explicitly by project config.
	Base bool
	// Anon is true if the stage name matches a configured anon prefix
	// (anon-/anon_). Anonymous stages are never published.
	Anon bool
}

// DefaultBasePrefixes and DefaultAnonPrefixes are the stage-name prefixes
// recognized when the project config does not override classification.
var (
	DefaultBasePrefixes = []string{"base-", "base_"}
	DefaultAnonPrefixes = []string{"anon-", "anon_"}
)

// ClassifyName reports whether name matches any of the given prefixes.
func ClassifyName(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
