package executor

import (
	"fmt"
	"strings"

	"github.com/tplbuild/tplbuild/src/graph"
	"github.com/tplbuild/tplbuild/src/planner"
)

// nameFunc resolves a graph node to the image reference the builder
// should use for it, either a locally-built tag already assigned by the
// plan or an externally pinned digest reference.
type nameFunc func(graph.Node) (string, error)

// renderChain renders a plan entry's chain of BuildSteps into inline
// Dockerfile text: a FROM line naming the chain's root, followed by each
// step's canonical instruction with any --from flag rewritten to the
// resolved name of the dependency it points at.
func renderChain(entry planner.PlanEntry, name nameFunc) (string, error) {
	rootName, err := name(entry.Root)
	if err != nil {
		return "", fmt.Errorf("resolving chain root: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", rootName)

	for _, step := range entry.Chain {
		inst := step.Instruction
		if _, ok := inst.Flag("from"); ok {
			if len(step.ExtraDeps) == 0 {
				return "", fmt.Errorf("build step %q has a from flag but no resolved dependency", inst.Raw)
			}
			depName, err := name(step.ExtraDeps[0])
			if err != nil {
				return "", fmt.Errorf("resolving --from dependency: %w", err)
			}
			flags := make(map[string]string, len(inst.Flags))
			for k, v := range inst.Flags {
				flags[k] = v
			}
			flags["from"] = depName
			inst.Flags = flags
		}
		b.WriteString(inst.Canonical())
		b.WriteByte('\n')
	}

	return b.String(), nil
}
