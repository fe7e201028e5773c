package graph

import (
	"strings"

	"github.com/tplbuild/tplbuild/src/dockerfile"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// Config carries the pieces of project configuration the graph builder
// needs but does not own: stage classification prefixes, the set of
// configured context names, and the platform/profile a stage is being
// built for.
type Config struct {
	BasePrefixes []string
	AnonPrefixes []string
	ContextNames map[string]bool
	Platform     string
	Profile      string
	// FilesHash resolves a context name to its files hash. Left nil in
	// tests that only exercise wiring, since not every stage touches a
	// context.
	FilesHash func(contextName string) (string, error)
}

// Graph is the built image-node DAG: one final node per stage, keyed by
// stage name, in parse order.
type Graph struct {
	Stages map[string]Node
	Order  []string
}

// Roots returns the publishable and base-image top-level nodes: every
// stage's final node except stages classified anon, which are never
// published and only survive in the graph if another stage depends on
// them.
func (g *Graph) Roots() []Node {
	var roots []Node
	for _, name := range g.Order {
		n := g.Stages[name]
		switch n.(type) {
		case *BaseImage, *StageImage:
			roots = append(roots, n)
		}
	}
	return roots
}

// Reachable returns the set of nodes reachable from the graph's roots,
// used to identify which anon-stage nodes were pruned for being
// unreferenced by any published or base stage.
func (g *Graph) Reachable() map[Node]bool {
	seen := map[Node]bool{}
	var walk func(Node)
	walk = func(n Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		switch t := n.(type) {
		case *BuildStep:
			walk(t.Parent)
			if t.Context != nil {
				walk(t.Context)
			}
			for _, d := range t.ExtraDeps {
				walk(d)
			}
		case *BaseImage:
			walk(t.Parent)
		case *StageImage:
			walk(t.Parent)
		}
	}
	for _, r := range g.Roots() {
		walk(r)
	}
	return seen
}

// contextConsumer reports whether an instruction verb reads from the
// build context when it has no --from flag.
func contextConsumer(v dockerfile.Verb) bool {
	return v == dockerfile.VerbCopy || v == dockerfile.VerbAdd
}

// Build walks stages in order, constructing the image-node DAG bottom-up.
func Build(stages []dockerfile.Stage, cfg Config) (*Graph, error) {
	if cfg.BasePrefixes == nil {
		cfg.BasePrefixes = dockerfile.DefaultBasePrefixes
	}
	if cfg.AnonPrefixes == nil {
		cfg.AnonPrefixes = dockerfile.DefaultAnonPrefixes
	}

	g := &Graph{Stages: map[string]Node{}}
	ctxNodes := map[string]*ContextImage{}
	anonSet := map[Node]bool{}

	resolveContext := func(name string) (*ContextImage, error) {
		if c, ok := ctxNodes[name]; ok {
			return c, nil
		}
		var hash string
		var err error
		if cfg.FilesHash != nil {
			hash, err = cfg.FilesHash(name)
			if err != nil {
				return nil, &tplerr.GraphError{Kind: "context_hash", Msg: err.Error()}
			}
		}
		c := &ContextImage{ContextName: name, FilesHash: hash}
		ctxNodes[name] = c
		return c, nil
	}

	resolveFrom := func(ref string) Node {
		if term, ok := g.Stages[ref]; ok {
			return term
		}
		if cfg.ContextNames[ref] {
			c, err := resolveContext(ref)
			if err == nil {
				return c
			}
		}
		repo, tag := splitRepoTag(ref)
		return &SourceImage{Repo: repo, Tag: tag, Platform: cfg.Platform}
	}

	for _, stage := range stages {
		base := stage.Base || dockerfile.ClassifyName(stage.Name, cfg.BasePrefixes)
		anon := stage.Anon || dockerfile.ClassifyName(stage.Name, cfg.AnonPrefixes)

		var parent Node
		if term, ok := g.Stages[stage.BaseRef]; ok {
			parent = term
		} else {
			repo, tag := splitRepoTag(stage.BaseRef)
			platform := stage.Platform
			if platform == "" {
				platform = cfg.Platform
			}
			parent = &SourceImage{Repo: repo, Tag: tag, Platform: platform}
		}

		cur := parent
		if anon {
			anonSet[cur] = true
		}

		for _, inst := range stage.Instructions {
			step := &BuildStep{Parent: cur, Instruction: inst, Platform: cfg.Platform}

			if from, ok := inst.Flag("from"); ok {
				step.ExtraDeps = append(step.ExtraDeps, resolveFrom(from))
			} else if contextConsumer(inst.Verb) {
				ctxName := inst.Context
				if ctxName == "" {
					ctxName = dockerfile.DefaultContextName
				}
				c, err := resolveContext(ctxName)
				if err != nil {
					return nil, err
				}
				step.Context = c
			}

			cur = step
			if anon {
				anonSet[cur] = true
			}
		}

		var final Node
		switch {
		case anon:
			final = cur
		case base:
			final = &BaseImage{Parent: cur, StageName: stage.Name, Platform: cfg.Platform, Profile: cfg.Profile}
		default:
			final = &StageImage{Parent: cur, StageName: stage.Name, Platform: cfg.Platform, Profile: cfg.Profile}
		}
		if anon {
			anonSet[final] = true
		}

		g.Stages[stage.Name] = final
		g.Order = append(g.Order, stage.Name)
	}

	if err := validateAcyclic(g); err != nil {
		return nil, err
	}
	if err := validateNoBaseDependsOnAnon(g, anonSet); err != nil {
		return nil, err
	}

	return g, nil
}

// splitRepoTag splits a "repo:tag" or "repo" reference. Digest references
// (repo@sha256:...) are left whole in Repo; source-lock resolution treats
// the whole string as the pinned identity in that case.
func splitRepoTag(ref string) (repo, tag string) {
	if strings.Contains(ref, "@") {
		return ref, ""
	}
	if idx := strings.LastIndex(ref, ":"); idx > strings.LastIndex(ref, "/") {
		return ref[:idx], ref[idx+1:]
	}
	return ref, "latest"
}

func validateAcyclic(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[Node]int{}
	var visit func(Node) error
	visit = func(n Node) error {
		if n == nil {
			return nil
		}
		switch color[n] {
		case black:
			return nil
		case gray:
			return &tplerr.GraphError{Kind: "cycle", Msg: "cycle detected in image graph"}
		}
		color[n] = gray
		switch t := n.(type) {
		case *BuildStep:
			if err := visit(t.Parent); err != nil {
				return err
			}
			if t.Context != nil {
				if err := visit(t.Context); err != nil {
					return err
				}
			}
			for _, d := range t.ExtraDeps {
				if err := visit(d); err != nil {
					return err
				}
			}
		case *BaseImage:
			if err := visit(t.Parent); err != nil {
				return err
			}
		case *StageImage:
			if err := visit(t.Parent); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}
	for _, name := range g.Order {
		if err := visit(g.Stages[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateNoBaseDependsOnAnon(g *Graph, anonSet map[Node]bool) error {
	for _, name := range g.Order {
		b, ok := g.Stages[name].(*BaseImage)
		if !ok {
			continue
		}
		visited := map[Node]bool{}
		var walk func(Node) error
		walk = func(n Node) error {
			if n == nil || visited[n] {
				return nil
			}
			visited[n] = true
			if anonSet[n] {
				return &tplerr.GraphError{
					Kind: "anon_dependency",
					Msg:  "base stage " + name + " depends on an anon stage",
				}
			}
			switch t := n.(type) {
			case *BuildStep:
				if err := walk(t.Parent); err != nil {
					return err
				}
				for _, d := range t.ExtraDeps {
					if err := walk(d); err != nil {
						return err
					}
				}
			case *BaseImage:
				return walk(t.Parent)
			case *StageImage:
				return walk(t.Parent)
			}
			return nil
		}
		if err := walk(b.Parent); err != nil {
			return err
		}
	}
	return nil
}
