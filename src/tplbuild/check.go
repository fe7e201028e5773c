package tplbuild

import (
	"context"

	"github.com/tplbuild/tplbuild/src/planner"
)

// CheckReport summarizes what a build would do without building anything:
// every entry the plan would run, split into what's already satisfied by
// a base-image cache hit and what would actually invoke the builder.
type CheckReport struct {
	Lines         []string
	NeedsBuild    int
	AlreadyCached int
}

// Check resolves req's plan exactly as Build would, but never touches the
// builder client: it exists so base-build --check can report what a real
// invocation would do.
func (p *Pipeline) Check(ctx context.Context, req BuildRequest) (*CheckReport, error) {
	plan, err := p.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{Lines: plan.Describe()}
	for _, e := range plan.Entries {
		if e.Kind == planner.KindCached {
			report.AlreadyCached++
		} else {
			report.NeedsBuild++
		}
	}
	return report, nil
}
