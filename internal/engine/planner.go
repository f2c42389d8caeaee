package engine

import (
	"context"

	"github.com/rudi77/taskforce/internal/plan"
)

// PlanGenerator produces the initial plan for a mission.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, mission, toolCatalog string, answers []QA) (*plan.Plan, error)
}

// Replanner repairs a failing task in place and reports which strategy
// it applied. Implementations must fall back to skipping the task when
// no valid strategy can be obtained; Replan returns an error only for
// context cancellation.
type Replanner interface {
	Replan(ctx context.Context, p *plan.Plan, position int) (strategy string, err error)
}
