// Package quota defines the per-plan resource limits enforced at ingestion
// time. It is pure policy: callers supply the current usage and the delta
// being requested, and Check answers whether the plan allows it.
package quota

import "fmt"

// Plan identifies a tenant's subscription plan.
type Plan string

// Known plans.
const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Resource identifies a metered resource kind.
type Resource string

// ResourceEmbeddingUnits meters stored chunks awaiting or holding embeddings.
const ResourceEmbeddingUnits Resource = "embedding_units"

// Unlimited marks a plan/resource pair with no cap.
const Unlimited int64 = -1

var limits = map[Plan]map[Resource]int64{
	PlanFree:       {ResourceEmbeddingUnits: 500},
	PlanStarter:    {ResourceEmbeddingUnits: 10_000},
	PlanPro:        {ResourceEmbeddingUnits: 100_000},
	PlanEnterprise: {ResourceEmbeddingUnits: Unlimited},
}

// ExceededError reports a quota violation with enough detail for the caller
// to surface limit and current usage.
type ExceededError struct {
	Plan      Plan
	Resource  Resource
	Limit     int64
	Used      int64
	Requested int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s on plan %s: limit %d, used %d, requested %d",
		e.Resource, e.Plan, e.Limit, e.Used, e.Requested)
}

// Limit returns the cap for a plan/resource pair. Unknown plans fall back to
// the free plan's limits.
func Limit(plan Plan, resource Resource) int64 {
	planLimits, ok := limits[plan]
	if !ok {
		planLimits = limits[PlanFree]
	}
	limit, ok := planLimits[resource]
	if !ok {
		return 0
	}
	return limit
}

// Check returns nil if the plan allows used+delta units of the resource, or
// an *ExceededError otherwise. The gate is synchronous: callers must invoke
// it before committing new resource-consuming work.
func Check(plan Plan, resource Resource, used, delta int64) error {
	limit := Limit(plan, resource)
	if limit == Unlimited {
		return nil
	}
	if used+delta > limit {
		return &ExceededError{
			Plan:      plan,
			Resource:  resource,
			Limit:     limit,
			Used:      used,
			Requested: delta,
		}
	}
	return nil
}
