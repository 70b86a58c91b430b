package entitlements

import "strings"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanCreator Plan = "creator"
	PlanStudio  Plan = "studio"
)

// ParsePlan normalizes a stored plan string. Unknown values fall back to free.
func ParsePlan(s string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanCreator:
		return PlanCreator
	case PlanStudio:
		return PlanStudio
	default:
		return PlanFree
	}
}

// MonthlyCredits returns the generation credit allowance granted to a plan
// each billing period.
func MonthlyCredits(plan Plan) int64 {
	switch plan {
	case PlanStudio:
		return 1000
	case PlanCreator:
		return 200
	default:
		return 10
	}
}

// MaxImageSize returns the largest generation size a plan may request.
func MaxImageSize(plan Plan) string {
	switch plan {
	case PlanStudio:
		return "1792x1024"
	case PlanCreator:
		return "1024x1024"
	default:
		return "512x512"
	}
}

func rank(plan Plan) int {
	switch plan {
	case PlanStudio:
		return 2
	case PlanCreator:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether plan grants at least the entitlements of min.
func AtLeast(plan, min Plan) bool {
	return rank(plan) >= rank(min)
}
