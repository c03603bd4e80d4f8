package phase

import (
	"math"
	"strings"

	"auditline/internal/domain"
)

// Completeness scoring. All scores are integers in [0,100]; ratio-based
// phases round to the nearest integer and treat empty collections as 0.

// Planning factor weights. Each factor is capped individually, then the
// total is capped at 100.
const (
	planningObjectivePoints = 5
	planningObjectiveCap    = 20
	planningTextDensity     = 20 // characters per point
	planningTextCap         = 15
	planningCriterionPoints = 3
	planningCriteriaCap     = 15
	planningResourcePoints  = 5
	planningResourceCap     = 15
	planningSchedulePoints  = 2
	planningScheduleCap     = 10
	planningBudgetFlat      = 10
)

// PlanningScore scores the planning draft fields recorded on an engagement.
func PlanningScore(e domain.Engagement) int {
	score := 0
	score += capAt(len(e.Objectives)*planningObjectivePoints, planningObjectiveCap)
	score += capAt(len(strings.TrimSpace(e.Scope))/planningTextDensity, planningTextCap)
	score += capAt(len(strings.TrimSpace(e.Methodology))/planningTextDensity, planningTextCap)
	score += capAt(len(e.Criteria)*planningCriterionPoints, planningCriteriaCap)
	score += capAt(len(e.Resources)*planningResourcePoints, planningResourceCap)
	score += capAt(len(e.Schedule)*planningSchedulePoints, planningScheduleCap)
	if planningBudget(e) > 0 {
		score += planningBudgetFlat
	}
	return capAt(score, 100)
}

// planningBudget prefers the explicit estimate and falls back to the summed
// resource costs.
func planningBudget(e domain.Engagement) float64 {
	if e.BudgetEstimate > 0 {
		return e.BudgetEstimate
	}
	var total float64
	for _, r := range e.Resources {
		total += r.Cost
	}
	return total
}

// ExecutionScore scores the execution phase. With a work program present the
// score is the completed/total ratio; without one it falls back to the
// three-factor simplified score (findings recorded 40, analysis concluded 30,
// classification performed 30).
func ExecutionScore(items []domain.WorkItem, findingCount int, e domain.Engagement) int {
	if len(items) > 0 {
		completed := 0
		for _, it := range items {
			if it.Status == "completed" {
				completed++
			}
		}
		return ratioPercent(completed, len(items))
	}
	return simplifiedScore(findingCount > 0, e.AnalysisConcluded, e.ClassificationDone)
}

// FindingsScore is the share of findings that reached validated or beyond.
func FindingsScore(findings []domain.Finding) int {
	if len(findings) == 0 {
		return 0
	}
	qualified := 0
	for _, f := range findings {
		switch f.Status {
		case "validated", "communicated", "accepted":
			qualified++
		}
	}
	return ratioPercent(qualified, len(findings))
}

// ReportingScore is the share of reports that reached approved or beyond.
func ReportingScore(reports []domain.Report) int {
	if len(reports) == 0 {
		return 0
	}
	qualified := 0
	for _, r := range reports {
		switch r.Status {
		case "approved", "published", "distributed":
			qualified++
		}
	}
	return ratioPercent(qualified, len(reports))
}

// FollowupScore is the share of action plans implemented or verified.
func FollowupScore(plans []domain.ActionPlan) int {
	if len(plans) == 0 {
		return 0
	}
	qualified := 0
	for _, p := range plans {
		switch p.Status {
		case "implemented", "verified":
			qualified++
		}
	}
	return ratioPercent(qualified, len(plans))
}

// Effective applies the fallback policy: a nonzero stored value wins over a
// fresh recomputation, a stored zero recomputes from live state.
func Effective(stored, computed int) int {
	if stored != 0 {
		return stored
	}
	return computed
}

func simplifiedScore(hasFindings, analysisConcluded, classificationDone bool) int {
	score := 0
	if hasFindings {
		score += 40
	}
	if analysisConcluded {
		score += 30
	}
	if classificationDone {
		score += 30
	}
	return capAt(score, 100)
}

func ratioPercent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func capAt(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}
