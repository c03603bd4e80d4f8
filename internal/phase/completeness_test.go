package phase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"auditline/internal/domain"
)

func TestPlanningScoreEmptyDraftIsZero(t *testing.T) {
	assert.Equal(t, 0, PlanningScore(domain.Engagement{}))
}

func TestPlanningScorePartialDraft(t *testing.T) {
	e := domain.Engagement{
		Objectives: []string{"assess access controls", "verify segregation of duties"},
		Scope:      strings.Repeat("x", 50),
		Criteria:   []string{"ISO 27001 A.9"},
	}
	// 2 objectives = 10, 50 chars scope = 2, 1 criterion = 3.
	assert.Equal(t, 15, PlanningScore(e))
}

func TestPlanningScoreAllFactorsCapped(t *testing.T) {
	e := domain.Engagement{
		Objectives:  []string{"a", "b", "c", "d", "e"},
		Scope:       strings.Repeat("s", 400),
		Methodology: strings.Repeat("m", 400),
		Criteria:    []string{"1", "2", "3", "4", "5", "6"},
		Resources: []domain.Resource{
			{Name: "r1"}, {Name: "r2"}, {Name: "r3"}, {Name: "r4"},
		},
		Schedule: []domain.ScheduleItem{
			{Activity: "1"}, {Activity: "2"}, {Activity: "3"},
			{Activity: "4"}, {Activity: "5"}, {Activity: "6"},
		},
		BudgetEstimate: 12000,
	}
	// 20+15+15+15+15+10+10 capped at 100.
	assert.Equal(t, 100, PlanningScore(e))
}

func TestPlanningScoreScopeWhitespaceTrimmed(t *testing.T) {
	e := domain.Engagement{Scope: "   " + strings.Repeat("x", 20) + "   "}
	assert.Equal(t, 1, PlanningScore(e))
}

func TestPlanningScoreBudgetFromResourceCosts(t *testing.T) {
	e := domain.Engagement{Resources: []domain.Resource{{Name: "auditor", Cost: 500}}}
	// 1 resource = 5, computed budget > 0 = 10.
	assert.Equal(t, 15, PlanningScore(e))
}

func TestExecutionScoreWorkProgramRatio(t *testing.T) {
	items := []domain.WorkItem{
		{Status: "completed"},
		{Status: "completed"},
		{Status: "in_progress"},
	}
	assert.Equal(t, 67, ExecutionScore(items, 0, domain.Engagement{}))
}

func TestExecutionScoreSimplifiedFallback(t *testing.T) {
	e := domain.Engagement{AnalysisConcluded: true, ClassificationDone: true}
	assert.Equal(t, 100, ExecutionScore(nil, 1, e))
	assert.Equal(t, 60, ExecutionScore(nil, 0, e))
	assert.Equal(t, 40, ExecutionScore(nil, 3, domain.Engagement{}))
	assert.Equal(t, 0, ExecutionScore(nil, 0, domain.Engagement{}))
}

func TestFindingsScore(t *testing.T) {
	assert.Equal(t, 0, FindingsScore(nil))
	all := []domain.Finding{
		{Status: "validated"},
		{Status: "communicated"},
		{Status: "accepted"},
	}
	assert.Equal(t, 100, FindingsScore(all))
	mixed := append(all, domain.Finding{Status: "identified"}, domain.Finding{Status: "rejected"})
	assert.Equal(t, 60, FindingsScore(mixed))
}

func TestReportingScore(t *testing.T) {
	assert.Equal(t, 0, ReportingScore(nil))
	reports := []domain.Report{
		{Status: "approved"},
		{Status: "published"},
		{Status: "draft"},
		{Status: "review"},
	}
	assert.Equal(t, 50, ReportingScore(reports))
}

func TestFollowupScore(t *testing.T) {
	assert.Equal(t, 0, FollowupScore(nil))
	plans := []domain.ActionPlan{
		{Status: "implemented"},
		{Status: "implemented"},
		{Status: "verified"},
		{Status: "pending"},
	}
	// round(3/4*100) = 75.
	assert.Equal(t, 75, FollowupScore(plans))
	done := []domain.ActionPlan{{Status: "verified"}}
	assert.Equal(t, 100, FollowupScore(done))
}

func TestScoresStayWithinBounds(t *testing.T) {
	huge := domain.Engagement{
		Objectives:     make([]string, 50),
		Scope:          strings.Repeat("x", 10000),
		Methodology:    strings.Repeat("x", 10000),
		Criteria:       make([]string, 50),
		Resources:      make([]domain.Resource, 50),
		Schedule:       make([]domain.ScheduleItem, 50),
		BudgetEstimate: 1,
	}
	got := PlanningScore(huge)
	assert.GreaterOrEqual(t, got, 0)
	assert.LessOrEqual(t, got, 100)
}

func TestEffectivePrefersStoredUnlessZero(t *testing.T) {
	assert.Equal(t, 42, Effective(42, 80))
	assert.Equal(t, 80, Effective(0, 80))
	assert.Equal(t, 0, Effective(0, 0))
}
