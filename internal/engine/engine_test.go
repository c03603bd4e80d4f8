package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"auditline/internal/config"
	"auditline/internal/db"
	"auditline/internal/domain"
	"auditline/internal/engine"
	"auditline/internal/migrate"
	"auditline/internal/phase"
	"auditline/internal/repo"
)

const testTenant = "acme"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(testTenant)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustEngagement(t *testing.T, env testEnv) domain.Engagement {
	t.Helper()
	e, err := env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		TenantID: testTenant,
		Title:    "Annual IT audit",
		UserID:   "auditor-1",
	})
	if err != nil {
		t.Fatalf("create engagement: %v", err)
	}
	return e
}

func TestCreateEngagementDefaults(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	if e.Status != "planning" || e.CurrentPhase != "planning" || e.MaxPhaseReached != "planning" {
		t.Fatalf("unexpected defaults: %+v", e)
	}
	if len(e.VisitedPhases) != 1 || e.VisitedPhases[0] != "planning" {
		t.Fatalf("visited phases = %v", e.VisitedPhases)
	}
	got, err := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != e.Code || got.Priority != "medium" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	// other tenants must not see the row
	if _, err := env.Engine.GetEngagement(env.Ctx, "other", e.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
}

func TestChangePhaseTracksVisitedAndMax(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	e, err := env.Engine.ChangePhase(env.Ctx, testTenant, e.ID, phase.Findings, "auditor-1")
	if err != nil {
		t.Fatalf("to findings: %v", err)
	}
	if e.CurrentPhase != "findings" || e.MaxPhaseReached != "findings" {
		t.Fatalf("after forward jump: %+v", e)
	}
	// going back keeps the max and dedups the visited list
	e, err = env.Engine.ChangePhase(env.Ctx, testTenant, e.ID, phase.Execution, "auditor-1")
	if err != nil {
		t.Fatalf("to execution: %v", err)
	}
	if e.MaxPhaseReached != "findings" {
		t.Fatalf("max regressed: %s", e.MaxPhaseReached)
	}
	e, _ = env.Engine.ChangePhase(env.Ctx, testTenant, e.ID, phase.Findings, "auditor-1")
	if len(e.VisitedPhases) != 3 {
		t.Fatalf("visited = %v", e.VisitedPhases)
	}
	// self transition is a no-op
	again, err := env.Engine.ChangePhase(env.Ctx, testTenant, e.ID, phase.Findings, "auditor-1")
	if err != nil || again.CurrentPhase != "findings" {
		t.Fatalf("self transition: %v %+v", err, again)
	}
	// unknown phases are rejected outright
	if _, err := env.Engine.ChangePhase(env.Ctx, testTenant, e.ID, phase.ID("closing"), "auditor-1"); !errors.Is(err, phase.ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
}

func TestSavePlanningStoresCompleteness(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	saved, err := env.Engine.SavePlanning(env.Ctx, testTenant, e.ID, engine.PlanningSaveOptions{
		Objectives: []string{"assess controls", "review access"},
		Criteria:   []string{"ISO 27001"},
		Resources:  []domain.Resource{{Name: "Ana", Role: "lead", Cost: 1200}},
		UserID:     "auditor-1",
	})
	if err != nil {
		t.Fatalf("save planning: %v", err)
	}
	// objectives 10 + criteria 3 + resources 5 + budget-from-costs 10
	if saved.PlanningCompleteness != 28 {
		t.Fatalf("planning completeness = %d", saved.PlanningCompleteness)
	}
	got, err := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PlanningCompleteness != 28 || len(got.Objectives) != 2 || len(got.Resources) != 1 {
		t.Fatalf("persisted draft mismatch: %+v", got)
	}
}

func TestSaveExecutionSimplifiedScore(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	saved, err := env.Engine.SaveExecution(env.Ctx, testTenant, e.ID, engine.ExecutionSaveOptions{
		AnalysisConcluded:  true,
		ClassificationDone: false,
		UserID:             "auditor-1",
	})
	if err != nil {
		t.Fatalf("save execution: %v", err)
	}
	if saved.ExecutionCompleteness != 30 {
		t.Fatalf("execution completeness = %d", saved.ExecutionCompleteness)
	}
}

func TestWorkItemsDriveExecutionScore(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	w1, err := env.Engine.AddWorkItem(env.Ctx, testTenant, e.ID, engine.WorkItemCreateOptions{Title: "walkthrough", UserID: "auditor-1"})
	if err != nil {
		t.Fatalf("add work item: %v", err)
	}
	if _, err := env.Engine.AddWorkItem(env.Ctx, testTenant, e.ID, engine.WorkItemCreateOptions{Title: "sampling", UserID: "auditor-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetWorkItemStatus(env.Ctx, testTenant, w1.ID, "completed", "auditor-1", false); err != nil {
		t.Fatalf("complete item: %v", err)
	}
	got, _ := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if got.ExecutionCompleteness != 50 {
		t.Fatalf("execution completeness = %d", got.ExecutionCompleteness)
	}
	// invalid item transition
	if _, err := env.Engine.SetWorkItemStatus(env.Ctx, testTenant, w1.ID, "pending", "auditor-1", false); err == nil {
		t.Fatal("expected transition error")
	}
}

func TestFindingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	f, err := env.Engine.AddFinding(env.Ctx, testTenant, e.ID, engine.FindingCreateOptions{
		Title:       "Weak password policy",
		Criticality: "high",
		UserID:      "auditor-1",
	})
	if err != nil {
		t.Fatalf("add finding: %v", err)
	}
	if f.Status != "identified" {
		t.Fatalf("status = %s", f.Status)
	}
	// identified cannot jump straight to accepted
	if _, err := env.Engine.SetFindingStatus(env.Ctx, testTenant, f.ID, "accepted", "auditor-1", false); err == nil {
		t.Fatal("expected transition error")
	}
	f, err = env.Engine.SetFindingStatus(env.Ctx, testTenant, f.ID, "validated", "auditor-1", false)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	f, err = env.Engine.SetFindingStatus(env.Ctx, testTenant, f.ID, "communicated", "auditor-1", false)
	if err != nil {
		t.Fatalf("communicate: %v", err)
	}
	if f.CommunicationDate == nil || *f.CommunicationDate != "2026-01-01" {
		t.Fatalf("communication date = %v", f.CommunicationDate)
	}
	got, _ := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if got.FindingsCompleteness != 100 {
		t.Fatalf("findings completeness = %d", got.FindingsCompleteness)
	}
}

func TestFindingsScoreRecomputedOnAdd(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	f, _ := env.Engine.AddFinding(env.Ctx, testTenant, e.ID, engine.FindingCreateOptions{Title: "one", UserID: "auditor-1"})
	if _, err := env.Engine.SetFindingStatus(env.Ctx, testTenant, f.ID, "validated", "auditor-1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddFinding(env.Ctx, testTenant, e.ID, engine.FindingCreateOptions{Title: "two", UserID: "auditor-1"}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if got.FindingsCompleteness != 50 {
		t.Fatalf("findings completeness = %d", got.FindingsCompleteness)
	}
}

func TestActionPlanLifecycle(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	f, _ := env.Engine.AddFinding(env.Ctx, testTenant, e.ID, engine.FindingCreateOptions{Title: "gap", UserID: "auditor-1"})
	p, err := env.Engine.AddActionPlan(env.Ctx, testTenant, f.ID, engine.PlanCreateOptions{
		Title:  "Harden policy",
		UserID: "auditor-1",
	})
	if err != nil {
		t.Fatalf("add plan: %v", err)
	}
	p, err = env.Engine.SetPlanStatus(env.Ctx, testTenant, p.ID, "in_progress", "auditor-1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.StartDate == nil {
		t.Fatal("start date not set")
	}
	p, err = env.Engine.SetPlanProgress(env.Ctx, testTenant, p.ID, 60, "auditor-1")
	if err != nil || p.Progress != 60 {
		t.Fatalf("progress: %v %d", err, p.Progress)
	}
	p, err = env.Engine.SetPlanStatus(env.Ctx, testTenant, p.ID, "implemented", "auditor-1", false)
	if err != nil {
		t.Fatalf("implement: %v", err)
	}
	if p.CompletionDate == nil || p.Progress != 100 {
		t.Fatalf("implemented plan: %+v", p)
	}
	got, _ := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if got.FollowupCompleteness != 100 {
		t.Fatalf("followup completeness = %d", got.FollowupCompleteness)
	}
	// progress on an implemented plan is frozen
	if _, err := env.Engine.SetPlanProgress(env.Ctx, testTenant, p.ID, 10, "auditor-1"); err == nil {
		t.Fatal("expected frozen-progress error")
	}
}

func TestReportLifecycleAndImmutability(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	if _, err := env.Engine.AddFinding(env.Ctx, testTenant, e.ID, engine.FindingCreateOptions{Title: "crit", Criticality: "critical", UserID: "auditor-1"}); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.CreateReport(env.Ctx, testTenant, e.ID, engine.ReportCreateOptions{
		Type:   "executive",
		Title:  "Exec summary",
		UserID: "auditor-1",
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	if rep.Version != "1.0" || rep.TotalFindings != 1 || rep.CriticalFindings != 1 {
		t.Fatalf("report snapshot: %+v", rep)
	}
	for _, status := range []string{"review", "approved", "published"} {
		if rep, err = env.Engine.SetReportStatus(env.Ctx, testTenant, rep.ID, status, "lead-1", false); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	if rep.ApprovedAt == nil || rep.ApprovedBy == nil || *rep.ApprovedBy != "lead-1" {
		t.Fatalf("approval stamp: %+v", rep)
	}
	got, _ := env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if got.ReportingCompleteness != 100 {
		t.Fatalf("reporting completeness = %d", got.ReportingCompleteness)
	}
	// published content is immutable
	rep.Title = "edited"
	if _, err := env.Engine.UpdateReport(env.Ctx, testTenant, rep, "auditor-1"); !errors.Is(err, engine.ErrReportPublished) {
		t.Fatalf("expected ErrReportPublished, got %v", err)
	}
	clone, err := env.Engine.NewReportVersion(env.Ctx, testTenant, rep.ID, "auditor-1")
	if err != nil {
		t.Fatalf("new version: %v", err)
	}
	if clone.ID == rep.ID || clone.Version != "2.0" || clone.Status != "draft" || clone.ApprovedAt != nil {
		t.Fatalf("clone: %+v", clone)
	}
	// two reports, one approved-or-beyond
	got, _ = env.Engine.GetEngagement(env.Ctx, testTenant, e.ID)
	if got.ReportingCompleteness != 50 {
		t.Fatalf("reporting completeness after clone = %d", got.ReportingCompleteness)
	}
}

func TestPhaseProgressFallsBackToComputed(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	// one finding, still identified: stored findings completeness is 0 and the
	// live recomputation is 0 as well; execution has nothing stored yet but the
	// simplified score sees the finding.
	if _, err := env.Engine.AddFinding(env.Ctx, testTenant, e.ID, engine.FindingCreateOptions{Title: "x", UserID: "auditor-1"}); err != nil {
		t.Fatal(err)
	}
	progress, err := env.Engine.PhaseProgress(env.Ctx, testTenant, e.ID)
	if err != nil {
		t.Fatalf("phase progress: %v", err)
	}
	if progress[phase.Execution] != 40 {
		t.Fatalf("execution progress = %d", progress[phase.Execution])
	}
	if progress[phase.Planning] != 0 || progress[phase.Findings] != 0 {
		t.Fatalf("progress = %v", progress)
	}
}

func TestEngagementStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	e, err := env.Engine.SetEngagementStatus(env.Ctx, testTenant, e.ID, "suspended", "auditor-1", false)
	if err != nil || e.Status != "suspended" {
		t.Fatalf("suspend: %v %+v", err, e)
	}
	e, err = env.Engine.SetEngagementStatus(env.Ctx, testTenant, e.ID, "execution", "auditor-1", false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	// completed only from reporting/followup
	if _, err := env.Engine.SetEngagementStatus(env.Ctx, testTenant, e.ID, "completed", "auditor-1", false); err == nil {
		t.Fatal("expected transition error")
	}
	e, _ = env.Engine.SetEngagementStatus(env.Ctx, testTenant, e.ID, "followup", "auditor-1", false)
	e, err = env.Engine.SetEngagementStatus(env.Ctx, testTenant, e.ID, "completed", "auditor-1", false)
	if err != nil || e.Status != "completed" {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.SetEngagementStatus(env.Ctx, testTenant, e.ID, "planning", "auditor-1", false); err == nil {
		t.Fatal("completed must be terminal without force")
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	e := mustEngagement(t, env)
	if _, err := env.Engine.ChangePhase(env.Ctx, testTenant, e.ID, phase.Execution, "auditor-1"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, testTenant, 10, e.ID, "", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("event count = %d", len(evts))
	}
	if evts[0].Type != "engagement.phase_changed" || evts[1].Type != "engagement.created" {
		t.Fatalf("event order: %s, %s", evts[0].Type, evts[1].Type)
	}
	if evts[0].UserID != "auditor-1" || evts[0].TenantID != testTenant {
		t.Fatalf("event attribution: %+v", evts[0])
	}
}
