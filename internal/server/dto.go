package server

import (
	"auditline/internal/domain"
)

type CreateEngagementRequest struct {
	Code            string `json:"code,omitempty"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	LeadAuditor     string `json:"lead_auditor,omitempty"`
	StartDate       string `json:"start_date,omitempty"`
	ExpectedEndDate string `json:"expected_end_date,omitempty"`
	Priority        string `json:"priority,omitempty" enum:",low,medium,high,critical"`
	AuditedArea     string `json:"audited_area,omitempty"`
	AuditType       string `json:"audit_type,omitempty"`
}

type UpdateEngagementRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	LeadAuditor *string `json:"lead_auditor,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

type ChangePhaseRequest struct {
	Phase string `json:"phase" enum:"planning,execution,findings,reporting,followup"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
	Force  bool   `json:"force,omitempty"`
}

type PlanningRequest struct {
	Objectives     []string              `json:"objectives,omitempty"`
	Scope          string                `json:"scope,omitempty"`
	Methodology    string                `json:"methodology,omitempty"`
	Criteria       []string              `json:"criteria,omitempty"`
	Resources      []domain.Resource     `json:"resources,omitempty"`
	Schedule       []domain.ScheduleItem `json:"schedule,omitempty"`
	BudgetEstimate float64               `json:"budget_estimate,omitempty"`
}

type ExecutionRequest struct {
	AnalysisConcluded  bool `json:"analysis_concluded"`
	ClassificationDone bool `json:"classification_done"`
}

type CreateWorkItemRequest struct {
	Code  string `json:"code,omitempty"`
	Title string `json:"title"`
	Owner string `json:"owner,omitempty"`
}

type CreateFindingRequest struct {
	Code               string   `json:"code,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Criticality        string   `json:"criticality,omitempty" enum:",low,medium,high,critical"`
	Category           string   `json:"category,omitempty"`
	RootCause          string   `json:"root_cause,omitempty"`
	Impact             string   `json:"impact,omitempty"`
	Recommendation     string   `json:"recommendation,omitempty"`
	ResponsibleArea    string   `json:"responsible_area,omitempty"`
	IdentificationDate string   `json:"identification_date,omitempty"`
	Evidence           []string `json:"evidence,omitempty"`
	WorkItemID         string   `json:"work_item_id,omitempty"`
	MonetaryImpact     *float64 `json:"monetary_impact,omitempty"`
	Likelihood         string   `json:"likelihood,omitempty"`
}

type CreatePlanRequest struct {
	FindingID          string   `json:"finding_id"`
	Code               string   `json:"code,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Responsible        string   `json:"responsible,omitempty"`
	Deadline           string   `json:"deadline,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	ImplementationCost *float64 `json:"implementation_cost,omitempty"`
}

type SetProgressRequest struct {
	Progress int `json:"progress" minimum:"0" maximum:"100"`
}

type CreateReportRequest struct {
	Type             string   `json:"type" enum:"executive,technical,compliance,followup"`
	Title            string   `json:"title"`
	ExecutiveSummary string   `json:"executive_summary,omitempty"`
	ComplianceScore  int      `json:"compliance_score,omitempty"`
	Recipients       []string `json:"recipients,omitempty"`
}

type UpdateReportRequest struct {
	Title            string   `json:"title"`
	ExecutiveSummary string   `json:"executive_summary,omitempty"`
	ComplianceScore  int      `json:"compliance_score,omitempty"`
	Recipients       []string `json:"recipients,omitempty"`
}

// EngagementProgressResponse pairs an engagement with its effective per-phase
// completeness.
type EngagementProgressResponse struct {
	Engagement domain.Engagement `json:"engagement"`
	Progress   map[string]int    `json:"progress"`
}
