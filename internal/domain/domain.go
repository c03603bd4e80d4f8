package domain

// Engagement is the aggregate root for one audit engagement. The five
// *Completeness fields hold the persisted completeness percentage per phase.
type Engagement struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"planning,execution,findings,reporting,followup,completed,suspended"`

	CurrentPhase    string   `json:"current_phase" enum:"planning,execution,findings,reporting,followup"`
	VisitedPhases   []string `json:"visited_phases"`
	MaxPhaseReached string   `json:"max_phase_reached"`

	PlanningCompleteness  int `json:"planning_completeness"`
	ExecutionCompleteness int `json:"execution_completeness"`
	FindingsCompleteness  int `json:"findings_completeness"`
	ReportingCompleteness int `json:"reporting_completeness"`
	FollowupCompleteness  int `json:"followup_completeness"`

	LeadAuditor     string `json:"lead_auditor,omitempty"`
	StartDate       string `json:"start_date,omitempty" format:"date"`
	ExpectedEndDate string `json:"expected_end_date,omitempty" format:"date"`
	Priority        string `json:"priority" enum:"low,medium,high,critical"`
	AuditedArea     string `json:"audited_area,omitempty"`
	AuditType       string `json:"audit_type,omitempty"`

	// Planning phase draft fields.
	Objectives     []string       `json:"objectives,omitempty"`
	Scope          string         `json:"scope,omitempty"`
	Methodology    string         `json:"methodology,omitempty"`
	Criteria       []string       `json:"criteria,omitempty"`
	Resources      []Resource     `json:"resources,omitempty"`
	Schedule       []ScheduleItem `json:"schedule,omitempty"`
	BudgetEstimate float64        `json:"budget_estimate,omitempty"`

	// Execution phase flags.
	AnalysisConcluded  bool `json:"analysis_concluded"`
	ClassificationDone bool `json:"classification_done"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Resource is a human resource assigned in the planning phase.
type Resource struct {
	Name string  `json:"name"`
	Role string  `json:"role,omitempty"`
	Cost float64 `json:"cost,omitempty"`
}

// ScheduleItem is one timeline entry of the planning phase.
type ScheduleItem struct {
	Activity string `json:"activity"`
	Start    string `json:"start,omitempty" format:"date"`
	End      string `json:"end,omitempty" format:"date"`
}

// WorkItem is one entry of the execution work program.
type WorkItem struct {
	ID           string `json:"id"`
	EngagementID string `json:"engagement_id"`
	Code         string `json:"code,omitempty"`
	Title        string `json:"title"`
	Status       string `json:"status" enum:"pending,in_progress,completed"`
	Owner        string `json:"owner,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Finding is a recorded audit observation.
type Finding struct {
	ID                 string   `json:"id"`
	EngagementID       string   `json:"engagement_id"`
	Code               string   `json:"code,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Criticality        string   `json:"criticality" enum:"low,medium,high,critical"`
	Category           string   `json:"category,omitempty"`
	Status             string   `json:"status" enum:"identified,validated,communicated,accepted,rejected"`
	RootCause          string   `json:"root_cause,omitempty"`
	Impact             string   `json:"impact,omitempty"`
	Recommendation     string   `json:"recommendation,omitempty"`
	ResponsibleArea    string   `json:"responsible_area,omitempty"`
	IdentificationDate string   `json:"identification_date,omitempty" format:"date"`
	CommunicationDate  *string  `json:"communication_date,omitempty" format:"date"`
	Evidence           []string `json:"evidence,omitempty"`
	WorkItemID         *string  `json:"work_item_id,omitempty"`
	MonetaryImpact     *float64 `json:"monetary_impact,omitempty"`
	Likelihood         string   `json:"likelihood,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// ActionPlan is a remediation commitment tied to a finding.
type ActionPlan struct {
	ID                 string   `json:"id"`
	EngagementID       string   `json:"engagement_id"`
	FindingID          string   `json:"finding_id"`
	Code               string   `json:"code,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Responsible        string   `json:"responsible,omitempty"`
	Deadline           string   `json:"deadline,omitempty" format:"date"`
	Status             string   `json:"status" enum:"pending,in_progress,implemented,verified,delayed"`
	Priority           string   `json:"priority" enum:"low,medium,high,critical"`
	Progress           int      `json:"progress"`
	StartDate          *string  `json:"start_date,omitempty" format:"date"`
	CompletionDate     *string  `json:"completion_date,omitempty" format:"date"`
	Evidence           string   `json:"evidence,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	ImplementationCost *float64 `json:"implementation_cost,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// Report is a generated reporting artifact. Once published its content is
// immutable history; edits clone a new draft row with a bumped version.
type Report struct {
	ID               string   `json:"id"`
	EngagementID     string   `json:"engagement_id"`
	TenantID         string   `json:"tenant_id"`
	Type             string   `json:"type" enum:"executive,technical,compliance,followup"`
	Title            string   `json:"title"`
	Status           string   `json:"status" enum:"draft,review,approved,published,distributed"`
	Version          string   `json:"version"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	ApprovedAt       *string  `json:"approved_at,omitempty" format:"date-time"`
	ApprovedBy       *string  `json:"approved_by,omitempty"`
	ExecutiveSummary string   `json:"executive_summary,omitempty"`
	TotalFindings    int      `json:"total_findings"`
	CriticalFindings int      `json:"critical_findings"`
	ComplianceScore  int      `json:"compliance_score"`
	Recipients       []string `json:"recipients,omitempty"`
}

// Event is one append-only audit-log entry.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	TenantID     string `json:"tenant_id"`
	EngagementID string `json:"engagement_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	UserID       string `json:"user_id"`
	Payload      string `json:"payload_json"`
}

// Tenant is one isolated customer partition.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// APIKey authenticates a service principal within one tenant.
type APIKey struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
