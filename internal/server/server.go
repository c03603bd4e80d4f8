package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"auditline/internal/domain"
	"auditline/internal/engine"
	"auditline/internal/phase"
	"auditline/internal/progress"
	"auditline/internal/repo"
	"auditline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unknown_phase"`
	Message string         `json:"message" example:"unknown phase identifier"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Auditline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Auditline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	nav := newNavigators(cfg.Engine)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTenant(group, cfg.Engine)
	registerPhases(group)
	registerEngagements(group, cfg.Engine, nav)
	registerNavigation(group, cfg.Engine, nav)
	registerPhaseViews(group, cfg.Engine)
	registerWorkItems(group, cfg.Engine)
	registerFindings(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, phase.ErrUnknownPhase):
		return newAPIError(http.StatusBadRequest, "unknown_phase", err.Error(), nil)
	case errors.Is(err, workflow.ErrDebounced):
		return newAPIError(http.StatusConflict, "phase_change_debounced", err.Error(), nil)
	case errors.Is(err, workflow.ErrTransitionInFlight):
		return newAPIError(http.StatusConflict, "phase_change_in_flight", err.Error(), nil)
	case errors.Is(err, engine.ErrReportPublished):
		return newAPIError(http.StatusConflict, "report_published", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "progress is fixed"),
		strings.Contains(lowered, "only published reports"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// navigators caches one workflow controller and one completeness tracker per
// engagement so the debounce, in-flight, and stale-refresh guards apply
// across requests.
type navigators struct {
	engine   engine.Engine
	mu       sync.Mutex
	byKey    map[string]*workflow.Controller
	trackers map[string]*progress.Tracker
}

func newNavigators(e engine.Engine) *navigators {
	return &navigators{
		engine:   e,
		byKey:    map[string]*workflow.Controller{},
		trackers: map[string]*progress.Tracker{},
	}
}

func (n *navigators) evict(tenantID, engagementID string) {
	key := tenantID + "/" + engagementID
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.byKey, key)
	delete(n.trackers, key)
}

func (n *navigators) tracker(tenantID, engagementID string) *progress.Tracker {
	key := tenantID + "/" + engagementID
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.trackers[key]; ok {
		return t
	}
	t := progress.NewTracker(tenantID, engagementID)
	n.trackers[key] = t
	return t
}

type navPersister struct {
	engine engine.Engine
}

func (p navPersister) PersistPhaseChange(ctx context.Context, tenantID, engagementID string, target phase.ID, visited []phase.ID, maxReached phase.ID) error {
	userID := ""
	if principal, ok := principalFromContext(ctx); ok {
		userID = principal.UserID
	}
	_, err := p.engine.ChangePhase(ctx, tenantID, engagementID, target, userID)
	return err
}

func (n *navigators) controller(ctx context.Context, tenantID, engagementID string) (*workflow.Controller, error) {
	key := tenantID + "/" + engagementID
	n.mu.Lock()
	if c, ok := n.byKey[key]; ok {
		n.mu.Unlock()
		return c, nil
	}
	n.mu.Unlock()
	eng, err := n.engine.GetEngagement(ctx, tenantID, engagementID)
	if err != nil {
		return nil, err
	}
	visited := make([]phase.ID, 0, len(eng.VisitedPhases))
	for _, v := range eng.VisitedPhases {
		visited = append(visited, phase.ID(v))
	}
	opts := []workflow.Option{}
	if n.engine.Config != nil {
		opts = append(opts, workflow.WithDebounce(n.engine.Config.PhaseDebounce()))
	}
	c := workflow.NewController(navPersister{engine: n.engine}, tenantID, engagementID, phase.ID(eng.CurrentPhase), visited, opts...)
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.byKey[key]; ok {
		return existing, nil
	}
	n.byKey[key] = c
	return c, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Auditline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTenant(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "current-tenant",
		Method:      http.MethodGet,
		Path:        "/tenant",
		Summary:     "Tenant bound to the current credential",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Tenant `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTenant(ctx, principal.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tenant `json:"body"`
		}{Body: t}, nil
	})
}

func registerPhases(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-phases",
		Method:      http.MethodGet,
		Path:        "/phases",
		Summary:     "Phase registry",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []phase.Info `json:"body"`
	}, error) {
		return &struct {
			Body []phase.Info `json:"body"`
		}{Body: phase.All()}, nil
	})
}

type EngagementPath struct {
	EngagementID string `path:"engagement_id"`
}

func registerEngagements(api huma.API, e engine.Engine, nav *navigators) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-engagement",
		Method:        http.MethodPost,
		Path:          "/engagements",
		Summary:       "Register an audit engagement",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateEngagementRequest `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.CreateEngagement(ctx, engine.EngagementCreateOptions{
			TenantID:        principal.TenantID,
			Code:            input.Body.Code,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			LeadAuditor:     input.Body.LeadAuditor,
			StartDate:       input.Body.StartDate,
			ExpectedEndDate: input.Body.ExpectedEndDate,
			Priority:        input.Body.Priority,
			AuditedArea:     input.Body.AuditedArea,
			AuditType:       input.Body.AuditType,
			UserID:          principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-engagements",
		Method:      http.MethodGet,
		Path:        "/engagements",
		Summary:     "List engagements",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Phase  string `query:"phase"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list, err := e.ListEngagements(ctx, principal.TenantID, repo.EngagementFilters{
			Status: input.Status,
			Phase:  input.Phase,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Engagement{}
		}
		return &struct {
			Body []domain.Engagement `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-engagement",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}",
		Summary:     "Get engagement",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.GetEngagement(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-engagement",
		Method:      http.MethodPatch,
		Path:        "/engagements/{engagement_id}",
		Summary:     "Update engagement header fields",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body UpdateEngagementRequest `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.UpdateEngagement(ctx, principal.TenantID, input.EngagementID, engine.EngagementUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			LeadAuditor: input.Body.LeadAuditor,
			Priority:    input.Body.Priority,
			UserID:      principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-engagement",
		Method:      http.MethodDelete,
		Path:        "/engagements/{engagement_id}",
		Summary:     "Delete engagement",
		Errors: []int{
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *EngagementPath) (*struct{}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteEngagement(ctx, principal.TenantID, input.EngagementID); err != nil {
			return nil, handleError(err)
		}
		nav.evict(principal.TenantID, input.EngagementID)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-engagement-status",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/status",
		Summary:     "Change engagement status",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.SetEngagementStatus(ctx, principal.TenantID, input.EngagementID, input.Body.Status, principal.UserID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "engagement-progress",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/progress",
		Summary:     "Effective per-phase completeness",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body EngagementProgressResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.GetEngagement(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		tr := nav.tracker(principal.TenantID, input.EngagementID)
		if err := tr.Refresh(ctx, e.Repo); err != nil {
			return nil, handleError(err)
		}
		effective, err := e.EffectiveProgress(ctx, principal.TenantID, input.EngagementID, tr.Snapshot())
		if err != nil {
			return nil, handleError(err)
		}
		byName := make(map[string]int, len(effective))
		for id, v := range effective {
			byName[string(id)] = v
		}
		return &struct {
			Body EngagementProgressResponse `json:"body"`
		}{Body: EngagementProgressResponse{Engagement: eng, Progress: byName}}, nil
	})
}

func registerNavigation(api huma.API, e engine.Engine, nav *navigators) {
	huma.Register(api, huma.Operation{
		OperationID: "change-phase",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/phase",
		Summary:     "Navigate to a workflow phase",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body ChangePhaseRequest `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target, err := phase.Parse(input.Body.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		controller, err := nav.controller(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := controller.RequestPhaseChange(ctx, target); err != nil {
			return nil, handleError(err)
		}
		eng, err := e.GetEngagement(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})
}

func registerPhaseViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-planning",
		Method:      http.MethodPut,
		Path:        "/engagements/{engagement_id}/planning",
		Summary:     "Save the planning draft",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body PlanningRequest `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.SavePlanning(ctx, principal.TenantID, input.EngagementID, engine.PlanningSaveOptions{
			Objectives:     input.Body.Objectives,
			Scope:          input.Body.Scope,
			Methodology:    input.Body.Methodology,
			Criteria:       input.Body.Criteria,
			Resources:      input.Body.Resources,
			Schedule:       input.Body.Schedule,
			BudgetEstimate: input.Body.BudgetEstimate,
			UserID:         principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-execution",
		Method:      http.MethodPut,
		Path:        "/engagements/{engagement_id}/execution",
		Summary:     "Save the execution flags",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body ExecutionRequest `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.SaveExecution(ctx, principal.TenantID, input.EngagementID, engine.ExecutionSaveOptions{
			AnalysisConcluded:  input.Body.AnalysisConcluded,
			ClassificationDone: input.Body.ClassificationDone,
			UserID:             principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})
}

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-item",
		Method:        http.MethodPost,
		Path:          "/engagements/{engagement_id}/work-items",
		Summary:       "Add a work-program entry",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body CreateWorkItemRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.AddWorkItem(ctx, principal.TenantID, input.EngagementID, engine.WorkItemCreateOptions{
			Code:   input.Body.Code,
			Title:  input.Body.Title,
			Owner:  input.Body.Owner,
			UserID: principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-items",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/work-items",
		Summary:     "List work-program entries",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWorkItems(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.WorkItem{}
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-work-item-status",
		Method:      http.MethodPost,
		Path:        "/work-items/{work_item_id}/status",
		Summary:     "Change work-item status",
	}, func(ctx context.Context, input *struct {
		WorkItemID string           `path:"work_item_id"`
		Body       SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetWorkItemStatus(ctx, principal.TenantID, input.WorkItemID, input.Body.Status, principal.UserID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})
}

func registerFindings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-finding",
		Method:        http.MethodPost,
		Path:          "/engagements/{engagement_id}/findings",
		Summary:       "Record a finding",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body CreateFindingRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddFinding(ctx, principal.TenantID, input.EngagementID, engine.FindingCreateOptions{
			Code:               input.Body.Code,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Criticality:        input.Body.Criticality,
			Category:           input.Body.Category,
			RootCause:          input.Body.RootCause,
			Impact:             input.Body.Impact,
			Recommendation:     input.Body.Recommendation,
			ResponsibleArea:    input.Body.ResponsibleArea,
			IdentificationDate: input.Body.IdentificationDate,
			Evidence:           input.Body.Evidence,
			WorkItemID:         input.Body.WorkItemID,
			MonetaryImpact:     input.Body.MonetaryImpact,
			Likelihood:         input.Body.Likelihood,
			UserID:             principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-findings",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/findings",
		Summary:     "List findings",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body []domain.Finding `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		findings, err := e.ListFindings(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		if findings == nil {
			findings = []domain.Finding{}
		}
		return &struct {
			Body []domain.Finding `json:"body"`
		}{Body: findings}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-finding-status",
		Method:      http.MethodPost,
		Path:        "/findings/{finding_id}/status",
		Summary:     "Change finding status",
	}, func(ctx context.Context, input *struct {
		FindingID string           `path:"finding_id"`
		Body      SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Finding `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.SetFindingStatus(ctx, principal.TenantID, input.FindingID, input.Body.Status, principal.UserID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Finding `json:"body"`
		}{Body: f}, nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-action-plan",
		Method:        http.MethodPost,
		Path:          "/action-plans",
		Summary:       "Commit an action plan to a finding",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest `json:"body"`
	}) (*struct {
		Body domain.ActionPlan `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.FindingID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "finding_id is required", nil)
		}
		p, err := e.AddActionPlan(ctx, principal.TenantID, input.Body.FindingID, engine.PlanCreateOptions{
			Code:               input.Body.Code,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Responsible:        input.Body.Responsible,
			Deadline:           input.Body.Deadline,
			Priority:           input.Body.Priority,
			ImplementationCost: input.Body.ImplementationCost,
			UserID:             principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionPlan `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-action-plans",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/action-plans",
		Summary:     "List action plans",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body []domain.ActionPlan `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plans, err := e.ListActionPlans(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		if plans == nil {
			plans = []domain.ActionPlan{}
		}
		return &struct {
			Body []domain.ActionPlan `json:"body"`
		}{Body: plans}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-finding-action-plans",
		Method:      http.MethodGet,
		Path:        "/findings/{finding_id}/action-plans",
		Summary:     "List action plans for a finding",
	}, func(ctx context.Context, input *struct {
		FindingID string `path:"finding_id"`
	}) (*struct {
		Body []domain.ActionPlan `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetFinding(ctx, principal.TenantID, input.FindingID); err != nil {
			return nil, handleError(err)
		}
		plans, err := e.Repo.ListActionPlansByFinding(ctx, principal.TenantID, input.FindingID)
		if err != nil {
			return nil, handleError(err)
		}
		if plans == nil {
			plans = []domain.ActionPlan{}
		}
		return &struct {
			Body []domain.ActionPlan `json:"body"`
		}{Body: plans}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-action-plan-status",
		Method:      http.MethodPost,
		Path:        "/action-plans/{plan_id}/status",
		Summary:     "Change action-plan status",
	}, func(ctx context.Context, input *struct {
		PlanID string           `path:"plan_id"`
		Body   SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.ActionPlan `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPlanStatus(ctx, principal.TenantID, input.PlanID, input.Body.Status, principal.UserID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionPlan `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-action-plan-progress",
		Method:      http.MethodPost,
		Path:        "/action-plans/{plan_id}/progress",
		Summary:     "Record action-plan progress",
	}, func(ctx context.Context, input *struct {
		PlanID string             `path:"plan_id"`
		Body   SetProgressRequest `json:"body"`
	}) (*struct {
		Body domain.ActionPlan `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPlanProgress(ctx, principal.TenantID, input.PlanID, input.Body.Progress, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionPlan `json:"body"`
		}{Body: p}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/engagements/{engagement_id}/reports",
		Summary:       "Generate a report draft",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body CreateReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.CreateReport(ctx, principal.TenantID, input.EngagementID, engine.ReportCreateOptions{
			Type:             input.Body.Type,
			Title:            input.Body.Title,
			ExecutiveSummary: input.Body.ExecutiveSummary,
			ComplianceScore:  input.Body.ComplianceScore,
			Recipients:       input.Body.Recipients,
			UserID:           principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/reports",
		Summary:     "List reports",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body []domain.Report `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reports, err := e.ListReports(ctx, principal.TenantID, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		if reports == nil {
			reports = []domain.Report{}
		}
		return &struct {
			Body []domain.Report `json:"body"`
		}{Body: reports}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-report-status",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/status",
		Summary:     "Advance report status",
	}, func(ctx context.Context, input *struct {
		ReportID string           `path:"report_id"`
		Body     SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.SetReportStatus(ctx, principal.TenantID, input.ReportID, input.Body.Status, principal.UserID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-report",
		Method:      http.MethodPut,
		Path:        "/reports/{report_id}",
		Summary:     "Edit a draft report",
	}, func(ctx context.Context, input *struct {
		ReportID string              `path:"report_id"`
		Body     UpdateReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := e.Repo.GetReport(ctx, principal.TenantID, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		current.Title = input.Body.Title
		current.ExecutiveSummary = input.Body.ExecutiveSummary
		current.ComplianceScore = input.Body.ComplianceScore
		current.Recipients = input.Body.Recipients
		rep, err := e.UpdateReport(ctx, principal.TenantID, current, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "new-report-version",
		Method:        http.MethodPost,
		Path:          "/reports/{report_id}/versions",
		Summary:       "Clone a published report into a new draft version",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.NewReportVersion(ctx, principal.TenantID, input.ReportID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log tail",
	}, func(ctx context.Context, input *struct {
		Limit        int    `query:"limit"`
		Cursor       int64  `query:"cursor"`
		EngagementID string `query:"engagement_id"`
		Type         string `query:"type"`
		EntityKind   string `query:"entity_kind"`
		EntityID     string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		evts, err := e.Repo.LatestEventsFrom(ctx, principal.TenantID, limit, input.Cursor, input.EngagementID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}
