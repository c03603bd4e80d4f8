package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"auditline/internal/config"
	"auditline/internal/db"
	"auditline/internal/domain"
	"auditline/internal/engine"
	"auditline/internal/migrate"
	"auditline/internal/repo"
)

const (
	testSecret = "test-secret"
	testTenant = "acme"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testTenant)
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.AllowLegacyTenantHead = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	// Mirror the app bootstrap (app.ResolveTenantAndConfig), which seeds the
	// tenant row before any repo writes that reference it.
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := e.Repo.EnsureTenant(context.Background(), tx, testTenant, cfg.Tenant.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("ensure tenant: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit tenant: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:               cfg.Auth.JWTSecret,
			AllowLegacyTenantHeader: cfg.Auth.AllowLegacyTenantHead,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func legacyHeaders(tenant, user string) map[string]string {
	return map[string]string{"X-Tenant-Id": tenant, "X-User-Id": user}
}

func signToken(t *testing.T, sub, tenant string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":       sub,
		"tenant_id": tenant,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func createEngagement(t *testing.T, srv *testServer, headers map[string]string) domain.Engagement {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/engagements",
		map[string]any{"title": "Annual IT audit"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create engagement: %d %s", res.StatusCode, data)
	}
	var eng domain.Engagement
	if err := json.Unmarshal(data, &eng); err != nil {
		t.Fatalf("decode engagement: %v", err)
	}
	return eng
}

func TestHealthNoAuth(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/engagements", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestJWTAuthCreateAndGet(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := map[string]string{"Authorization": "Bearer " + signToken(t, "auditor-1", testTenant)}
	eng := createEngagement(t, srv, headers)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/engagements/"+eng.ID, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get = %d %s", res.StatusCode, data)
	}
	var got domain.Engagement
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TenantID != testTenant || got.CurrentPhase != "planning" {
		t.Fatalf("engagement: %+v", got)
	}
}

func TestTenantIsolation(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	eng := createEngagement(t, srv, legacyHeaders(testTenant, "auditor-1"))
	// a principal from a different tenant cannot see the engagement
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/engagements/"+eng.ID, nil, legacyHeaders("rival", "intruder"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant get = %d", res.StatusCode)
	}
}

func TestChangePhaseEndpoint(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := legacyHeaders(testTenant, "auditor-1")
	eng := createEngagement(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/engagements/"+eng.ID+"/phase",
		map[string]string{"phase": "execution"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("change phase = %d %s", res.StatusCode, data)
	}
	var got domain.Engagement
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.CurrentPhase != "execution" || len(got.VisitedPhases) != 2 {
		t.Fatalf("after change: %+v", got)
	}
	// a second change within the debounce window is rejected
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/engagements/"+eng.ID+"/phase",
		map[string]string{"phase": "findings"}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("debounced change = %d %s", res.StatusCode, data)
	}
	// persisted phase is unchanged
	persisted, err := srv.Engine.GetEngagement(context.Background(), testTenant, eng.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.CurrentPhase != "execution" {
		t.Fatalf("persisted phase = %s", persisted.CurrentPhase)
	}
}

func TestChangePhaseUnknownTarget(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := legacyHeaders(testTenant, "auditor-1")
	eng := createEngagement(t, srv, headers)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/engagements/"+eng.ID+"/phase",
		map[string]string{"phase": "closing"}, headers)
	if res.StatusCode != http.StatusBadRequest && res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown phase = %d %s", res.StatusCode, data)
	}
}

func TestPlanningSaveAndProgress(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := legacyHeaders(testTenant, "auditor-1")
	eng := createEngagement(t, srv, headers)
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/engagements/"+eng.ID+"/planning",
		map[string]any{
			"objectives":      []string{"a", "b"},
			"criteria":        []string{"ISO 27001"},
			"budget_estimate": 5000,
		}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save planning = %d %s", res.StatusCode, data)
	}
	var got domain.Engagement
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.PlanningCompleteness != 23 {
		t.Fatalf("planning completeness = %d", got.PlanningCompleteness)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/engagements/"+eng.ID+"/progress", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress = %d %s", res.StatusCode, data)
	}
	var progress EngagementProgressResponse
	if err := json.Unmarshal(data, &progress); err != nil {
		t.Fatal(err)
	}
	if progress.Progress["planning"] != 23 || progress.Progress["followup"] != 0 {
		t.Fatalf("progress map = %v", progress.Progress)
	}
}

func TestFindingAndPlanFlow(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := legacyHeaders(testTenant, "auditor-1")
	eng := createEngagement(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/engagements/"+eng.ID+"/findings",
		map[string]any{"title": "Weak password policy", "criticality": "high"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create finding = %d %s", res.StatusCode, data)
	}
	var finding domain.Finding
	if err := json.Unmarshal(data, &finding); err != nil {
		t.Fatal(err)
	}

	// invalid transition surfaces as 422
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/findings/"+finding.ID+"/status",
		map[string]any{"status": "accepted"}, headers)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid transition = %d %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/findings/"+finding.ID+"/status",
		map[string]any{"status": "validated"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate = %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/action-plans",
		map[string]any{"finding_id": finding.ID, "title": "Harden policy"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create plan = %d %s", res.StatusCode, data)
	}
	var plan domain.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/action-plans/"+plan.ID+"/progress",
		map[string]any{"progress": 40}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("plan progress = %d %s", res.StatusCode, data)
	}
}

func TestReportImmutabilityOverHTTP(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := legacyHeaders(testTenant, "auditor-1")
	eng := createEngagement(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/engagements/"+eng.ID+"/reports",
		map[string]any{"type": "executive", "title": "Exec summary"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create report = %d %s", res.StatusCode, data)
	}
	var rep domain.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	for _, status := range []string{"review", "approved", "published"} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/reports/"+rep.ID+"/status",
			map[string]any{"status": status}, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("to %s = %d %s", status, res.StatusCode, data)
		}
	}
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/reports/"+rep.ID,
		map[string]any{"title": "edited"}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("edit published = %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/reports/"+rep.ID+"/versions", nil, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("new version = %d %s", res.StatusCode, data)
	}
	var clone domain.Report
	if err := json.Unmarshal(data, &clone); err != nil {
		t.Fatal(err)
	}
	if clone.Version != "2.0" || clone.Status != "draft" {
		t.Fatalf("clone: %+v", clone)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	rawKey := "alk_live_abc123"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:       "key-1",
		TenantID: testTenant,
		UserID:   "svc-ingest",
		Name:     "ci",
		KeyHash:  repo.HashAPIKey(rawKey),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	headers := map[string]string{"X-Api-Key": rawKey}
	eng := createEngagement(t, srv, headers)
	if eng.TenantID != testTenant {
		t.Fatalf("tenant = %s", eng.TenantID)
	}
	// wrong key rejected
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/engagements", nil, map[string]string{"X-Api-Key": "nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key = %d", res.StatusCode)
	}
}

func TestEventsTail(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	headers := legacyHeaders(testTenant, "auditor-1")
	eng := createEngagement(t, srv, headers)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?engagement_id="+eng.ID, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events = %d %s", res.StatusCode, data)
	}
	var evts []domain.Event
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "engagement.created" {
		t.Fatalf("events: %+v", evts)
	}
}
