package treatment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicdata/internal/platform/store"
)

func newTestHandler() (*Handler, *echo.Echo, *mockTemplateRepo) {
	svc, _, templates, _ := newTestService()
	return NewHandler(svc), echo.New(), templates
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func withPlan(c echo.Context, planID string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(planID)
	return c
}

func TestHandler_SaveAndGetProcedures(t *testing.T) {
	h, e, _ := newTestHandler()

	rec := httptest.NewRecorder()
	body := `[{"name":"Exam","cost":50,"duration":20},{"name":"Crown","cost":900,"duration":90}]`
	c := withPlan(e.NewContext(jsonRequest(http.MethodPut, body), rec), "plan-1")
	if err := h.SaveProcedures(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = withPlan(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), "plan-1")
	if err := h.GetProcedures(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp proceduresResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.TotalCost != 950 || resp.TotalDuration != 110 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandler_GetProcedures_EmptyPlanReturnsEmptyArray(t *testing.T) {
	h, e, _ := newTestHandler()
	rec := httptest.NewRecorder()
	c := withPlan(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), "plan-empty")

	if err := h.GetProcedures(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_SaveProcedures_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		planID string
		body   string
	}{
		{"body is not an array", "plan-1", `{"name":"not an array"}`},
		{"missing plan id", "", `[{"name":"Exam"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e, _ := newTestHandler()
			c := withPlan(e.NewContext(jsonRequest(http.MethodPut, tt.body), httptest.NewRecorder()), tt.planID)

			err := h.SaveProcedures(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %v", err)
			}
		})
	}
}

func TestHandler_UpdateTemplates(t *testing.T) {
	h, e, templates := newTestHandler()
	body, _ := json.Marshal([]ProcedureTemplate{template("Exam"), template("Crown")})

	rec := httptest.NewRecorder()
	if err := h.UpdateTemplates(e.NewContext(jsonRequest(http.MethodPut, string(body)), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(templates.rows) != 2 {
		t.Errorf("expected 2 templates, got %d", len(templates.rows))
	}
}

func TestHandler_UpdateTemplates_PartialFailureReportsProgress(t *testing.T) {
	h, e, templates := newTestHandler()
	t1, t2 := template("Exam"), template("Crown")
	templates.failOn[t2.ID] = errors.New("write rejected")

	body, _ := json.Marshal([]ProcedureTemplate{t1, t2})
	err := h.UpdateTemplates(e.NewContext(jsonRequest(http.MethodPut, string(body)), httptest.NewRecorder()))

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	msg, ok := he.Message.(map[string]any)
	if !ok || msg["applied"] != 1 || msg["failed_id"] != t2.ID {
		t.Errorf("unexpected body: %v", he.Message)
	}
}

func TestHandler_UpdateTemplates_BackendRejectionIs400(t *testing.T) {
	h, e, templates := newTestHandler()
	templates.failOn[""] = fmt.Errorf("upsert procedure_templates: %w", store.ErrInvalidQuery)

	err := h.UpdateTemplates(e.NewContext(jsonRequest(http.MethodPut, `[{"name":"Exam"}]`), httptest.NewRecorder()))

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	msg, ok := he.Message.(map[string]any)
	if !ok || msg["applied"] != 0 {
		t.Errorf("unexpected body: %v", he.Message)
	}
}

func TestHandler_UpdateTemplates_Atomic(t *testing.T) {
	h, e, templates := newTestHandler()
	t1, t2 := template("Exam"), template("Crown")
	templates.failOn[t2.ID] = errors.New("write rejected")

	body, _ := json.Marshal([]ProcedureTemplate{t1, t2})
	req := jsonRequest(http.MethodPut, string(body))
	req.URL.RawQuery = "atomic=true"
	if err := h.UpdateTemplates(e.NewContext(req, httptest.NewRecorder())); err == nil {
		t.Fatal("expected error")
	}
	if len(templates.rows) != 0 {
		t.Errorf("expected nothing persisted, got %d", len(templates.rows))
	}
}

func TestHandler_ListTemplates(t *testing.T) {
	h, e, templates := newTestHandler()
	tpl := template("Exam")
	templates.rows[tpl.ID] = tpl

	rec := httptest.NewRecorder()
	if err := h.ListTemplates(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), tpl.ID) {
		t.Errorf("expected template in body, got %s", rec.Body.String())
	}
}

func TestHandler_ApplyTemplates(t *testing.T) {
	h, e, templates := newTestHandler()
	tpl := template("Crown")
	templates.rows[tpl.ID] = tpl

	rec := httptest.NewRecorder()
	c := withPlan(e.NewContext(jsonRequest(http.MethodPost, `{"template_ids":["`+tpl.ID+`"]}`), rec), "plan-1")
	if err := h.ApplyTemplates(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"name":"Crown"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	c = withPlan(e.NewContext(jsonRequest(http.MethodPost, `{"template_ids":[]}`), httptest.NewRecorder()), "plan-1")
	if err := h.ApplyTemplates(c); err == nil {
		t.Error("expected error for empty template_ids")
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/treatment-plans/:id/procedures": false,
		"PUT /api/v1/treatment-plans/:id/procedures": false,
		"GET /api/v1/procedure-templates":            false,
		"PUT /api/v1/procedure-templates":            false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("route %s not registered", k)
		}
	}
}
