package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opencredit/kestrel/internal/appraisal"
	"github.com/opencredit/kestrel/internal/domain"
)

// createTestServer creates a server with an in-process pipeline and no
// persistence backends.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	pipeline := appraisal.NewPipeline(nil, nil, nil)

	return NewServer(cfg, nil, nil, nil, pipeline, nil, "test-v1")
}

const testCSV = `application_id,name,income,existing_debt,requested_amount,loan_term_months,employment_years,credit_history_length,num_delinquencies,current_loans
APP_0001,Alice Nguyen,9000,500,25000,36,7,10,0,1
APP_0002,Marcus Webb,1200,15000,95000,36,0,1,5,4
`

// appraisalRequest builds a multipart appraisal request with the given
// extra form fields.
func appraisalRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "applications.csv")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write([]byte(testCSV))

	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/appraisals", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Tenant-ID", "tenant-001")
	return req
}

func TestAppraisalEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("SuccessfulAppraisal", func(t *testing.T) {
		req := appraisalRequest(t, map[string]string{
			"rule_mode": "classic",
			"threshold": "0.7",
		})

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AppraisalResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Run == nil || resp.Run.ID == "" {
			t.Fatal("expected run with ID in response")
		}
		if resp.Run.RecordCount != 2 {
			t.Errorf("expected 2 records, got %d", resp.Run.RecordCount)
		}
		if len(resp.Decisions) != 2 {
			t.Errorf("expected 2 decisions, got %d", len(resp.Decisions))
		}
		if resp.Run.Approved+resp.Run.Denied != 2 {
			t.Errorf("expected counts to sum to 2, got %d+%d", resp.Run.Approved, resp.Run.Denied)
		}

		// PII column stripped before evaluation
		found := false
		for _, col := range resp.Run.DroppedColumns {
			if col == "name" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected 'name' in dropped columns, got %v", resp.Run.DroppedColumns)
		}

		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("NDIMode", func(t *testing.T) {
		req := appraisalRequest(t, map[string]string{
			"rule_mode": "ndi",
			"ndi_value": "800",
			"ndi_ratio": "0.5",
			"threshold": "0.7",
		})

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AppraisalResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		for _, d := range resp.Decisions {
			if _, ok := d.Reasons["ndi_value"]; !ok {
				t.Errorf("expected ndi_value reason for %s, got %v", d.ApplicationID, d.Reasons)
			}
		}
	})

	t.Run("TargetRateMode", func(t *testing.T) {
		req := appraisalRequest(t, map[string]string{
			"rule_mode":            "classic",
			"target_approval_rate": "0.5",
		})

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AppraisalResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Run.Approved < 1 {
			t.Errorf("expected at least 1 approval at 50%% target, got %d", resp.Run.Approved)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := appraisalRequest(t, nil)
		req.Header.Del("X-Tenant-ID")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("threshold", "0.7")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/v1/appraisals", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownRuleMode", func(t *testing.T) {
		req := appraisalRequest(t, map[string]string{
			"rule_mode": "astrology",
		})

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ConflictingDecisionModes", func(t *testing.T) {
		req := appraisalRequest(t, map[string]string{
			"threshold":            "0.7",
			"target_approval_rate": "0.5",
		})

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for conflicting modes, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		req := appraisalRequest(t, nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})
}

func TestSyntheticEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("GeneratesCSV", func(t *testing.T) {
		body, _ := json.Marshal(SynthRequest{Count: 25, CurrencyCode: "EUR"})
		req := httptest.NewRequest(http.MethodPost, "/v1/synthetic", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
			t.Errorf("expected text/csv, got %s", ct)
		}

		lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
		if len(lines) != 26 {
			t.Errorf("expected header plus 25 rows, got %d lines", len(lines))
		}
		if !strings.Contains(lines[0], "application_id") {
			t.Errorf("expected application_id in header, got %s", lines[0])
		}
	})

	t.Run("RejectsZeroCount", func(t *testing.T) {
		body, _ := json.Marshal(SynthRequest{Count: 0})
		req := httptest.NewRequest(http.MethodPost, "/v1/synthetic", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestSanitizePreviewEndpoint(t *testing.T) {
	server := createTestServer()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "applications.csv")
	part.Write([]byte(testCSV))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/sanitize/preview", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		DroppedColumns []string `json:"droppedColumns"`
		Columns        []string `json:"columns"`
		RecordCount    int      `json:"recordCount"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.RecordCount != 2 {
		t.Errorf("expected 2 records, got %d", resp.RecordCount)
	}
	dropped := strings.Join(resp.DroppedColumns, ",")
	if !strings.Contains(dropped, "name") {
		t.Errorf("expected name dropped, got %v", resp.DroppedColumns)
	}
	for _, col := range resp.Columns {
		if col == "name" {
			t.Error("expected name column to be removed")
		}
	}
}

func TestReportFormatValidation(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/some-run/report?format=pdf2", nil)
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown format, got %d", rr.Code)
	}
}

func TestTrainingEndpointsWithoutAgent(t *testing.T) {
	server := createTestServer()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/training/train"},
		{http.MethodPost, "/v1/training/promote"},
		{http.MethodGet, "/v1/training/production_meta"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected status 503 without agent, got %d", p.method, p.path, rr.Code)
		}
	}
}

func TestCurrenciesEndpoint(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/currencies", nil)
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Currencies map[string]domain.Currency `json:"currencies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if _, ok := resp.Currencies["VND"]; !ok {
		t.Error("expected VND in currency table")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
