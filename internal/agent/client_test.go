package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/tabular"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(domain.AgentConfig{BaseURL: srv.URL, Timeout: 5})
}

func TestScoreSendsMultipartCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/agents/credit_appraisal/run" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("rule_mode"); got != "classic" {
			t.Errorf("rule_mode = %q", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "sanitized.csv" {
			t.Errorf("filename = %q", header.Filename)
		}
		batch, err := tabular.DecodeBatch(file)
		if err != nil {
			t.Fatalf("decode uploaded csv: %v", err)
		}
		if batch.Len() != 2 {
			t.Errorf("uploaded records = %d, want 2", batch.Len())
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"run_id":"run-42"}`))
	}))
	defer srv.Close()

	batch := &domain.Batch{
		Columns: []string{"application_id", "income"},
		Records: []domain.Record{
			{"application_id": "APP_0001", "income": 50000.0},
			{"application_id": "APP_0002", "income": 61000.0},
		},
	}

	resp, err := newTestClient(srv).Score(context.Background(), &ScoreRequest{
		Batch:    batch,
		Filename: "sanitized.csv",
		Params:   map[string]string{"rule_mode": "classic"},
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if resp.RunID != "run-42" {
		t.Errorf("run id = %q, want run-42", resp.RunID)
	}
}

func TestScoreNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Score(context.Background(), &ScoreRequest{
		Batch: &domain.Batch{Columns: []string{"application_id"}},
	})
	if err == nil {
		t.Fatal("expected error on 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status code: %v", err)
	}
}

func TestTrainAndPromote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/training/train":
			w.Write([]byte(`{"job_id":"job-7","status":"started"}`))
		case "/v1/training/promote":
			w.Write([]byte(`{"promoted":true}`))
		case "/v1/training/production_meta":
			w.Write([]byte(`{"model":"credit-v3"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()

	train, err := c.Train(ctx, &TrainRequest{FeedbackPaths: []string{"/tmp/fb.csv"}})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if train.JobID != "job-7" {
		t.Errorf("job id = %q", train.JobID)
	}

	promote, err := c.Promote(ctx)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if promote["promoted"] != true {
		t.Errorf("promote response = %v", promote)
	}

	meta, err := c.ProductionMeta(ctx)
	if err != nil {
		t.Fatalf("ProductionMeta: %v", err)
	}
	if meta["model"] != "credit-v3" {
		t.Errorf("meta = %v", meta)
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
