package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/timvw/park-patrol/internal/config"
	"github.com/timvw/park-patrol/internal/logging"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/orchestrator"
	"github.com/timvw/park-patrol/internal/prefs"
	"github.com/timvw/park-patrol/internal/provider"
)

func setFlags(t *testing.T, output, at string) {
	t.Helper()
	prevOut, prevAt := flagOutput, flagAt
	flagOutput, flagAt = output, at
	t.Cleanup(func() { flagOutput, flagAt = prevOut, prevAt })
}

func TestOverridesFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		at      string
		wantErr bool
		wantAt  time.Time
	}{
		{"defaults", "text", "", false, time.Time{}},
		{"json", "json", "", false, time.Time{}},
		{"at", "text", "2025-03-10T08:30:00Z", false, time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)},
		{"bad output", "yaml", "", true, time.Time{}},
		{"bad at", "text", "monday", true, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, tt.output, tt.at)
			ov, err := overridesFromFlags()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !ov.At.Equal(tt.wantAt) {
				t.Errorf("At = %v, want %v", ov.At, tt.wantAt)
			}
		})
	}
}

func TestPrintResult_JSON(t *testing.T) {
	setFlags(t, "json", "")
	minutes := 60
	res := &orchestrator.Result{ID: "req-1", Decision: model.Decision{CanPark: true, DurationMinutes: &minutes}}

	var buf bytes.Buffer
	if err := printResult(&buf, res, nil); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["id"] != "req-1" {
		t.Errorf("id = %v", got["id"])
	}
}

func TestPrintResult_JSONError(t *testing.T) {
	setFlags(t, "json", "")
	failure := &model.Error{Op: "remote decision", Err: model.ErrMissingCredential}

	var buf bytes.Buffer
	if err := printResult(&buf, nil, failure); err != failure {
		t.Fatalf("printResult should return the failure, got %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["error"] != "configuration" {
		t.Errorf("error = %q, want configuration", got["error"])
	}
}

func TestPrintResult_Text(t *testing.T) {
	setFlags(t, "text", "")
	res := &orchestrator.Result{Decision: model.Decision{CanPark: false}}

	var buf bytes.Buffer
	if err := printResult(&buf, res, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No parking") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestIsAzureEndpoint(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://myresource.openai.azure.com/openai/v1", true},
		{"https://myresource.services.ai.azure.com/anthropic/", true},
		{"https://myresource.openai.azure.us/openai/v1", true},
		{"https://api.openai.com/v1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAzureEndpoint(tt.url); got != tt.want {
			t.Errorf("isAzureEndpoint(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestProbe(t *testing.T) {
	prev := logger
	logger = logging.Discard()
	t.Cleanup(func() { logger = prev })

	models := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer models.Close()

	a := &app{
		cfg: config.Defaults(),
		registry: provider.NewRegistry(provider.Settings{
			Backend:      "anthropic",
			LocalBaseURL: models.URL + "/v1",
			LocalModel:   "llama3.2",
		}),
		prefs: prefs.NewMemoryStore(prefs.Defaults()),
	}

	results := a.probe(context.Background(), 5*time.Second)
	if len(results) != 3 {
		t.Fatalf("got %d probes, want 3", len(results))
	}

	ocrProbe, local, remote := results[0], results[1], results[2]
	if ocrProbe.Available {
		t.Error("ocr should be unavailable without a recognizer")
	}
	if !local.Available || local.Model != "llama3.2" {
		t.Errorf("local probe = %+v, want available llama3.2", local)
	}
	if remote.Available || remote.Name != "remote/anthropic" {
		t.Errorf("remote probe = %+v, want unavailable remote/anthropic", remote)
	}
	if !strings.Contains(remote.Error, "missing credential") {
		t.Errorf("remote error = %q, want missing credential", remote.Error)
	}
}
