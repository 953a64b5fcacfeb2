package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/park-patrol/internal/history"
	"github.com/timvw/park-patrol/internal/logging"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/orchestrator"
	"github.com/timvw/park-patrol/internal/parkcontext"
)

type fakeService struct {
	mu         sync.Mutex
	lastImage  []byte
	lastText   string
	lastOv     parkcontext.Overrides
	result     *orchestrator.Result
	err        error
	status     orchestrator.Status
	updateErr  error
	lastSwitch [2]model.Selector
}

func (f *fakeService) Run(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastImage = req.Image
	f.lastOv = req.Overrides
	return f.result, f.err
}

func (f *fakeService) Extract(_ context.Context, image []byte) (*orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastImage = image
	return f.result, f.err
}

func (f *fakeService) Decide(_ context.Context, text string, ov parkcontext.Overrides) (*orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	f.lastOv = ov
	return f.result, f.err
}

func (f *fakeService) Status() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeService) UpdateProviders(v, d model.Selector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSwitch = [2]model.Selector{v, d}
	if f.updateErr != nil {
		return f.updateErr
	}
	f.status.Vision.Requested = v
	f.status.Decision.Requested = d
	return nil
}

func okResult() *orchestrator.Result {
	minutes := 120
	return &orchestrator.Result{
		ID:         "req-1",
		Extraction: model.SignExtraction{Text: "2 HR PARKING", Confidence: model.ConfidenceHigh},
		Decision:   model.Decision{CanPark: true, DurationMinutes: &minutes, Restrictions: []string{"2 hour limit"}},
	}
}

func newTestServer(t *testing.T, svc Service, opts ...Option) (*Server, *Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	opts = append([]Option{WithLogger(logging.Discard()), WithMetrics(m, reg)}, opts...)
	return New(":0", svc, opts...), m, reg
}

func do(t *testing.T, s *Server, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeService{})
	w := do(t, s, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestDecision_RawBody(t *testing.T) {
	svc := &fakeService{result: okResult()}
	s, m, _ := newTestServer(t, svc)

	w := do(t, s, http.MethodPost, "/v1/decisions?vehicle_type=suv&lat=37.8&lon=-122.2", []byte("image-bytes"), "image/jpeg")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "req-1", body["id"])
	decision := body["decision"].(map[string]any)
	assert.Equal(t, true, decision["can_park"])
	assert.EqualValues(t, 120, decision["duration"])

	assert.Equal(t, []byte("image-bytes"), svc.lastImage)
	assert.Equal(t, model.VehicleSUV, svc.lastOv.VehicleType)
	require.NotNil(t, svc.lastOv.Coordinates)
	assert.InDelta(t, 37.8, svc.lastOv.Coordinates.Latitude, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("can_park")))
}

func TestDecision_Multipart(t *testing.T) {
	svc := &fakeService{result: okResult()}
	s, _, _ := newTestServer(t, svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "sign.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png-bytes"))
	require.NoError(t, mw.Close())

	w := do(t, s, http.MethodPost, "/v1/decisions", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []byte("png-bytes"), svc.lastImage)
}

func TestDecision_MultipartWithoutImage(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeService{result: okResult()})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	w := do(t, s, http.MethodPost, "/v1/decisions", buf.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecision_BadOverrides(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeService{result: okResult()})

	for _, target := range []string{
		"/v1/decisions?vehicle_type=bus",
		"/v1/decisions?at=yesterday",
		"/v1/decisions?lat=1",
	} {
		w := do(t, s, http.MethodPost, target, []byte("img"), "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestDecision_TooLarge(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeService{result: okResult()}, WithMaxImageBytes(4))
	w := do(t, s, http.MethodPost, "/v1/decisions", []byte("too many bytes"), "image/png")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDecision_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		kind     string
		code     string
		wantRaw  string
		wantDesc bool
	}{
		{
			name:   "missing credential",
			err:    &model.Error{Op: "remote decision", Err: model.ErrMissingCredential},
			status: http.StatusServiceUnavailable, kind: "configuration", code: "missing credential",
		},
		{
			name:   "upstream",
			err:    &model.Error{Op: "openai", Err: model.ErrUpstream, Status: 500, Raw: "boom"},
			status: http.StatusBadGateway, kind: "transport", code: "upstream error", wantRaw: "boom",
		},
		{
			name:   "schema violation carries raw output",
			err:    &model.Error{Op: "remote decision", Err: model.ErrSchemaViolation, Detail: "can_park missing", Raw: `{"x":1}`},
			status: http.StatusBadGateway, kind: "parse", code: "schema violation", wantRaw: `{"x":1}`, wantDesc: true,
		},
		{
			name:   "invalid image",
			err:    &model.Error{Op: "local vision", Err: model.ErrInvalidImage, Detail: "not an image"},
			status: http.StatusUnprocessableEntity, kind: "domain", code: "invalid image", wantDesc: true,
		},
		{
			name:   "deadline",
			err:    context.DeadlineExceeded,
			status: http.StatusGatewayTimeout, kind: "canceled", wantDesc: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m, _ := newTestServer(t, &fakeService{err: tt.err})
			w := do(t, s, http.MethodPost, "/v1/decisions", []byte("img"), "image/png")
			require.Equal(t, tt.status, w.Code)

			body := decodeBody(t, w)
			assert.Equal(t, tt.kind, body["error"])
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
			if tt.wantRaw != "" {
				assert.Equal(t, tt.wantRaw, body["raw"])
			} else {
				assert.NotContains(t, body, "raw")
			}
			_, hasDesc := body["error_description"]
			assert.Equal(t, tt.wantDesc, hasDesc)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues(string(model.KindOf(tt.err)))))
		})
	}
}

func TestDecision_UnknownErrorHidesDetails(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeService{err: assert.AnError})
	w := do(t, s, http.MethodPost, "/v1/decisions", []byte("img"), "image/png")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, body, "error_description")
}

func TestDecisionFromText(t *testing.T) {
	svc := &fakeService{result: okResult()}
	s, _, _ := newTestServer(t, svc)

	w := do(t, s, http.MethodPost, "/v1/decisions/text",
		[]byte(`{"sign_text":"NO PARKING 7-9AM","vehicle_type":"truck","at":"2025-03-10T08:00:00Z"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "NO PARKING 7-9AM", svc.lastText)
	assert.Equal(t, model.VehicleTruck, svc.lastOv.VehicleType)
	assert.True(t, svc.lastOv.At.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)))

	w = do(t, s, http.MethodPost, "/v1/decisions/text", []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtraction(t *testing.T) {
	svc := &fakeService{result: okResult()}
	s, m, _ := newTestServer(t, svc)

	w := do(t, s, http.MethodPost, "/v1/extractions", []byte("img"), "image/png")
	require.Equal(t, http.StatusOK, w.Code)
	ext := decodeBody(t, w)["extraction"].(map[string]any)
	assert.Equal(t, "2 HR PARKING", ext["sign_text"])
	assert.Equal(t, 0, testutil.CollectAndCount(m.Decisions))
}

func TestProviders(t *testing.T) {
	svc := &fakeService{status: orchestrator.Status{
		Vision:   orchestrator.CapabilityStatus{Requested: model.SelectorLocal},
		Decision: orchestrator.CapabilityStatus{Requested: model.SelectorRemote},
	}}
	s, _, _ := newTestServer(t, svc)

	w := do(t, s, http.MethodGet, "/v1/providers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", decodeBody(t, w)["vision"].(map[string]any)["requested"])

	// Omitted selectors keep their current value.
	w = do(t, s, http.MethodPut, "/v1/providers", []byte(`{"decision":"apple"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, [2]model.Selector{model.SelectorLocal, model.SelectorLocal}, svc.lastSwitch)

	w = do(t, s, http.MethodPut, "/v1/providers", []byte(`{"vision":"cloud"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.updateErr = &model.Error{Op: "remote vision", Err: model.ErrMissingCredential}
	w = do(t, s, http.MethodPut, "/v1/providers", []byte(`{"vision":"remote"}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistory(t *testing.T) {
	store := history.NewStore(10, time.Hour)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(history.Entry{
			ID: id, TS: now.Add(time.Duration(i) * time.Minute), SignText: "sign " + id,
		}))
	}
	s, _, _ := newTestServer(t, &fakeService{}, WithHistory(store), WithClock(func() time.Time { return now.Add(5 * time.Minute) }))

	w := do(t, s, http.MethodGet, "/v1/history?limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeBody(t, w)["entries"].([]any)
	assert.Len(t, entries, 2)

	w = do(t, s, http.MethodGet, "/v1/history/b", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sign b", decodeBody(t, w)["sign_text"])

	w = do(t, s, http.MethodGet, "/v1/history/zzz", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/v1/history?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryDisabledWithoutSource(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeService{})
	w := do(t, s, http.MethodGet, "/v1/history", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, m, _ := newTestServer(t, &fakeService{result: okResult()})

	do(t, s, http.MethodGet, "/healthz", nil, "")
	do(t, s, http.MethodPost, "/v1/decisions", []byte("img"), "image/png")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "/healthz", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST", "/v1/decisions", "200")))

	w := do(t, s, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "park_patrol_http_requests_total"))
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", &fakeService{}, WithLogger(logging.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
