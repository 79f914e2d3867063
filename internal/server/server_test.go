package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zgpcy/oci-cost-sync/internal/config"
	"github.com/zgpcy/oci-cost-sync/internal/costcache"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/scheduler"
	"github.com/zgpcy/oci-cost-sync/internal/utilization"
)

// testLogger creates a logger for testing (error level to suppress test output)
func testLogger() *logger.Logger {
	return logger.New("error")
}

type mockCosts struct {
	mu     sync.Mutex
	result *costcache.Result
	err    error
	calls  []costcache.Filter
	period provider.Period
}

func (m *mockCosts) GetCosts(ctx context.Context, user string, period provider.Period, f costcache.Filter) (*costcache.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, f)
	m.period = period
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCosts) Stats(ctx context.Context, user string) (*costcache.Stats, error) {
	return &costcache.Stats{User: user, CurrentPeriod: "2026-10", CurrentCached: true}, nil
}

type mockResources struct {
	resources []provider.Resource
	samples   []provider.MetricSample
}

func (m *mockResources) ListResources(ctx context.Context, user string, family provider.Family, includeDeleted bool) ([]provider.Resource, error) {
	var out []provider.Resource
	for _, r := range m.resources {
		if r.Owner == user && r.Family() == family && (includeDeleted || !r.Deleted) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockResources) Samples(ctx context.Context, resourceID, metricName string) ([]provider.MetricSample, error) {
	return m.samples, nil
}

type mockJobs struct {
	mu       sync.Mutex
	err      error
	lastUser string
	lastDays int
	execs    map[string]scheduler.Execution
}

func (m *mockJobs) TriggerResourceSync(user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = user
	return "exec-1", m.err
}

func (m *mockJobs) TriggerMetricsSync(user string, days int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if days < 0 || days > utilization.MaxLookbackDays {
		return "", utilization.ErrInvalidLookback
	}
	m.lastUser = user
	m.lastDays = days
	return "exec-2", m.err
}

func (m *mockJobs) TriggerRollover(period provider.Period) (string, error) {
	if period == "2099-01" {
		return "", costcache.ErrPeriodOpen
	}
	return "exec-3", m.err
}

func (m *mockJobs) Execution(id string) (scheduler.Execution, bool) {
	e, ok := m.execs[id]
	return e, ok
}

func (m *mockJobs) Executions(job scheduler.JobName) []scheduler.Execution {
	var out []scheduler.Execution
	for _, e := range m.execs {
		if job == "" || e.Job == job {
			out = append(out, e)
		}
	}
	return out
}

type mockHealth struct {
	ready bool
	err   error
}

func (m *mockHealth) IsReady() bool              { return m.ready }
func (m *mockHealth) LastError() error           { return m.err }
func (m *mockHealth) LastRefreshTime() time.Time { return time.Time{} }

type staticUsers []string

func (u staticUsers) Users(ctx context.Context) ([]string, error) { return u, nil }

type fixture struct {
	server    *Server
	costs     *mockCosts
	resources *mockResources
	jobs      *mockJobs
	health    *mockHealth
}

func newFixture() *fixture {
	f := &fixture{
		costs: &mockCosts{result: &costcache.Result{
			User:   "alice",
			Period: "2026-10",
			State:  provider.PeriodOpen,
			Source: costcache.SourceCache,
			Records: []provider.CostRecord{
				{ResourceID: "ocid1.instance.oc1..a", Service: "Compute", Period: "2026-10", Amount: 12.5},
			},
			Total: 12.5,
		}},
		resources: &mockResources{},
		jobs: &mockJobs{execs: map[string]scheduler.Execution{
			"exec-9": {ID: "exec-9", Job: scheduler.JobRollover, Status: scheduler.StatusSuccess},
		}},
		health: &mockHealth{ready: true},
	}
	cfg := &config.Config{HTTPPort: 8080}
	f.server = NewServer(cfg, Dependencies{
		Costs:     f.costs,
		Resources: f.resources,
		Jobs:      f.jobs,
		Health:    f.health,
		Users:     staticUsers{"alice", "bob"},
		Metrics:   promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
	}, testLogger())
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	resp := w.Result()
	t.Cleanup(func() { resp.Body.Close() })
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, body
}

// TestNewServer tests server creation
func TestNewServer(t *testing.T) {
	f := newFixture()

	if f.server.server == nil {
		t.Fatal("server.server should not be nil")
	}
	if f.server.server.Addr != ":8080" {
		t.Errorf("server address: got %v, want :8080", f.server.server.Addr)
	}
	if f.server.server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("write timeout: got %v, want %v", f.server.server.WriteTimeout, DefaultWriteTimeout)
	}
}

// TestHandleHealth tests the /health endpoint
func TestHandleHealth(t *testing.T) {
	f := newFixture()
	resp, body := f.do(t, http.MethodGet, "/health")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %v, want application/json", ct)
	}
	if string(body) != `{"status":"healthy"}` {
		t.Errorf("Response body: got %v", string(body))
	}
}

// TestHandleReady tests the /ready endpoint in both states
func TestHandleReady(t *testing.T) {
	f := newFixture()

	resp, _ := f.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready: got %v, want 200", resp.StatusCode)
	}

	f.health.ready = false
	f.health.err = errors.New("database is locked")
	resp, body := f.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("not ready: got %v, want 503", resp.StatusCode)
	}
	if !strings.Contains(string(body), "database is locked") {
		t.Errorf("body should carry the refresh error, got %s", body)
	}
}

func TestHandleIndexAndMetrics(t *testing.T) {
	f := newFixture()

	resp, body := f.do(t, http.MethodGet, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index: got %v", resp.StatusCode)
	}
	var index map[string]any
	if err := json.Unmarshal(body, &index); err != nil {
		t.Fatalf("index is not JSON: %v", err)
	}
	if index["ready"] != true {
		t.Errorf("index ready: got %v", index["ready"])
	}

	resp, _ = f.do(t, http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: got %v", resp.StatusCode)
	}
}

func TestHandleCosts(t *testing.T) {
	f := newFixture()

	resp, body := f.do(t, http.MethodGet, "/v1/costs/alice?period=2026-10&service=Compute&refresh=true&resource=a&resource=b&min_amount=1.5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v, body %s", resp.StatusCode, body)
	}

	var res costcache.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 12.5 || len(res.Records) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	got := f.costs.calls[0]
	if got.Service != "Compute" || !got.Refresh || got.MinAmount != 1.5 || len(got.ResourceIDs) != 2 {
		t.Errorf("filter not passed through: %+v", got)
	}
	if f.costs.period != "2026-10" {
		t.Errorf("period: got %q", f.costs.period)
	}
}

func TestHandleCosts_DefaultPeriod(t *testing.T) {
	f := newFixture()
	resp, _ := f.do(t, http.MethodGet, "/v1/costs/alice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v", resp.StatusCode)
	}
	if f.costs.period != "" {
		t.Errorf("missing period should reach the manager empty, got %q", f.costs.period)
	}
}

func TestHandleCosts_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown user", "/v1/costs/mallory", http.StatusNotFound},
		{"bad period", "/v1/costs/alice?period=2026-13", http.StatusBadRequest},
		{"bad refresh", "/v1/costs/alice?refresh=maybe", http.StatusBadRequest},
		{"bad min amount", "/v1/costs/alice?min_amount=lots", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			resp, _ := f.do(t, http.MethodGet, tt.target)
			if resp.StatusCode != tt.want {
				t.Errorf("Status code: got %v, want %v", resp.StatusCode, tt.want)
			}
			if len(f.costs.calls) != 0 {
				t.Error("manager should not be called for a rejected request")
			}
		})
	}
}

func TestHandleCosts_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"future period", provider.NewError(provider.Permanent, "costcache.GetCosts", costcache.ErrFuturePeriod), http.StatusBadRequest},
		{"permanent", provider.NewError(provider.Permanent, "usage.RequestSummarizedUsages", errors.New("bad filter")), http.StatusUnprocessableEntity},
		{"auth expired", provider.NewError(provider.AuthExpired, "usage", errors.New("401")), http.StatusBadGateway},
		{"rate limited", provider.NewError(provider.RateLimited, "usage", errors.New("429")), http.StatusTooManyRequests},
		{"transient", provider.NewError(provider.Transient, "usage", errors.New("503")), http.StatusServiceUnavailable},
		{"inconsistent", provider.NewError(provider.Inconsistent, "rollover", errors.New("evict failed")), http.StatusInternalServerError},
		{"unclassified", fmt.Errorf("boom"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.costs.err = tt.err
			resp, body := f.do(t, http.MethodGet, "/v1/costs/alice")
			if resp.StatusCode != tt.want {
				t.Errorf("Status code: got %v, want %v", resp.StatusCode, tt.want)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Errorf("body should carry an error, got %s", body)
			}
		})
	}
}

func TestHandleStats(t *testing.T) {
	f := newFixture()
	resp, body := f.do(t, http.MethodGet, "/v1/stats/bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"user":"bob"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestHandleResources(t *testing.T) {
	f := newFixture()
	f.resources.resources = []provider.Resource{
		{ID: "v1", Owner: "alice", Details: provider.VolumeDetails{}},
		{ID: "v2", Owner: "alice", Deleted: true, Details: provider.VolumeDetails{}},
		{ID: "i1", Owner: "alice", Details: provider.ComputeDetails{}},
	}

	resp, body := f.do(t, http.MethodGet, "/v1/resources/alice/volume")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v", resp.StatusCode)
	}
	var got []map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "v1" {
		t.Errorf("expected only the live volume, got %s", body)
	}

	_, body = f.do(t, http.MethodGet, "/v1/resources/alice/volume?deleted=true")
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected deleted rows too, got %d", len(got))
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/resources/alice/spaceship")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown family: got %v, want 404", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/v1/resources/bob/volume")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty list should encode as [], got %s", body)
	}
}

func TestHandleSamples(t *testing.T) {
	f := newFixture()
	f.resources.samples = []provider.MetricSample{{ResourceID: "i1", MetricName: "CpuUtilization", Value: 12}}

	resp, body := f.do(t, http.MethodGet, "/v1/samples/i1/CpuUtilization")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"metric_name":"CpuUtilization"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestTriggers(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   int
		id     string
	}{
		{"resource sync all", "/v1/sync/resources", http.StatusAccepted, "exec-1"},
		{"resource sync user", "/v1/sync/resources/alice", http.StatusAccepted, "exec-1"},
		{"resource sync unknown user", "/v1/sync/resources/mallory", http.StatusNotFound, ""},
		{"metrics sync", "/v1/sync/metrics/alice?days=30", http.StatusAccepted, "exec-2"},
		{"metrics sync bad days", "/v1/sync/metrics/alice?days=abc", http.StatusBadRequest, ""},
		{"metrics sync lookback too long", "/v1/sync/metrics?days=91", http.StatusBadRequest, ""},
		{"rollover", "/v1/rollover/2026-09", http.StatusAccepted, "exec-3"},
		{"rollover open period", "/v1/rollover/2099-01", http.StatusConflict, ""},
		{"rollover bad period", "/v1/rollover/september", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			resp, body := f.do(t, http.MethodPost, tt.target)
			if resp.StatusCode != tt.want {
				t.Fatalf("Status code: got %v, want %v (body %s)", resp.StatusCode, tt.want, body)
			}
			if tt.id != "" && !strings.Contains(string(body), `"execution_id":"`+tt.id+`"`) {
				t.Errorf("expected execution id %s, got %s", tt.id, body)
			}
		})
	}
}

func TestTrigger_JobRunning(t *testing.T) {
	f := newFixture()
	f.jobs.err = scheduler.ErrJobRunning

	resp, body := f.do(t, http.MethodPost, "/v1/sync/resources/alice")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Status code: got %v, want 409", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"skipped"`) || !strings.Contains(string(body), "exec-1") {
		t.Errorf("skipped trigger should report its execution id, got %s", body)
	}
	if f.jobs.lastUser != "alice" {
		t.Errorf("user: got %q", f.jobs.lastUser)
	}
}

func TestHandleExecutions(t *testing.T) {
	f := newFixture()

	resp, body := f.do(t, http.MethodGet, "/v1/executions/exec-9")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"success"`) {
		t.Errorf("unexpected body %s", body)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/executions/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing execution: got %v, want 404", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/v1/executions?job=metrics_sync")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("filtered list should be empty, got %s", body)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/executions?job=nope")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown job: got %v, want 400", resp.StatusCode)
	}
}

// TestShutdown tests graceful server shutdown
func TestShutdown(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := f.server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown of an unstarted server failed: %v", err)
	}
}
