package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ugs/core/metrics"
	"github.com/kilianp07/ugs/core/model"
)

type lineServer struct {
	mu     sync.Mutex
	bodies []string
	paths  []string
}

func (l *lineServer) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	l.mu.Lock()
	l.bodies = append(l.bodies, strings.TrimSpace(string(data)))
	l.paths = append(l.paths, r.URL.Path)
	l.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func sampleReport(now time.Time) model.Report {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return model.Report{
		RunID:     "run-1",
		CreatedAt: now,
		Optimal:   true,
		Facility:  model.DefaultFacility(),
		Plan: model.Plan{
			{Day: 0, Date: start, Price: 20, Injection: 50_000, Storage: 50_000},
			{Day: 1, Date: start.AddDate(0, 0, 1), Price: 30, Withdrawal: 50_000},
		},
		Economics: model.EconomicsSummary{IntrinsicValue: 480_000, IntrinsicValuePerUnit: 0.48},
		KPIs:      model.KPIs{InjectionDays: 1, WithdrawalDays: 1, MaxStorage: 50_000, Utilization: 0.05},
		Bid:       model.BidRecommendation{BidFraction: 0.8, BidPerUnit: 0.384, TotalBid: 384_000, ExpectedProfit: 96_000},
		Solve:     model.SolveSummary{Status: "optimal", Objective: 480_000, Nodes: 7, DurationMS: 12},
	}
}

func TestInfluxSink_RecordRun(t *testing.T) {
	ls := &lineServer{}
	srv := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	rep := sampleReport(time.Now())
	if err := sink.RecordRun(rep); err != nil {
		t.Fatalf("record error: %v", err)
	}
	expected := strings.TrimSpace(write.PointToLineProtocol(runPoint(rep), time.Nanosecond))
	if len(ls.bodies) != 1 || ls.bodies[0] != expected {
		t.Fatalf("unexpected bodies: %#v", ls.bodies)
	}
	if ls.paths[0] != "/api/v2/write" {
		t.Errorf("unexpected path %s", ls.paths[0])
	}
	for _, want := range []string{"ugs_run,", "run_id=run-1", "status=optimal", "intrinsic_value=480000", "nodes=7i"} {
		if !strings.Contains(expected, want) {
			t.Errorf("line %q misses %q", expected, want)
		}
	}
}

func TestInfluxSink_RecordPlan(t *testing.T) {
	ls := &lineServer{}
	srv := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	rep := sampleReport(time.Now())
	if err := sink.RecordPlan(rep.RunID, rep.Plan); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if len(ls.bodies) != 1 {
		t.Fatalf("expected a single batched write, got %d", len(ls.bodies))
	}
	lines := strings.Split(ls.bodies[0], "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %#v", lines)
	}
	for i, d := range rep.Plan {
		exp := strings.TrimSpace(write.PointToLineProtocol(planPoint(rep.RunID, d), time.Nanosecond))
		if lines[i] != exp {
			t.Errorf("line %d: got %q want %q", i, lines[i], exp)
		}
	}

	if err := sink.RecordPlan("empty", nil); err != nil || len(ls.bodies) != 1 {
		t.Fatalf("empty plan must not write: %v", err)
	}
}

func TestPlanPoint_UndatedDay(t *testing.T) {
	line := write.PointToLineProtocol(planPoint("r", model.DayPlan{Day: 3, Price: 1}), time.Nanosecond)
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 2 {
		t.Fatalf("expected no timestamp, got %q", line)
	}
}

func TestInfluxSink_WriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "bad", "org", "bucket")
	if err := sink.RecordRun(sampleReport(time.Now())); err == nil {
		t.Fatal("expected write error")
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{
		URL:    srv.URL + "/api/v2/write",
		Token:  "tok",
		Org:    "org",
		Bucket: "bucket",
	})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if _, ok := sink.(coremetrics.NopSink); !ok {
		t.Fatalf("unexpected sink %T", sink)
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestNewInfluxSinkWithFallback_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL, Token: "tok", Org: "org", Bucket: "bucket"})
	is, ok := sink.(*InfluxSink)
	if !ok {
		t.Fatalf("expected InfluxSink, got %T", sink)
	}
	_ = is.Close()
}
