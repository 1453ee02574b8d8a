package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ugs/core/metrics"
	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/infra/logger"
)

// InfluxConfig holds the InfluxDB v2 connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes run summaries and daily schedules to InfluxDB using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg.URL, cfg.Token, cfg.Org, cfg.Bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordRun writes one ugs_run point summarizing the valuation.
func (s *InfluxSink) RecordRun(rep model.Report) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, runPoint(rep))
}

// RecordPlan writes one ugs_plan_day point per scheduled day.
func (s *InfluxSink) RecordPlan(runID string, plan model.Plan) error {
	if len(plan) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	points := make([]*write.Point, len(plan))
	for i, d := range plan {
		points[i] = planPoint(runID, d)
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return err
	}
	s.log.Debugf("wrote %d plan points for run %s", len(points), runID)
	return nil
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func runPoint(rep model.Report) *write.Point {
	return write.NewPointWithMeasurement("ugs_run").
		AddTag("run_id", rep.RunID).
		AddTag("status", rep.Solve.Status).
		AddTag("optimal", strconv.FormatBool(rep.Optimal)).
		AddField("intrinsic_value", round3(rep.Economics.IntrinsicValue)).
		AddField("intrinsic_value_per_unit", round3(rep.Economics.IntrinsicValuePerUnit)).
		AddField("total_bid", round3(rep.Bid.TotalBid)).
		AddField("bid_per_unit", round3(rep.Bid.BidPerUnit)).
		AddField("expected_profit", round3(rep.Bid.ExpectedProfit)).
		AddField("injection_days", rep.KPIs.InjectionDays).
		AddField("withdrawal_days", rep.KPIs.WithdrawalDays).
		AddField("hold_days", rep.KPIs.HoldDays).
		AddField("utilization", round3(rep.KPIs.Utilization)).
		AddField("nodes", rep.Solve.Nodes).
		AddField("duration_ms", rep.Solve.DurationMS).
		SetTime(rep.CreatedAt)
}

// planPoint keeps the delivery date as point time. Undated days are left to
// the server clock and told apart by the day tag.
func planPoint(runID string, d model.DayPlan) *write.Point {
	p := write.NewPointWithMeasurement("ugs_plan_day").
		AddTag("run_id", runID).
		AddTag("day", strconv.Itoa(d.Day)).
		AddField("price", round3(d.Price)).
		AddField("injection", round3(d.Injection)).
		AddField("withdrawal", round3(d.Withdrawal)).
		AddField("storage", round3(d.Storage))
	if !d.Date.IsZero() {
		p = p.SetTime(d.Date)
	}
	return p
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

var (
	_ coremetrics.MetricsSink  = (*InfluxSink)(nil)
	_ coremetrics.PlanRecorder = (*InfluxSink)(nil)
	_ coremetrics.Closer       = (*InfluxSink)(nil)
)
