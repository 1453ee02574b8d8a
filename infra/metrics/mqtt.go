package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	coremetrics "github.com/kilianp07/ugs/core/metrics"
	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/infra/mqtt"
)

// DefaultTopicPrefix roots every topic published by the MQTT sink.
const DefaultTopicPrefix = "ugs/runs"

// MQTTConfig configures the MQTT sink. Broker settings are inlined.
type MQTTConfig struct {
	mqtt.Config `json:",squash"`
	TopicPrefix string `json:"topic_prefix"`
	// PublishPlan also sends the daily schedule of each run.
	PublishPlan bool `json:"publish_plan"`
}

type publisher interface {
	Publish(topic, kind string, retained bool, payload []byte) error
	Disconnect()
}

// MQTTSink publishes run summaries on
//
//	<prefix>/<run_id>/summary  (retained)
//	<prefix>/latest            (retained)
//	<prefix>/<run_id>/plan     (optional)
type MQTTSink struct {
	pub         publisher
	prefix      string
	publishPlan bool
}

type runMessage struct {
	RunID     string                  `json:"run_id"`
	CreatedAt time.Time               `json:"created_at"`
	Optimal   bool                    `json:"optimal"`
	Days      int                     `json:"days"`
	Economics model.EconomicsSummary  `json:"economics"`
	KPIs      model.KPIs              `json:"kpis"`
	Bid       model.BidRecommendation `json:"bid"`
	Solve     model.SolveSummary      `json:"solve"`
}

type planMessage struct {
	RunID string     `json:"run_id"`
	Plan  model.Plan `json:"plan"`
}

// NewMQTTSink connects to the broker described by cfg.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt sink: broker is required")
	}
	cli, err := mqtt.NewPahoClient(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("mqtt sink: %w", err)
	}
	return newMQTTSink(cli, cfg), nil
}

func newMQTTSink(pub publisher, cfg MQTTConfig) *MQTTSink {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTSink{pub: pub, prefix: prefix, publishPlan: cfg.PublishPlan}
}

// RecordRun publishes the run summary.
func (s *MQTTSink) RecordRun(rep model.Report) error {
	payload, err := json.Marshal(runMessage{
		RunID:     rep.RunID,
		CreatedAt: rep.CreatedAt,
		Optimal:   rep.Optimal,
		Days:      len(rep.Plan),
		Economics: rep.Economics,
		KPIs:      rep.KPIs,
		Bid:       rep.Bid,
		Solve:     rep.Solve,
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.topic(rep.RunID, "summary"), "summary", true, payload); err != nil {
		return err
	}
	return s.pub.Publish(s.prefix+"/latest", "summary", true, payload)
}

// RecordPlan publishes the daily schedule when enabled.
func (s *MQTTSink) RecordPlan(runID string, plan model.Plan) error {
	if !s.publishPlan {
		return nil
	}
	payload, err := json.Marshal(planMessage{RunID: runID, Plan: plan})
	if err != nil {
		return err
	}
	return s.pub.Publish(s.topic(runID, "plan"), "plan", false, payload)
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.pub.Disconnect()
	return nil
}

func (s *MQTTSink) topic(runID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, runID, kind)
}

var (
	_ coremetrics.MetricsSink  = (*MQTTSink)(nil)
	_ coremetrics.PlanRecorder = (*MQTTSink)(nil)
	_ coremetrics.Closer       = (*MQTTSink)(nil)
)
