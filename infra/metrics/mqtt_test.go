package metrics

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/ugs/core/model"
)

type published struct {
	topic    string
	kind     string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	msgs         []published
	err          error
	disconnected bool
}

func (f *fakePublisher) Publish(topic, kind string, retained bool, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, kind, retained, payload})
	return nil
}

func (f *fakePublisher) Disconnect() { f.disconnected = true }

func TestMQTTSink_RecordRun(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, MQTTConfig{TopicPrefix: "site/ugs/"})
	rep := sampleReport(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	if err := sink.RecordRun(rep); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(pub.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.msgs))
	}
	if pub.msgs[0].topic != "site/ugs/run-1/summary" || !pub.msgs[0].retained || pub.msgs[0].kind != "summary" {
		t.Errorf("unexpected summary message %+v", pub.msgs[0])
	}
	if pub.msgs[1].topic != "site/ugs/latest" || !pub.msgs[1].retained {
		t.Errorf("unexpected latest message %+v", pub.msgs[1])
	}
	var msg runMessage
	if err := json.Unmarshal(pub.msgs[0].payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.RunID != "run-1" || msg.Days != 2 || msg.Bid.TotalBid != 384_000 || msg.Solve.Status != "optimal" {
		t.Errorf("unexpected payload %+v", msg)
	}
}

func TestMQTTSink_RecordPlan(t *testing.T) {
	pub := &fakePublisher{}
	rep := sampleReport(time.Now())

	off := newMQTTSink(pub, MQTTConfig{})
	if err := off.RecordPlan(rep.RunID, rep.Plan); err != nil || len(pub.msgs) != 0 {
		t.Fatalf("plan must not be published when disabled: %v", err)
	}

	on := newMQTTSink(pub, MQTTConfig{PublishPlan: true})
	if err := on.RecordPlan(rep.RunID, rep.Plan); err != nil {
		t.Fatalf("record plan: %v", err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].topic != DefaultTopicPrefix+"/run-1/plan" || pub.msgs[0].retained {
		t.Fatalf("unexpected messages %+v", pub.msgs)
	}
	var msg planMessage
	if err := json.Unmarshal(pub.msgs[0].payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(msg.Plan) != 2 || msg.Plan[1].Withdrawal != 50_000 {
		t.Errorf("unexpected plan %+v", msg.Plan)
	}
}

func TestMQTTSink_ErrorsAndClose(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	sink := newMQTTSink(pub, MQTTConfig{})
	if err := sink.RecordRun(model.Report{RunID: "x"}); err == nil {
		t.Fatal("expected publish error")
	}
	if err := sink.Close(); err != nil || !pub.disconnected {
		t.Fatalf("close: %v disconnected=%v", err, pub.disconnected)
	}
}

func TestNewMQTTSink_RequiresBroker(t *testing.T) {
	if _, err := NewMQTTSink(MQTTConfig{}); err == nil {
		t.Fatal("expected error without broker")
	}
}
