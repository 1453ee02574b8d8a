//go:build integration

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/ugs/infra/mqtt"
)

const (
	itOrg    = "ugs"
	itBucket = "runs"
	itToken  = "integration-token"
)

func requireDocker(t *testing.T) {
	t.Helper()
	if v := os.Getenv("DOCKER_AVAILABLE"); v != "true" && v != "1" {
		t.Skip("docker not available")
	}
}

func startInflux(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "admin",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "admin-password",
			"DOCKER_INFLUXDB_INIT_ORG":         itOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      itBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": itToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "8086")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

func TestIntegration_InfluxSink(t *testing.T) {
	requireDocker(t)
	ctx := context.Background()
	url := startInflux(ctx, t)

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: url, Token: itToken, Org: itOrg, Bucket: itBucket})
	influx, ok := sink.(*InfluxSink)
	require.True(t, ok, "expected a live influx sink, got %T", sink)
	defer func() { _ = influx.Close() }()

	rep := sampleReport(time.Now().UTC())
	require.NoError(t, influx.RecordRun(rep))
	require.NoError(t, influx.RecordPlan(rep.RunID, rep.Plan))

	cli := influxdb2.NewClient(url, itToken)
	defer cli.Close()
	flux := fmt.Sprintf(`from(bucket:%q)
  |> range(start: 2000-01-01T00:00:00Z)
  |> filter(fn: (r) => r._measurement == "ugs_run" and r._field == "intrinsic_value" and r.run_id == %q)`, itBucket, rep.RunID)

	var got []float64
	require.Eventually(t, func() bool {
		res, err := cli.QueryAPI(itOrg).Query(ctx, flux)
		if err != nil {
			return false
		}
		got = got[:0]
		for res.Next() {
			if v, ok := res.Record().Value().(float64); ok {
				got = append(got, v)
			}
		}
		return res.Err() == nil && len(got) == 1
	}, 10*time.Second, 200*time.Millisecond)
	assert.InDelta(t, rep.Economics.IntrinsicValue, got[0], 1e-3)

	planFlux := fmt.Sprintf(`from(bucket:%q)
  |> range(start: 2000-01-01T00:00:00Z)
  |> filter(fn: (r) => r._measurement == "ugs_plan_day" and r._field == "price" and r.run_id == %q)`, itBucket, rep.RunID)
	res, err := cli.QueryAPI(itOrg).Query(ctx, planFlux)
	require.NoError(t, err)
	n := 0
	for res.Next() {
		n++
	}
	require.NoError(t, res.Err())
	assert.Equal(t, len(rep.Plan), n)
}

func TestIntegration_MQTTSink(t *testing.T) {
	requireDocker(t)
	ctx := context.Background()
	broker := startMosquitto(ctx, t)

	received := make(chan []byte, 1)
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("ugs-it-sub")
	sub := paho.NewClient(opts)
	require.Eventually(t, func() bool {
		tok := sub.Connect()
		tok.Wait()
		return tok.Error() == nil
	}, 10*time.Second, 200*time.Millisecond)
	defer sub.Disconnect(100)

	sink, err := NewMQTTSink(MQTTConfig{
		Config:      mqtt.Config{Broker: broker, ClientID: "ugs-it-pub"},
		TopicPrefix: "it/runs",
	})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	rep := sampleReport(time.Now().UTC())
	require.NoError(t, sink.RecordRun(rep))

	// The summary is retained so a late subscriber still gets it.
	tok := sub.Subscribe("it/runs/latest", 1, func(_ paho.Client, m paho.Message) {
		select {
		case received <- m.Payload():
		default:
		}
	})
	tok.Wait()
	require.NoError(t, tok.Error())

	select {
	case payload := <-received:
		var msg runMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, rep.RunID, msg.RunID)
		assert.Equal(t, len(rep.Plan), msg.Days)
		assert.InDelta(t, rep.Bid.TotalBid, msg.Bid.TotalBid, 1e-9)
	case <-time.After(10 * time.Second):
		t.Fatal("no retained summary received")
	}
}
