package mqtt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func useMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
	if _, err := (Config{UseTLS: true}).LoadTLSConfig(); err == nil {
		t.Fatalf("expected error for missing files")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if !strings.HasPrefix(opts.ClientID, "ugs-") {
		t.Fatalf("expected generated client id, got %q", opts.ClientID)
	}
}

func TestPublishQoS(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"summary": 1, "plan": 2}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.Publish("ugs/runs/1/summary", "summary", true, []byte("{}")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := cli.Publish("ugs/runs/1/plan", "plan", false, []byte("[]")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 2 || mc.published[0].qos != 1 || mc.published[1].qos != 2 {
		t.Fatalf("publish qos not applied: %+v", mc.published)
	}
	if !mc.published[0].retained || mc.published[1].retained {
		t.Fatalf("retained flag not forwarded")
	}
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1}
	cli, err := NewPahoClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if !mc.opts.WillEnabled {
		t.Fatalf("will not enabled")
	}
	if mc.opts.WillTopic != "lwt" || string(mc.opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
	cli.Disconnect()
	if len(mc.published) != 0 {
		t.Fatalf("unexpected publish on disconnect")
	}
	if !mc.disconnected {
		t.Fatalf("disconnect not forwarded")
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	var slept []time.Duration
	cli.sleep = func(d time.Duration) { slept = append(slept, d) }
	if err := cli.Publish("t", "summary", false, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retries")
	}
	if len(slept) != 1 || slept[0] != time.Millisecond {
		t.Fatalf("unexpected backoff %v", slept)
	}
}

func TestRetryExhausted(t *testing.T) {
	fail := fmt.Errorf("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail}}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 2, BackoffMS: 1})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	cli.sleep = func(time.Duration) {}
	if err := cli.Publish("t", "summary", false, nil); err == nil {
		t.Fatalf("expected error after retries")
	}
	if len(mc.published) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(mc.published))
	}
}

func TestConnectError(t *testing.T) {
	mc := &mockClient{connectErr: fmt.Errorf("refused")}
	useMock(t, mc)
	if _, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"}); err == nil {
		t.Fatalf("expected connect error")
	}
}

type published struct {
	topic    string
	qos      byte
	retained bool
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts         *paho.ClientOptions
	published    []published
	publishErrs  []error
	connectErr   error
	disconnected bool
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) { m.disconnected = true }
func (m *mockClient) Publish(topic string, qos byte, retained bool, _ interface{}) paho.Token {
	m.published = append(m.published, published{topic, qos, retained})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }
