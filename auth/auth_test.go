package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func tokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenAndSetAuthHeader(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	client := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", AuthURL: srv.URL})

	tok, err := client.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if tok.AccessToken != "token123" {
		t.Fatalf("unexpected token %s", tok.AccessToken)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	if err := client.SetAuthHeader(req); err != nil {
		t.Fatalf("SetAuthHeader returned error: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer token123" {
		t.Fatalf("unexpected Authorization header %q", got)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected cached token, endpoint called %d times", calls)
	}

	client.Invalidate()
	if _, err := client.Token(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected refresh after invalidate, endpoint called %d times", calls)
	}
}

func TestTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()
	client := NewClientCred(Conf{ClientID: "id", AuthURL: srv.URL})
	if _, err := client.Token(context.Background()); err == nil {
		t.Fatal("expected error from failing token endpoint")
	}
}

func TestConfEnabled(t *testing.T) {
	if (Conf{}).Enabled() {
		t.Fatal("empty conf must be disabled")
	}
	if !(Conf{ClientID: "id", AuthURL: "http://x"}).Enabled() {
		t.Fatal("expected enabled conf")
	}
}
