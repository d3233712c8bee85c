package proxy

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignatureMatchesScheme(t *testing.T) {
	params := map[string]string{
		"method":  "track.scrobble",
		"api_key": "abc123",
		"track":   "Dreams",
	}

	// Independent construction of the documented concatenation:
	// key+value in key order, secret appended, MD5 to lowercase hex.
	sum := md5.Sum([]byte("api_keyabc123methodtrack.scrobbletrackDreams" + "s3cret"))
	want := hex.EncodeToString(sum[:])

	if got := Signature(params, "s3cret"); got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}
}

func TestSignatureOrderIndependent(t *testing.T) {
	a := Signature(map[string]string{"b": "2", "a": "1"}, "x")
	b := Signature(map[string]string{"a": "1", "b": "2"}, "x")
	if a != b {
		t.Errorf("Signature() differs across map construction order")
	}
	if a == Signature(map[string]string{"a": "1", "b": "2"}, "y") {
		t.Errorf("Signature() identical across different secrets")
	}
}

func TestBrokerSignRequiresSecret(t *testing.T) {
	b := NewBroker()
	c := b.Client("scrobbler", nil)

	if _, err := c.Sign(context.Background(), map[string]string{"a": "1"}); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Sign() error = %v, want ErrNoSecret", err)
	}

	b.RegisterSecret("scrobbler", "s3cret")
	if _, err := c.Sign(context.Background(), map[string]string{"a": "1"}); err != nil {
		t.Errorf("Sign() error = %v after registration", err)
	}

	b.RegisterSecret("scrobbler", "")
	if _, err := c.Sign(context.Background(), map[string]string{"a": "1"}); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Sign() error = %v after unregister, want ErrNoSecret", err)
	}
}

func TestBrokerDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token tok" {
			t.Errorf("Authorization = %q, want %q", got, "Token tok")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	b := NewBroker()
	c := b.Client("scrobbler", nil)

	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: map[string]string{"Authorization": "Token tok"},
		Body:   []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.OK() {
		t.Errorf("OK() = false, status %d", resp.Status)
	}
	if got := resp.JSON().Get("status").String(); got != "ok" {
		t.Errorf("JSON().status = %q, want ok", got)
	}
}

func TestBrokerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	b := NewBroker(WithBrokerTimeout(20 * time.Millisecond))
	c := b.Client("scrobbler", nil)

	if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}); err == nil {
		t.Errorf("Do() error = nil, want deadline failure")
	}
}

func TestClientRefusesAfterTeardown(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	b := NewBroker()
	b.RegisterSecret("scrobbler", "s3cret")

	done := make(chan struct{})
	close(done)
	c := b.Client("scrobbler", done)

	if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}); !errors.Is(err, ErrContextGone) {
		t.Errorf("Do() error = %v, want ErrContextGone", err)
	}
	if called {
		t.Errorf("request reached the network for a dead context")
	}
	if _, err := c.Sign(context.Background(), map[string]string{"a": "1"}); !errors.Is(err, ErrContextGone) {
		t.Errorf("Sign() error = %v, want ErrContextGone", err)
	}
}
