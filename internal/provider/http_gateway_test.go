package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sendwave/sendwave-backend/internal/provider"
)

func TestSendSuccessReturnsMessageID(t *testing.T) {
	var gotAuth, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTo = body["to"]
		json.NewEncoder(w).Encode(map[string]string{"message_id": "pm-123"})
	}))
	defer srv.Close()

	g := provider.NewHTTPGateway(srv.URL, "secret-token", time.Second)
	id, err := g.Send(context.Background(), "+254700000001", "hello", "acct-1")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if id != "pm-123" {
		t.Errorf("expected message id pm-123, got %q", id)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if gotTo != "+254700000001" {
		t.Errorf("unexpected destination: %q", gotTo)
	}
}

func TestSendClassifiesProviderErrors(t *testing.T) {
	cases := []struct {
		status   int
		wantKind string
	}{
		{http.StatusUnauthorized, provider.KindSystemic},
		{http.StatusForbidden, provider.KindSystemic},
		{http.StatusTooManyRequests, provider.KindTransient},
		{http.StatusInternalServerError, provider.KindTransient},
		{http.StatusServiceUnavailable, provider.KindTransient},
		{http.StatusUnprocessableEntity, provider.KindPermanent},
		{http.StatusBadRequest, provider.KindPermanent},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("http_%d", tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			g := provider.NewHTTPGateway(srv.URL, "t", time.Second)
			_, err := g.Send(context.Background(), "+1", "hi", "acct-1")
			if err == nil {
				t.Fatal("expected an error")
			}
			if kind := provider.Classify(err); kind != tc.wantKind {
				t.Errorf("expected %s, got %s (%v)", tc.wantKind, kind, err)
			}
			var se *provider.SendError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SendError, got %T", err)
			}
			if se.Code != fmt.Sprintf("http_%d", tc.status) {
				t.Errorf("expected synthesized code, got %q", se.Code)
			}
		})
	}
}

func TestSendUsesProviderErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "invalid_destination",
			"message": "destination is not a valid number",
		})
	}))
	defer srv.Close()

	g := provider.NewHTTPGateway(srv.URL, "t", time.Second)
	_, err := g.Send(context.Background(), "bogus", "hi", "acct-1")

	var se *provider.SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if se.Kind != provider.KindPermanent || se.Code != "invalid_destination" {
		t.Errorf("unexpected error: %+v", se)
	}
}

func TestSendAckWithoutMessageIDIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := provider.NewHTTPGateway(srv.URL, "t", time.Second)
	_, err := g.Send(context.Background(), "+1", "hi", "acct-1")
	if err == nil {
		t.Fatal("expected an error for an ack without message_id")
	}
	if kind := provider.Classify(err); kind != provider.KindTransient {
		t.Errorf("expected transient, got %s", kind)
	}
}

func TestSendNetworkFaultIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	g := provider.NewHTTPGateway(srv.URL, "t", time.Second)
	_, err := g.Send(context.Background(), "+1", "hi", "acct-1")
	if err == nil {
		t.Fatal("expected a network error")
	}
	if kind := provider.Classify(err); kind != provider.KindTransient {
		t.Errorf("expected transient, got %s", kind)
	}
}

func TestSendContextTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := provider.NewHTTPGateway(srv.URL, "t", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Send(ctx, "+1", "hi", "acct-1")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if kind := provider.Classify(err); kind != provider.KindTransient {
		t.Errorf("expected transient, got %s", kind)
	}
}

func TestClassifyUnknownErrorsAsTransient(t *testing.T) {
	if kind := provider.Classify(errors.New("something else")); kind != provider.KindTransient {
		t.Errorf("expected transient for raw errors, got %s", kind)
	}
}
