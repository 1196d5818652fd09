package fcm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"echopush/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		ServerKey: "test-key",
		Endpoint:  srv.URL,
		HTTP:      &http.Client{Timeout: 2 * time.Second},
	}, srv
}

func TestSendSuccess(t *testing.T) {
	var captured sendBody
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "key=test-key" {
			t.Errorf("bad auth header: %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": 1, "failure": 0,
			"results": []map[string]string{{"message_id": "m1"}},
		})
	})

	err := client.Send(context.Background(), "tok-1", "Echo Reminder", "Hi future me",
		map[string]string{"echoId": "echo_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.To != "tok-1" || captured.Notification.Body != "Hi future me" {
		t.Fatalf("request body not as sent: %+v", captured)
	}
}

func TestSendNotRegisteredIsPermanent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": 0, "failure": 1,
			"results": []map[string]string{{"error": "NotRegistered"}},
		})
	})

	err := client.Send(context.Background(), "stale-token", "t", "x", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsPermanentSendFailure(err) {
		t.Fatalf("NotRegistered should be permanent, got %v", err)
	}
}

func TestSendServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.Send(context.Background(), "tok", "t", "x", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsPermanentSendFailure(err) {
		t.Fatalf("5xx must not be permanent, got %v", err)
	}
}

func TestSendTimeoutIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	client.HTTP.Timeout = 20 * time.Millisecond

	err := client.Send(context.Background(), "tok", "t", "x", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsPermanentSendFailure(err) {
		t.Fatalf("timeout must not be permanent, got %v", err)
	}
}

func TestIsInvalidToken(t *testing.T) {
	permanent := []string{
		"NotRegistered",
		"InvalidRegistration",
		"MismatchSenderId",
		"messaging/registration-token-not-registered",
		"some invalid-registration-token wrapper",
	}
	for _, code := range permanent {
		if !IsInvalidToken(code) {
			t.Fatalf("%q should be invalid-token", code)
		}
	}
	transient := []string{"", "Unavailable", "InternalServerError", "QuotaExceeded"}
	for _, code := range transient {
		if IsInvalidToken(code) {
			t.Fatalf("%q should not be invalid-token", code)
		}
	}
}
