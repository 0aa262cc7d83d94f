package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientDeliverSuccessSignsPayload(t *testing.T) {
	const secret = "top-secret"
	var gotSignature string
	var gotBody Payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(secret, "test/1.0")
	payload := Payload{
		Event:         EventDemographicsCreated,
		Data:          map[string]any{"a": 1},
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-1",
		Tenant:        "acme",
	}

	result := client.Deliver(context.Background(), server.URL, payload, 0, "corr-1")

	if !result.Success {
		t.Fatalf("result.Success = false, err = %v", result.Err)
	}
	if result.HTTPStatus != http.StatusOK {
		t.Errorf("result.HTTPStatus = %d, want %d", result.HTTPStatus, http.StatusOK)
	}
	if gotSignature == "" {
		t.Fatal("request carried no X-Webhook-Signature header")
	}

	canonical, err := gotBody.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON(): %v", err)
	}
	if !Verify(secret, canonical, gotSignature) {
		t.Error("received signature does not verify against the received body")
	}
}

func TestClientDeliverNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := NewClient("secret", "test/1.0")
	result := client.Deliver(context.Background(), server.URL, Payload{Event: EventDemographicsCreated}, 0, "corr-1")

	if result.Success {
		t.Error("result.Success = true, want false for a 502 response")
	}
	if result.HTTPStatus != http.StatusBadGateway {
		t.Errorf("result.HTTPStatus = %d, want %d", result.HTTPStatus, http.StatusBadGateway)
	}
	if result.ResponseExcerpt == "" {
		t.Error("result.ResponseExcerpt is empty, want the response body excerpt")
	}
}

func TestClientDeliverNetworkError(t *testing.T) {
	client := NewClient("secret", "test/1.0")
	result := client.Deliver(context.Background(), "http://127.0.0.1:0", Payload{Event: EventDemographicsCreated}, 0, "corr-1")

	if result.Err == nil {
		t.Fatal("expected a network error, got nil")
	}
	if result.Success {
		t.Error("result.Success = true, want false")
	}
}

func TestClientDeliverSucceedsOnRetryAttempt(t *testing.T) {
	hit := make(chan int, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- 1
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient("secret", "test/1.0")
	result := client.Deliver(context.Background(), server.URL, Payload{Event: EventDemographicsCreated}, 2, "corr-1")

	if !result.Success {
		t.Fatalf("result.Success = false, err = %v", result.Err)
	}
	select {
	case <-hit:
	default:
		t.Error("server never received the request")
	}
}
