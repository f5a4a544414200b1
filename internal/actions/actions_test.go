package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/octahive/octabot/internal/enginerr"
)

func TestDispatch_UnknownAction(t *testing.T) {
	d := NewDispatcher(map[string]Handler{})
	err := d.Dispatch(context.Background(), "does.not.exist", nil)
	if err == nil {
		t.Fatal("expected ActionFailure")
	}
	ee, ok := err.(*enginerr.EngineError)
	if !ok || ee.Kind != enginerr.KindActionFailure {
		t.Fatalf("got %v, want KindActionFailure", err)
	}
}

func TestDispatch_HandlerError(t *testing.T) {
	d := NewDispatcher(map[string]Handler{
		"boom": func(context.Context, json.RawMessage) error {
			return context.DeadlineExceeded
		},
	})
	err := d.Dispatch(context.Background(), "boom", nil)
	ee, ok := err.(*enginerr.EngineError)
	if !ok || ee.Kind != enginerr.KindActionFailure {
		t.Fatalf("got %v, want KindActionFailure", err)
	}
}

func TestWebhookNotify_Success(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler := NewWebhookNotifyHandler(5 * time.Second)
	payload, _ := json.Marshal(webhookNotifyPayload{URL: server.URL, Body: json.RawMessage(`{"x":1}`)})

	if err := handler(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody != `{"x":1}` {
		t.Fatalf("server received %q", gotBody)
	}
}

func TestWebhookNotify_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	handler := NewWebhookNotifyHandler(5 * time.Second)
	payload, _ := json.Marshal(webhookNotifyPayload{URL: server.URL})

	if err := handler(context.Background(), payload); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestWebhookNotify_MissingURL(t *testing.T) {
	handler := NewWebhookNotifyHandler(time.Second)
	payload, _ := json.Marshal(webhookNotifyPayload{})
	if err := handler(context.Background(), payload); err == nil {
		t.Fatal("expected error for missing url")
	}
}
