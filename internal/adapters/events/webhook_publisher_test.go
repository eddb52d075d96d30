package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

func reportEvent(t *testing.T, id string, payload domain.ReportCompletedPayload) domain.EventEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.EventEnvelope{
		EventID:       "evt-" + id,
		EventType:     domain.EventReportCompleted,
		ReportID:      "rep-" + id,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		OccurredAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Payload:       raw,
	}
}

func TestWebhookPublisherSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	secret := "test-secret"
	pub := NewWebhookPublisher(srv.URL, secret, 5*time.Second)

	event := reportEvent(t, "1", domain.ReportCompletedPayload{
		FeedURL:     "https://example.com/gbfs.json",
		Version:     "2.3",
		ErrorsCount: 4,
	})

	if err := pub.Publish(context.Background(), domain.TopicReports, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantHeaders := map[string]string{
		"Content-Type":                 "application/json",
		"X-Gbfsvalidator-Topic":        domain.TopicReports,
		"X-Gbfsvalidator-Event":        domain.EventReportCompleted,
		"X-Gbfsvalidator-Delivery":     "evt-1",
		"X-Gbfsvalidator-Report-Id":    "rep-1",
		"X-Gbfsvalidator-Gbfs-Version": "2.3",
		"X-Gbfsvalidator-Errors-Count": "4",
		"X-Gbfsvalidator-Valid":        "false",
	}
	for name, want := range wantHeaders {
		if got := gotHeaders.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	sigHeader := gotHeaders.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sigHeader, "sha256=") {
		t.Fatalf("X-Hub-Signature-256 header missing or malformed: %q", sigHeader)
	}
	gotSig := strings.TrimPrefix(sigHeader, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	wantSig := hex.EncodeToString(mac.Sum(nil))
	if gotSig != wantSig {
		t.Errorf("signature mismatch: got %q, want %q", gotSig, wantSig)
	}

	var decoded reportNotification
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := reportNotification{
		EventID:     "evt-1",
		ReportID:    "rep-1",
		OccurredAt:  event.OccurredAt,
		FeedURL:     "https://example.com/gbfs.json",
		Version:     "2.3",
		ErrorsCount: 4,
	}
	if !decoded.OccurredAt.Equal(want.OccurredAt) {
		t.Errorf("OccurredAt = %v, want %v", decoded.OccurredAt, want.OccurredAt)
	}
	decoded.OccurredAt = want.OccurredAt
	if decoded != want {
		t.Errorf("body = %+v, want %+v", decoded, want)
	}
}

func TestWebhookPublisherValidUnchangedReport(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	event := reportEvent(t, "5", domain.ReportCompletedPayload{Version: "3.0", Unchanged: true})

	if err := pub.Publish(context.Background(), domain.TopicReports, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gotHeaders.Get("X-Gbfsvalidator-Valid"); got != "true" {
		t.Errorf("X-Gbfsvalidator-Valid = %q, want true", got)
	}
	if got := gotHeaders.Get("X-Gbfsvalidator-Errors-Count"); got != "0" {
		t.Errorf("X-Gbfsvalidator-Errors-Count = %q, want 0", got)
	}

	var decoded reportNotification
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !decoded.Valid || !decoded.Unchanged || decoded.Version != "3.0" {
		t.Errorf("body = %+v, want a valid unchanged 3.0 report", decoded)
	}
	if strings.Contains(string(gotBody), "feedUrl") {
		t.Errorf("body should omit an empty feedUrl: %s", gotBody)
	}
}

func TestWebhookPublisherNon2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	event := reportEvent(t, "2", domain.ReportCompletedPayload{Version: "2.3", ErrorsCount: 1})

	err := pub.Publish(context.Background(), domain.TopicReports, event)
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "rep-2") {
		t.Errorf("error should mention status 500 and report rep-2, got: %v", err)
	}
}

func TestWebhookPublisherContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	event := reportEvent(t, "3", domain.ReportCompletedPayload{Version: "2.3"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Publish(ctx, domain.TopicReports, event)
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to wrap context.Canceled, got: %v", err)
	}
}

func TestWebhookPublisherRejectsUndeliverableEvents(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)

	other := reportEvent(t, "6", domain.ReportCompletedPayload{Version: "2.3"})
	other.EventType = "report.deleted"
	if err := pub.Publish(context.Background(), domain.TopicReports, other); !errors.Is(err, errUnsupportedEvent) {
		t.Errorf("unsupported type: got %v, want errUnsupportedEvent", err)
	}

	broken := reportEvent(t, "7", domain.ReportCompletedPayload{})
	broken.Payload = []byte(`{"errorsCount":"many"}`)
	if err := pub.Publish(context.Background(), domain.TopicReports, broken); err == nil {
		t.Error("expected error for undecodable payload, got nil")
	}

	empty := reportEvent(t, "8", domain.ReportCompletedPayload{})
	empty.Payload = nil
	if err := pub.Publish(context.Background(), domain.TopicReports, empty); err == nil {
		t.Error("expected error for missing payload, got nil")
	}

	if calls != 0 {
		t.Errorf("webhook called %d times, want 0", calls)
	}
}

func TestWebhookPublisherZeroTimeoutUsesDefault(t *testing.T) {
	pub := NewWebhookPublisher("http://localhost:9", "s", 0)
	if pub.client.Timeout != defaultWebhookTimeout {
		t.Errorf("timeout = %v, want %v", pub.client.Timeout, defaultWebhookTimeout)
	}
}

func TestLogPublisherAcceptsReportEvents(t *testing.T) {
	pub := NewLogPublisher(nil)
	event := reportEvent(t, "4", domain.ReportCompletedPayload{Version: "2.3", ErrorsCount: 2})
	if err := pub.Publish(context.Background(), domain.TopicReports, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event.EventType = "report.deleted"
	if err := pub.Publish(context.Background(), domain.TopicReports, event); !errors.Is(err, errUnsupportedEvent) {
		t.Errorf("got %v, want errUnsupportedEvent", err)
	}
}
