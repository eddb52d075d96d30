package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	headerTopic       = "X-Gbfsvalidator-Topic"
	headerEvent       = "X-Gbfsvalidator-Event"
	headerDelivery    = "X-Gbfsvalidator-Delivery"
	headerReportID    = "X-Gbfsvalidator-Report-Id"
	headerGBFSVersion = "X-Gbfsvalidator-Gbfs-Version"
	headerErrorsCount = "X-Gbfsvalidator-Errors-Count"
	headerValid       = "X-Gbfsvalidator-Valid"
	headerSignature   = "X-Hub-Signature-256"
)

// WebhookPublisher POSTs a reportNotification for every completed report.
// The body is signed with HMAC-SHA256 and the headers repeat the verdict so
// receivers can route without parsing the body.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	n, err := notificationFromEvent(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTopic, topic)
	req.Header.Set(headerEvent, event.EventType)
	req.Header.Set(headerDelivery, n.EventID)
	req.Header.Set(headerReportID, n.ReportID)
	req.Header.Set(headerGBFSVersion, n.Version)
	req.Header.Set(headerErrorsCount, strconv.Itoa(n.ErrorsCount))
	req.Header.Set(headerValid, strconv.FormatBool(n.Valid))
	req.Header.Set(headerSignature, "sha256="+p.sign(body))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver report %s: %w", n.ReportID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver report %s: webhook returned status %d", n.ReportID, resp.StatusCode)
	}
	return nil
}

func (p *WebhookPublisher) sign(body []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
