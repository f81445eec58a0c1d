package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	HeaderTopic      = "X-Lims-Topic"
	HeaderEventType  = "X-Lims-Event-Type"
	HeaderEntityKind = "X-Lims-Entity-Kind"
	HeaderEntityID   = "X-Lims-Entity-Id"
	HeaderSignature  = "X-Hub-Signature-256"
)

// WebhookPublisher POSTs audit events to an HTTP endpoint. The body is
// signed with HMAC-SHA256 in HeaderSignature. Any non-2xx answer is an
// error, so the dispatcher retries it.
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
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderEventType, event.EventType)
	req.Header.Set(HeaderEntityKind, string(event.EntityKind))
	req.Header.Set(HeaderEntityID, event.EntityID)
	req.Header.Set(HeaderSignature, "sha256="+Sign(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", event.EventID, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a HeaderSignature value against body.
func Verify(secret, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(Sign(secret, body)))
}
