package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/metrics"
	"github.com/yoockh/meetbot/internal/models"
)

const (
	HeaderSignature = "X-Meetbot-Signature"
	HeaderEventID   = "X-Meetbot-Event-Id"
	HeaderEventType = "X-Meetbot-Event"
)

// errPermanent marks a response that retrying will not fix.
var errPermanent = errors.New("webhook rejected")

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

// WebhookClient POSTs events to the owning application.
type WebhookClient struct {
	URL         string
	Secret      []byte
	Client      *http.Client
	MaxAttempts int
	Backoff     time.Duration
	Metrics     *metrics.Metrics
}

func NewWebhookClient(url, secret string, m *metrics.Metrics) *WebhookClient {
	return &WebhookClient{
		URL:         url,
		Secret:      []byte(secret),
		Client:      &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: 4,
		Backoff:     500 * time.Millisecond,
		Metrics:     m,
	}
}

func (c *WebhookClient) count(result string) {
	if c.Metrics != nil {
		c.Metrics.WebhookDelivery.WithLabelValues(result).Inc()
	}
}

// Deliver sends ev, retrying transport errors and 5xx with exponential
// backoff. Receivers dedupe on the event id header.
func (c *WebhookClient) Deliver(ctx context.Context, ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	err = backoff.Retry(func() error {
		err := c.post(ctx, ev, body)
		if errors.Is(err, errPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(c.backOff(), uint64(attempts-1)), ctx))

	switch {
	case err == nil:
		c.count("ok")
		return nil
	case errors.Is(err, errPermanent):
		c.count("rejected")
		return err
	case ctx.Err() != nil:
		c.count("failed")
		return err
	default:
		c.count("failed")
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, err)
	}
}

func (c *WebhookClient) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.Backoff > 0 {
		b.InitialInterval = c.Backoff
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // attempts are capped by WithMaxRetries
	b.Reset()
	return b
}

func (c *WebhookClient) post(ctx context.Context, ev models.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, ev.EventID)
	req.Header.Set(HeaderEventType, string(ev.Type))
	if len(c.Secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(c.Secret, body))
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", errPermanent, resp.StatusCode)
	}
}

// WebhookNotifier delivers events directly from a small in-process queue.
// Used when no Redis stream is configured.
type WebhookNotifier struct {
	client  *WebhookClient
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	wg     sync.WaitGroup
}

func NewWebhookNotifier(client *WebhookClient, workers, queueSize int, log logrus.FieldLogger, m *metrics.Metrics) *WebhookNotifier {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	n := &WebhookNotifier{
		client:  client,
		log:     log,
		metrics: m,
		queue:   make(chan models.Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.run()
	}
	return n
}

func (n *WebhookNotifier) run() {
	defer n.wg.Done()
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := n.client.Deliver(ctx, ev); err != nil && n.log != nil {
			n.log.WithError(err).WithFields(logrus.Fields{
				"session_id": ev.SessionID,
				"event":      ev.Type,
				"event_id":   ev.EventID,
			}).Warn("webhook delivery failed")
		}
		cancel()
	}
}

// Notify enqueues without blocking; a full queue drops the event.
func (n *WebhookNotifier) Notify(_ context.Context, sessionID string, t models.EventType, data map[string]any) {
	ev := NewEvent(sessionID, t, data)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped(ev)
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.dropped(ev)
	}
}

func (n *WebhookNotifier) dropped(ev models.Event) {
	if n.metrics != nil {
		n.metrics.NotifyFailures.WithLabelValues("webhook").Inc()
	}
	if n.log != nil {
		n.log.WithFields(logrus.Fields{"session_id": ev.SessionID, "event": ev.Type}).Warn("webhook event dropped")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (n *WebhookNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}
