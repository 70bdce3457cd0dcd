package alert

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/sony/gobreaker"

	"github.com/grafana/sentinel/pkg/model"
)

// Sink is the polymorphic delivery capability: any
// transport that can accept a subject/body and report ok/err.
type Sink interface {
	Send(ctx context.Context, subject, body string) error
}

// ChatWebhookSink posts to a chat incoming-webhook URL (Slack/Discord/Teams
// style), hedged for reliability and circuit-broken per channel.
type ChatWebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewChatWebhookSink builds a webhook sink for one channel id. deadline is
// the per-attempt timeout (default 10s).
func NewChatWebhookSink(channelID, url string, deadline time.Duration) (*ChatWebhookSink, error) {
	hedged, err := hedgedhttp.NewClient(deadline/2, 2, http.DefaultTransport)
	if err != nil {
		return nil, fmt.Errorf("building hedged client: %w", err)
	}
	hedged.Timeout = deadline
	return &ChatWebhookSink{
		url:     url,
		client:  hedged,
		breaker: newBreaker("chat-" + channelID),
	}, nil
}

func (s *ChatWebhookSink) Send(ctx context.Context, subject, body string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		payload := strings.NewReader(fmt.Sprintf(`{"text":%q}`, subject+"\n"+body))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSinkDelivery, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: webhook returned status %d", model.ErrSinkDelivery, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// ChatRouterSink delivers via a previously-established chat "router"
// session (e.g. a long-lived bot connection) rather than a one-shot HTTP
// webhook. Modeled here as a function capability so callers can plug in
// whatever session object the chat integration maintains.
type ChatRouterSink struct {
	channelID string
	send      func(ctx context.Context, channelID, subject, body string) error
	breaker   *gobreaker.CircuitBreaker
}

// NewChatRouterSink wraps an existing router-session send function.
func NewChatRouterSink(channelID string, send func(ctx context.Context, channelID, subject, body string) error) *ChatRouterSink {
	return &ChatRouterSink{channelID: channelID, send: send, breaker: newBreaker("router-" + channelID)}
}

func (s *ChatRouterSink) Send(ctx context.Context, subject, body string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		if err := s.send(ctx, s.channelID, subject, body); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSinkDelivery, err)
		}
		return nil, nil
	})
	return err
}

// EmailProviderSink delivers via an HTTP transactional-email provider API.
type EmailProviderSink struct {
	to       string
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewEmailProviderSink builds an email sink for the given recipient.
func NewEmailProviderSink(to, endpoint, apiKey string, deadline time.Duration) (*EmailProviderSink, error) {
	hedged, err := hedgedhttp.NewClient(deadline/2, 2, http.DefaultTransport)
	if err != nil {
		return nil, fmt.Errorf("building hedged client: %w", err)
	}
	hedged.Timeout = deadline
	return &EmailProviderSink{to: to, endpoint: endpoint, apiKey: apiKey, client: hedged, breaker: newBreaker("email-" + to)}, nil
}

func (s *EmailProviderSink) Send(ctx context.Context, subject, body string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		payload := strings.NewReader(fmt.Sprintf(`{"to":%q,"subject":%q,"body":%q}`, s.to, subject, body))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSinkDelivery, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: email provider returned status %d", model.ErrSinkDelivery, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// newBreaker builds a per-sink circuit breaker that opens after 5
// consecutive failures and probes again after 30s, preventing a down
// channel from absorbing the full sink deadline on every alert.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
