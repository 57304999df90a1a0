// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v57/github"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// LogSink writes escalations to the structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs at warn level
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, event Event) error {
	s.logger.Warn("EscalationRequired",
		zap.String("event_id", event.ID),
		zap.String("batch_id", event.BatchID),
		zap.String("target", event.TargetID),
		zap.String("category", string(event.Category)),
		zap.Int("attempts", event.AttemptCount),
		zap.String("last_failure", event.LastFailure))
	return nil
}

// WebhookSink POSTs the JSON event to an HTTP endpoint
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink. A nil client gets a 10s timeout default.
func NewWebhookSink(url string, headers map[string]string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, headers: headers, client: client}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, event Event) error {
	payload := struct {
		Event
		Text string `json:"text"`
	}{Event: event, Text: event.Title() + "\n" + event.Summary()}

	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error encoding event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// NATSSink publishes JSON events on a subject
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url and publishes on subject
func NewNATSSink(url, subject string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("remedy-escalation"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error encoding event: %w", err))
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("nats publish failed: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		return s.conn.Flush()
	}
	return s.conn.FlushWithContext(ctx)
}

// Close drains the connection
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// GitHubIssueSink opens an issue per escalation
type GitHubIssueSink struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
}

// NewGitHubClient creates a client authenticated with a static token
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// NewGitHubIssueSink creates an issue sink for owner/repo
func NewGitHubIssueSink(client *github.Client, owner, repo string, labels []string) *GitHubIssueSink {
	return &GitHubIssueSink{client: client, owner: owner, repo: repo, labels: labels}
}

func (s *GitHubIssueSink) Name() string { return "github" }

func (s *GitHubIssueSink) Send(ctx context.Context, event Event) error {
	req := &github.IssueRequest{
		Title: github.String(event.Title()),
		Body:  github.String(event.Summary() + fmt.Sprintf("\nEvent: `%s`\n", event.ID)),
	}
	if len(s.labels) > 0 {
		labels := append([]string(nil), s.labels...)
		req.Labels = &labels
	}

	_, resp, err := s.client.Issues.Create(ctx, s.owner, s.repo, req)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("error creating issue: %w", err))
		}
		return fmt.Errorf("error creating issue: %w", err)
	}
	return nil
}
