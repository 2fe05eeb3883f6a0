// Package tca is the client for the Turnitin Core API similarity
// service, plus the reconciliation logic that advances queued diffs as
// the service reports progress.
package tca

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/config"
	"github.com/copyvio/copypatrol/internal/globaltime"
)

const (
	webhookDescription = "CopyPatrol backend webhook"
	systemUserID       = ":system:"

	defaultRequestTimeout = 60 * time.Second
	maxRetryDelay         = 60 * time.Second
)

// WebhookEventTypes are the event types the service delivers to the
// registered webhook.
var WebhookEventTypes = []string{"SUBMISSION_COMPLETE", "SIMILARITY_COMPLETE"}

// Client wraps the similarity service's REST API. Requests retry with
// exponential backoff on 429 and 500, and an expired end user license
// agreement (HTTP 451) is accepted and the request replayed once.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	key            string
	webhookDomain  string
	webhookSecret  []byte
	reportPriority string
	maxRetries     int
	logger         zerolog.Logger

	retryDelay func(attempt int) time.Duration
}

func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: defaultRequestTimeout},
		baseURL:        "https://" + strings.TrimSpace(cfg.TCADomain) + "/api/v1",
		key:            strings.TrimSpace(cfg.TCAKey),
		webhookDomain:  strings.TrimSpace(cfg.TCAWebhookDomain),
		webhookSecret:  cfg.WebhookSecret(),
		reportPriority: strings.ToUpper(strings.TrimSpace(cfg.TCAReportPriority)),
		maxRetries:     cfg.TCAMaxRetries,
		logger:         logger,
		retryDelay:     defaultRetryDelay,
	}
}

func defaultRetryDelay(attempt int) time.Duration {
	delay := time.Second << attempt
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}

type response struct {
	status int
	body   []byte
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, headers map[string]string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build tca request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("User-Agent", "copypatrol-backend/1.0")
	req.Header.Set("X-Turnitin-Integration-Name", "CopyPatrol backend")
	req.Header.Set("X-Turnitin-Integration-Version", "1.0")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tca %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tca response: %w", err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// do sends the request with retries. allowEULARecovery is false for the
// EULA endpoints themselves to keep the replay from recursing.
func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string, allowEULARecovery bool) (*response, error) {
	var resp *response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.send(ctx, method, path, body, headers)
		if err == nil && resp.status != http.StatusTooManyRequests && resp.status != http.StatusInternalServerError {
			break
		}
		if attempt >= c.maxRetries {
			break
		}
		delay := c.retryDelay(attempt)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Dur("delay", delay).Msg("tca request failed, retrying")
		} else {
			c.logger.Warn().Int("status", resp.status).Str("path", path).Dur("delay", delay).Msg("tca request rejected, retrying")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusUnavailableForLegalReasons && allowEULARecovery {
		version, err := c.LatestEULAVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("recover from eula rejection: %w", err)
		}
		if err := c.AcceptEULA(ctx, version); err != nil {
			return nil, fmt.Errorf("recover from eula rejection: %w", err)
		}
		return c.do(ctx, method, path, body, headers, false)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	headers := map[string]string{}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode tca payload: %w", err)
		}
		body = encoded
		headers["Content-Type"] = "application/json"
	}

	resp, err := c.do(ctx, method, path, body, headers, true)
	if err != nil {
		return err
	}
	return decode(resp, method, path, out)
}

func decode(resp *response, method, path string, out any) error {
	if resp.status < 200 || resp.status > 299 {
		return fmt.Errorf("tca %s %s returned status %d: %s", method, path, resp.status, strings.TrimSpace(string(resp.body)))
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode tca %s %s response: %w", method, path, err)
	}
	return nil
}

// LatestEULAVersion fetches the current end user license agreement version.
func (c *Client) LatestEULAVersion(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/eula/latest?lang=en-US", nil, nil, false)
	if err != nil {
		return "", err
	}
	var out struct {
		Version string `json:"version"`
	}
	if err := decode(resp, http.MethodGet, "/eula/latest", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// AcceptEULA accepts the given end user license agreement version on
// behalf of the system user.
func (c *Client) AcceptEULA(ctx context.Context, version string) error {
	c.logger.Info().Str("version", version).Msg("accepting eula")
	payload := map[string]any{
		"version":            version,
		"user_id":            systemUserID,
		"accepted_timestamp": globaltime.UTC().Format(time.RFC3339),
		"language":           "en-US",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode eula payload: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/eula/"+version+"/accept", body, map[string]string{"Content-Type": "application/json"}, false)
	if err != nil {
		return err
	}
	return decode(resp, http.MethodPost, "/eula/"+version+"/accept", nil)
}

// CreateWebhook registers this service's webhook endpoint.
func (c *Client) CreateWebhook(ctx context.Context) error {
	if c.webhookDomain == "" || len(c.webhookSecret) == 0 {
		return fmt.Errorf("webhook domain and signing secret are required")
	}
	c.logger.Info().Str("domain", c.webhookDomain).Msg("creating webhook")
	payload := map[string]any{
		"description":    webhookDescription,
		"signing_secret": base64.StdEncoding.EncodeToString(c.webhookSecret),
		"url":            "https://" + c.webhookDomain + "/tca-webhook",
		"event_types":    WebhookEventTypes,
	}
	return c.doJSON(ctx, http.MethodPost, "/webhooks", payload, nil)
}

// DeleteWebhooks removes every webhook this service previously registered.
func (c *Client) DeleteWebhooks(ctx context.Context) error {
	var webhooks []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/webhooks", nil, &webhooks); err != nil {
		return err
	}
	for _, webhook := range webhooks {
		if webhook.Description != webhookDescription {
			continue
		}
		c.logger.Info().Str("id", webhook.ID).Msg("deleting webhook")
		if err := c.doJSON(ctx, http.MethodDelete, "/webhooks/"+webhook.ID, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateSubmission registers a new submission and returns its id.
// The group names the wiki so submissions stay browsable per site.
func (c *Client) CreateSubmission(ctx context.Context, group, title string, timestamp time.Time, owner string) (string, error) {
	payload := map[string]any{
		"owner":     owner,
		"title":     title,
		"submitter": systemUserID,
		"metadata": map[string]any{
			"group": map[string]any{
				"id":   group,
				"name": group,
				"type": "FOLDER",
			},
			"original_submitted_time": timestamp.UTC().Format(time.RFC3339),
		},
		"owner_default_permission_set":     "USER",
		"submitter_default_permission_set": "ADMINISTRATOR",
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/submissions", payload, &out); err != nil {
		return "", err
	}
	sid, err := uuid.Parse(out.ID)
	if err != nil {
		return "", fmt.Errorf("submission id %q is not a uuid: %w", out.ID, err)
	}
	return sid.String(), nil
}

// UploadSubmission uploads the added text as the submission's original
// document. A CONFLICT response means the text was already uploaded,
// which counts as success so interrupted runs can resume.
func (c *Client) UploadSubmission(ctx context.Context, sid, text string) error {
	headers := map[string]string{
		"Content-Type":        "binary/octet-stream",
		"Content-Disposition": fmt.Sprintf("inline; filename='%s.txt'", sid),
	}
	resp, err := c.do(ctx, http.MethodPut, "/submissions/"+sid+"/original", []byte(text), headers, true)
	if err != nil {
		return err
	}
	if resp.status == http.StatusConflict {
		var out struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(resp.body, &out) == nil && out.Code == "CONFLICT" {
			c.logger.Debug().Str("submission_id", sid).Msg("submission text already uploaded")
			return nil
		}
	}
	return decode(resp, http.MethodPut, "/submissions/"+sid+"/original", nil)
}

// SubmissionInfo is the processing state of one submission.
type SubmissionInfo struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
}

func (c *Client) SubmissionInfo(ctx context.Context, sid string) (*SubmissionInfo, error) {
	var out SubmissionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/submissions/"+sid, nil, &out); err != nil {
		return nil, err
	}
	if out.ID != sid {
		return nil, fmt.Errorf("submission info id %q does not match %q", out.ID, sid)
	}
	return &out, nil
}

// GenerateReport asks the service to run a similarity report.
func (c *Client) GenerateReport(ctx context.Context, sid string) error {
	payload := map[string]any{
		"generation_settings": map[string]any{
			"search_repositories": []string{
				"INTERNET",
				"SUBMITTED_WORK",
				"PUBLICATION",
				"CROSSREF",
				"CROSSREF_POSTED_CONTENT",
			},
			"priority": c.reportPriority,
		},
	}
	return c.doJSON(ctx, http.MethodPut, "/submissions/"+sid+"/similarity", payload, nil)
}

// ReportInfo is the state of one similarity report.
type ReportInfo struct {
	SubmissionID                     string `json:"submission_id"`
	Status                           string `json:"status"`
	TopSourceLargestMatchedWordCount int64  `json:"top_source_largest_matched_word_count"`
}

func (c *Client) ReportInfo(ctx context.Context, sid string) (*ReportInfo, error) {
	var out ReportInfo
	if err := c.doJSON(ctx, http.MethodGet, "/submissions/"+sid+"/similarity", nil, &out); err != nil {
		return nil, err
	}
	if out.SubmissionID != sid {
		return nil, fmt.Errorf("report info submission id %q does not match %q", out.SubmissionID, sid)
	}
	return &out, nil
}

// Source is one matched source from a similarity report.
type Source struct {
	Description string
	URL         string
	Percent     float64
}

// ReportSources returns the best match of each aggregate in the report
// overview.
func (c *Client) ReportSources(ctx context.Context, sid string) ([]Source, error) {
	var out struct {
		SubmissionID    string `json:"submission_id"`
		MatchAggregates []struct {
			MatchSources []struct {
				Description string  `json:"description"`
				Link        string  `json:"link"`
				Percent     float64 `json:"percent"`
			} `json:"match_sources"`
		} `json:"match_aggregates"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/submissions/"+sid+"/similarity/view/overview", nil, &out); err != nil {
		return nil, err
	}
	if out.SubmissionID != sid {
		return nil, fmt.Errorf("report overview submission id %q does not match %q", out.SubmissionID, sid)
	}

	sources := make([]Source, 0, len(out.MatchAggregates))
	for _, aggregate := range out.MatchAggregates {
		if len(aggregate.MatchSources) == 0 {
			continue
		}
		best := aggregate.MatchSources[0]
		sources = append(sources, Source{
			Description: best.Description,
			URL:         best.Link,
			Percent:     best.Percent,
		})
	}
	return sources, nil
}
