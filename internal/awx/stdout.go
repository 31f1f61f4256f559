package awx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// eventFallbackPageSize must be large enough to capture the full event set
// of a job in one page when reconstructing output.
const eventFallbackPageSize = 1000

// GetJobStdout fetches a job's console output. The primary stdout endpoint
// is called exactly once, without retry. A 404 from it triggers the one-shot
// fallback: reassemble the output from the job's events. A 403 fails
// immediately as an auth error with no fallback. tailLines > 0 keeps only
// the last N lines, applied after the full text is assembled.
func (c *Client) GetJobStdout(ctx context.Context, jobID int, format string, tailLines int) (string, error) {
	if format == "" {
		format = "txt"
	}
	params := url.Values{}
	params.Set("format", format)
	endpoint := fmt.Sprintf("/api/v2/jobs/%d/stdout/", jobID)

	status, contentType, body, err := c.doRaw(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Int("job_id", jobID).
		Int("status", status).
		Str("content_type", contentType).
		Int("body_length", len(body)).
		Msg("Job stdout response")

	switch {
	case status == http.StatusNotFound:
		c.logger.Info().Int("job_id", jobID).Msg("Stdout endpoint returned 404, falling back to job events")
		content, err := c.stdoutFromEvents(ctx, jobID)
		if err != nil {
			return "", err
		}
		return tail(content, tailLines), nil
	case status == http.StatusForbidden:
		return "", &AuthError{Detail: fmt.Sprintf("permission denied to access job %d stdout", jobID)}
	case status >= 400:
		return "", &APIError{StatusCode: status, Endpoint: endpoint, Detail: extractDetail(body)}
	}

	content := body
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(body), &payload); err == nil {
			content = payload.Content
		} else {
			// Content type lied; treat the body as literal text.
			c.logger.Warn().Int("job_id", jobID).Err(err).Msg("Failed to parse JSON stdout body, using raw text")
		}
	}

	return tail(content, tailLines), nil
}

// stdoutFromEvents reconstructs console output by concatenating every
// non-empty event stdout field in ascending event order. An empty
// reconstruction is an error: callers must be able to tell "no output
// anywhere" apart from a silently empty success.
func (c *Client) stdoutFromEvents(ctx context.Context, jobID int) (string, error) {
	events, err := c.GetJobEvents(ctx, jobID, false, 1, eventFallbackPageSize)
	if err != nil {
		return "", &NotFoundError{
			Endpoint: fmt.Sprintf("/api/v2/jobs/%d/stdout/", jobID),
			Detail:   fmt.Sprintf("stdout endpoint unavailable and job events fallback failed: %v", err),
		}
	}

	var lines []string
	for _, ev := range events {
		if ev.Stdout != "" {
			lines = append(lines, ev.Stdout)
		}
	}
	if len(lines) == 0 {
		return "", &NotFoundError{
			Endpoint: fmt.Sprintf("/api/v2/jobs/%d/stdout/", jobID),
			Detail:   fmt.Sprintf("job %d has no output available (no stdout or job events)", jobID),
		}
	}
	return strings.Join(lines, "\n"), nil
}

// tail returns at most n trailing newline-delimited lines of s. n <= 0
// returns s unchanged.
func tail(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
