package awx

import (
	"context"
	"fmt"
)

// GetJobEvents returns one page of execution events for a job, ordered by
// ascending counter (chronological execution order). With failedOnly set the
// controller filters server-side. Callers that need every failed event across
// a large job must page explicitly; nothing auto-paginates here.
func (c *Client) GetJobEvents(ctx context.Context, jobID int, failedOnly bool, page, pageSize int) ([]JobEvent, error) {
	params := listParams("", page, pageSize)
	params.Set("order_by", "counter")
	if failedOnly {
		params.Set("failed", "true")
	}

	endpoint := fmt.Sprintf("/api/v2/jobs/%d/job_events/", jobID)
	raw, err := c.results(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	events, err := decodeList[JobEvent](raw, endpoint)
	if err != nil {
		return nil, err
	}

	for i := range events {
		normalizeEvent(&events[i])
	}
	return events, nil
}

// normalizeEvent derives the stderr field from the structured module result
// when the controller did not surface it directly.
func normalizeEvent(ev *JobEvent) {
	if ev.Stderr != "" {
		return
	}
	res, ok := ev.EventData["res"].(map[string]interface{})
	if !ok {
		return
	}
	if stderr, ok := res["stderr"].(string); ok {
		ev.Stderr = stderr
	}
}
