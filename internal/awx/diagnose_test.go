package awx

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedEvent(msg string) JobEvent {
	return JobEvent{
		ID:      1,
		Counter: 1,
		Event:   "runner_on_failed",
		Failed:  true,
		Task:    "Some task",
		Play:    "Some play",
		Host:    "host1",
		EventData: map[string]interface{}{
			"res": map[string]interface{}{"msg": msg},
		},
	}
}

func TestAnalyzeNoFailedEvents(t *testing.T) {
	events := []JobEvent{
		{ID: 1, Event: "runner_on_ok", Failed: false},
		{ID: 2, Event: "playbook_on_stats", Failed: false},
	}

	analysis := AnalyzeJobFailure(42, events, "")
	assert.Equal(t, 42, analysis.JobID)
	assert.Equal(t, CategoryUnknown, analysis.Category)
	require.NotEmpty(t, analysis.SuggestedFixes)
	assert.Contains(t, analysis.SuggestedFixes[0], "No failed events")
	assert.Zero(t, analysis.FailedEventsCount)
}

func TestAnalyzeEmptyEventList(t *testing.T) {
	analysis := AnalyzeJobFailure(1, nil, "")
	assert.Equal(t, CategoryUnknown, analysis.Category)
	assert.NotEmpty(t, analysis.SuggestedFixes)
}

func TestAnalyzeClassification(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want FailureCategory
	}{
		{"unreachable host", "Host unreachable via ssh", CategoryInventoryIssue},
		{"dns failure", "ssh: Could not resolve hostname web99", CategoryInventoryIssue},
		{"connection refused", "connect to host 10.0.0.5: Connection refused", CategoryInventoryIssue},
		{"ssh auth", "Permission denied (publickey,password)", CategoryAuthFailure},
		{"auth failed", "Authentication failed for user deploy", CategoryAuthFailure},
		{"invalid credentials", "Invalid credentials supplied", CategoryAuthFailure},
		{"unauthorized", "401 Unauthorized", CategoryAuthFailure},
		{"undefined variable", "The task includes an option with an undefined variable", CategoryMissingVariable},
		{"is undefined", "'app_version' is undefined", CategoryMissingVariable},
		{"yaml syntax", "YAML syntax error while parsing playbook", CategorySyntaxError},
		{"generic syntax", "Syntax Error while loading module", CategorySyntaxError},
		{"timeout", "Timeout (12s) waiting for privilege escalation prompt", CategoryConnectionTimeout},
		{"timed out", "Connection timed out during banner exchange", CategoryConnectionTimeout},
		{"unknown", "Something completely different went wrong", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := AnalyzeJobFailure(7, []JobEvent{failedEvent(tt.msg)}, "")
			assert.Equal(t, tt.want, analysis.Category)
			assert.GreaterOrEqual(t, len(analysis.SuggestedFixes), 3)
		})
	}
}

func TestAnalyzePrecedenceAuthBeforePermission(t *testing.T) {
	// "permission denied" sits in both lists; auth_failure wins by order.
	analysis := AnalyzeJobFailure(7, []JobEvent{failedEvent("Permission denied (publickey,password)")}, "")
	assert.Equal(t, CategoryAuthFailure, analysis.Category)
	assert.Equal(t, "host1", analysis.Host)

	var mentionsCreds bool
	for _, fix := range analysis.SuggestedFixes {
		lower := strings.ToLower(fix)
		if strings.Contains(lower, "ssh") || strings.Contains(lower, "credential") {
			mentionsCreds = true
		}
	}
	assert.True(t, mentionsCreds, "auth suggestions should mention SSH or credentials")
}

func TestAnalyzeModuleFailureNeedsPackageTask(t *testing.T) {
	ev := failedEvent("No package nginx-99 not found in repos")
	ev.Task = "Install nginx with yum"
	analysis := AnalyzeJobFailure(7, []JobEvent{ev}, "")
	assert.Equal(t, CategoryModuleFailure, analysis.Category)
	assert.Contains(t, analysis.SuggestedFixes[0], ev.Task)

	// Same message on a non-package task stays unknown.
	ev2 := failedEvent("resource not found anywhere")
	ev2.Task = "Copy config file"
	analysis2 := AnalyzeJobFailure(7, []JobEvent{ev2}, "")
	assert.Equal(t, CategoryUnknown, analysis2.Category)
}

func TestAnalyzeMissingVariableNamesIt(t *testing.T) {
	analysis := AnalyzeJobFailure(7, []JobEvent{failedEvent("The error was: 'app_version' is undefined")}, "")
	assert.Equal(t, CategoryMissingVariable, analysis.Category)
	require.NotEmpty(t, analysis.SuggestedFixes)
	assert.Contains(t, analysis.SuggestedFixes[0], "app_version", "first suggestion names the variable")
	assert.Len(t, analysis.SuggestedFixes, 4)
}

func TestAnalyzeFirstFailedEventIsRepresentative(t *testing.T) {
	events := []JobEvent{
		{ID: 1, Counter: 1, Event: "runner_on_ok", Failed: false},
		func() JobEvent {
			ev := failedEvent("Connection timed out")
			ev.ID = 2
			ev.Counter = 2
			ev.Task = "First failure"
			return ev
		}(),
		func() JobEvent {
			ev := failedEvent("Permission denied (publickey)")
			ev.ID = 3
			ev.Counter = 3
			ev.Task = "Second failure"
			return ev
		}(),
	}

	analysis := AnalyzeJobFailure(7, events, "")
	assert.Equal(t, CategoryConnectionTimeout, analysis.Category, "first failed event wins even if later ones are more specific")
	assert.Equal(t, "First failure", analysis.TaskName)
	assert.Equal(t, 2, analysis.FailedEventsCount)
}

func TestAnalyzePrefersStructuredResult(t *testing.T) {
	ev := JobEvent{
		ID:     1,
		Failed: true,
		Task:   "Deploy",
		Play:   "Main",
		Role:   "webserver",
		Host:   "web01",
		Stdout: "fatal: [web01]: FAILED! => {...}",
		EventData: map[string]interface{}{
			"res": map[string]interface{}{
				"msg":    "Authentication failed",
				"stderr": "ssh: handshake failed",
			},
		},
	}

	analysis := AnalyzeJobFailure(9, []JobEvent{ev}, "")
	assert.Equal(t, "Authentication failed", analysis.ErrorMessage)
	assert.Equal(t, "ssh: handshake failed", analysis.Stderr)
	assert.Equal(t, "Deploy", analysis.TaskName)
	assert.Equal(t, "Main", analysis.PlayName)
	assert.Equal(t, "webserver", analysis.RoleName)
	assert.Equal(t, "web01", analysis.Host)
}

func TestAnalyzeFallsBackToEventText(t *testing.T) {
	ev := JobEvent{
		ID:     1,
		Failed: true,
		Stdout: "fatal: Host unreachable",
		Stderr: "",
	}
	analysis := AnalyzeJobFailure(9, []JobEvent{ev}, "")
	assert.Equal(t, CategoryInventoryIssue, analysis.Category)
	assert.Equal(t, "fatal: Host unreachable", analysis.ErrorMessage)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	events := []JobEvent{failedEvent("'replica_count' is undefined")}
	first := AnalyzeJobFailure(5, events, "some stdout")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, AnalyzeJobFailure(5, events, "some stdout"), fmt.Sprintf("run %d differed", i))
	}
}
