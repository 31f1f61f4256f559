package awx

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus is the controller-defined job lifecycle state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusRunning    JobStatus = "running"
	JobStatusSuccessful JobStatus = "successful"
	JobStatusFailed     JobStatus = "failed"
	JobStatusError      JobStatus = "error"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status is one the controller will not move
// away from on its own.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccessful, JobStatusFailed, JobStatusError, JobStatusCanceled:
		return true
	}
	return false
}

// ExtraVars is the user-supplied variable map attached to templates and jobs.
// The controller returns it either as a native JSON object or as a
// JSON-encoded string; both decode into a map. Malformed input decodes to an
// empty map rather than failing the whole resource.
type ExtraVars map[string]interface{}

func (ev *ExtraVars) UnmarshalJSON(data []byte) error {
	*ev = parseExtraVars(data)
	return nil
}

func parseExtraVars(data []byte) map[string]interface{} {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return map[string]interface{}{}
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err == nil && m != nil {
		return m
	}

	// String-encoded variant: unwrap once, then decode the payload.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return map[string]interface{}{}
		}
		if err := json.Unmarshal([]byte(s), &m); err == nil && m != nil {
			return m
		}
	}

	return map[string]interface{}{}
}

// Organization is a controller organization.
type Organization struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CredentialType describes a kind of controller credential (machine, scm, ...).
type CredentialType struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
}

// Credential is a controller-side credential record. Secret inputs are never
// returned by the controller and never appear here.
type Credential struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CredentialType int    `json:"credential_type"`
	Organization   int    `json:"organization,omitempty"`
}

// JobTemplate is a controller job template.
type JobTemplate struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	JobType     string    `json:"job_type"`
	Inventory   int       `json:"inventory,omitempty"`
	Project     int       `json:"project"`
	Playbook    string    `json:"playbook"`
	ExtraVars   ExtraVars `json:"extra_vars"`
}

// Project is a controller SCM project. Status is controller-defined free
// text, not a closed enum at this layer.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SCMType     string `json:"scm_type,omitempty"`
	SCMURL      string `json:"scm_url,omitempty"`
	SCMBranch   string `json:"scm_branch,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Inventory is a controller inventory. Host counters are read-only
// aggregates maintained by the controller.
type Inventory struct {
	ID                      int    `json:"id"`
	Name                    string `json:"name"`
	Description             string `json:"description,omitempty"`
	Organization            int    `json:"organization,omitempty"`
	TotalHosts              int    `json:"total_hosts"`
	HostsWithActiveFailures int    `json:"hosts_with_active_failures"`
}

// Group is a group within an inventory.
type Group struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Inventory   int    `json:"inventory,omitempty"`
}

// Host is a host within an inventory.
type Host struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Inventory   int    `json:"inventory,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Job is one execution of a job template. State transitions belong to the
// controller; this layer only launches and cancels.
type Job struct {
	ID          int                    `json:"id"`
	Name        string                 `json:"name"`
	Status      JobStatus              `json:"status"`
	JobTemplate int                    `json:"job_template,omitempty"`
	Inventory   int                    `json:"inventory,omitempty"`
	Project     int                    `json:"project,omitempty"`
	Playbook    string                 `json:"playbook,omitempty"`
	ExtraVars   ExtraVars              `json:"extra_vars"`
	Started     *time.Time             `json:"started,omitempty"`
	Finished    *time.Time             `json:"finished,omitempty"`
	Elapsed     float64                `json:"elapsed,omitempty"`
	Artifacts   map[string]interface{} `json:"artifacts,omitempty"`
}

// JobEvent is one atomic execution record within a job run. Events are
// append-only and ordered by Counter.
type JobEvent struct {
	ID        int                    `json:"id"`
	Counter   int                    `json:"counter"`
	Event     string                 `json:"event"`
	Level     int                    `json:"event_level"`
	Failed    bool                   `json:"failed"`
	Changed   bool                   `json:"changed"`
	Task      string                 `json:"task,omitempty"`
	Play      string                 `json:"play,omitempty"`
	Role      string                 `json:"role,omitempty"`
	Host      string                 `json:"host_name,omitempty"`
	Stdout    string                 `json:"stdout,omitempty"`
	Stderr    string                 `json:"stderr,omitempty"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// FailureCategory classifies the root cause of a failed job.
type FailureCategory string

const (
	CategoryInventoryIssue    FailureCategory = "inventory_issue"
	CategoryAuthFailure       FailureCategory = "auth_failure"
	CategoryMissingVariable   FailureCategory = "missing_variable"
	CategorySyntaxError       FailureCategory = "syntax_error"
	CategoryModuleFailure     FailureCategory = "module_failure"
	CategoryConnectionTimeout FailureCategory = "connection_timeout"
	CategoryPermissionDenied  FailureCategory = "permission_denied"
	CategoryUnknown           FailureCategory = "unknown"
)

// FailureAnalysis is the derived diagnosis of a failed job. It is computed
// fresh on every request and never persisted.
type FailureAnalysis struct {
	JobID             int             `json:"job_id"`
	Category          FailureCategory `json:"category"`
	TaskName          string          `json:"task_name,omitempty"`
	PlayName          string          `json:"play_name,omitempty"`
	RoleName          string          `json:"role_name,omitempty"`
	Host              string          `json:"host,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Stderr            string          `json:"stderr,omitempty"`
	SuggestedFixes    []string        `json:"suggested_fixes"`
	FailedEventsCount int             `json:"failed_events_count"`
}
