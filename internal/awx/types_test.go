package awx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraVarsUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]interface{}
	}{
		{
			name:  "native object",
			input: `{"extra_vars": {"app_version": "1.2.3", "replicas": 3}}`,
			want:  map[string]interface{}{"app_version": "1.2.3", "replicas": float64(3)},
		},
		{
			name:  "string encoded object",
			input: `{"extra_vars": "{\"env\": \"prod\"}"}`,
			want:  map[string]interface{}{"env": "prod"},
		},
		{
			name:  "empty string",
			input: `{"extra_vars": ""}`,
			want:  map[string]interface{}{},
		},
		{
			name:  "whitespace string",
			input: `{"extra_vars": "   "}`,
			want:  map[string]interface{}{},
		},
		{
			name:  "malformed string payload",
			input: `{"extra_vars": "{not valid json"}`,
			want:  map[string]interface{}{},
		},
		{
			name:  "null",
			input: `{"extra_vars": null}`,
			want:  map[string]interface{}{},
		},
		{
			name:  "absent",
			input: `{}`,
			want:  nil,
		},
		{
			name:  "wrong type",
			input: `{"extra_vars": [1, 2, 3]}`,
			want:  map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var holder struct {
				ExtraVars ExtraVars `json:"extra_vars"`
			}
			err := json.Unmarshal([]byte(tt.input), &holder)
			require.NoError(t, err, "extra_vars decoding must never fail")
			assert.Equal(t, tt.want, map[string]interface{}(holder.ExtraVars))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusSuccessful, JobStatusFailed, JobStatusError, JobStatusCanceled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	active := []JobStatus{JobStatusPending, JobStatusWaiting, JobStatusRunning}
	for _, s := range active {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestJobDecodesControllerPayload(t *testing.T) {
	payload := `{
		"id": 42,
		"name": "Deploy App",
		"status": "successful",
		"job_template": 7,
		"inventory": 3,
		"project": 5,
		"playbook": "deploy.yml",
		"extra_vars": "{\"app_version\": \"2.0\"}",
		"started": "2026-03-01T10:00:00Z",
		"finished": "2026-03-01T10:05:30Z",
		"elapsed": 330.5,
		"artifacts": {"build": "ok"}
	}`

	var job Job
	require.NoError(t, json.Unmarshal([]byte(payload), &job))

	assert.Equal(t, 42, job.ID)
	assert.Equal(t, JobStatusSuccessful, job.Status)
	assert.Equal(t, "2.0", job.ExtraVars["app_version"])
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	assert.Equal(t, 330.5, job.Elapsed)
	assert.Equal(t, "ok", job.Artifacts["build"])
}
