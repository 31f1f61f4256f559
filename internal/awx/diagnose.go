package awx

import (
	"fmt"
	"regexp"
	"strings"
)

// undefinedVarPattern extracts the offending variable name out of messages
// like "'app_version' is undefined".
var undefinedVarPattern = regexp.MustCompile(`['"]([\w_]+)['"].*undefined`)

// AnalyzeJobFailure turns a job's events and stdout into a categorized
// diagnosis with remediation suggestions. It is a pure function: no I/O, no
// retries, deterministic for identical inputs, and it never fails — a job
// with no failed events yields CategoryUnknown with a generic suggestion.
//
// The first failed event in execution order is the representative one, even
// when later events carry more specific signatures.
func AnalyzeJobFailure(jobID int, events []JobEvent, stdout string) FailureAnalysis {
	var failed []JobEvent
	for _, ev := range events {
		if ev.Failed {
			failed = append(failed, ev)
		}
	}

	if len(failed) == 0 {
		return FailureAnalysis{
			JobID:          jobID,
			Category:       CategoryUnknown,
			SuggestedFixes: []string{"No failed events found. Check job status for details."},
		}
	}

	event := failed[0]

	errorMessage := event.Stdout
	stderr := event.Stderr
	if res, ok := event.EventData["res"].(map[string]interface{}); ok {
		if msg, ok := res["msg"].(string); ok {
			errorMessage = msg
		}
		if s, ok := res["stderr"].(string); ok {
			stderr = s
		}
	}

	category := classifyFailure(errorMessage, stderr, event)

	return FailureAnalysis{
		JobID:             jobID,
		Category:          category,
		TaskName:          event.Task,
		PlayName:          event.Play,
		RoleName:          event.Role,
		Host:              event.Host,
		ErrorMessage:      errorMessage,
		Stderr:            stderr,
		SuggestedFixes:    suggestFixes(category, errorMessage, stderr, event),
		FailedEventsCount: len(failed),
	}
}

// classifyFailure matches known error phrases against the combined error
// text. First match wins; the order below is the fixed precedence.
func classifyFailure(errorMsg, stderr string, event JobEvent) FailureCategory {
	combined := strings.ToLower(errorMsg + " " + stderr)

	containsAny := func(patterns ...string) bool {
		for _, p := range patterns {
			if strings.Contains(combined, p) {
				return true
			}
		}
		return false
	}

	if containsAny("unreachable", "could not resolve hostname", "connection refused") {
		return CategoryInventoryIssue
	}
	if containsAny("permission denied", "authentication failed", "invalid credentials", "unauthorized") {
		return CategoryAuthFailure
	}
	if containsAny("undefined variable", "variable is not defined", "is undefined") {
		return CategoryMissingVariable
	}
	if containsAny("syntax error", "yaml syntax", "unexpected token", "invalid syntax") {
		return CategorySyntaxError
	}
	if containsAny("timeout", "timed out") {
		return CategoryConnectionTimeout
	}
	if strings.Contains(combined, "permission") && strings.Contains(combined, "denied") {
		return CategoryPermissionDenied
	}

	if event.Task != "" {
		task := strings.ToLower(event.Task)
		for _, mod := range []string{"yum", "apt", "dnf", "package"} {
			if strings.Contains(task, mod) {
				if strings.Contains(combined, "no package") || strings.Contains(combined, "not found") {
					return CategoryModuleFailure
				}
			}
		}
	}

	return CategoryUnknown
}

// suggestFixes returns the remediation list for a category. The
// missing-variable case prepends a suggestion naming the variable when it can
// be extracted from the error text.
func suggestFixes(category FailureCategory, errorMsg, stderr string, event JobEvent) []string {
	switch category {
	case CategoryInventoryIssue:
		return []string{
			"Verify the host exists in the inventory",
			"Check network connectivity to the target host",
			"Ensure the hostname resolves correctly (check DNS or /etc/hosts)",
			"Verify firewall rules allow SSH connections",
		}
	case CategoryAuthFailure:
		return []string{
			"Verify SSH credentials or keys are correct",
			"Check that the user has access to the target host",
			"Ensure SSH key is in the authorized_keys file",
			"Verify sudo/become password if required",
		}
	case CategoryMissingVariable:
		suggestions := []string{}
		if match := undefinedVarPattern.FindStringSubmatch(errorMsg + stderr); match != nil {
			suggestions = append(suggestions, fmt.Sprintf("Define the variable '%s' in extra_vars or playbook", match[1]))
		}
		return append(suggestions,
			"Check the playbook for required variables",
			"Add missing variables to extra_vars in the job template",
			"Verify variable names are spelled correctly",
		)
	case CategorySyntaxError:
		return []string{
			"Check YAML syntax in the playbook",
			"Verify proper indentation (use spaces, not tabs)",
			"Run ansible-playbook --syntax-check locally",
			"Check for missing quotes or special characters",
		}
	case CategoryConnectionTimeout:
		return []string{
			"Increase timeout values in ansible.cfg",
			"Check network latency to target hosts",
			"Verify no firewall is blocking connections",
			"Check if target host is overloaded",
		}
	case CategoryPermissionDenied:
		return []string{
			"Check file/directory permissions on target host",
			"Verify the user has necessary privileges",
			"Use 'become: yes' if elevated privileges are needed",
			"Check SELinux/AppArmor policies if applicable",
		}
	case CategoryModuleFailure:
		return []string{
			fmt.Sprintf("Check module '%s' documentation for required parameters", event.Task),
			"Verify the module is available on the target system",
			"Check module prerequisites are installed",
			"Review module error message for specific issues",
		}
	default:
		return []string{
			"Review the full job output for more context",
			"Check Ansible module documentation",
			"Verify all task parameters are correct",
			"Try running the task manually on the target host",
		}
	}
}
