package awx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageSize = 25

	// Project updates are polled once per second for at most this many
	// polls before the last-seen status is returned as-is.
	projectUpdatePolls = 60
)

func listParams(nameFilter string, page, pageSize int) url.Values {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))
	if nameFilter != "" {
		params.Set("name__icontains", nameFilter)
	}
	return params
}

func decodeList[T any](raw json.RawMessage, endpoint string) ([]T, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode results from %s: %w", endpoint, err)
	}
	return items, nil
}

func decodeOne[T any](raw json.RawMessage, endpoint string) (*T, error) {
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return &item, nil
}

// Organizations

func (c *Client) ListOrganizations(ctx context.Context, nameFilter string, page, pageSize int) ([]Organization, error) {
	endpoint := "/api/v2/organizations/"
	raw, err := c.results(ctx, endpoint, listParams(nameFilter, page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[Organization](raw, endpoint)
}

func (c *Client) GetOrganization(ctx context.Context, id int) (*Organization, error) {
	endpoint := fmt.Sprintf("/api/v2/organizations/%d/", id)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[Organization](raw, endpoint)
}

// Credential types and credentials

func (c *Client) ListCredentialTypes(ctx context.Context, page, pageSize int) ([]CredentialType, error) {
	endpoint := "/api/v2/credential_types/"
	raw, err := c.results(ctx, endpoint, listParams("", page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[CredentialType](raw, endpoint)
}

func (c *Client) GetCredentialType(ctx context.Context, id int) (*CredentialType, error) {
	endpoint := fmt.Sprintf("/api/v2/credential_types/%d/", id)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[CredentialType](raw, endpoint)
}

func (c *Client) ListCredentials(ctx context.Context, nameFilter string, page, pageSize int) ([]Credential, error) {
	endpoint := "/api/v2/credentials/"
	raw, err := c.results(ctx, endpoint, listParams(nameFilter, page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[Credential](raw, endpoint)
}

func (c *Client) GetCredential(ctx context.Context, id int) (*Credential, error) {
	endpoint := fmt.Sprintf("/api/v2/credentials/%d/", id)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[Credential](raw, endpoint)
}

// CreateCredentialRequest carries the controller-side credential inputs.
// Inputs may hold secrets; they are sent to the controller and nowhere else.
type CreateCredentialRequest struct {
	Name           string                 `json:"name"`
	CredentialType int                    `json:"credential_type"`
	Organization   int                    `json:"organization"`
	Inputs         map[string]interface{} `json:"inputs"`
	Description    string                 `json:"description"`
}

func (c *Client) CreateCredential(ctx context.Context, req CreateCredentialRequest) (*Credential, error) {
	endpoint := "/api/v2/credentials/"
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, req)
	if err != nil {
		return nil, err
	}
	return decodeOne[Credential](raw, endpoint)
}

func (c *Client) DeleteCredential(ctx context.Context, id int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/credentials/%d/", id), nil, nil)
	return err
}

// Job templates

func (c *Client) ListJobTemplates(ctx context.Context, nameFilter string, page, pageSize int) ([]JobTemplate, error) {
	endpoint := "/api/v2/job_templates/"
	raw, err := c.results(ctx, endpoint, listParams(nameFilter, page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[JobTemplate](raw, endpoint)
}

func (c *Client) GetJobTemplate(ctx context.Context, id int) (*JobTemplate, error) {
	endpoint := fmt.Sprintf("/api/v2/job_templates/%d/", id)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[JobTemplate](raw, endpoint)
}

// CreateJobTemplateRequest describes a new job template. ExtraVars are
// serialized to a JSON string, which is the encoding the controller stores.
type CreateJobTemplateRequest struct {
	Name        string
	Inventory   int
	Project     int
	Playbook    string
	JobType     string
	Description string
	ExtraVars   map[string]interface{}
	Limit       string
}

func (c *Client) CreateJobTemplate(ctx context.Context, req CreateJobTemplateRequest) (*JobTemplate, error) {
	jobType := req.JobType
	if jobType == "" {
		jobType = "run"
	}
	payload := map[string]interface{}{
		"name":        req.Name,
		"inventory":   req.Inventory,
		"project":     req.Project,
		"playbook":    req.Playbook,
		"job_type":    jobType,
		"description": req.Description,
	}
	if len(req.ExtraVars) > 0 {
		encoded, err := json.Marshal(req.ExtraVars)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra_vars: %w", err)
		}
		payload["extra_vars"] = string(encoded)
	}
	if req.Limit != "" {
		payload["limit"] = req.Limit
	}

	endpoint := "/api/v2/job_templates/"
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeOne[JobTemplate](raw, endpoint)
}

func (c *Client) DeleteJobTemplate(ctx context.Context, id int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/job_templates/%d/", id), nil, nil)
	return err
}

// AddCredentialToTemplate attaches an existing controller credential to a
// job template.
func (c *Client) AddCredentialToTemplate(ctx context.Context, templateID, credentialID int) error {
	payload := map[string]int{"id": credentialID}
	_, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/api/v2/job_templates/%d/credentials/", templateID), nil, payload)
	return err
}

// GetLaunchInfo returns the template's launch configuration (prompts,
// defaults, required passwords).
func (c *Client) GetLaunchInfo(ctx context.Context, templateID int) (map[string]interface{}, error) {
	return c.requestMap(ctx, http.MethodGet, fmt.Sprintf("/api/v2/job_templates/%d/launch/", templateID), nil, nil)
}

// Projects

func (c *Client) ListProjects(ctx context.Context, nameFilter string, page, pageSize int) ([]Project, error) {
	endpoint := "/api/v2/projects/"
	raw, err := c.results(ctx, endpoint, listParams(nameFilter, page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[Project](raw, endpoint)
}

func (c *Client) GetProject(ctx context.Context, id int) (*Project, error) {
	endpoint := fmt.Sprintf("/api/v2/projects/%d/", id)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[Project](raw, endpoint)
}

// CreateProjectRequest describes a new SCM-backed project.
type CreateProjectRequest struct {
	Name         string
	Organization int
	SCMType      string
	SCMURL       string
	SCMBranch    string
	Description  string
}

func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	scmType := req.SCMType
	if scmType == "" {
		scmType = "git"
	}
	payload := map[string]interface{}{
		"name":         req.Name,
		"organization": req.Organization,
		"scm_type":     scmType,
		"description":  req.Description,
	}
	if req.SCMURL != "" {
		branch := req.SCMBranch
		if branch == "" {
			branch = "main"
		}
		payload["scm_url"] = req.SCMURL
		payload["scm_branch"] = branch
	}

	endpoint := "/api/v2/projects/"
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeOne[Project](raw, endpoint)
}

func (c *Client) DeleteProject(ctx context.Context, id int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/projects/%d/", id), nil, nil)
	return err
}

// ProjectUpdate is the controller record for one SCM refresh run.
type ProjectUpdate struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

// UpdateProject triggers an SCM refresh. With wait set it polls the update
// record once per second until a terminal status or until the poll budget is
// spent, in which case the last-seen status is returned without error and
// the caller must recheck.
func (c *Client) UpdateProject(ctx context.Context, projectID int, wait bool) (*ProjectUpdate, error) {
	endpoint := fmt.Sprintf("/api/v2/projects/%d/update/", projectID)
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	update, err := decodeOne[ProjectUpdate](raw, endpoint)
	if err != nil {
		return nil, err
	}

	if !wait || update.ID == 0 {
		return update, nil
	}

	statusEndpoint := fmt.Sprintf("/api/v2/project_updates/%d/", update.ID)
	for i := 0; i < projectUpdatePolls; i++ {
		statusRaw, err := c.request(ctx, http.MethodGet, statusEndpoint, nil, nil)
		if err != nil {
			return nil, err
		}
		polled, err := decodeOne[ProjectUpdate](statusRaw, statusEndpoint)
		if err != nil {
			return nil, err
		}
		update.Status = polled.Status

		switch polled.Status {
		case "successful", "failed", "error", "canceled":
			return update, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	// Poll budget spent; surface whatever the controller last reported.
	return update, nil
}

// Inventories

func (c *Client) ListInventories(ctx context.Context, nameFilter string, page, pageSize int) ([]Inventory, error) {
	endpoint := "/api/v2/inventories/"
	raw, err := c.results(ctx, endpoint, listParams(nameFilter, page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[Inventory](raw, endpoint)
}

func (c *Client) GetInventory(ctx context.Context, id int) (*Inventory, error) {
	endpoint := fmt.Sprintf("/api/v2/inventories/%d/", id)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[Inventory](raw, endpoint)
}

func (c *Client) CreateInventory(ctx context.Context, name string, organization int, description string, variables map[string]interface{}) (*Inventory, error) {
	payload := map[string]interface{}{
		"name":         name,
		"organization": organization,
		"description":  description,
	}
	if len(variables) > 0 {
		encoded, err := json.Marshal(variables)
		if err != nil {
			return nil, fmt.Errorf("failed to encode inventory variables: %w", err)
		}
		payload["variables"] = string(encoded)
	}

	endpoint := "/api/v2/inventories/"
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeOne[Inventory](raw, endpoint)
}

func (c *Client) DeleteInventory(ctx context.Context, id int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/inventories/%d/", id), nil, nil)
	return err
}

// Inventory groups and hosts

func (c *Client) ListInventoryGroups(ctx context.Context, inventoryID, page, pageSize int) ([]Group, error) {
	endpoint := fmt.Sprintf("/api/v2/inventories/%d/groups/", inventoryID)
	raw, err := c.results(ctx, endpoint, listParams("", page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[Group](raw, endpoint)
}

func (c *Client) CreateInventoryGroup(ctx context.Context, inventoryID int, name, description string, variables map[string]interface{}) (*Group, error) {
	payload := map[string]interface{}{"name": name, "description": description}
	if len(variables) > 0 {
		encoded, err := json.Marshal(variables)
		if err != nil {
			return nil, fmt.Errorf("failed to encode group variables: %w", err)
		}
		payload["variables"] = string(encoded)
	}

	endpoint := fmt.Sprintf("/api/v2/inventories/%d/groups/", inventoryID)
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeOne[Group](raw, endpoint)
}

func (c *Client) DeleteInventoryGroup(ctx context.Context, groupID int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/groups/%d/", groupID), nil, nil)
	return err
}

func (c *Client) ListInventoryHosts(ctx context.Context, inventoryID, page, pageSize int) ([]Host, error) {
	endpoint := fmt.Sprintf("/api/v2/inventories/%d/hosts/", inventoryID)
	raw, err := c.results(ctx, endpoint, listParams("", page, pageSize))
	if err != nil {
		return nil, err
	}
	return decodeList[Host](raw, endpoint)
}

func (c *Client) CreateInventoryHost(ctx context.Context, inventoryID int, name, description string, variables map[string]interface{}) (*Host, error) {
	payload := map[string]interface{}{"name": name, "description": description}
	if len(variables) > 0 {
		encoded, err := json.Marshal(variables)
		if err != nil {
			return nil, fmt.Errorf("failed to encode host variables: %w", err)
		}
		payload["variables"] = string(encoded)
	}

	endpoint := fmt.Sprintf("/api/v2/inventories/%d/hosts/", inventoryID)
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeOne[Host](raw, endpoint)
}

func (c *Client) DeleteInventoryHost(ctx context.Context, hostID int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/hosts/%d/", hostID), nil, nil)
	return err
}

// Jobs

// LaunchOptions are the per-launch overrides accepted by the controller.
// Tags and skip tags are comma-joined on the wire.
type LaunchOptions struct {
	ExtraVars map[string]interface{}
	Limit     string
	Tags      []string
	SkipTags  []string
}

// LaunchJob starts a job from a template and returns the new job record as
// parsed from the launch response.
func (c *Client) LaunchJob(ctx context.Context, templateID int, opts LaunchOptions) (*Job, error) {
	payload := map[string]interface{}{}
	if len(opts.ExtraVars) > 0 {
		payload["extra_vars"] = opts.ExtraVars
	}
	if opts.Limit != "" {
		payload["limit"] = opts.Limit
	}
	if len(opts.Tags) > 0 {
		payload["job_tags"] = strings.Join(opts.Tags, ",")
	}
	if len(opts.SkipTags) > 0 {
		payload["skip_tags"] = strings.Join(opts.SkipTags, ",")
	}

	endpoint := fmt.Sprintf("/api/v2/job_templates/%d/launch/", templateID)
	raw, err := c.request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeOne[Job](raw, endpoint)
}

func (c *Client) GetJob(ctx context.Context, jobID int) (*Job, error) {
	endpoint := fmt.Sprintf("/api/v2/jobs/%d/", jobID)
	raw, err := c.request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[Job](raw, endpoint)
}

// JobFilter narrows ListJobs. Zero values mean no filter.
type JobFilter struct {
	Status       string
	CreatedAfter string
	TemplateID   int
}

// ListJobs returns jobs ordered newest first.
func (c *Client) ListJobs(ctx context.Context, filter JobFilter, page, pageSize int) ([]Job, error) {
	params := listParams("", page, pageSize)
	params.Set("order_by", "-id")
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}
	if filter.CreatedAfter != "" {
		params.Set("created__gt", filter.CreatedAfter)
	}
	if filter.TemplateID > 0 {
		params.Set("job_template", strconv.Itoa(filter.TemplateID))
	}

	endpoint := "/api/v2/jobs/"
	raw, err := c.results(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	return decodeList[Job](raw, endpoint)
}

// CancelJob asks the controller to cancel a running job. The controller owns
// the resulting status transition.
func (c *Client) CancelJob(ctx context.Context, jobID int) error {
	_, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/api/v2/jobs/%d/cancel/", jobID), nil, nil)
	return err
}

func (c *Client) DeleteJob(ctx context.Context, jobID int) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/jobs/%d/", jobID), nil, nil)
	return err
}
