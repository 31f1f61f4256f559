package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"awx-gateway/internal/awx"
	"awx-gateway/internal/config"
	"awx-gateway/internal/secrets"

	"github.com/gin-gonic/gin"
)

// writeControllerError maps controller client errors onto gateway responses.
// Upstream auth problems are reported as 502 details rather than 401 so
// callers can tell gateway auth from controller auth apart.
func (s *Server) writeControllerError(c *gin.Context, err error) {
	var notFound *awx.NotFoundError
	var authErr *awx.AuthError
	var connErr *awx.ConnectionError
	var apiErr *awx.APIError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &authErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Controller rejected the stored credential", "detail": err.Error()})
	case errors.As(err, &connErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Controller unreachable", "detail": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Controller request failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": "1.0.0"})
}

// --- environments ---

type environmentRequest struct {
	Name                string   `json:"name" validate:"required,resourcename"`
	BaseURL             string   `json:"base_url" validate:"required,url"`
	VerifySSL           bool     `json:"verify_ssl"`
	IsDefault           bool     `json:"is_default"`
	DefaultOrganization string   `json:"default_organization"`
	DefaultProject      string   `json:"default_project"`
	DefaultInventory    string   `json:"default_inventory"`
	AllowedJobTemplates []string `json:"allowed_job_templates"`
	AllowedInventories  []string `json:"allowed_inventories"`
}

func (r *environmentRequest) toEnvironment() config.Environment {
	return config.Environment{
		Name:                r.Name,
		BaseURL:             r.BaseURL,
		VerifySSL:           r.VerifySSL,
		IsDefault:           r.IsDefault,
		DefaultOrganization: r.DefaultOrganization,
		DefaultProject:      r.DefaultProject,
		DefaultInventory:    r.DefaultInventory,
		AllowedJobTemplates: r.AllowedJobTemplates,
		AllowedInventories:  r.AllowedInventories,
	}
}

func (s *Server) handleListEnvironments(c *gin.Context) {
	envs, err := s.Envs.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"environments": envs})
}

func (s *Server) handleAddEnvironment(c *gin.Context) {
	var req environmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	env, err := s.Envs.Add(req.toEnvironment())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.Logger.Info().Str("environment", env.Name).Msg("Environment registered")
	c.JSON(http.StatusCreated, env)
}

func (s *Server) handleGetEnvironment(c *gin.Context) {
	env, err := s.Envs.GetByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) handleUpdateEnvironment(c *gin.Context) {
	existing, err := s.Envs.GetByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req environmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	env := req.toEnvironment()
	env.ID = existing.ID
	updated, err := s.Envs.Update(env)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteEnvironment(c *gin.Context) {
	env, err := s.Envs.GetByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if s.Creds != nil {
		if err := s.Creds.Delete(env.ID.String()); err != nil {
			s.Logger.Warn().Str("environment", env.Name).Msg("Failed to delete stored credential")
		}
	}
	if err := s.Envs.Delete(env.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleSetDefaultEnvironment(c *gin.Context) {
	if err := s.Envs.SetDefault(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "default set"})
}

// --- credentials ---

type credentialRequest struct {
	Type     string `json:"type" validate:"required,oneof=password token"`
	Username string `json:"username"`
	Secret   string `json:"secret" validate:"required"`
}

func (s *Server) handleStoreCredential(c *gin.Context) {
	if s.Creds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Credential store unavailable"})
		return
	}
	env, err := s.Envs.GetByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Creds.Put(env.ID.String(), secrets.CredentialType(req.Type), req.Username, req.Secret); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Logger.Info().Str("environment", env.Name).Str("type", req.Type).Msg("Credential stored")
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

func (s *Server) handleDeleteCredential(c *gin.Context) {
	if s.Creds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Credential store unavailable"})
		return
	}
	env, err := s.Envs.GetByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.Creds.Delete(env.ID.String()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type machineCredentialRequest struct {
	Name           string `json:"name" validate:"required"`
	Organization   int    `json:"organization" validate:"required"`
	CredentialType int    `json:"credential_type" validate:"required"`
	Username       string `json:"username" validate:"required"`
	Description    string `json:"description"`
}

// handleCreateMachineCredential generates an SSH keypair and registers it as
// a machine credential on the controller. Only the public key comes back to
// the caller; the private key goes to the controller and nowhere else.
func (s *Server) handleCreateMachineCredential(c *gin.Context) {
	client, _, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req machineCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	privateKey, publicKey, err := secrets.GenerateSSHKeyPair()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cred, err := client.CreateCredential(c.Request.Context(), awx.CreateCredentialRequest{
		Name:           req.Name,
		CredentialType: req.CredentialType,
		Organization:   req.Organization,
		Description:    req.Description,
		Inputs: map[string]interface{}{
			"username":     req.Username,
			"ssh_key_data": privateKey,
		},
	})
	if err != nil {
		s.writeControllerError(c, err)
		return
	}

	s.Logger.Info().Str("credential", req.Name).Msg("Machine credential created")
	c.JSON(http.StatusCreated, gin.H{"credential": cred, "public_key": publicKey})
}

func (s *Server) handlePing(c *gin.Context) {
	client, _, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := client.Ping(c.Request.Context()); err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reachable"})
}

// --- controller resources ---

func listQuery(c *gin.Context) (name string, page, pageSize int) {
	name = c.Query("name")
	page, _ = strconv.Atoi(c.Query("page"))
	pageSize, _ = strconv.Atoi(c.Query("page_size"))
	return name, page, pageSize
}

func (s *Server) handleListTemplates(c *gin.Context) {
	client, env, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	name, page, pageSize := listQuery(c)
	templates, err := client.ListJobTemplates(c.Request.Context(), name, page, pageSize)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}

	// Hide templates outside the environment's allow-list.
	visible := make([]awx.JobTemplate, 0, len(templates))
	for _, tpl := range templates {
		if env.TemplateAllowed(tpl.Name) {
			visible = append(visible, tpl)
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": visible})
}

type launchRequest struct {
	ExtraVars map[string]interface{} `json:"extra_vars"`
	Limit     string                 `json:"limit"`
	Tags      []string               `json:"tags"`
	SkipTags  []string               `json:"skip_tags"`
}

func (s *Server) handleLaunch(c *gin.Context) {
	envName := c.Param("name")
	templateID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template id"})
		return
	}

	reqLogger := s.Logger.With().
		Str("environment", envName).
		Int("template_id", templateID).
		Str("remote_addr", c.ClientIP()).
		Logger()

	client, env, err := s.clientFor(envName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req launchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	template, err := client.GetJobTemplate(c.Request.Context(), templateID)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	if !env.TemplateAllowed(template.Name) {
		reqLogger.Warn().Str("template", template.Name).Msg("Launch blocked by allow-list")
		c.JSON(http.StatusForbidden, gin.H{"error": "Template is not allowed in this environment"})
		return
	}

	job, err := client.LaunchJob(c.Request.Context(), templateID, awx.LaunchOptions{
		ExtraVars: req.ExtraVars,
		Limit:     req.Limit,
		Tags:      req.Tags,
		SkipTags:  req.SkipTags,
	})
	if err != nil {
		s.writeControllerError(c, err)
		return
	}

	reqLogger.Info().Int("job_id", job.ID).Str("template", template.Name).Msg("Job launched")
	c.JSON(http.StatusCreated, job)
}

func (s *Server) handleListProjects(c *gin.Context) {
	client, _, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	name, page, pageSize := listQuery(c)
	projects, err := client.ListProjects(c.Request.Context(), name, page, pageSize)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": projects})
}

func (s *Server) handleProjectUpdate(c *gin.Context) {
	client, _, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project id"})
		return
	}
	wait := c.Query("wait") != "false"

	update, err := client.UpdateProject(c.Request.Context(), projectID, wait)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, update)
}

func (s *Server) handleListInventories(c *gin.Context) {
	client, env, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	name, page, pageSize := listQuery(c)
	inventories, err := client.ListInventories(c.Request.Context(), name, page, pageSize)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}

	visible := make([]awx.Inventory, 0, len(inventories))
	for _, inv := range inventories {
		if env.InventoryAllowed(inv.Name) {
			visible = append(visible, inv)
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": visible})
}

// --- jobs ---

func (s *Server) jobRequest(c *gin.Context) (*awx.Client, int, bool) {
	client, _, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, 0, false
	}
	jobID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job id"})
		return nil, 0, false
	}
	return client, jobID, true
}

func (s *Server) handleListJobs(c *gin.Context) {
	client, _, err := s.clientFor(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	filter := awx.JobFilter{
		Status:       c.Query("status"),
		CreatedAfter: c.Query("created_after"),
	}
	if tpl := c.Query("template_id"); tpl != "" {
		if id, err := strconv.Atoi(tpl); err == nil {
			filter.TemplateID = id
		}
	}
	_, page, pageSize := listQuery(c)

	jobs, err := client.ListJobs(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": jobs})
}

func (s *Server) handleGetJob(c *gin.Context) {
	client, jobID, ok := s.jobRequest(c)
	if !ok {
		return
	}
	job, err := client.GetJob(c.Request.Context(), jobID)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	client, jobID, ok := s.jobRequest(c)
	if !ok {
		return
	}
	if err := client.CancelJob(c.Request.Context(), jobID); err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	client, jobID, ok := s.jobRequest(c)
	if !ok {
		return
	}
	if err := client.DeleteJob(c.Request.Context(), jobID); err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleJobStdout(c *gin.Context) {
	client, jobID, ok := s.jobRequest(c)
	if !ok {
		return
	}
	tailLines, _ := strconv.Atoi(c.Query("tail"))
	output, err := client.GetJobStdout(c.Request.Context(), jobID, c.Query("format"), tailLines)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "output": output})
}

func (s *Server) handleJobEvents(c *gin.Context) {
	client, jobID, ok := s.jobRequest(c)
	if !ok {
		return
	}
	_, page, pageSize := listQuery(c)
	failedOnly := c.Query("failed") == "true"

	events, err := client.GetJobEvents(c.Request.Context(), jobID, failedOnly, page, pageSize)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": events})
}

func (s *Server) handleFailureSummary(c *gin.Context) {
	client, jobID, ok := s.jobRequest(c)
	if !ok {
		return
	}

	events, err := client.GetJobEvents(c.Request.Context(), jobID, true, 0, 0)
	if err != nil {
		s.writeControllerError(c, err)
		return
	}

	// Stdout is best-effort context for the analysis; missing output is fine.
	stdout, err := client.GetJobStdout(c.Request.Context(), jobID, "txt", 0)
	if err != nil {
		stdout = ""
	}

	analysis := awx.AnalyzeJobFailure(jobID, events, stdout)
	c.JSON(http.StatusOK, analysis)
}

// --- workspace ---

type workspaceProjectRequest struct {
	Name   string `json:"name" validate:"required,resourcename"`
	SCMURL string `json:"scm_url"`
}

func (s *Server) handleWorkspaceList(c *gin.Context) {
	projects, err := s.Workspace.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (s *Server) handleWorkspaceCreate(c *gin.Context) {
	var req workspaceProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var project interface{}
	var err error
	if req.SCMURL != "" {
		project, err = s.Workspace.CloneProject(req.Name, req.SCMURL)
	} else {
		project, err = s.Workspace.CreateProject(req.Name)
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) handleWorkspaceDelete(c *gin.Context) {
	if err := s.Workspace.DeleteProject(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type playbookRequest struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content" validate:"required"`
}

func (s *Server) handleWorkspaceWritePlaybook(c *gin.Context) {
	var req playbookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path, err := s.Workspace.WritePlaybook(c.Param("name"), req.Path, req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": path})
}

func (s *Server) handleWorkspaceReadPlaybook(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("path"), "/")
	content, err := s.Workspace.ReadPlaybook(c.Param("name"), rel)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": rel, "content": content})
}

type roleRequest struct {
	Name string `json:"name" validate:"required,resourcename"`
}

func (s *Server) handleWorkspaceScaffoldRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := NewRequestValidator().Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path, err := s.Workspace.ScaffoldRole(c.Param("name"), req.Name)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": path})
}
