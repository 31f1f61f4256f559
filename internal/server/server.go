package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"awx-gateway/internal/awx"
	"awx-gateway/internal/config"
	"awx-gateway/internal/secrets"
	"awx-gateway/internal/workspace"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config holds the gateway's own settings, loaded from the environment.
type Config struct {
	ServerPort   string
	RateLimit    int
	AuthSecret   string
	EnvStorePath string
	WorkspaceDir string
}

// CredentialResolver is the part of the secret store the server needs.
type CredentialResolver interface {
	Resolve(envID string) (*secrets.Credential, error)
	Put(envID string, credType secrets.CredentialType, username, secret string) error
	Delete(envID string) error
}

// Server is the HTTP facade over environments, credentials and controllers.
type Server struct {
	Router      *gin.Engine
	Logger      zerolog.Logger
	Config      *Config
	Envs        *config.Store
	Creds       CredentialResolver
	Workspace   *workspace.Manager
	RateLimiter *rate.Limiter

	httpServer *http.Server
}

// ServerBuilder assembles a Server from configuration and its stores.
type ServerBuilder struct {
	logger zerolog.Logger
}

// NewServerBuilder creates a new server builder.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{
		logger: log.With().Str("component", "server-builder").Logger(),
	}
}

// Build creates and configures a new server instance.
func (sb *ServerBuilder) Build() (*Server, error) {
	sb.setupLogging()

	cfg := loadConfig()

	envs, err := config.NewStore(cfg.EnvStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open environment store: %w", err)
	}

	ws, err := workspace.NewManager(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	var creds CredentialResolver
	if store, err := secrets.NewStore(); err != nil {
		sb.logger.Warn().Err(err).Msg("Credential store unavailable, credential operations disabled")
	} else {
		creds = store
	}

	return sb.buildServer(cfg, envs, creds, ws), nil
}

// setupLogging configures the logging system.
func (sb *ServerBuilder) setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// loadConfig reads gateway settings from environment variables.
func loadConfig() *Config {
	cfg := &Config{
		ServerPort:   os.Getenv("PORT"),
		AuthSecret:   os.Getenv("GATEWAY_AUTH_SECRET"),
		EnvStorePath: os.Getenv("GATEWAY_ENV_STORE"),
		WorkspaceDir: os.Getenv("GATEWAY_WORKSPACE_DIR"),
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_SECOND"); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit = intVal
		}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	return cfg
}

// buildServer constructs the server with all components.
func (sb *ServerBuilder) buildServer(cfg *Config, envs *config.Store, creds CredentialResolver, ws *workspace.Manager) *Server {
	server := &Server{
		Router:      sb.initializeRouter(),
		Logger:      log.With().Str("component", "server").Logger(),
		Config:      cfg,
		Envs:        envs,
		Creds:       creds,
		Workspace:   ws,
		RateLimiter: rate.NewLimiter(rate.Every(time.Second), cfg.RateLimit),
	}
	server.registerRoutes()
	return server
}

// initializeRouter creates and configures the Gin router.
func (sb *ServerBuilder) initializeRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return router
}

// New builds a server with the default builder.
func New() (*Server, error) {
	return NewServerBuilder().Build()
}

func (s *Server) registerRoutes() {
	r := s.Router

	r.Use(s.requestLogger())
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)

	api := r.Group("/api")
	api.Use(s.authRequired())

	api.GET("/environments", s.handleListEnvironments)
	api.POST("/environments", s.handleAddEnvironment)
	api.GET("/environments/:name", s.handleGetEnvironment)
	api.PUT("/environments/:name", s.handleUpdateEnvironment)
	api.DELETE("/environments/:name", s.handleDeleteEnvironment)
	api.POST("/environments/:name/default", s.handleSetDefaultEnvironment)
	api.PUT("/environments/:name/credentials", s.handleStoreCredential)
	api.DELETE("/environments/:name/credentials", s.handleDeleteCredential)
	api.POST("/environments/:name/machine-credentials", s.handleCreateMachineCredential)
	api.GET("/environments/:name/ping", s.handlePing)

	api.GET("/environments/:name/templates", s.handleListTemplates)
	api.POST("/environments/:name/templates/:id/launch", s.handleLaunch)
	api.GET("/environments/:name/projects", s.handleListProjects)
	api.POST("/environments/:name/projects/:id/update", s.handleProjectUpdate)
	api.GET("/environments/:name/inventories", s.handleListInventories)

	api.GET("/environments/:name/jobs", s.handleListJobs)
	api.GET("/environments/:name/jobs/:id", s.handleGetJob)
	api.POST("/environments/:name/jobs/:id/cancel", s.handleCancelJob)
	api.DELETE("/environments/:name/jobs/:id", s.handleDeleteJob)
	api.GET("/environments/:name/jobs/:id/stdout", s.handleJobStdout)
	api.GET("/environments/:name/jobs/:id/events", s.handleJobEvents)
	api.GET("/environments/:name/jobs/:id/failure-summary", s.handleFailureSummary)

	api.GET("/workspace/projects", s.handleWorkspaceList)
	api.POST("/workspace/projects", s.handleWorkspaceCreate)
	api.DELETE("/workspace/projects/:name", s.handleWorkspaceDelete)
	api.POST("/workspace/projects/:name/playbooks", s.handleWorkspaceWritePlaybook)
	api.GET("/workspace/projects/:name/playbooks/*path", s.handleWorkspaceReadPlaybook)
	api.POST("/workspace/projects/:name/roles", s.handleWorkspaceScaffoldRole)
}

// requestLogger middleware logs all HTTP requests with structured data.
func (s *Server) requestLogger() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.Logger.Info().
			Str("method", param.Method).
			Str("path", param.Path).
			Str("remote_addr", param.ClientIP).
			Int("status", param.StatusCode).
			Int("body_size", param.BodySize).
			Dur("latency", param.Latency).
			Str("error", param.ErrorMessage).
			Msg("HTTP request")
		return ""
	})
}

// clientFor builds a controller client for the named environment, resolving
// its credential from the secret store.
func (s *Server) clientFor(envName string) (*awx.Client, *config.Environment, error) {
	var env *config.Environment
	var err error
	if envName == "default" || envName == "" {
		env, err = s.Envs.Default()
	} else {
		env, err = s.Envs.GetByName(envName)
	}
	if err != nil {
		return nil, nil, err
	}

	if s.Creds == nil {
		return nil, nil, fmt.Errorf("credential store unavailable")
	}
	cred, err := s.Creds.Resolve(env.ID.String())
	if err != nil {
		return nil, nil, err
	}

	clientCfg := awx.ClientConfig{
		BaseURL:   env.BaseURL,
		VerifySSL: env.VerifySSL,
	}
	switch cred.Type {
	case secrets.TypePassword:
		clientCfg.Username = cred.Username
		clientCfg.Password = cred.Secret
	case secrets.TypeToken:
		clientCfg.Token = cred.Secret
	}

	client, err := awx.NewClient(clientCfg)
	if err != nil {
		return nil, nil, err
	}
	return client, env, nil
}

// Start runs the HTTP server until Stop or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    ":" + s.Config.ServerPort,
		Handler: s.Router,
	}
	s.Logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// RequestValidator wraps the shared validator with gateway-specific rules.
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator creates a new request validator.
func NewRequestValidator() *RequestValidator {
	v := validator.New()

	v.RegisterValidation("resourcename", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		for _, r := range name {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
		return name != ""
	})

	return &RequestValidator{validator: v}
}

// Validate runs struct validation on a bound request.
func (rv *RequestValidator) Validate(req interface{}) error {
	return rv.validator.Struct(req)
}
