package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/yaml.v3"
)

const (
	workspaceFolderName = ".awx-gateway"
	projectsFileName    = "projects.json"
	projectsDirName     = "projects"
)

var projectNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Project is one locally managed playbook project.
type Project struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SCMURL    string    `json:"scm_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns the local playbook workspace: a projects directory plus a
// JSON registry of known projects.
type Manager struct {
	baseDir string
	mu      sync.Mutex
	logger  zerolog.Logger
}

// NewManager opens the workspace rooted at baseDir. An empty baseDir uses
// ~/.awx-gateway.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, workspaceFolderName)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, projectsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return &Manager{
		baseDir: baseDir,
		logger:  log.With().Str("component", "workspace").Logger(),
	}, nil
}

func (m *Manager) registryPath() string {
	return filepath.Join(m.baseDir, projectsFileName)
}

func (m *Manager) loadRegistry() (map[string]Project, error) {
	data, err := os.ReadFile(m.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Project{}, nil
		}
		return nil, fmt.Errorf("failed to read project registry: %w", err)
	}
	var projects map[string]Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse project registry: %w", err)
	}
	return projects, nil
}

func (m *Manager) saveRegistry(projects map[string]Project) error {
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode project registry: %w", err)
	}
	if err := os.WriteFile(m.registryPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write project registry: %w", err)
	}
	return nil
}

// CreateProject registers a new empty project directory.
func (m *Manager) CreateProject(name string) (*Project, error) {
	if !projectNameRegex.MatchString(name) {
		return nil, fmt.Errorf("project name must be alphanumeric with hyphens/underscores only: %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	projects, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	if _, exists := projects[name]; exists {
		return nil, fmt.Errorf("project %q already exists", name)
	}

	path := filepath.Join(m.baseDir, projectsDirName, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	project := Project{Name: name, Path: path, CreatedAt: time.Now().UTC()}
	projects[name] = project
	if err := m.saveRegistry(projects); err != nil {
		return nil, err
	}

	m.logger.Info().Str("project", name).Str("path", path).Msg("Project created")
	return &project, nil
}

// CloneProject clones a git repository into the workspace and registers it.
func (m *Manager) CloneProject(name, repoURL string) (*Project, error) {
	if !projectNameRegex.MatchString(name) {
		return nil, fmt.Errorf("project name must be alphanumeric with hyphens/underscores only: %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	projects, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	if _, exists := projects[name]; exists {
		return nil, fmt.Errorf("project %q already exists", name)
	}

	path := filepath.Join(m.baseDir, projectsDirName, name)
	progress := &cloneProgressWriter{logger: m.logger.With().Str("component", "git").Logger()}
	if _, err := git.PlainClone(path, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: progress,
	}); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	project := Project{Name: name, Path: path, SCMURL: repoURL, CreatedAt: time.Now().UTC()}
	projects[name] = project
	if err := m.saveRegistry(projects); err != nil {
		return nil, err
	}

	m.logger.Info().Str("project", name).Str("repository", repoURL).Msg("Project cloned")
	return &project, nil
}

// GetProject looks up a registered project.
func (m *Manager) GetProject(name string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	projects, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	project, ok := projects[name]
	if !ok {
		return nil, fmt.Errorf("project %q not found", name)
	}
	return &project, nil
}

// ListProjects returns all registered projects.
func (m *Manager) ListProjects() ([]Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	projects, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	list := make([]Project, 0, len(projects))
	for _, p := range projects {
		list = append(list, p)
	}
	return list, nil
}

// DeleteProject removes a project from the registry and deletes its files.
func (m *Manager) DeleteProject(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	projects, err := m.loadRegistry()
	if err != nil {
		return err
	}
	project, ok := projects[name]
	if !ok {
		return fmt.Errorf("project %q not found", name)
	}
	if err := os.RemoveAll(project.Path); err != nil {
		return fmt.Errorf("failed to remove project directory: %w", err)
	}
	delete(projects, name)
	if err := m.saveRegistry(projects); err != nil {
		return err
	}

	m.logger.Info().Str("project", name).Msg("Project deleted")
	return nil
}

// cloneProgressWriter forwards git progress output to the logger, one line
// per chunk.
type cloneProgressWriter struct {
	logger zerolog.Logger
}

func (w *cloneProgressWriter) Write(p []byte) (int, error) {
	output := strings.TrimSpace(string(p))
	if output != "" {
		w.logger.Info().Str("progress", output).Msg("Git clone progress")
	}
	return len(p), nil
}

// resolveFile joins a relative path under a project, refusing escapes.
func (m *Manager) resolveFile(project *Project, rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("path %q escapes the project directory", rel)
	}
	return filepath.Join(project.Path, cleaned), nil
}

// WritePlaybook writes playbook content into a project after checking it is
// well-formed YAML describing a list of plays.
func (m *Manager) WritePlaybook(projectName, rel, content string) (string, error) {
	project, err := m.GetProject(projectName)
	if err != nil {
		return "", err
	}
	path, err := m.resolveFile(project, rel)
	if err != nil {
		return "", err
	}
	if err := ValidatePlaybook([]byte(content)); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create playbook directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write playbook: %w", err)
	}

	m.logger.Info().Str("project", projectName).Str("playbook", rel).Msg("Playbook written")
	return path, nil
}

// ReadPlaybook returns the content of a playbook file in a project.
func (m *Manager) ReadPlaybook(projectName, rel string) (string, error) {
	project, err := m.GetProject(projectName)
	if err != nil {
		return "", err
	}
	path, err := m.resolveFile(project, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read playbook: %w", err)
	}
	return string(data), nil
}

// ValidatePlaybook checks that content parses as YAML and has the shape of a
// playbook: a non-empty list of plays, each naming hosts.
func ValidatePlaybook(content []byte) error {
	var plays []map[string]interface{}
	if err := yaml.Unmarshal(content, &plays); err != nil {
		return fmt.Errorf("playbook is not valid YAML: %w", err)
	}
	if len(plays) == 0 {
		return fmt.Errorf("playbook must contain at least one play")
	}
	for i, play := range plays {
		if _, ok := play["hosts"]; !ok {
			return fmt.Errorf("play %d is missing the hosts field", i+1)
		}
	}
	return nil
}

// roleSubdirs are the standard Galaxy role directories, each seeded with a
// main.yml.
var roleSubdirs = []string{"tasks", "handlers", "defaults", "vars", "meta"}

// ScaffoldRole creates the standard role directory tree inside a project.
func (m *Manager) ScaffoldRole(projectName, roleName string) (string, error) {
	if !projectNameRegex.MatchString(roleName) {
		return "", fmt.Errorf("role name must be alphanumeric with hyphens/underscores only: %q", roleName)
	}
	project, err := m.GetProject(projectName)
	if err != nil {
		return "", err
	}

	roleDir := filepath.Join(project.Path, "roles", roleName)
	if _, err := os.Stat(roleDir); err == nil {
		return "", fmt.Errorf("role %q already exists in project %q", roleName, projectName)
	}

	for _, sub := range roleSubdirs {
		dir := filepath.Join(roleDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create role directory: %w", err)
		}
		var body string
		switch sub {
		case "meta":
			body = fmt.Sprintf("galaxy_info:\n  role_name: %s\n  author: awx-gateway\ndependencies: []\n", roleName)
		case "defaults":
			body = fmt.Sprintf("---\n# Default variables for role %s\n", roleName)
		default:
			body = fmt.Sprintf("---\n# %s for role %s\n", sub, roleName)
		}
		if err := os.WriteFile(filepath.Join(dir, "main.yml"), []byte(body), 0o644); err != nil {
			return "", fmt.Errorf("failed to seed role file: %w", err)
		}
	}

	m.logger.Info().Str("project", projectName).Str("role", roleName).Msg("Role scaffolded")
	return roleDir, nil
}
