package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	gatewayFolderName    = ".awx-gateway"
	environmentsFileName = "environments.json"
)

// Store persists environments as a JSON file. It is an explicit handle
// passed to whoever needs it; there is no process-wide registry.
type Store struct {
	path   string
	mu     sync.RWMutex
	logger zerolog.Logger
}

type storeFile struct {
	Environments []Environment `json:"environments"`
	Default      string        `json:"default,omitempty"`
}

// NewStore opens (or initializes) the environment store at path. An empty
// path uses ~/.awx-gateway/environments.json.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = filepath.Join(getBaseDir(), environmentsFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return &Store{
		path:   path,
		logger: log.With().Str("component", "env-store").Logger(),
	}, nil
}

// getBaseDir returns the base directory for gateway state.
func getBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home, err = os.Getwd()
		if err != nil {
			home = "."
		}
	}
	return filepath.Join(home, gatewayFolderName)
}

func (s *Store) load() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storeFile{}, nil
		}
		return nil, fmt.Errorf("failed to read environment store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse environment store: %w", err)
	}
	return &file, nil
}

func (s *Store) save(file *storeFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode environment store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write environment store: %w", err)
	}
	return nil
}

// Add registers a new environment. Names are unique; the first environment
// added becomes the default.
func (s *Store) Add(env Environment) (*Environment, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, existing := range file.Environments {
		if existing.Name == env.Name {
			return nil, fmt.Errorf("environment %q already exists", env.Name)
		}
	}

	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	now := time.Now().UTC()
	env.CreatedAt = now
	env.UpdatedAt = now

	file.Environments = append(file.Environments, env)
	if file.Default == "" || env.IsDefault {
		file.Default = env.Name
	}
	env.IsDefault = file.Default == env.Name

	if err := s.save(file); err != nil {
		return nil, err
	}

	s.logger.Info().Str("environment", env.Name).Str("base_url", env.BaseURL).Msg("Environment added")
	return &env, nil
}

// Get returns an environment by id.
func (s *Store) Get(id uuid.UUID) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, env := range file.Environments {
		if env.ID == id {
			env.IsDefault = file.Default == env.Name
			return &env, nil
		}
	}
	return nil, fmt.Errorf("environment %s not found", id)
}

// GetByName returns an environment by its unique name.
func (s *Store) GetByName(name string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, env := range file.Environments {
		if env.Name == name {
			env.IsDefault = file.Default == env.Name
			return &env, nil
		}
	}
	return nil, fmt.Errorf("environment %q not found", name)
}

// Default returns the default environment, if one is set.
func (s *Store) Default() (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	if file.Default == "" {
		return nil, fmt.Errorf("no default environment set")
	}
	for _, env := range file.Environments {
		if env.Name == file.Default {
			env.IsDefault = true
			return &env, nil
		}
	}
	return nil, fmt.Errorf("default environment %q not found", file.Default)
}

// List returns all environments.
func (s *Store) List() ([]Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range file.Environments {
		file.Environments[i].IsDefault = file.Default == file.Environments[i].Name
	}
	return file.Environments, nil
}

// Update replaces the mutable fields of an existing environment.
func (s *Store) Update(env Environment) (*Environment, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	for i, existing := range file.Environments {
		if existing.ID != env.ID {
			continue
		}
		if existing.Name != env.Name {
			for _, other := range file.Environments {
				if other.ID != env.ID && other.Name == env.Name {
					return nil, fmt.Errorf("environment %q already exists", env.Name)
				}
			}
			if file.Default == existing.Name {
				file.Default = env.Name
			}
		}
		env.CreatedAt = existing.CreatedAt
		env.UpdatedAt = time.Now().UTC()
		file.Environments[i] = env
		if err := s.save(file); err != nil {
			return nil, err
		}
		env.IsDefault = file.Default == env.Name
		return &env, nil
	}
	return nil, fmt.Errorf("environment %s not found", env.ID)
}

// Delete removes an environment. Deleting the default clears the default.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	for i, env := range file.Environments {
		if env.ID != id {
			continue
		}
		file.Environments = append(file.Environments[:i], file.Environments[i+1:]...)
		if file.Default == env.Name {
			file.Default = ""
			if len(file.Environments) > 0 {
				file.Default = file.Environments[0].Name
			}
		}
		if err := s.save(file); err != nil {
			return err
		}
		s.logger.Info().Str("environment", env.Name).Msg("Environment deleted")
		return nil
	}
	return fmt.Errorf("environment %s not found", id)
}

// SetDefault marks the named environment as the default.
func (s *Store) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	for _, env := range file.Environments {
		if env.Name == name {
			file.Default = name
			return s.save(file)
		}
	}
	return fmt.Errorf("environment %q not found", name)
}
