package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Environment describes one AWX/AAP controller this gateway can talk to.
// Credentials live in the secret store, never here.
type Environment struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	VerifySSL bool      `json:"verify_ssl"`
	IsDefault bool      `json:"is_default"`

	DefaultOrganization string `json:"default_organization,omitempty"`
	DefaultProject      string `json:"default_project,omitempty"`
	DefaultInventory    string `json:"default_inventory,omitempty"`

	// Allow-lists restricting which named resources front-end callers may
	// act on. Empty means unrestricted.
	AllowedJobTemplates []string `json:"allowed_job_templates,omitempty"`
	AllowedInventories  []string `json:"allowed_inventories,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields a caller controls.
func (e *Environment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("environment name is required")
	}
	if !nameRegex.MatchString(e.Name) {
		return fmt.Errorf("environment name must be alphanumeric with hyphens/underscores only: %q", e.Name)
	}
	u, err := url.Parse(e.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url: %q", e.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must be http or https: %q", e.BaseURL)
	}
	return nil
}

// TemplateAllowed reports whether a template name passes the environment's
// allow-list. An empty list allows everything.
func (e *Environment) TemplateAllowed(name string) bool {
	return allowed(e.AllowedJobTemplates, name)
}

// InventoryAllowed reports whether an inventory name passes the allow-list.
func (e *Environment) InventoryAllowed(name string) bool {
	return allowed(e.AllowedInventories, name)
}

func allowed(list []string, name string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
