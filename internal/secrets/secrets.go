package secrets

import (
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CredentialType distinguishes the two supported auth shapes.
type CredentialType string

const (
	TypePassword CredentialType = "password"
	TypeToken    CredentialType = "token"
)

// Credential is a resolved secret for one environment. Exactly one shape is
// populated: Username+Secret for password auth, Secret alone for token auth.
type Credential struct {
	Type     CredentialType
	Username string
	Secret   string
}

// Store keeps per-environment controller credentials in Vault KV v2,
// replacing any OS-keyring dependency. One path per environment and
// credential type.
type Store struct {
	client *vault.Client
	mount  string
	logger zerolog.Logger
}

// NewStore builds a Vault-backed credential store. VAULT_ADDR defaults to
// the local dev address; VAULT_ROLE_ID/VAULT_SECRET_ID drive AppRole login.
func NewStore() (*Store, error) {
	logger := log.With().Str("component", "secrets").Logger()

	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		vaultAddr = "http://127.0.0.1:8200"
		logger.Debug().Str("vault_addr", vaultAddr).Msg("Using default Vault address")
	}

	cfg := vault.DefaultConfig()
	cfg.Address = vaultAddr

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		logger.Error().
			Bool("role_id_set", roleID != "").
			Bool("secret_id_set", secretID != "").
			Msg("Required Vault credentials not set")
		return nil, fmt.Errorf("VAULT_ROLE_ID and VAULT_SECRET_ID must be set")
	}

	loginSecret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		logger.Error().Err(err).Str("role_id", maskString(roleID)).Msg("Failed to authenticate with Vault")
		return nil, fmt.Errorf("failed to login to vault: %w", err)
	}
	client.SetToken(loginSecret.Auth.ClientToken)

	logger.Info().Str("vault_addr", vaultAddr).Msg("Credential store initialized")
	return &Store{client: client, mount: "kv", logger: logger}, nil
}

func (s *Store) credentialPath(envID string, credType CredentialType) string {
	return fmt.Sprintf("%s/data/awx-gateway/credentials/%s/%s", s.mount, envID, credType)
}

// Put stores a credential for an environment. Password credentials require a
// username; token credentials must not carry one.
func (s *Store) Put(envID string, credType CredentialType, username, secret string) error {
	if secret == "" {
		return fmt.Errorf("credential secret is required")
	}
	data := map[string]interface{}{"secret": secret}
	switch credType {
	case TypePassword:
		if username == "" {
			return fmt.Errorf("username required for password authentication")
		}
		data["username"] = username
	case TypeToken:
	default:
		return fmt.Errorf("unknown credential type %q", credType)
	}

	_, err := s.client.Logical().Write(s.credentialPath(envID, credType), map[string]interface{}{
		"data": data,
	})
	if err != nil {
		s.logger.Error().Str("environment", envID).Str("type", string(credType)).Msg("Failed to store credential")
		return fmt.Errorf("failed to store credential: %w", err)
	}

	s.logger.Debug().Str("environment", envID).Str("type", string(credType)).Msg("Credential stored")
	return nil
}

// Get retrieves one credential by type.
func (s *Store) Get(envID string, credType CredentialType) (*Credential, error) {
	secret, err := s.client.Logical().Read(s.credentialPath(envID, credType))
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credential not found for environment %s", envID)
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid credential data format")
	}

	value, _ := data["secret"].(string)
	if value == "" {
		return nil, fmt.Errorf("credential not found for environment %s", envID)
	}

	cred := &Credential{Type: credType, Secret: value}
	if credType == TypePassword {
		username, _ := data["username"].(string)
		if username == "" {
			return nil, fmt.Errorf("stored password credential is missing its username")
		}
		cred.Username = username
	}
	return cred, nil
}

// Resolve returns the credential to use for an environment: password-type
// first, then token-type. The order is fixed and not configurable.
func (s *Store) Resolve(envID string) (*Credential, error) {
	if cred, err := s.Get(envID, TypePassword); err == nil {
		return cred, nil
	}
	if cred, err := s.Get(envID, TypeToken); err == nil {
		return cred, nil
	}
	return nil, fmt.Errorf("no credential stored for environment %s", envID)
}

// Delete removes both credential shapes for an environment. Missing entries
// are not an error.
func (s *Store) Delete(envID string) error {
	for _, credType := range []CredentialType{TypePassword, TypeToken} {
		metadataPath := fmt.Sprintf("%s/metadata/awx-gateway/credentials/%s/%s", s.mount, envID, credType)
		if _, err := s.client.Logical().Delete(metadataPath); err != nil {
			s.logger.Warn().Str("environment", envID).Str("type", string(credType)).Err(err).Msg("Failed to delete credential")
			return fmt.Errorf("failed to delete credential: %w", err)
		}
	}
	return nil
}

// maskString returns a masked version of an identifier for logging.
func maskString(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
