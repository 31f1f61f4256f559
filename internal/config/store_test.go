package config

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "environments.json"))
	require.NoError(t, err)
	return store
}

func TestStoreAddAndGet(t *testing.T) {
	store := newTestStore(t)

	env, err := store.Add(Environment{
		Name:      "staging",
		BaseURL:   "https://awx.staging.example.com",
		VerifySSL: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, env.ID)
	assert.True(t, env.IsDefault, "first environment becomes the default")
	assert.False(t, env.CreatedAt.IsZero())

	got, err := store.Get(env.ID)
	require.NoError(t, err)
	assert.Equal(t, "staging", got.Name)

	byName, err := store.GetByName("staging")
	require.NoError(t, err)
	assert.Equal(t, env.ID, byName.ID)
}

func TestStoreRejectsDuplicateNames(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Add(Environment{Name: "prod", BaseURL: "https://awx.example.com"})
	require.NoError(t, err)

	_, err = store.Add(Environment{Name: "prod", BaseURL: "https://other.example.com"})
	assert.Error(t, err)
}

func TestStoreValidation(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		env  Environment
	}{
		{"empty name", Environment{BaseURL: "https://awx.example.com"}},
		{"bad characters", Environment{Name: "bad name!", BaseURL: "https://awx.example.com"}},
		{"missing url", Environment{Name: "ok"}},
		{"bad scheme", Environment{Name: "ok", BaseURL: "ftp://awx.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Add(tt.env)
			assert.Error(t, err)
		})
	}
}

func TestStoreDefaultHandling(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Add(Environment{Name: "one", BaseURL: "https://one.example.com"})
	require.NoError(t, err)
	_, err = store.Add(Environment{Name: "two", BaseURL: "https://two.example.com"})
	require.NoError(t, err)

	def, err := store.Default()
	require.NoError(t, err)
	assert.Equal(t, "one", def.Name)

	require.NoError(t, store.SetDefault("two"))
	def, err = store.Default()
	require.NoError(t, err)
	assert.Equal(t, "two", def.Name)

	// Deleting the default promotes the remaining environment.
	two, err := store.GetByName("two")
	require.NoError(t, err)
	require.NoError(t, store.Delete(two.ID))

	def, err = store.Default()
	require.NoError(t, err)
	assert.Equal(t, first.Name, def.Name)
}

func TestStoreUpdate(t *testing.T) {
	store := newTestStore(t)

	env, err := store.Add(Environment{Name: "lab", BaseURL: "https://lab.example.com"})
	require.NoError(t, err)

	env.AllowedJobTemplates = []string{"Deploy App"}
	env.VerifySSL = false
	updated, err := store.Update(*env)
	require.NoError(t, err)
	assert.Equal(t, []string{"Deploy App"}, updated.AllowedJobTemplates)
	assert.False(t, updated.VerifySSL)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environments.json")
	store, err := NewStore(path)
	require.NoError(t, err)

	_, err = store.Add(Environment{Name: "durable", BaseURL: "https://awx.example.com"})
	require.NoError(t, err)

	reopened, err := NewStore(path)
	require.NoError(t, err)
	envs, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "durable", envs[0].Name)
}

func TestAllowLists(t *testing.T) {
	env := Environment{
		AllowedJobTemplates: []string{"Deploy App", "Run Backup"},
	}
	assert.True(t, env.TemplateAllowed("Deploy App"))
	assert.False(t, env.TemplateAllowed("Delete Everything"))
	assert.True(t, env.InventoryAllowed("anything"), "empty list allows everything")

	open := Environment{}
	assert.True(t, open.TemplateAllowed("whatever"))
}
