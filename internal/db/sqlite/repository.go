package sqlite

import (
	"context"

	"github.com/thebtf/devark/pkg/models"
)

// Repository combines the session and prompt stores behind one handle.
type Repository struct {
	*SessionStore
	*PromptStore
}

// NewRepository creates a repository over store.
func NewRepository(store *Store) *Repository {
	return &Repository{
		SessionStore: NewSessionStore(store),
		PromptStore:  NewPromptStore(store),
	}
}

// LoadTree returns every persisted project with its sessions populated.
func (r *Repository) LoadTree(ctx context.Context) ([]*models.Project, error) {
	return LoadTree(ctx, r.SessionStore, r.PromptStore)
}
