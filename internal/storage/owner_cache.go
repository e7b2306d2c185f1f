package storage

import (
	"context"
	"fmt"

	"workspace-realtime/internal/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// OwnerCache mantém em LRU o dono de cada workspace; as escritas passam direto para o store
type OwnerCache struct {
	domain.NotificationStore
	owners *lru.Cache[string, string]
}

// NewOwnerCache envolve um NotificationStore com um cache de tamanho fixo
func NewOwnerCache(store domain.NotificationStore, size int) (*OwnerCache, error) {
	owners, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner cache: %w", err)
	}
	return &OwnerCache{NotificationStore: store, owners: owners}, nil
}

// FindWorkspaceOwner consulta o cache antes do store; erros não são cacheados
func (c *OwnerCache) FindWorkspaceOwner(ctx context.Context, workspaceID string) (string, error) {
	if owner, ok := c.owners.Get(workspaceID); ok {
		return owner, nil
	}

	owner, err := c.NotificationStore.FindWorkspaceOwner(ctx, workspaceID)
	if err != nil {
		return "", err
	}

	c.owners.Add(workspaceID, owner)
	return owner, nil
}

// Invalidate remove um workspace do cache (troca de dono)
func (c *OwnerCache) Invalidate(workspaceID string) {
	c.owners.Remove(workspaceID)
}

// Len retorna quantos donos estão em cache
func (c *OwnerCache) Len() int {
	return c.owners.Len()
}
