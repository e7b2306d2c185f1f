package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"workspace-realtime/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryNotificationStore guarda donos de workspace e notificações em memória.
// Usado quando DATABASE_DSN não está configurado.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	owners        map[string]string
	notifications map[string][]*domain.Notification
}

// NewMemoryNotificationStore cria o store com os donos iniciais (workspaceID -> userID)
func NewMemoryNotificationStore(owners map[string]string) *MemoryNotificationStore {
	s := &MemoryNotificationStore{
		owners:        make(map[string]string, len(owners)),
		notifications: make(map[string][]*domain.Notification),
	}
	for ws, owner := range owners {
		s.owners[ws] = owner
	}
	return s
}

// SetWorkspaceOwner registra ou troca o dono de um workspace
func (s *MemoryNotificationStore) SetWorkspaceOwner(workspaceID, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[workspaceID] = ownerID
}

func (s *MemoryNotificationStore) FindWorkspaceOwner(ctx context.Context, workspaceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[workspaceID]
	if !ok {
		return "", fmt.Errorf("workspace %s: %w", workspaceID, domain.ErrWorkspaceNotFound)
	}
	return owner, nil
}

func (s *MemoryNotificationStore) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	record := *n
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.notifications[record.RecipientUserID] = append(s.notifications[record.RecipientUserID], &record)
	s.mu.Unlock()

	out := record
	return &out, nil
}

// ListNotifications retorna as notificações mais recentes de um usuário
func (s *MemoryNotificationStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	s.mu.RLock()
	stored := s.notifications[userID]
	list := make([]*domain.Notification, 0, len(stored))
	for _, n := range stored {
		copied := *n
		list = append(list, &copied)
	}
	s.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// DevUser é uma credencial estática para ambientes sem banco
type DevUser struct {
	ID       string
	Email    string
	Password string
}

// StaticCredentialVerifier valida credenciais contra hashes bcrypt mantidos em memória
type StaticCredentialVerifier struct {
	users map[string]staticUser
}

type staticUser struct {
	id   string
	hash []byte
}

// NewStaticCredentialVerifier gera os hashes das senhas informadas
func NewStaticCredentialVerifier(users []DevUser) (*StaticCredentialVerifier, error) {
	v := &StaticCredentialVerifier{users: make(map[string]staticUser, len(users))}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password for %s: %w", u.Email, err)
		}
		v.users[normalizeEmail(u.Email)] = staticUser{id: u.ID, hash: hash}
	}
	return v, nil
}

func (v *StaticCredentialVerifier) VerifyCredentials(ctx context.Context, email, password string) (string, error) {
	user, ok := v.users[normalizeEmail(email)]
	if !ok {
		return "", domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.hash, []byte(password)); err != nil {
		return "", domain.ErrInvalidCredentials
	}
	return user.id, nil
}

// ParseDevUsers lê "id:email:senha" separados por vírgula
func ParseDevUsers(raw string) ([]DevUser, error) {
	var users []DevUser
	for _, item := range splitList(raw) {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid dev user entry %q: expected id:email:password", item)
		}
		users = append(users, DevUser{ID: parts[0], Email: parts[1], Password: parts[2]})
	}
	return users, nil
}

// ParseWorkspaceOwners lê "workspaceID:userID" separados por vírgula
func ParseWorkspaceOwners(raw string) (map[string]string, error) {
	owners := make(map[string]string)
	for _, item := range splitList(raw) {
		parts := strings.SplitN(item, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid workspace owner entry %q: expected workspace:user", item)
		}
		owners[parts[0]] = parts[1]
	}
	return owners, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
